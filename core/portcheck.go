package core

import (
	"slices"
)

// IsCompatible reports whether an output of type source
// may be connected to an input of type target.
func IsCompatible(source DataType, target DataType) bool {
	if source == target {
		return true
	}

	if targets, ok := outputToInputCast[source]; ok {
		if slices.Contains(targets, target) {
			return true
		}
	}

	return false
}

// PortsAreCompatible is IsCompatible for two resolved ports.
func PortsAreCompatible(sourcePort NodePort, targetPort NodePort) bool {
	return IsCompatible(sourcePort.DataType, targetPort.DataType)
}

func InputTypeAccepts(inputType DataType) []DataType {
	arr := []DataType{inputType}
	for _, sourceType := range DataTypes() {
		if sourceType == inputType {
			continue
		}
		if slices.Contains(outputToInputCast[sourceType], inputType) {
			arr = append(arr, sourceType)
		}
	}
	return arr
}

func OutputTypeAcceptedBy(outputType DataType) []DataType {
	return append([]DataType{outputType}, outputToInputCast[outputType]...)
}

// Describes the type casts from a source port to a target port.
// A text value may carry a URL that media inputs interpret, the
// reverse direction is never allowed.
var outputToInputCast = map[DataType][]DataType{
	DataTypeText: {DataTypeImage, DataTypeVideo},
}

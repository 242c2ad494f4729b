package core

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

type PortId string

type DataType string

const (
	DataTypeText   DataType = "text"
	DataTypeImage  DataType = "image"
	DataTypeVideo  DataType = "video"
	DataTypeNumber DataType = "number"
)

var dataTypes = []DataType{
	DataTypeText,
	DataTypeImage,
	DataTypeVideo,
	DataTypeNumber,
}

func DataTypes() []DataType {
	return append([]DataType(nil), dataTypes...)
}

func IsKnownDataType(t DataType) bool {
	for _, dt := range dataTypes {
		if dt == t {
			return true
		}
	}
	return false
}

type PortDirection int

const (
	PortInput PortDirection = iota
	PortOutput
)

func (d PortDirection) String() string {
	switch d {
	case PortInput:
		return "input"
	case PortOutput:
		return "output"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// NodePort is a typed connection point of a node kind. Required and
// Multiple only have a meaning on inputs, outputs always fan out.
type NodePort struct {
	Id       PortId   `yaml:"-" json:"id"`
	Label    string   `yaml:"label" json:"label"`
	DataType DataType `yaml:"type" json:"dataType"`
	Index    int      `yaml:"index" json:"-"`
	Required bool     `yaml:"required,omitempty" json:"required,omitempty"`
	Multiple bool     `yaml:"multiple,omitempty" json:"multiple,omitempty"`
}

var (
	oncePortIdRegex sync.Once
	portIdRegex     *regexp.Regexp
)

func getPortIdRegex() *regexp.Regexp {
	oncePortIdRegex.Do(func() {
		portIdRegex = regexp.MustCompile(`^[a-z][a-z0-9]*(_[a-z0-9]+)*$`)
	})
	return portIdRegex
}

func PortDefValidation(portId PortId, port NodePort, direction PortDirection) error {
	if portId == "" {
		return CreateErr(nil, "port id is missing")
	}

	if strings.Contains(string(portId), "-") {
		return CreateErr(nil, "port '%v' must not contain hyphens", portId)
	}

	if !getPortIdRegex().MatchString(string(portId)) {
		return CreateErr(nil, "port '%v' must be snake_case", portId)
	}

	if port.Label == "" {
		return CreateErr(nil, "port '%v' has no label", portId)
	}

	if !IsKnownDataType(port.DataType) {
		return CreateErr(nil, "port '%v' has unknown type '%v'", portId, port.DataType)
	}

	if direction == PortOutput && (port.Required || port.Multiple) {
		return CreateErr(nil, "output '%v' cannot be marked as required or multiple", portId)
	}

	return nil
}

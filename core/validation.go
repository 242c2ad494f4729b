package core

import (
	"errors"
	"fmt"
)

type ValidationCode string

const (
	CodeCycle                         ValidationCode = "cycle"
	CodeDanglingEdge                  ValidationCode = "danglingEdge"
	CodeInvalidPort                   ValidationCode = "invalidPort"
	CodeIncompatibleTypes             ValidationCode = "incompatibleTypes"
	CodeMultipleConnectionsNotAllowed ValidationCode = "multipleConnectionsNotAllowed"
	CodeMissingRequiredInput          ValidationCode = "missingRequiredInput"
	CodeDuplicateNodeId               ValidationCode = "duplicateNodeId"
	CodeUnknownNodeKind               ValidationCode = "unknownNodeKind"
)

// ValidationError is one structural problem of a graph. It always points
// at the node or edge that caused it.
type ValidationError struct {
	Code    ValidationCode `json:"code"`
	NodeId  string         `json:"nodeId,omitempty"`
	EdgeId  string         `json:"edgeId,omitempty"`
	PortId  PortId         `json:"portId,omitempty"`
	Message string         `json:"message"`
}

func (e ValidationError) Error() string {
	switch {
	case e.EdgeId != "":
		return fmt.Sprintf("%s (edge: %s)", e.Message, e.EdgeId)
	case e.NodeId != "" && e.Code != CodeCycle:
		return fmt.Sprintf("%s (node: %s)", e.Message, e.NodeId)
	}
	return e.Message
}

func (e ValidationError) key() string {
	return fmt.Sprintf("%s|%s|%s|%s", e.Code, e.NodeId, e.EdgeId, e.PortId)
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors"`
}

// Err returns nil for a valid result, otherwise all errors joined.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	errs := make([]error, 0, len(r.Errors))
	for _, e := range r.Errors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

func (r ValidationResult) HasCode(code ValidationCode) bool {
	for _, e := range r.Errors {
		if e.Code == code {
			return true
		}
	}
	return false
}

func (r ValidationResult) ByCode(code ValidationCode) []ValidationError {
	var errs []ValidationError
	for _, e := range r.Errors {
		if e.Code == code {
			errs = append(errs, e)
		}
	}
	return errs
}

// newErrors returns the errors of after that are not part of before.
func newErrors(before, after ValidationResult) []ValidationError {
	seen := make(map[string]struct{}, len(before.Errors))
	for _, e := range before.Errors {
		seen[e.key()] = struct{}{}
	}
	var added []ValidationError
	for _, e := range after.Errors {
		if _, ok := seen[e.key()]; !ok {
			added = append(added, e)
		}
	}
	return added
}

type ValidateOpts struct {
	// SkipRequired disables the required input check, used while a
	// graph is still being wired up. Running a graph always enforces it.
	SkipRequired bool
}

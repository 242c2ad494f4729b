package core

import (
	"errors"
	"maps"

	"github.com/google/uuid"
)

// DefaultPosition is used for nodes created without an explicit position.
var DefaultPosition = Position{X: 200, Y: 200}

// DuplicateOffset moves a duplicated node away from its source.
const DuplicateOffset = 40.0

type CreateNodeOpts struct {
	Position *Position
	// Data overrides win over the kind's label and schema defaults.
	Data map[string]any
}

func (r *Registry) GetDefaults(kind NodeKind) (map[string]any, error) {
	schema, ok := r.Schema(kind)
	if !ok {
		return nil, &UnknownNodeKindError{Kind: string(kind)}
	}
	return schema.Defaults(), nil
}

func (r *Registry) ParseData(kind NodeKind, data any) (map[string]any, error) {
	schema, ok := r.Schema(kind)
	if !ok {
		return nil, &UnknownNodeKindError{Kind: string(kind)}
	}

	parsed, err := schema.Parse(data)
	if err != nil {
		var schemaErr *SchemaValidationError
		if errors.As(err, &schemaErr) && schemaErr.Kind == "" {
			schemaErr.Kind = kind
		}
		return nil, err
	}
	return parsed, nil
}

func (r *Registry) CreateNode(kind NodeKind, opts CreateNodeOpts) (GraphNode, error) {
	def, ok := r.Definition(kind)
	if !ok {
		return GraphNode{}, CreateErr(&UnknownNodeKindError{Kind: string(kind)}, "unable to create node")
	}

	data, err := r.GetDefaults(kind)
	if err != nil {
		return GraphNode{}, CreateErr(err, "unable to create node of type '%s'", kind)
	}

	data["label"] = def.Label
	maps.Copy(data, opts.Data)

	data, err = r.ParseData(kind, data)
	if err != nil {
		return GraphNode{}, CreateErr(err, "unable to create node of type '%s'", kind)
	}

	position := DefaultPosition
	if opts.Position != nil {
		position = *opts.Position
	}

	return GraphNode{
		Id:       uuid.NewString(),
		Kind:     kind,
		Position: position,
		Data:     data,
	}, nil
}

// DuplicateNode copies a node verbatim under a fresh id, offset so the
// copy does not overlap its source.
func (r *Registry) DuplicateNode(node GraphNode) GraphNode {
	return GraphNode{
		Id:   uuid.NewString(),
		Kind: node.Kind,
		Position: Position{
			X: node.Position.X + DuplicateOffset,
			Y: node.Position.Y + DuplicateOffset,
		},
		Data: cloneData(node.Data),
	}
}

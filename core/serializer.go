package core

import (
	"encoding/json"
	"fmt"
	"math"
)

const CurrentVersion = 1

// Document is the stable interchange format of a workflow. It is the
// only shape that leaves the process: files, stores and clipboards.
type Document struct {
	Version int         `json:"version" yaml:"version" toml:"version"`
	Nodes   []GraphNode `json:"nodes" yaml:"nodes" toml:"nodes"`
	Edges   []GraphEdge `json:"edges" yaml:"edges" toml:"edges"`
}

func Serialize(g *WorkflowGraph) Document {
	doc := Document{
		Version: CurrentVersion,
		Nodes:   make([]GraphNode, 0, len(g.Nodes)),
		Edges:   make([]GraphEdge, 0, len(g.Edges)),
	}
	for _, node := range g.Nodes {
		node.Data = cloneData(node.Data)
		if node.Data == nil {
			node.Data = map[string]any{}
		}
		doc.Nodes = append(doc.Nodes, node)
	}
	doc.Edges = append(doc.Edges, g.Edges...)
	return doc
}

func MarshalDocument(doc Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// Deserialize rebuilds a graph from a document. Every node's data is
// parsed again by its schema, so stale fields are dropped the same way
// they are for freshly created nodes.
func (r *Registry) Deserialize(doc Document) (*WorkflowGraph, error) {
	if doc.Nodes == nil || doc.Edges == nil {
		return nil, CreateErr(ErrInvalidFormat, "workflow has no nodes or edges list")
	}

	if doc.Version != CurrentVersion {
		return nil, CreateErr(ErrUnsupportedVersion, "unsupported workflow version: %d", doc.Version)
	}

	g := r.NewGraph()

	for i, node := range doc.Nodes {
		if node.Id == "" {
			return nil, CreateErr(ErrInvalidFormat, "node at index %d has no id", i)
		}

		if !r.IsValidNodeKind(string(node.Kind)) {
			return nil, CreateErr(&UnknownNodeKindError{Kind: string(node.Kind)}, "unable to load node '%s'", node.Id).SetNode(node.Id)
		}

		data, err := r.ParseData(node.Kind, node.Data)
		if err != nil {
			return nil, CreateErr(err, "unable to load node '%s'", node.Id).SetNode(node.Id)
		}

		g.Nodes = append(g.Nodes, GraphNode{
			Id:       node.Id,
			Kind:     node.Kind,
			Position: node.Position,
			Data:     data,
		})
	}

	// incomplete edges load as they are, Validate reports them
	for _, edge := range doc.Edges {
		if edge.Id == "" {
			edge.Id = EdgeId(edge.Source, edge.SourceHandle, edge.Target, edge.TargetHandle)
		}
		g.Edges = append(g.Edges, edge)
	}

	return g, nil
}

// UnmarshalDocument parses untrusted json into a graph.
func (r *Registry) UnmarshalDocument(data []byte) (*WorkflowGraph, error) {
	doc, err := DecodeDocument(data)
	if err != nil {
		return nil, err
	}
	return r.Deserialize(doc)
}

// DecodeDocument checks the top level shape of untrusted json before
// decoding it into a Document.
func DecodeDocument(data []byte) (Document, error) {
	var raw any
	err := json.Unmarshal(data, &raw)
	if err != nil {
		return Document{}, CreateErr(ErrInvalidFormat, "invalid JSON: %v", err)
	}

	if err := checkDocumentShape(raw); err != nil {
		return Document{}, err
	}

	var doc Document
	err = json.Unmarshal(data, &doc)
	if err != nil {
		return Document{}, CreateErr(ErrInvalidFormat, "invalid workflow format: %v", err)
	}
	return doc, nil
}

// DocumentFromMap decodes an already parsed document, e.g. from yaml or
// toml. The map is normalized through json so typed slices produced by
// those decoders pass the same shape check.
func DocumentFromMap(raw map[string]any) (Document, error) {
	if raw == nil {
		return Document{}, CreateErr(ErrInvalidFormat, "invalid workflow format: expected an object")
	}

	b, err := json.Marshal(raw)
	if err != nil {
		return Document{}, CreateErr(ErrInvalidFormat, "invalid workflow format: %v", err)
	}
	return DecodeDocument(b)
}

func checkDocumentShape(raw any) error {
	obj, ok := raw.(map[string]any)
	if !ok {
		return CreateErr(ErrInvalidFormat, "invalid workflow format: expected an object")
	}

	version, ok := asNumber(obj["version"])
	if !ok {
		return CreateErr(ErrInvalidFormat, "invalid workflow format: 'version' must be a number")
	}
	if _, ok := obj["nodes"].([]any); !ok {
		return CreateErr(ErrInvalidFormat, "invalid workflow format: 'nodes' must be a list")
	}
	if _, ok := obj["edges"].([]any); !ok {
		return CreateErr(ErrInvalidFormat, "invalid workflow format: 'edges' must be a list")
	}

	if version != CurrentVersion {
		return CreateErr(ErrUnsupportedVersion, "unsupported workflow version: %s", formatNumber(version))
	}
	return nil
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func formatNumber(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", f)
}

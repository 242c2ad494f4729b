package core

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

type Position struct {
	X float64 `json:"x" yaml:"x" toml:"x"`
	Y float64 `json:"y" yaml:"y" toml:"y"`
}

type GraphNode struct {
	Id       string         `json:"id" yaml:"id" toml:"id"`
	Kind     NodeKind       `json:"kind" yaml:"kind" toml:"kind"`
	Position Position       `json:"position" yaml:"position" toml:"position"`
	Data     map[string]any `json:"data" yaml:"data" toml:"data"`
}

type GraphEdge struct {
	Id           string `json:"id" yaml:"id" toml:"id"`
	Source       string `json:"source" yaml:"source" toml:"source"`
	SourceHandle PortId `json:"sourceHandle" yaml:"sourceHandle" toml:"sourceHandle"`
	Target       string `json:"target" yaml:"target" toml:"target"`
	TargetHandle PortId `json:"targetHandle" yaml:"targetHandle" toml:"targetHandle"`
}

// EdgeId derives the id of an edge from its endpoints.
func EdgeId(source string, sourceHandle PortId, target string, targetHandle PortId) string {
	return fmt.Sprintf("%s-%s-%s-%s", source, sourceHandle, target, targetHandle)
}

func NewEdge(source string, sourceHandle PortId, target string, targetHandle PortId) GraphEdge {
	return GraphEdge{
		Id:           EdgeId(source, sourceHandle, target, targetHandle),
		Source:       source,
		SourceHandle: sourceHandle,
		Target:       target,
		TargetHandle: targetHandle,
	}
}

// WorkflowGraph holds the nodes and edges of one workflow. Structural
// mutations go through its methods, which reject any change that would
// introduce a new structural problem.
type WorkflowGraph struct {
	Nodes []GraphNode
	Edges []GraphEdge

	registry *Registry
}

// ConnectError is returned when a structural mutation is rejected.
type ConnectError struct {
	Edge   GraphEdge
	Errors []ValidationError
}

func (e *ConnectError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, ve := range e.Errors {
		msgs = append(msgs, ve.Message)
	}
	return fmt.Sprintf("cannot connect %s.%s to %s.%s: %s", e.Edge.Source, e.Edge.SourceHandle, e.Edge.Target, e.Edge.TargetHandle, strings.Join(msgs, "; "))
}

func (r *Registry) NewGraph() *WorkflowGraph {
	return &WorkflowGraph{
		Nodes:    []GraphNode{},
		Edges:    []GraphEdge{},
		registry: r,
	}
}

func (g *WorkflowGraph) Registry() *Registry {
	return g.registry
}

func (g *WorkflowGraph) Clone() *WorkflowGraph {
	c := &WorkflowGraph{
		Nodes:    make([]GraphNode, 0, len(g.Nodes)),
		Edges:    slices.Clone(g.Edges),
		registry: g.registry,
	}
	for _, node := range g.Nodes {
		node.Data = cloneData(node.Data)
		c.Nodes = append(c.Nodes, node)
	}
	if c.Edges == nil {
		c.Edges = []GraphEdge{}
	}
	return c
}

func (g *WorkflowGraph) FindNode(id string) (GraphNode, bool) {
	i := g.nodeIndex(id)
	if i < 0 {
		return GraphNode{}, false
	}
	return g.Nodes[i], true
}

func (g *WorkflowGraph) nodeIndex(id string) int {
	return slices.IndexFunc(g.Nodes, func(n GraphNode) bool {
		return n.Id == id
	})
}

// AddNode adds a node after checking its kind and sanitizing its data.
func (g *WorkflowGraph) AddNode(node GraphNode) error {
	if node.Id == "" {
		return CreateErr(nil, "node id is missing")
	}
	if g.nodeIndex(node.Id) >= 0 {
		return CreateErr(nil, "node '%s' already exists", node.Id)
	}

	data, err := g.registry.ParseData(node.Kind, node.Data)
	if err != nil {
		return CreateErr(err, "unable to add node '%s'", node.Id).SetNode(node.Id)
	}
	node.Data = data

	g.Nodes = append(g.Nodes, node)
	return nil
}

// RemoveNode deletes a node and every edge touching it.
func (g *WorkflowGraph) RemoveNode(id string) bool {
	i := g.nodeIndex(id)
	if i < 0 {
		return false
	}
	g.Nodes = slices.Delete(g.Nodes, i, i+1)
	g.Edges = slices.DeleteFunc(g.Edges, func(e GraphEdge) bool {
		return e.Source == id || e.Target == id
	})
	return true
}

func (g *WorkflowGraph) MoveNode(id string, position Position) error {
	i := g.nodeIndex(id)
	if i < 0 {
		return CreateErr(ErrUnknownNode, "node '%s' does not exist", id)
	}
	g.Nodes[i].Position = position
	return nil
}

// UpdateNodeData shallow merges patch into the node's data. A patch the
// schema rejects leaves the data untouched.
func (g *WorkflowGraph) UpdateNodeData(id string, patch map[string]any) error {
	i := g.nodeIndex(id)
	if i < 0 {
		return CreateErr(ErrUnknownNode, "node '%s' does not exist", id)
	}

	merged := cloneData(g.Nodes[i].Data)
	if merged == nil {
		merged = map[string]any{}
	}
	maps.Copy(merged, patch)

	data, err := g.registry.ParseData(g.Nodes[i].Kind, merged)
	if err != nil {
		return CreateErr(err, "unable to update node '%s'", id).SetNode(id)
	}

	g.Nodes[i].Data = data
	return nil
}

// Connect adds an edge between an output and an input port.
func (g *WorkflowGraph) Connect(source string, sourceHandle PortId, target string, targetHandle PortId) (GraphEdge, error) {
	edge := NewEdge(source, sourceHandle, target, targetHandle)
	return edge, g.AddEdge(edge)
}

// AddEdge adds an edge unless it introduces a structural problem.
// Required inputs are not enforced here.
func (g *WorkflowGraph) AddEdge(edge GraphEdge) error {
	if edge.Id == "" {
		edge.Id = EdgeId(edge.Source, edge.SourceHandle, edge.Target, edge.TargetHandle)
	}

	for _, e := range g.Edges {
		if e.Id == edge.Id {
			return CreateErr(nil, "connection '%s' already exists", edge.Id)
		}
	}

	opts := ValidateOpts{SkipRequired: true}
	before := Validate(g.registry, g.Nodes, g.Edges, opts)

	edges := append(slices.Clone(g.Edges), edge)
	after := Validate(g.registry, g.Nodes, edges, opts)

	if added := newErrors(before, after); len(added) > 0 {
		return &ConnectError{Edge: edge, Errors: added}
	}

	g.Edges = edges
	return nil
}

func (g *WorkflowGraph) RemoveEdge(id string) bool {
	n := len(g.Edges)
	g.Edges = slices.DeleteFunc(g.Edges, func(e GraphEdge) bool {
		return e.Id == id
	})
	return len(g.Edges) != n
}

func (g *WorkflowGraph) IncomingEdges(nodeId string) []GraphEdge {
	return IncomingEdges(nodeId, g.Edges)
}

func (g *WorkflowGraph) OutgoingEdges(nodeId string) []GraphEdge {
	return OutgoingEdges(nodeId, g.Edges)
}

func (g *WorkflowGraph) Validate(opts ValidateOpts) ValidationResult {
	return Validate(g.registry, g.Nodes, g.Edges, opts)
}

func (g *WorkflowGraph) Order() ([]string, error) {
	return TopologicalSort(g.Nodes, g.Edges)
}

func IncomingEdges(nodeId string, edges []GraphEdge) []GraphEdge {
	var result []GraphEdge
	for _, e := range edges {
		if e.Target == nodeId {
			result = append(result, e)
		}
	}
	return result
}

func OutgoingEdges(nodeId string, edges []GraphEdge) []GraphEdge {
	var result []GraphEdge
	for _, e := range edges {
		if e.Source == nodeId {
			result = append(result, e)
		}
	}
	return result
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneData(t)
	case []any:
		s := make([]any, len(t))
		for i, item := range t {
			s[i] = cloneValue(item)
		}
		return s
	default:
		return v
	}
}

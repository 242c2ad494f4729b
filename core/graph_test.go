package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGraph(t *testing.T) *WorkflowGraph {
	t.Helper()

	g := newTestRegistry(t).NewGraph()
	for _, n := range []GraphNode{
		node("t1", "text"),
		node("t2", "text"),
		node("img", "upload-image"),
		node("l1", "llm"),
		node("l2", "llm"),
	} {
		require.NoError(t, g.AddNode(n))
	}
	return g
}

func TestGraph_AddNode(t *testing.T) {
	g := newTestGraph(t)

	n, ok := g.FindNode("l1")
	require.True(t, ok)
	// data is sanitized on the way in
	assert.Equal(t, map[string]any{"model": "gemini-2.0-flash"}, n.Data)

	err := g.AddNode(node("l1", "llm"))
	assert.ErrorContains(t, err, "already exists")

	err = g.AddNode(node("", "llm"))
	assert.ErrorContains(t, err, "id is missing")

	err = g.AddNode(node("x", "audio"))
	assert.ErrorIs(t, err, ErrUnknownNodeKind)

	err = g.AddNode(GraphNode{Id: "y", Kind: "text", Data: map[string]any{"text": false}})
	assert.ErrorIs(t, err, ErrSchemaValidation)

	assert.Len(t, g.Nodes, 5)
}

func TestGraph_Connect(t *testing.T) {
	g := newTestGraph(t)

	e, err := g.Connect("t1", "output", "l1", "user_message")
	require.NoError(t, err)
	assert.Equal(t, "t1-output-l1-user_message", e.Id)
	assert.Equal(t, []GraphEdge{e}, g.Edges)

	// the same connection twice
	_, err = g.Connect("t1", "output", "l1", "user_message")
	assert.ErrorContains(t, err, "already exists")

	// a second source on a single input
	_, err = g.Connect("t2", "output", "l1", "user_message")
	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	require.Len(t, connectErr.Errors, 1)
	assert.Equal(t, CodeMultipleConnectionsNotAllowed, connectErr.Errors[0].Code)

	// image into text
	_, err = g.Connect("img", "output", "l2", "user_message")
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, CodeIncompatibleTypes, connectErr.Errors[0].Code)

	// unknown port
	_, err = g.Connect("t1", "nope", "l2", "user_message")
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, CodeInvalidPort, connectErr.Errors[0].Code)

	// unknown node
	_, err = g.Connect("t1", "output", "ghost", "user_message")
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, CodeDanglingEdge, connectErr.Errors[0].Code)

	// several sources on a multiple input
	_, err = g.Connect("img", "output", "l1", "images")
	require.NoError(t, err)
	_, err = g.Connect("t2", "output", "l1", "images")
	require.NoError(t, err)

	// l2 still misses its required input, connecting does not care
	_, err = g.Connect("l1", "output", "l2", "system_prompt")
	require.NoError(t, err)

	assert.Len(t, g.Edges, 4)
}

func TestGraph_ConnectRejectsCycles(t *testing.T) {
	g := newTestGraph(t)

	_, err := g.Connect("l1", "output", "l2", "user_message")
	require.NoError(t, err)

	_, err = g.Connect("l2", "output", "l1", "user_message")
	var connectErr *ConnectError
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, CodeCycle, connectErr.Errors[0].Code)

	_, err = g.Connect("l1", "output", "l1", "system_prompt")
	require.ErrorAs(t, err, &connectErr)
	assert.Equal(t, CodeCycle, connectErr.Errors[0].Code)

	assert.Len(t, g.Edges, 1)
}

func TestGraph_ConnectIgnoresExistingProblems(t *testing.T) {
	g := newTestGraph(t)

	// loaded documents may already be broken
	g.Edges = append(g.Edges, edge("img", "output", "l1", "user_message"))

	_, err := g.Connect("t1", "output", "l2", "user_message")
	assert.NoError(t, err)
}

func TestGraph_RemoveNodeCascades(t *testing.T) {
	g := newTestGraph(t)

	_, err := g.Connect("t1", "output", "l1", "user_message")
	require.NoError(t, err)
	_, err = g.Connect("l1", "output", "l2", "user_message")
	require.NoError(t, err)
	_, err = g.Connect("t2", "output", "l2", "system_prompt")
	require.NoError(t, err)

	assert.True(t, g.RemoveNode("l1"))
	assert.False(t, g.RemoveNode("l1"))

	_, ok := g.FindNode("l1")
	assert.False(t, ok)
	require.Len(t, g.Edges, 1)
	assert.Equal(t, "t2", g.Edges[0].Source)

	assert.Empty(t, g.IncomingEdges("l1"))
	assert.Empty(t, g.OutgoingEdges("l1"))
}

func TestGraph_RemoveEdge(t *testing.T) {
	g := newTestGraph(t)

	e, err := g.Connect("t1", "output", "l1", "user_message")
	require.NoError(t, err)

	assert.True(t, g.RemoveEdge(e.Id))
	assert.False(t, g.RemoveEdge(e.Id))
	assert.Empty(t, g.Edges)

	// the port is free again
	_, err = g.Connect("t2", "output", "l1", "user_message")
	assert.NoError(t, err)
}

func TestGraph_UpdateNodeData(t *testing.T) {
	g := newTestGraph(t)

	require.NoError(t, g.UpdateNodeData("t1", map[string]any{"text": "hello"}))
	require.NoError(t, g.UpdateNodeData("t1", map[string]any{"label": "Greeting"}))

	n, _ := g.FindNode("t1")
	assert.Equal(t, map[string]any{"label": "Greeting", "text": "hello"}, n.Data)

	err := g.UpdateNodeData("t1", map[string]any{"text": 12})
	assert.ErrorIs(t, err, ErrSchemaValidation)

	n, _ = g.FindNode("t1")
	assert.Equal(t, "hello", n.Data["text"])

	err = g.UpdateNodeData("ghost", map[string]any{})
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestGraph_MoveNode(t *testing.T) {
	g := newTestGraph(t)

	require.NoError(t, g.MoveNode("t1", Position{X: 1, Y: 2}))
	n, _ := g.FindNode("t1")
	assert.Equal(t, Position{X: 1, Y: 2}, n.Position)

	assert.ErrorIs(t, g.MoveNode("ghost", Position{}), ErrUnknownNode)
}

func TestGraph_Clone(t *testing.T) {
	g := newTestGraph(t)
	require.NoError(t, g.UpdateNodeData("t1", map[string]any{"text": "hello"}))

	c := g.Clone()
	c.Nodes[0].Data["text"] = "changed"
	require.NoError(t, c.AddNode(node("t3", "text")))

	n, _ := g.FindNode("t1")
	assert.Equal(t, "hello", n.Data["text"])
	assert.Len(t, g.Nodes, 5)
	assert.Same(t, g.Registry(), c.Registry())
}

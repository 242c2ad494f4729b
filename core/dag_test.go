package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_LinearChain(t *testing.T) {
	reg := newTestRegistry(t)

	nodes := []GraphNode{node("t", "text"), node("l", "llm")}
	edges := []GraphEdge{edge("t", "output", "l", "user_message")}

	result := Validate(reg, nodes, edges, ValidateOpts{})
	assert.True(t, result.Valid)
	assert.Empty(t, result.Errors)
	assert.NoError(t, result.Err())

	order, err := TopologicalSort(nodes, edges)
	require.NoError(t, err)
	assert.Equal(t, []string{"t", "l"}, order)
}

func TestValidate_AsymmetricCompatibility(t *testing.T) {
	reg := newTestRegistry(t)

	nodes := []GraphNode{node("t", "text"), node("img", "upload-image"), node("crop", "crop-image"), node("l", "llm")}

	// text into an image input is fine
	result := Validate(reg, nodes, []GraphEdge{edge("t", "output", "crop", "image_url")}, ValidateOpts{SkipRequired: true})
	assert.True(t, result.Valid)

	// an image into a text input is not
	e := edge("img", "output", "l", "user_message")
	result = Validate(reg, nodes, []GraphEdge{e}, ValidateOpts{SkipRequired: true})
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, CodeIncompatibleTypes, result.Errors[0].Code)
	assert.Equal(t, e.Id, result.Errors[0].EdgeId)
	assert.Equal(t, "Incompatible connection: image → text", result.Errors[0].Message)
}

func TestValidate_Multiplicity(t *testing.T) {
	reg := newTestRegistry(t)

	nodes := []GraphNode{node("t1", "text"), node("t2", "text"), node("t3", "text"), node("l", "llm")}
	edges := []GraphEdge{
		edge("t1", "output", "l", "user_message"),
		edge("t2", "output", "l", "user_message"),
		edge("t3", "output", "l", "user_message"),
	}

	result := Validate(reg, nodes, edges, ValidateOpts{})
	assert.False(t, result.Valid)

	// one error per port, not per edge
	errs := result.ByCode(CodeMultipleConnectionsNotAllowed)
	require.Len(t, errs, 1)
	assert.Equal(t, "l", errs[0].NodeId)
	assert.Equal(t, PortId("user_message"), errs[0].PortId)
	assert.Equal(t, `Input "User Message" does not allow multiple connections`, errs[0].Message)
	assert.Len(t, result.Errors, 1)
}

func TestValidate_MultipleAllowed(t *testing.T) {
	reg := newTestRegistry(t)

	nodes := []GraphNode{node("a", "upload-image"), node("b", "upload-image"), node("t", "text"), node("l", "llm")}
	edges := []GraphEdge{
		edge("a", "output", "l", "images"),
		edge("b", "output", "l", "images"),
		edge("t", "output", "l", "images"),
		edge("t", "output", "l", "user_message"),
	}

	result := Validate(reg, nodes, edges, ValidateOpts{})
	assert.True(t, result.Valid, result.Errors)
}

func TestValidate_RequiredInputs(t *testing.T) {
	reg := newTestRegistry(t)

	nodes := []GraphNode{node("l", "llm"), node("t", "text")}
	edges := []GraphEdge{edge("t", "output", "l", "system_prompt")}

	result := Validate(reg, nodes, edges, ValidateOpts{})
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, CodeMissingRequiredInput, result.Errors[0].Code)
	assert.Equal(t, "l", result.Errors[0].NodeId)
	assert.Equal(t, PortId("user_message"), result.Errors[0].PortId)
	assert.Equal(t, `Required input "User Message" is not connected`, result.Errors[0].Message)

	result = Validate(reg, nodes, edges, ValidateOpts{SkipRequired: true})
	assert.True(t, result.Valid)
}

func TestValidate_DanglingAndInvalidPorts(t *testing.T) {
	reg := newTestRegistry(t)

	nodes := []GraphNode{node("t", "text"), node("l", "llm")}
	dangling := edge("t", "output", "ghost", "user_message")
	badSource := edge("t", "result", "l", "user_message")
	badTarget := edge("t", "output", "l", "prompt")

	result := Validate(reg, nodes, []GraphEdge{dangling, badSource, badTarget}, ValidateOpts{SkipRequired: true})
	require.Len(t, result.Errors, 3)

	assert.Equal(t, CodeDanglingEdge, result.Errors[0].Code)
	assert.Equal(t, dangling.Id, result.Errors[0].EdgeId)
	assert.Equal(t, "Edge references non-existent node", result.Errors[0].Message)

	assert.Equal(t, CodeInvalidPort, result.Errors[1].Code)
	assert.Equal(t, PortId("result"), result.Errors[1].PortId)
	assert.Equal(t, "Edge references invalid port", result.Errors[1].Message)

	assert.Equal(t, CodeInvalidPort, result.Errors[2].Code)
	assert.Equal(t, PortId("prompt"), result.Errors[2].PortId)

	// ports are looked up by direction
	result = Validate(reg, nodes, []GraphEdge{edge("l", "user_message", "t", "output")}, ValidateOpts{SkipRequired: true})
	assert.True(t, result.HasCode(CodeInvalidPort))
}

func TestValidate_Cycle(t *testing.T) {
	reg := newTestRegistry(t)

	nodes := []GraphNode{node("a", "llm"), node("b", "llm")}
	edges := []GraphEdge{
		edge("a", "output", "b", "user_message"),
		edge("b", "output", "a", "user_message"),
	}

	result := Validate(reg, nodes, edges, ValidateOpts{})
	assert.False(t, result.Valid)
	errs := result.ByCode(CodeCycle)
	require.Len(t, errs, 1)
	assert.Equal(t, "a", errs[0].NodeId)
	assert.Equal(t, "Cycle detected in workflow (node: a)", errs[0].Message)

	order, err := TopologicalSort(nodes, edges)
	assert.Nil(t, order)
	require.ErrorIs(t, err, ErrCycleDetected)
	var cycleErr *CycleError
	require.ErrorAs(t, err, &cycleErr)
	assert.Equal(t, "a", cycleErr.NodeId)
}

func TestValidate_SelfLoop(t *testing.T) {
	reg := newTestRegistry(t)

	nodes := []GraphNode{node("a", "llm")}
	edges := []GraphEdge{edge("a", "output", "a", "user_message")}

	nodeId, found := DetectCycle(nodes, edges)
	assert.True(t, found)
	assert.Equal(t, "a", nodeId)

	result := Validate(reg, nodes, edges, ValidateOpts{})
	assert.True(t, result.HasCode(CodeCycle))

	_, err := TopologicalSort(nodes, edges)
	assert.ErrorIs(t, err, ErrCycleDetected)
}

func TestValidate_DuplicateAndUnknownNodes(t *testing.T) {
	reg := newTestRegistry(t)

	nodes := []GraphNode{node("a", "text"), node("a", "text"), node("b", "audio")}

	result := Validate(reg, nodes, nil, ValidateOpts{})
	require.Len(t, result.Errors, 2)
	assert.Equal(t, CodeDuplicateNodeId, result.Errors[0].Code)
	assert.Equal(t, CodeUnknownNodeKind, result.Errors[1].Code)
	assert.Equal(t, "b", result.Errors[1].NodeId)
}

func TestValidate_Empty(t *testing.T) {
	reg := newTestRegistry(t)

	result := Validate(reg, nil, nil, ValidateOpts{})
	assert.True(t, result.Valid)
	assert.NotNil(t, result.Errors)

	order, err := TopologicalSort(nil, nil)
	require.NoError(t, err)
	assert.Empty(t, order)
}

func TestTopologicalSort_Deterministic(t *testing.T) {
	nodes := []GraphNode{node("l", "llm"), node("t1", "text"), node("t2", "text"), node("x", "text")}
	edges := []GraphEdge{
		edge("t2", "output", "l", "system_prompt"),
		edge("t1", "output", "l", "user_message"),
	}

	for range 10 {
		order, err := TopologicalSort(nodes, edges)
		require.NoError(t, err)
		assert.Equal(t, []string{"t1", "t2", "x", "l"}, order)
	}
}

func TestTopologicalSort_IgnoresDanglingEdges(t *testing.T) {
	nodes := []GraphNode{node("t", "text"), node("l", "llm")}
	edges := []GraphEdge{
		edge("ghost", "output", "l", "user_message"),
		edge("t", "output", "l", "system_prompt"),
	}

	order, err := TopologicalSort(nodes, edges)
	require.NoError(t, err)
	assert.Equal(t, []string{"t", "l"}, order)
}

func TestValidationResult_Err(t *testing.T) {
	reg := newTestRegistry(t)

	result := Validate(reg, []GraphNode{node("l", "llm")}, nil, ValidateOpts{})
	err := result.Err()
	require.Error(t, err)
	assert.Equal(t, `Required input "User Message" is not connected (node: l)`, err.Error())
}

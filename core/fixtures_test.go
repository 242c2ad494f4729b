package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fixtureTextData struct {
	BaseData
	Text string `json:"text"`
}

type fixtureImageData struct {
	BaseData
	ImageUrl string `json:"imageUrl,omitempty" validate:"omitempty,url"`
}

type fixtureCropData struct {
	BaseData
	XPercent NumberOrString `json:"xPercent"`
}

type fixtureLlmData struct {
	BaseData
	Model string `json:"model"`
}

const fixtureTextDef = `
kind: text
label: Text
category: text
icon: Type
color: "#3B82F6"
description: Provide text
index: 0
outputs:
  output:
    label: Text
    type: text
    index: 0
`

const fixtureImageDef = `
kind: upload-image
label: Upload Image
category: image
icon: Image
color: "#D946EF"
description: Upload an image
index: 1
outputs:
  output:
    label: Image URL
    type: image
    index: 0
`

const fixtureVideoDef = `
kind: upload-video
label: Upload Video
category: video
icon: Video
color: "#2DD4BF"
description: Upload a video
index: 2
outputs:
  output:
    label: Video URL
    type: video
    index: 0
`

const fixtureCropDef = `
kind: crop-image
label: Crop Image
category: image
icon: Crop
color: "#10B981"
description: Crop an image
index: 3
inputs:
  image_url:
    label: Image
    type: image
    required: true
    index: 0
  x_percent:
    label: X (%)
    type: number
    index: 1
outputs:
  output:
    label: Cropped Image
    type: image
    index: 0
`

const fixtureLlmDef = `
kind: llm
label: Run Any LLM
category: llm
icon: Sparkles
color: "#FFD700"
description: Run a model
index: 5
inputs:
  system_prompt:
    label: System Prompt
    type: text
    index: 0
  user_message:
    label: User Message
    type: text
    required: true
    index: 1
  images:
    label: Images
    type: image
    multiple: true
    index: 2
outputs:
  output:
    label: Text Output
    type: text
    index: 0
`

func mustDef(t *testing.T, def string) NodeTypeDefinition {
	t.Helper()
	d, err := ParseNodeTypeDefinition(def)
	require.NoError(t, err)
	return d
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()

	reg, err := NewRegistry(
		KindEntry{Definition: mustDef(t, fixtureTextDef), Schema: NewStructSchema(func() fixtureTextData { return fixtureTextData{} })},
		KindEntry{Definition: mustDef(t, fixtureImageDef), Schema: NewStructSchema(func() fixtureImageData { return fixtureImageData{} })},
		KindEntry{Definition: mustDef(t, fixtureVideoDef), Schema: NewStructSchema(func() fixtureImageData { return fixtureImageData{} })},
		KindEntry{Definition: mustDef(t, fixtureCropDef), Schema: NewStructSchema(func() fixtureCropData { return fixtureCropData{XPercent: NumberValue(0)} })},
		KindEntry{Definition: mustDef(t, fixtureLlmDef), Schema: NewStructSchema(func() fixtureLlmData { return fixtureLlmData{Model: "gemini-2.0-flash"} })},
	)
	require.NoError(t, err)
	return reg
}

// node builds a graph node without going through the factory so tests
// control the ids.
func node(id string, kind NodeKind) GraphNode {
	return GraphNode{Id: id, Kind: kind, Position: Position{}, Data: map[string]any{}}
}

func edge(source string, sourceHandle PortId, target string, targetHandle PortId) GraphEdge {
	return NewEdge(source, sourceHandle, target, targetHandle)
}

package nodes

import (
	"context"
	_ "embed"

	"github.com/actionforge/flowrun/core"
)

//go:embed text.yml
var textDefinition string

const TextKind core.NodeKind = "text"

type TextData struct {
	core.BaseData
	Text string `json:"text"`
}

var textSchema = core.NewStructSchema(func() TextData {
	return TextData{Text: ""}
})

func executeText(ctx context.Context, e *Executor, req core.ExecutionRequest) (any, error) {
	data, err := textSchema.Decode(req.Data)
	if err != nil {
		return nil, err
	}
	return data.Text, nil
}

func init() {
	err := registerKind(textDefinition, textSchema, executeText)
	if err != nil {
		panic(err)
	}
}

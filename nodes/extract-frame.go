package nodes

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/actionforge/flowrun/core"
	"github.com/actionforge/flowrun/utils"
)

//go:embed extract-frame.yml
var extractFrameDefinition string

const ExtractFrameKind core.NodeKind = "extract-frame"

const (
	ExtractFrameInputVideoUrl  core.PortId = "video_url"
	ExtractFrameInputTimestamp core.PortId = "timestamp"
)

type ExtractFrameData struct {
	core.BaseData
	Timestamp core.NumberOrString `json:"timestamp"`
}

var extractFrameSchema = core.NewStructSchema(func() ExtractFrameData {
	return ExtractFrameData{
		Timestamp: core.NumberValue(0),
	}
})

func executeExtractFrame(ctx context.Context, e *Executor, req core.ExecutionRequest) (any, error) {
	data, err := extractFrameSchema.Parse(req.Data)
	if err != nil {
		return nil, err
	}
	req.Data = data

	videoUrl, ok := urlOf(req.Inputs[ExtractFrameInputVideoUrl])
	if !ok {
		return nil, core.CreateErr(nil, "no video to extract a frame from").SetHint("Connect a video to the 'Video' input.")
	}

	ts, err := numberParam(req, ExtractFrameInputTimestamp)
	if err != nil {
		return nil, err
	}
	ts = utils.Max(ts, 0)

	base, _, _ := strings.Cut(videoUrl, "#")
	return mediaOutput(fmt.Sprintf("%s#t=%s", base, formatNumber(ts))), nil
}

func init() {
	err := registerKind(extractFrameDefinition, extractFrameSchema, executeExtractFrame)
	if err != nil {
		panic(err)
	}
}

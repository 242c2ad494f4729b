package nodes

import (
	"context"
	_ "embed"

	"github.com/actionforge/flowrun/core"
)

//go:embed upload-video.yml
var uploadVideoDefinition string

const UploadVideoKind core.NodeKind = "upload-video"

type UploadVideoData struct {
	core.BaseData
	VideoUrl string `json:"videoUrl,omitempty" validate:"omitempty,url"`
	FileName string `json:"fileName,omitempty"`
}

var uploadVideoSchema = core.NewStructSchema(func() UploadVideoData {
	return UploadVideoData{}
})

func executeUploadVideo(ctx context.Context, e *Executor, req core.ExecutionRequest) (any, error) {
	data, err := uploadVideoSchema.Decode(req.Data)
	if err != nil {
		return nil, err
	}
	if data.VideoUrl == "" {
		return nil, core.CreateErr(nil, "no video uploaded").SetHint("Upload a video or set 'videoUrl' in the node data.")
	}
	return mediaOutput(data.VideoUrl), nil
}

func init() {
	err := registerKind(uploadVideoDefinition, uploadVideoSchema, executeUploadVideo)
	if err != nil {
		panic(err)
	}
}

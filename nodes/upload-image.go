package nodes

import (
	"context"
	_ "embed"

	"github.com/actionforge/flowrun/core"
)

//go:embed upload-image.yml
var uploadImageDefinition string

const UploadImageKind core.NodeKind = "upload-image"

type UploadImageData struct {
	core.BaseData
	ImageUrl string `json:"imageUrl,omitempty" validate:"omitempty,url"`
	FileName string `json:"fileName,omitempty"`
}

var uploadImageSchema = core.NewStructSchema(func() UploadImageData {
	return UploadImageData{}
})

func executeUploadImage(ctx context.Context, e *Executor, req core.ExecutionRequest) (any, error) {
	data, err := uploadImageSchema.Decode(req.Data)
	if err != nil {
		return nil, err
	}
	if data.ImageUrl == "" {
		return nil, core.CreateErr(nil, "no image uploaded").SetHint("Upload an image or set 'imageUrl' in the node data.")
	}
	return mediaOutput(data.ImageUrl), nil
}

func init() {
	err := registerKind(uploadImageDefinition, uploadImageSchema, executeUploadImage)
	if err != nil {
		panic(err)
	}
}

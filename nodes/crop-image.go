package nodes

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/actionforge/flowrun/core"
	"github.com/actionforge/flowrun/utils"

	"github.com/rossmacarthur/cases"
)

//go:embed crop-image.yml
var cropImageDefinition string

const CropImageKind core.NodeKind = "crop-image"

const (
	CropImageInputImageUrl      core.PortId = "image_url"
	CropImageInputXPercent      core.PortId = "x_percent"
	CropImageInputYPercent      core.PortId = "y_percent"
	CropImageInputWidthPercent  core.PortId = "width_percent"
	CropImageInputHeightPercent core.PortId = "height_percent"
)

type CropImageData struct {
	core.BaseData
	XPercent      core.NumberOrString `json:"xPercent"`
	YPercent      core.NumberOrString `json:"yPercent"`
	WidthPercent  core.NumberOrString `json:"widthPercent"`
	HeightPercent core.NumberOrString `json:"heightPercent"`
}

var cropImageSchema = core.NewStructSchema(func() CropImageData {
	return CropImageData{
		XPercent:      core.NumberValue(0),
		YPercent:      core.NumberValue(0),
		WidthPercent:  core.NumberValue(100),
		HeightPercent: core.NumberValue(100),
	}
})

// numberParam reads a numeric parameter from its input port, falling
// back to the data field of the same name in camel case.
func numberParam(req core.ExecutionRequest, port core.PortId) (float64, error) {
	if v, ok := req.Inputs[port]; ok {
		f, ok := toFloat(v)
		if !ok {
			return 0, core.CreateErr(nil, "input '%s' is not a number: %v", port, v)
		}
		return f, nil
	}

	field := cases.ToCamel(string(port))
	v, ok := req.Data[field]
	if !ok {
		return 0, core.CreateErr(nil, "'%s' is not set", field)
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, core.CreateErr(nil, "'%s' is not a number: %v", field, v)
	}
	return f, nil
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case core.NumberOrString:
		return t.Float()
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func executeCropImage(ctx context.Context, e *Executor, req core.ExecutionRequest) (any, error) {
	data, err := cropImageSchema.Parse(req.Data)
	if err != nil {
		return nil, err
	}
	req.Data = data

	imageUrl, ok := urlOf(req.Inputs[CropImageInputImageUrl])
	if !ok {
		return nil, core.CreateErr(nil, "no image to crop").SetHint("Connect an image to the 'Image' input.")
	}

	x, err := numberParam(req, CropImageInputXPercent)
	if err != nil {
		return nil, err
	}
	y, err := numberParam(req, CropImageInputYPercent)
	if err != nil {
		return nil, err
	}
	w, err := numberParam(req, CropImageInputWidthPercent)
	if err != nil {
		return nil, err
	}
	h, err := numberParam(req, CropImageInputHeightPercent)
	if err != nil {
		return nil, err
	}

	x = utils.Clamp(x, 0, 100)
	y = utils.Clamp(y, 0, 100)
	w = utils.Clamp(w, 0, 100-x)
	h = utils.Clamp(h, 0, 100-y)

	if w == 0 || h == 0 {
		return nil, core.CreateErr(nil, "crop area is empty (%s%% x %s%%)", formatNumber(w), formatNumber(h))
	}

	base, _, _ := strings.Cut(imageUrl, "#")
	return mediaOutput(fmt.Sprintf("%s#xywh=percent:%s,%s,%s,%s", base,
		formatNumber(x), formatNumber(y), formatNumber(w), formatNumber(h))), nil
}

func init() {
	err := registerKind(cropImageDefinition, cropImageSchema, executeCropImage)
	if err != nil {
		panic(err)
	}
}

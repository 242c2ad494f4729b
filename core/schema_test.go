package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructSchema_Defaults(t *testing.T) {
	schema := NewStructSchema(func() fixtureCropData {
		return fixtureCropData{XPercent: NumberValue(10)}
	})

	assert.Equal(t, map[string]any{"xPercent": float64(10)}, schema.Defaults())
}

func TestStructSchema_Parse(t *testing.T) {
	schema := NewStructSchema(func() fixtureTextData { return fixtureTextData{} })

	data, err := schema.Parse(map[string]any{
		"label":    "Prompt",
		"text":     "hello",
		"leftover": true,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"label": "Prompt", "text": "hello"}, data)

	// missing fields get their defaults
	data, err = schema.Parse(map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"text": ""}, data)
}

func TestStructSchema_RejectsWrongTypes(t *testing.T) {
	schema := NewStructSchema(func() fixtureTextData { return fixtureTextData{} })

	_, err := schema.Parse(map[string]any{"text": 5})
	require.ErrorIs(t, err, ErrSchemaValidation)

	var schemaErr *SchemaValidationError
	require.ErrorAs(t, err, &schemaErr)
	require.Len(t, schemaErr.Fields, 1)
	assert.Equal(t, "text", schemaErr.Fields[0].Field)
	assert.Equal(t, "expected string, got number", schemaErr.Fields[0].Message)

	for _, data := range []any{nil, "text", []any{}, map[string]any(nil)} {
		_, err = schema.Parse(data)
		assert.ErrorIs(t, err, ErrSchemaValidation)
	}
}

func TestStructSchema_ValidateTags(t *testing.T) {
	schema := NewStructSchema(func() fixtureImageData { return fixtureImageData{} })

	_, err := schema.Parse(map[string]any{"imageUrl": "https://example.com/cat.png"})
	assert.NoError(t, err)

	_, err = schema.Parse(map[string]any{"imageUrl": "not a url"})
	var schemaErr *SchemaValidationError
	require.ErrorAs(t, err, &schemaErr)
	require.Len(t, schemaErr.Fields, 1)
	assert.Equal(t, "imageUrl", schemaErr.Fields[0].Field)
	assert.Equal(t, "must be a valid URL", schemaErr.Fields[0].Message)
}

func TestNumberOrString(t *testing.T) {
	schema := NewStructSchema(func() fixtureCropData {
		return fixtureCropData{XPercent: NumberValue(0)}
	})

	d, err := schema.Decode(map[string]any{"xPercent": 12.5})
	require.NoError(t, err)
	assert.False(t, d.XPercent.IsString())
	f, ok := d.XPercent.Float()
	assert.True(t, ok)
	assert.Equal(t, 12.5, f)

	// a half typed value is kept as string
	d, err = schema.Decode(map[string]any{"xPercent": " 40 "})
	require.NoError(t, err)
	assert.True(t, d.XPercent.IsString())
	f, ok = d.XPercent.Float()
	assert.True(t, ok)
	assert.Equal(t, 40.0, f)

	d, err = schema.Decode(map[string]any{"xPercent": "abc"})
	require.NoError(t, err)
	_, ok = d.XPercent.Float()
	assert.False(t, ok)

	_, err = schema.Decode(map[string]any{"xPercent": true})
	assert.ErrorIs(t, err, ErrSchemaValidation)
	assert.Contains(t, err.Error(), "xPercent")

	_, err = schema.Decode(map[string]any{"xPercent": nil})
	assert.ErrorIs(t, err, ErrSchemaValidation)

	b, err := json.Marshal(StringValue("7"))
	require.NoError(t, err)
	assert.Equal(t, `"7"`, string(b))

	b, err = json.Marshal(NumberValue(7))
	require.NoError(t, err)
	assert.Equal(t, `7`, string(b))

	assert.False(t, NumberOrString{}.IsSet())
}

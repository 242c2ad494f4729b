package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DataSchema knows the shape of one node kind's data payload.
type DataSchema interface {
	// Defaults returns the payload produced by parsing an empty object.
	Defaults() map[string]any
	// Parse validates untrusted data and returns the sanitized payload.
	// Unknown fields are dropped, missing fields get their defaults.
	Parse(data any) (map[string]any, error)
}

// BaseData is embedded by every node data struct.
type BaseData struct {
	Label string `json:"label,omitempty"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// report json field names instead of go field names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	return v
}

// StructSchema is a DataSchema backed by a go struct. The defaults func
// returns the struct with every default applied, validate tags on the
// struct describe the remaining constraints.
type StructSchema[T any] struct {
	defaults func() T
}

func NewStructSchema[T any](defaults func() T) *StructSchema[T] {
	return &StructSchema[T]{
		defaults: defaults,
	}
}

func (s *StructSchema[T]) Defaults() map[string]any {
	m, err := s.Parse(map[string]any{})
	if err != nil {
		// defaults that fail their own schema are a programming error
		panic(fmt.Sprintf("invalid schema defaults: %v", err))
	}
	return m
}

func (s *StructSchema[T]) Parse(data any) (map[string]any, error) {
	v, err := s.Decode(data)
	if err != nil {
		return nil, err
	}
	return toDataMap(v)
}

// Decode turns data into the typed struct after validating it.
func (s *StructSchema[T]) Decode(data any) (T, error) {
	var empty T

	m, ok := data.(map[string]any)
	if !ok || m == nil {
		return empty, &SchemaValidationError{
			Fields: []FieldError{{Field: "data", Message: fmt.Sprintf("expected an object, got %s", describeValue(data))}},
		}
	}

	raw, err := json.Marshal(m)
	if err != nil {
		return empty, &SchemaValidationError{
			Fields: []FieldError{{Field: "data", Message: err.Error()}},
		}
	}

	v := s.defaults()
	err = json.NewDecoder(bytes.NewReader(raw)).Decode(&v)
	if err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return empty, &SchemaValidationError{
				Fields: []FieldError{{Field: typeErr.Field, Message: fmt.Sprintf("expected %s, got %s", typeName(typeErr.Type), typeErr.Value)}},
			}
		}
		return empty, &SchemaValidationError{
			Fields: []FieldError{{Field: "data", Message: err.Error()}},
		}
	}

	err = validate.Struct(v)
	if err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			fields := make([]FieldError, 0, len(validationErrors))
			for _, fe := range validationErrors {
				fields = append(fields, FieldError{Field: fe.Field(), Message: fieldErrorMessage(fe)})
			}
			return empty, &SchemaValidationError{Fields: fields}
		}
		return empty, &SchemaValidationError{
			Fields: []FieldError{{Field: "data", Message: err.Error()}},
		}
	}

	return v, nil
}

func toDataMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	err = json.Unmarshal(raw, &m)
	if err != nil {
		return nil, err
	}
	return m, nil
}

func fieldErrorMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "min":
		return fmt.Sprintf("minimum value/length is %s", fe.Param())
	case "max":
		return fmt.Sprintf("maximum value/length is %s", fe.Param())
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("validation failed: %s", fe.Tag())
	}
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "value"
	}
	if t == reflect.TypeOf(NumberOrString{}) {
		return "number or string"
	}
	switch t.Kind() {
	case reflect.String:
		return "string"
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int64, reflect.Int32:
		return "number"
	case reflect.Bool:
		return "boolean"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Slice:
		return "array"
	}
	return t.String()
}

func describeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64, float32, int, int64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		if t == nil {
			return "null"
		}
		return "object"
	}
	return fmt.Sprintf("%T", v)
}

// NumberOrString holds a value that is either a json number or a json
// string, as typed into a numeric field that may still be mid-edit.
type NumberOrString struct {
	num   float64
	str   string
	isStr bool
	set   bool
}

func NumberValue(f float64) NumberOrString {
	return NumberOrString{num: f, set: true}
}

func StringValue(s string) NumberOrString {
	return NumberOrString{str: s, isStr: true, set: true}
}

func (n NumberOrString) IsSet() bool {
	return n.set
}

func (n NumberOrString) IsString() bool {
	return n.isStr
}

// Float returns the numeric value, parsing strings leniently.
func (n NumberOrString) Float() (float64, bool) {
	if !n.set {
		return 0, false
	}
	if !n.isStr {
		return n.num, true
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(n.str), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (n NumberOrString) MarshalJSON() ([]byte, error) {
	if n.isStr {
		return json.Marshal(n.str)
	}
	return json.Marshal(n.num)
}

func (n *NumberOrString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = StringValue(s)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil || bytes.Equal(data, []byte("null")) {
		return &json.UnmarshalTypeError{Value: string(data), Type: reflect.TypeOf(NumberOrString{})}
	}
	*n = NumberValue(f)
	return nil
}

package utils

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v4"
)

// Config is the optional yaml config file. Nested keys are flattened
// into dotted names, e.g. 'store.uri' or 'executor.max_parallel'.
type Config struct {
	values map[string]any
	Path   string

	// environment variables applied before the run
	Env map[string]string
}

func NewConfig() *Config {
	return &Config{
		values: map[string]any{},
		Env:    map[string]string{},
	}
}

func (c *Config) LoadFile(filePath string) error {
	c.Path = filePath

	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	return c.LoadBytes(data)
}

func (c *Config) LoadBytes(data []byte) error {
	var parsedData map[string]any
	err := yaml.Unmarshal(data, &parsedData)
	if err != nil {
		return err
	}

	for k, v := range flatten(parsedData, "") {
		// catch 'MY_VAR=foo' written where 'MY_VAR: foo' was meant
		vs := fmt.Sprintf("%v", v)
		if !strings.Contains(k, ".") && strings.Contains(vs, "=") {
			return fmt.Errorf("incorrect syntax, use ':' instead of '=' in key '%s'", k)
		}
		c.values[k] = v
	}

	return nil
}

func (c *Config) Get(key string) string {
	v := c.values[key]
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func (c *Config) GetInt(key string, defaultValue int) int {
	v := c.Get(key)
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return i
}

func (c *Config) GetAll(keyPrefix string) map[string]any {
	values := map[string]any{}
	for k, v := range c.values {
		if k == keyPrefix || strings.HasPrefix(k, keyPrefix+".") {
			k = strings.TrimPrefix(k, keyPrefix+".")
			values[k] = v
		}
	}
	return values
}

func flatten(data map[string]any, prefix string) map[string]any {
	flatMap := make(map[string]any)
	for k, v := range data {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		switch v := v.(type) {
		case map[any]any:
			stringMap := make(map[string]any)
			for key, value := range v {
				stringMap[fmt.Sprintf("%v", key)] = value
			}
			for subKey, subValue := range flatten(stringMap, key) {
				flatMap[subKey] = subValue
			}
		case map[string]any:
			for subKey, subValue := range flatten(v, key) {
				flatMap[subKey] = subValue
			}
		default:
			flatMap[key] = v
		}
	}
	return flatMap
}

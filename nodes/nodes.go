package nodes

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/actionforge/flowrun/core"
)

// Output port shared by every node kind.
const OutputPort core.PortId = "output"

type executeFunc func(ctx context.Context, e *Executor, req core.ExecutionRequest) (any, error)

type kindRegistration struct {
	entry   core.KindEntry
	execute executeFunc
}

var (
	registrations []kindRegistration

	onceRegistry    sync.Once
	defaultRegistry *core.Registry
	defaultErr      error
)

// registerKind is called from the init func of each node file.
func registerKind(definition string, schema core.DataSchema, fn executeFunc) error {
	def, err := core.ParseNodeTypeDefinition(definition)
	if err != nil {
		return err
	}

	for _, r := range registrations {
		if r.entry.Definition.Kind == def.Kind {
			return core.CreateErr(nil, "node definition '%v' already registered", def.Kind)
		}
	}

	registrations = append(registrations, kindRegistration{
		entry: core.KindEntry{
			Definition: def,
			Schema:     schema,
		},
		execute: fn,
	})
	return nil
}

// NewRegistry builds a fresh registry with every built-in node kind.
func NewRegistry() (*core.Registry, error) {
	entries := make([]core.KindEntry, 0, len(registrations))
	for _, r := range registrations {
		entries = append(entries, r.entry)
	}
	return core.NewRegistry(entries...)
}

// DefaultRegistry returns the registry shared by the cli.
func DefaultRegistry() (*core.Registry, error) {
	onceRegistry.Do(func() {
		defaultRegistry, defaultErr = NewRegistry()
	})
	return defaultRegistry, defaultErr
}

func lookupExecute(kind core.NodeKind) (executeFunc, bool) {
	i := slices.IndexFunc(registrations, func(r kindRegistration) bool {
		return r.entry.Definition.Kind == kind
	})
	if i < 0 {
		return nil, false
	}
	return registrations[i].execute, true
}

// urlOf accepts either a plain url string or the {url} object the media
// nodes produce.
func urlOf(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, t != ""
	case map[string]any:
		s, ok := t["url"].(string)
		return s, ok && s != ""
	}
	return "", false
}

// textOf renders an upstream value for text inputs.
func textOf(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	if s, ok := urlOf(v); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// mediaOutput is the output of every node that produces an image or video.
func mediaOutput(url string) map[string]any {
	return map[string]any{"url": url}
}

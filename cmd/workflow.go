package cmd

import (
	"bytes"
	"context"
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/actionforge/flowrun/core"
	"github.com/actionforge/flowrun/nodes"
	"github.com/actionforge/flowrun/store"
	"github.com/actionforge/flowrun/utils"
	u "github.com/actionforge/flowrun/utils"

	"github.com/BurntSushi/toml"
	"go.yaml.in/yaml/v4"
)

const (
	formatJson = "json"
	formatYaml = "yaml"
	formatToml = "toml"
)

func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		usr, err := user.Current()
		if err == nil {
			return strings.Replace(path, "~", usr.HomeDir, 1)
		}
	}
	return os.ExpandEnv(path)
}

// formatOf guesses the document format from the file extension.
func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return formatYaml
	case ".toml":
		return formatToml
	default:
		return formatJson
	}
}

func checkFormat(format string) error {
	switch format {
	case formatJson, formatYaml, formatToml:
		return nil
	}
	return core.CreateErr(nil, "unknown format '%s'", format).SetHint("Use one of json, yaml or toml.")
}

func decodeDocument(content []byte, format string) (core.Document, error) {
	switch format {
	case formatYaml:
		var raw map[string]any
		err := yaml.Unmarshal(content, &raw)
		if err != nil {
			return core.Document{}, core.CreateErr(core.ErrInvalidFormat, "malformed yaml: %v", err)
		}
		return core.DocumentFromMap(raw)
	case formatToml:
		var raw map[string]any
		err := toml.Unmarshal(content, &raw)
		if err != nil {
			return core.Document{}, core.CreateErr(core.ErrInvalidFormat, "malformed toml: %v", err)
		}
		return core.DocumentFromMap(raw)
	default:
		return core.DecodeDocument(content)
	}
}

func encodeDocument(doc core.Document, format string) ([]byte, error) {
	switch format {
	case formatYaml:
		b, err := yaml.Marshal(doc)
		if err != nil {
			return nil, core.CreateErr(err, "unable to encode yaml")
		}
		return b, nil
	case formatToml:
		var buf bytes.Buffer
		err := toml.NewEncoder(&buf).Encode(doc)
		if err != nil {
			return nil, core.CreateErr(err, "unable to encode toml")
		}
		return buf.Bytes(), nil
	default:
		b, err := core.MarshalDocument(doc)
		if err != nil {
			return nil, core.CreateErr(err, "unable to encode json")
		}
		return append(b, '\n'), nil
	}
}

func readDocument(path string) (core.Document, error) {
	content, err := utils.ReadFile(expandPath(path))
	if err != nil {
		return core.Document{}, err
	}
	doc, err := decodeDocument(content, formatOf(path))
	if err != nil {
		return core.Document{}, core.CreateErr(err, "unable to load '%s'", path)
	}
	return doc, nil
}

// loadWorkflow reads a workflow file of any supported format into a graph
// of the built-in node kinds.
func loadWorkflow(path string) (*core.WorkflowGraph, error) {
	reg, err := nodes.DefaultRegistry()
	if err != nil {
		return nil, err
	}

	doc, err := readDocument(path)
	if err != nil {
		return nil, err
	}

	g, err := reg.Deserialize(doc)
	if err != nil {
		return nil, core.CreateErr(err, "unable to load '%s'", path)
	}
	return g, nil
}

// writeOutput writes to the file or to stdout if the path is empty.
func writeOutput(path string, content []byte) error {
	if path == "" {
		_, err := os.Stdout.Write(content)
		return err
	}
	err := os.WriteFile(expandPath(path), content, 0o644)
	if err != nil {
		return core.CreateErr(err, "unable to write '%s'", path)
	}
	return nil
}

func resolveParam(name, flagValue, configKey string) string {
	v, _ := u.ResolveCliParam(name, u.ResolveCliParamOpts{
		Flag:      true,
		FlagValue: flagValue,
		Env:       true,
		Optional:  true,
		ActPrefix: true,
		Config:    finalConfig,
		ConfigKey: configKey,
	})
	return v
}

// openStore resolves the store uri and workflow id. A missing store uri
// returns a nil store.
func openStore(ctx context.Context, storeFlag, workflowFlag string, required bool) (store.Store, string, error) {
	uri := resolveParam("store", storeFlag, "store.uri")
	workflowId := resolveParam("workflow", workflowFlag, "store.workflow")

	if uri == "" {
		if required {
			return nil, "", core.CreateErr(nil, "no store configured").
				SetHint("Pass --store (or set ACT_STORE), e.g. --store sqlite:flowrun.db")
		}
		return nil, workflowId, nil
	}
	if workflowId == "" {
		return nil, "", core.CreateErr(nil, "no workflow id given for store '%s'", uri).
			SetHint("Pass --workflow (or set ACT_WORKFLOW) to name the workflow inside the store.")
	}

	st, err := store.Open(ctx, uri)
	if err != nil {
		return nil, "", err
	}
	return st, workflowId, nil
}

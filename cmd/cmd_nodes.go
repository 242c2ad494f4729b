package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/actionforge/flowrun/core"
	"github.com/actionforge/flowrun/nodes"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v4"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gopkg.in/ini.v1"
)

const formatText = "text"
const formatIni = "ini"

var flagNodesFormat string

var cmdNodes = &cobra.Command{
	Use:   "nodes",
	Short: "List the available node types.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		reg, err := nodes.DefaultRegistry()
		if err == nil {
			err = writeCatalog(os.Stdout, reg, flagNodesFormat)
		}
		if err != nil {
			core.PrintError("", err)
			os.Exit(1)
		}
	},
}

func writeCatalog(w io.Writer, reg *core.Registry, format string) error {
	defs := reg.Definitions()

	switch format {
	case formatText:
		return writeCatalogText(w, reg)
	case formatJson:
		b, err := json.MarshalIndent(defs, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case formatYaml:
		b, err := yaml.Marshal(defs)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case formatIni:
		return writeCatalogIni(w, reg)
	}

	return core.CreateErr(nil, "unknown format '%s'", format).SetHint("Use one of text, json, yaml or ini.")
}

func describePort(port core.NodePort) string {
	var flags []string
	if port.Required {
		flags = append(flags, "required")
	}
	if port.Multiple {
		flags = append(flags, "multiple")
	}

	s := fmt.Sprintf("%s:%s", port.Id, port.DataType)
	if len(flags) > 0 {
		s += "(" + strings.Join(flags, ",") + ")"
	}
	return s
}

func describePorts(ports []core.NodePort) string {
	s := make([]string, 0, len(ports))
	for _, p := range ports {
		s = append(s, describePort(p))
	}
	return strings.Join(s, ", ")
}

func joinNames[T ~string](names []T, sep string) string {
	s := make([]string, 0, len(names))
	for _, n := range names {
		s = append(s, string(n))
	}
	return strings.Join(s, sep)
}

// describeCasts lists the inputs that also take values of another data type.
func describeCasts(inputs []core.NodePort) string {
	var s []string
	for _, p := range inputs {
		accepts := core.InputTypeAccepts(p.DataType)
		if len(accepts) > 1 {
			s = append(s, fmt.Sprintf("%s<-%s", p.Id, joinNames(accepts, "|")))
		}
	}
	return strings.Join(s, ", ")
}

func writeCatalogText(w io.Writer, reg *core.Registry) error {
	title := cases.Title(language.English)
	bold := color.New(color.Bold)
	byCategory := reg.ByCategory()

	var buf bytes.Buffer
	for _, category := range core.Categories() {
		defs := byCategory[category]
		if len(defs) == 0 {
			continue
		}

		bold.Fprintf(&buf, "%s\n", title.String(string(category)))
		for _, def := range defs {
			fmt.Fprintf(&buf, "  %-14s %s\n", def.Kind, def.Description)
			if inputs := reg.Ports(def.Kind, core.PortInput); len(inputs) > 0 {
				fmt.Fprintf(&buf, "  %-14s in:  %s\n", "", describePorts(inputs))
				if casts := describeCasts(inputs); casts != "" {
					fmt.Fprintf(&buf, "  %-14s casts: %s\n", "", casts)
				}
			}
			if outputs := reg.Ports(def.Kind, core.PortOutput); len(outputs) > 0 {
				fmt.Fprintf(&buf, "  %-14s out: %s\n", "", describePorts(outputs))
			}
		}
		buf.WriteString("\n")
	}

	_, err := buf.WriteTo(w)
	return err
}

// writeCatalogIni writes one section per node kind.
func writeCatalogIni(w io.Writer, reg *core.Registry) error {
	cfg := ini.Empty()

	for _, def := range reg.Definitions() {
		sec, err := cfg.NewSection(string(def.Kind))
		if err != nil {
			return err
		}

		values := [][2]string{
			{"label", def.Label},
			{"category", string(def.Category)},
			{"color", def.Color},
			{"description", def.Description},
			{"inputs", describePorts(reg.Ports(def.Kind, core.PortInput))},
			{"outputs", describePorts(reg.Ports(def.Kind, core.PortOutput))},
		}
		for _, kv := range values {
			if _, err := sec.NewKey(kv[0], kv[1]); err != nil {
				return err
			}
		}
	}

	_, err := cfg.WriteTo(w)
	return err
}

func init() {
	cmdNodes.Flags().StringVar(&flagNodesFormat, "format", formatText, "Output format: text, json, yaml or ini")
	cmdRoot.AddCommand(cmdNodes)
}

package cmd

import (
	"os"

	"github.com/actionforge/flowrun/core"
	"github.com/actionforge/flowrun/nodes"

	"github.com/spf13/cobra"
)

const newNodeSpacing = 320.0

var (
	flagNewConnect bool
	flagNewFormat  string
	flagNewOutput  string
)

var cmdNew = &cobra.Command{
	Use:   "new <node-kind>...",
	Short: "Create a workflow from a list of node kinds.",
	Long: `Creates a workflow document with one node per given kind, laid out from left to right.
With --connect each node is wired to the next one through the first compatible input.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := newWorkflow(args)
		if err != nil {
			core.PrintError("", err)
			os.Exit(1)
		}
	},
}

func newWorkflow(kinds []string) error {
	if err := checkFormat(flagNewFormat); err != nil {
		return err
	}

	reg, err := nodes.DefaultRegistry()
	if err != nil {
		return err
	}

	g, err := createNodes(reg, kinds)
	if err != nil {
		return err
	}

	if flagNewConnect {
		err = chainNodes(g)
		if err != nil {
			return err
		}
	}

	b, err := encodeDocument(core.Serialize(g), flagNewFormat)
	if err != nil {
		return err
	}
	return writeOutput(flagNewOutput, b)
}

func createNodes(reg *core.Registry, kinds []string) (*core.WorkflowGraph, error) {
	g := reg.NewGraph()
	for i, kind := range kinds {
		if !reg.IsValidNodeKind(kind) {
			return nil, core.CreateErr(&core.UnknownNodeKindError{Kind: kind}, "unable to create workflow").
				SetHint("Known node kinds: %s", joinNames(reg.Kinds(), ", "))
		}

		node, err := reg.CreateNode(core.NodeKind(kind), core.CreateNodeOpts{
			Position: &core.Position{
				X: core.DefaultPosition.X + float64(i)*newNodeSpacing,
				Y: core.DefaultPosition.Y,
			},
		})
		if err != nil {
			return nil, err
		}

		err = g.AddNode(node)
		if err != nil {
			return nil, err
		}
	}
	return g, nil
}

// chainNodes connects the first output of every node to an input of the
// next node. Required inputs are preferred over optional ones.
func chainNodes(g *core.WorkflowGraph) error {
	reg := g.Registry()

	for i := 1; i < len(g.Nodes); i++ {
		source, target := g.Nodes[i-1], g.Nodes[i]

		outputs := reg.Ports(source.Kind, core.PortOutput)
		if len(outputs) == 0 {
			return core.CreateErr(nil, "node '%s' (%s) has no output", source.Id, source.Kind)
		}
		output := outputs[0]

		var candidate *core.NodePort
		for _, input := range reg.Ports(target.Kind, core.PortInput) {
			if !core.PortsAreCompatible(output, input) {
				continue
			}
			if input.Required {
				candidate = &input
				break
			}
			if candidate == nil {
				candidate = &input
			}
		}
		if candidate == nil {
			return core.CreateErr(nil, "no input of '%s' accepts the %s output of '%s'", target.Kind, output.DataType, source.Kind).
				SetHint("Outputs of type %s connect to %s inputs. Reorder the node kinds or connect them in the editor.",
					output.DataType, joinNames(core.OutputTypeAcceptedBy(output.DataType), ", "))
		}

		_, err := g.Connect(source.Id, output.Id, target.Id, candidate.Id)
		if err != nil {
			return err
		}
	}
	return nil
}

func init() {
	cmdNew.Flags().BoolVar(&flagNewConnect, "connect", false, "Connect each node to the next one")
	cmdNew.Flags().StringVar(&flagNewFormat, "format", formatJson, "Output format: json, yaml or toml")
	cmdNew.Flags().StringVarP(&flagNewOutput, "output", "o", "", "Write to this file instead of stdout")
	cmdRoot.AddCommand(cmdNew)
}

package cmd

import (
	"os"

	"github.com/actionforge/flowrun/core"

	"github.com/spf13/cobra"
)

var (
	flagExportFormat string
	flagExportOutput string
	flagImportOutput string
)

var cmdExport = &cobra.Command{
	Use:   "export <workflow-file>",
	Short: "Convert a workflow into json, yaml or toml.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := convertWorkflow(args[0], flagExportFormat, flagExportOutput)
		if err != nil {
			core.PrintError(args[0], err)
			os.Exit(1)
		}
	},
}

var cmdImport = &cobra.Command{
	Use:   "import <workflow-file>",
	Short: "Convert a yaml or toml workflow into the canonical json document.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := convertWorkflow(args[0], formatJson, flagImportOutput)
		if err != nil {
			core.PrintError(args[0], err)
			os.Exit(1)
		}
	},
}

// convertWorkflow loads a workflow through the registry, so node data is
// sanitized and unknown kinds are rejected, and writes it in format.
func convertWorkflow(path, format, output string) error {
	if err := checkFormat(format); err != nil {
		return err
	}

	g, err := loadWorkflow(path)
	if err != nil {
		return err
	}

	b, err := encodeDocument(core.Serialize(g), format)
	if err != nil {
		return err
	}
	return writeOutput(output, b)
}

func init() {
	cmdExport.Flags().StringVar(&flagExportFormat, "format", formatJson, "Output format: json, yaml or toml")
	cmdExport.Flags().StringVarP(&flagExportOutput, "output", "o", "", "Write to this file instead of stdout")
	cmdImport.Flags().StringVarP(&flagImportOutput, "output", "o", "", "Write to this file instead of stdout")

	cmdRoot.AddCommand(cmdExport)
	cmdRoot.AddCommand(cmdImport)
}

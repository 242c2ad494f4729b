package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/actionforge/flowrun/core"
	u "github.com/actionforge/flowrun/utils"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	flagValidateEditing bool
	flagValidateJson    bool
)

var cmdValidate = &cobra.Command{
	Use:   "validate [workflow-file]",
	Short: "Validate a workflow file.",
	Long: `Validates node types, data, connections, cycles and required inputs of a workflow without executing it.
Use --editing to skip the required input check for workflows that are still being wired up.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		workflowFile, _ := u.ResolveCliParam("workflow_file", u.ResolveCliParamOpts{
			Flag:      false, // only provided via env or positional arg
			Env:       true,
			Optional:  true,
			ActPrefix: true,
		})
		if len(args) > 0 {
			workflowFile = args[0]
		}

		err := validateWorkflow(workflowFile, flagValidateEditing)
		if err != nil {
			os.Exit(1)
		}
	},
}

func validateWorkflow(filePath string, editing bool) error {
	if !flagValidateJson {
		fmt.Printf("Validating '%s'...\n", filePath)
	}

	g, err := loadWorkflow(filePath)
	if err != nil {
		core.PrintError(filePath, err)
		return err
	}

	result := g.Validate(core.ValidateOpts{SkipRequired: editing})

	if flagValidateJson {
		b, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return result.Err()
	}

	if !result.Valid {
		printValidationResult(result)
		return fmt.Errorf("validation failed")
	}

	fmt.Println("\n✅ Workflow is valid.")
	return nil
}

func printValidationResult(result core.ValidationResult) {
	fmt.Printf("\n❌ Validation failed with %d error(s):\n\n", len(result.Errors))

	for i, e := range result.Errors {
		location := e.NodeId
		if e.EdgeId != "" {
			location = e.EdgeId
		}
		if e.PortId != "" {
			location += "." + string(e.PortId)
		}
		fmt.Printf("%d. %s %s\n   %s\n", i+1, color.RedString(string(e.Code)), color.New(color.Bold).Sprint(location), e.Message)
	}
}

func init() {
	cmdValidate.Flags().BoolVar(&flagValidateEditing, "editing", false, "Skip the required input check")
	cmdValidate.Flags().BoolVar(&flagValidateJson, "json", false, "Print the validation result as json")
	cmdRoot.AddCommand(cmdValidate)
}

package cmd

import (
	"fmt"

	"github.com/actionforge/flowrun/build"

	"github.com/spf13/cobra"
)

var cmdVersion = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of flowrun",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flowrun version %s\n", build.GetFullVersionInfo())
	},
}

func init() {
	cmdRoot.AddCommand(cmdVersion)
}

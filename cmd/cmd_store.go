package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/actionforge/flowrun/core"
	"github.com/actionforge/flowrun/store"
	"github.com/actionforge/flowrun/utils"

	"github.com/spf13/cobra"
)

var (
	flagStoreUri      string
	flagStoreWorkflow string
	flagHistoryShow   int
	flagHistoryFormat string
)

var cmdSave = &cobra.Command{
	Use:   "save <workflow-file>",
	Short: "Save a workflow as a new version in a store.",
	Long: `Stores the workflow as the next version of --workflow. Versions are immutable,
saving unchanged content does not create a new version.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		err := saveWorkflow(context.Background(), args[0])
		if err != nil {
			core.PrintError(args[0], err)
			os.Exit(1)
		}
	},
}

var cmdHistory = &cobra.Command{
	Use:   "history",
	Short: "List the versions and runs of a stored workflow.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		err := showHistory(context.Background())
		if err != nil {
			core.PrintError("", err)
			os.Exit(1)
		}
	},
}

func saveWorkflow(ctx context.Context, path string) error {
	g, err := loadWorkflow(path)
	if err != nil {
		return err
	}

	st, workflowId, err := openStore(ctx, flagStoreUri, flagStoreWorkflow, true)
	if err != nil {
		return err
	}
	defer st.Close()

	snap, created, err := store.SaveIfChanged(ctx, st, workflowId, core.Serialize(g))
	if err != nil {
		return err
	}

	if created {
		utils.LogOut.Infof("saved '%s' as version %d of workflow '%s'\n", path, snap.Version, workflowId)
	} else {
		utils.LogOut.Infof("'%s' is unchanged, latest version of workflow '%s' is %d\n", path, workflowId, snap.Version)
	}
	return nil
}

func showHistory(ctx context.Context) error {
	st, workflowId, err := openStore(ctx, flagStoreUri, flagStoreWorkflow, true)
	if err != nil {
		return err
	}
	defer st.Close()

	if flagHistoryShow > 0 {
		if err := checkFormat(flagHistoryFormat); err != nil {
			return err
		}
		snap, err := st.GetVersion(ctx, workflowId, flagHistoryShow)
		if err != nil {
			return err
		}
		b, err := encodeDocument(snap.Document, flagHistoryFormat)
		if err != nil {
			return err
		}
		return writeOutput("", b)
	}

	versions, err := st.ListVersions(ctx, workflowId)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		return core.CreateErr(store.ErrNotFound, "workflow '%s' has no versions", workflowId)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tCREATED\tDIGEST\tNODES\tEDGES")
	for _, v := range versions {
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\n", v.Version, v.CreatedAt.Local().Format(time.DateTime), v.Digest[:12], len(v.Document.Nodes), len(v.Document.Edges))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	runStore, ok := st.(store.RunStore)
	if !ok {
		return nil
	}

	runs, err := runStore.ListRuns(ctx, workflowId)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		return nil
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tVERSION\tSCOPE\tSTATUS\tSTARTED\tDURATION")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\n", r.Run.Id, r.Version, r.Run.Scope, r.Run.Status,
			r.Run.StartedAt.Local().Format(time.DateTime), r.Run.Duration.Round(time.Millisecond))
	}
	return w.Flush()
}

func addStoreFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&flagStoreUri, "store", "", "Store uri (memory:, sqlite:<path>, mongodb://, s3://)")
	cmd.Flags().StringVar(&flagStoreWorkflow, "workflow", "", "Workflow id inside the store")
}

func init() {
	addStoreFlags(cmdSave)
	addStoreFlags(cmdHistory)
	cmdHistory.Flags().IntVar(&flagHistoryShow, "show", 0, "Print the document of this version instead of the list")
	cmdHistory.Flags().StringVar(&flagHistoryFormat, "format", formatJson, "Format of a printed version: json, yaml or toml")

	cmdRoot.AddCommand(cmdSave)
	cmdRoot.AddCommand(cmdHistory)
}

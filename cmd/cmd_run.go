package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/actionforge/flowrun/core"
	"github.com/actionforge/flowrun/metrics"
	"github.com/actionforge/flowrun/nodes"
	"github.com/actionforge/flowrun/sessions"
	"github.com/actionforge/flowrun/store"
	"github.com/actionforge/flowrun/utils"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	flagRunNodes       []string
	flagRunStore       string
	flagRunWorkflow    string
	flagSessionUrl     string
	flagMetricsFile    string
	flagLlmApiKey      string
	flagNodeTimeout    string
	flagRunOutputJson  bool
	flagRunSkipHistory bool
)

var errRunFailed = errors.New("run failed")

var cmdRun = &cobra.Command{
	Use:   "run [workflow-file]",
	Short: "Run a workflow.",
	Long: `Validates a workflow including its required inputs and executes its nodes in dependency order.
With --node only the given nodes run, inputs from nodes outside of that set are taken from the
latest recorded run of the workflow if a store is configured.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		workflowFile, _ := utils.ResolveCliParam("workflow_file", utils.ResolveCliParamOpts{
			Env:       true,
			Optional:  true,
			ActPrefix: true,
		})
		if len(args) > 0 {
			workflowFile = args[0]
		}

		err := runWorkflowFile(workflowFile)
		if err != nil {
			if !errors.Is(err, errRunFailed) {
				core.PrintError(workflowFile, err)
			}
			os.Exit(1)
		}
	},
}

func runWorkflowFile(workflowFile string) error {
	if workflowFile == "" {
		return core.CreateErr(nil, "no workflow file given").SetHint("Pass the workflow file as argument or set ACT_WORKFLOW_FILE.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, err := loadWorkflow(workflowFile)
	if err != nil {
		return err
	}

	var collector *metrics.Collector
	metricsFile := resolveParam("metrics_textfile", flagMetricsFile, "metrics.textfile")
	if metricsFile != "" {
		collector = metrics.NewCollector("")
		defer func() {
			err := collector.WriteTextfile(expandPath(metricsFile))
			if err != nil {
				core.PrintError("", err)
			}
		}()
	}

	result := g.Validate(core.ValidateOpts{})
	if collector != nil {
		collector.ObserveValidation(result)
	}
	if !result.Valid {
		printValidationResult(result)
		return core.CreateErr(result.Err(), "workflow '%s' is invalid", workflowFile)
	}

	st, workflowId, err := openStore(ctx, flagRunStore, flagRunWorkflow, false)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	executorOpts := nodes.ExecutorOpts{
		LlmApiKey: resolveParam("llm_api_key", flagLlmApiKey, "executor.llm_api_key"),
	}
	if timeout := resolveParam("node_timeout", flagNodeTimeout, "executor.node_timeout"); timeout != "" {
		executorOpts.NodeTimeout, err = time.ParseDuration(timeout)
		if err != nil {
			return core.CreateErr(err, "invalid node timeout '%s'", timeout).SetHint("Use a duration like 30s or 2m.")
		}
	}

	observers := core.Observers{core.LogObserver{}}
	if collector != nil {
		observers = append(observers, collector)
	}

	if sessionUrl := resolveParam("session_url", flagSessionUrl, "session.url"); sessionUrl != "" {
		reporter, err := sessions.Dial(ctx, sessionUrl, sessions.ReporterOpts{WorkflowId: workflowId})
		if err != nil {
			return err
		}
		defer reporter.Close()
		reporter.OnStop(cancel)
		observers = append(observers, reporter)
		utils.LogOut.Info("Connected to session, streaming run events\n")
	}

	runOpts := core.RunOpts{
		Subset: flagRunNodes,
	}
	if len(runOpts.Subset) > 0 && st != nil {
		runOpts.UpstreamOutputs, err = previousOutputs(ctx, st, workflowId)
		if err != nil {
			return err
		}
	}

	scheduler := core.NewScheduler(nodes.NewExecutor(executorOpts), core.SchedulerOpts{
		Observer:    observers,
		MaxParallel: finalMaxParallel,
	})

	state, err := scheduler.Run(ctx, g, runOpts)
	if err != nil {
		return err
	}

	if flagRunOutputJson {
		b, err := json.MarshalIndent(state, "", "  ")
		if err != nil {
			return core.CreateErr(err, "unable to encode run result")
		}
		fmt.Println(string(b))
	} else {
		printRunState(state)
	}

	if st != nil && !flagRunSkipHistory {
		err := recordRun(ctx, st, workflowId, g, state)
		if err != nil {
			return err
		}
	}

	if state.Status != core.RunStatusSuccess {
		if failure, ok := state.Failure(); ok && failure.Err != nil {
			core.PrintError(workflowFile, failure.Err)
		} else if state.Error != "" {
			utils.LogErr.Errorf("run %s: %s\n", state.Status, state.Error)
		}
		return errRunFailed
	}
	return nil
}

// previousOutputs merges the outputs of all recorded runs, newer runs win.
func previousOutputs(ctx context.Context, st store.Store, workflowId string) (map[string]any, error) {
	runStore, ok := st.(store.RunStore)
	if !ok {
		utils.LogOut.Debugf("store does not record runs, no upstream outputs available\n")
		return nil, nil
	}

	runs, err := runStore.ListRuns(ctx, workflowId)
	if err != nil {
		return nil, err
	}

	outputs := map[string]any{}
	for i := len(runs) - 1; i >= 0; i-- {
		for id, output := range runs[i].Run.Outputs() {
			outputs[id] = output
		}
	}
	utils.LogOut.Debugf("reusing outputs of %d node(s) from %d earlier run(s)\n", len(outputs), len(runs))
	return outputs, nil
}

func recordRun(ctx context.Context, st store.Store, workflowId string, g *core.WorkflowGraph, state *core.RunState) error {
	snap, created, err := store.SaveIfChanged(ctx, st, workflowId, core.Serialize(g))
	if err != nil {
		return err
	}
	if created {
		utils.LogOut.Infof("saved workflow '%s' as version %d\n", workflowId, snap.Version)
	}

	runStore, ok := st.(store.RunStore)
	if !ok {
		return nil
	}
	return runStore.SaveRun(ctx, workflowId, snap.Version, state)
}

func printRunState(state *core.RunState) {
	for _, r := range state.Results {
		duration := r.Duration.Round(time.Millisecond)
		switch r.Status {
		case core.NodeStatusSuccess:
			utils.LogOut.Infof("%s %s (%s) %s\n", color.GreenString("✓"), r.NodeId, r.Kind, duration)
			if r.Output != nil {
				utils.LogOut.Infof("    %s\n", summarizeOutput(r.Output))
			}
		default:
			utils.LogOut.Infof("%s %s (%s) %s\n", color.RedString("✗"), r.NodeId, r.Kind, duration)
		}
	}

	status := color.GreenString(string(state.Status))
	if state.Status != core.RunStatusSuccess {
		status = color.RedString(string(state.Status))
	}
	utils.LogOut.Infof("\n%s: %d of %d node(s) finished in %s\n", status, len(state.Results), len(state.NodeStatus), state.Duration.Round(time.Millisecond))
}

const maxOutputLength = 200

func summarizeOutput(output any) string {
	var s string
	switch v := output.(type) {
	case string:
		s = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			s = fmt.Sprintf("%v", v)
		} else {
			s = string(b)
		}
	}

	runes := []rune(s)
	if len(runes) > maxOutputLength {
		return string(runes[:maxOutputLength]) + "…"
	}
	return s
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&flagRunNodes, "node", nil, "Run only these node ids, can be repeated")
	cmd.Flags().StringVar(&flagRunStore, "store", "", "Store uri to record versions and runs in (memory:, sqlite:<path>, mongodb://, s3://)")
	cmd.Flags().StringVar(&flagRunWorkflow, "workflow", "", "Workflow id inside the store")
	cmd.Flags().StringVar(&flagSessionUrl, "session_url", "", "Websocket url of a browser session to stream run events to")
	cmd.Flags().StringVar(&flagMetricsFile, "metrics_textfile", "", "Write prometheus metrics of the run to this file")
	cmd.Flags().StringVar(&flagLlmApiKey, "llm_api_key", "", "API key for the provider of llm nodes, without one llm nodes echo their input")
	cmd.Flags().StringVar(&flagNodeTimeout, "node_timeout", "", "Maximum duration of a single node, e.g. 30s")
	cmd.Flags().BoolVar(&flagRunOutputJson, "json", false, "Print the run result as json")
	cmd.Flags().BoolVar(&flagRunSkipHistory, "no_history", false, "Do not record the run in the store")
}

func init() {
	addRunFlags(cmdRun)
	cmdRoot.AddCommand(cmdRun)
}

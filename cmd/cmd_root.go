package cmd

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/actionforge/flowrun/build"
	"github.com/actionforge/flowrun/core"
	"github.com/actionforge/flowrun/utils"
	u "github.com/actionforge/flowrun/utils"

	"github.com/fatih/color"
	"github.com/inconshreveable/mousetrap"
	"github.com/spf13/cobra"
)

var (
	flagConfigFile  string
	flagConcurrency string
	flagMaxParallel string
	flagEnvFile     string

	finalConfig      *utils.Config
	finalMaxParallel int
)

var cmdRoot = &cobra.Command{
	Use:     "flowrun [workflow-file] [flags]",
	Short:   "flowrun validates, runs and versions node based workflows.",
	Version: build.GetFullVersionInfo(),
	Args:    cobra.MaximumNArgs(1),
	Run:     cmdRootRun,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if flagEnvFile != "" {
			err := utils.LoadEnvFile(flagEnvFile)
			if err != nil {
				return err
			}
			utils.LogOut.Debugf("loaded .env file from %s\n", flagEnvFile)
		}

		// env_file has already been processed, resolving it here only logs where it came from
		_, _ = u.ResolveCliParam("env_file", u.ResolveCliParamOpts{
			Flag:      true,
			FlagValue: flagEnvFile,
			Optional:  true,
		})

		configFile, _ := u.ResolveCliParam("config_file", u.ResolveCliParamOpts{
			Flag:      true,
			FlagValue: flagConfigFile,
			Env:       true,
			Optional:  true,
			ActPrefix: true,
		})

		config, err := utils.LoadConfig(configFile)
		if err != nil {
			return core.CreateErr(err, "error loading config")
		}
		config.ApplyEnv()
		finalConfig = config

		concurrency, _ := u.ResolveCliParam("concurrency", u.ResolveCliParamOpts{
			Flag:      true,
			FlagValue: flagConcurrency,
			Env:       true,
			Optional:  true,
			ActPrefix: true,
			Config:    finalConfig,
			ConfigKey: "executor.concurrency",
		})
		utils.SetConcurrencyEnabled(concurrency == "" || utils.IsTruthy(concurrency))

		maxParallel, _ := u.ResolveCliParam("max_parallel", u.ResolveCliParamOpts{
			Flag:      true,
			FlagValue: flagMaxParallel,
			Env:       true,
			Optional:  true,
			ActPrefix: true,
			Config:    finalConfig,
			ConfigKey: "executor.max_parallel",
		})

		finalMaxParallel = 0
		if utils.ConcurrencyIsEnabled() {
			finalMaxParallel = runtime.NumCPU()
			if maxParallel != "" {
				n, err := strconv.Atoi(maxParallel)
				if err != nil || n < 0 {
					return core.CreateErr(err, "invalid value for max_parallel: '%s'", maxParallel).
						SetHint("Use a positive number, 0 or 1 run nodes one after another.")
				}
				finalMaxParallel = n
			}
		}
		return nil
	},
}

func cmdRootRun(cmd *cobra.Command, args []string) {
	workflowFile, _ := u.ResolveCliParam("workflow_file", u.ResolveCliParamOpts{
		Env:       true,
		Optional:  true,
		ActPrefix: true,
	})
	if len(args) > 0 {
		workflowFile = args[0]
	}

	if workflowFile == "" {
		_ = cmd.Help()

		// keep the window open if someone double clicked the binary
		if mousetrap.StartedByExplorer() {
			fmt.Print("\nPress Enter to exit...")
			_, _ = bufio.NewReader(os.Stdin).ReadBytes('\n')
		}
		return
	}

	cmdRun.Run(cmd, []string{workflowFile})
}

func Execute() {
	defer core.RecoverHandler(true)

	if err := cmdRoot.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flag.Usage = func() {
		fmt.Print("\n")
		fmt.Fprintf(os.Stderr, "Usage: %s", os.Args[0])
		flag.VisitAll(func(f *flag.Flag) {
			defValue := f.DefValue
			if defValue == "" {
				defValue = "'...'"
			}
			fmt.Fprintf(os.Stderr, " -%s=%s", f.Name, defValue)
		})
		fmt.Print("\n\n")
	}

	cmdRoot.PersistentFlags().StringVar(&flagEnvFile, "env_file", "", "Absolute path to an env file (.env) to load before execution")
	cmdRoot.PersistentFlags().StringVar(&flagConfigFile, "config_file", "", "The config file to use")
	cmdRoot.PersistentFlags().StringVar(&flagConcurrency, "concurrency", "", "Enable or disable concurrent node execution")
	cmdRoot.PersistentFlags().StringVar(&flagMaxParallel, "max_parallel", "", "Maximum number of nodes executing at once (default: number of CPUs)")

	addRunFlags(cmdRoot)

	if os.Getenv("ACT_NOCOLOR") == "true" {
		color.NoColor = true
	}
}

func init() {
	cobra.MousetrapHelpText = ""
}

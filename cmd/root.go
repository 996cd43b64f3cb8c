package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	logLevel         string // Log verbosity level
	presetName       string // Preset from defaults.yaml
	defaultsFilePath string // Path to defaults.yaml
	policyConfigPath string // Policy bundle YAML
	policyName       string // Forced policy; empty keeps the meta-scheduler
	traceLevel       string // Decision trace level
	traceCapacity    int    // Decision trace ring size
	traceDBPath      string // SQLite file for persisted decisions
	scenarioPath     string // Scenario YAML for `run`
	snapshotPath     string // Snapshot YAML for `explain`
	listenAddr       string // Listen address for `serve`
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "signal-sim",
	Short: "Adaptive traffic signal scheduler with emergency preemption",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)
	},
}

// runCmd simulates a scenario against the scheduler
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a traffic scenario through the scheduler",
	Run: func(cmd *cobra.Command, args []string) {
		if scenarioPath == "" {
			logrus.Fatalf("--scenario is required")
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := runScenario(ctx, cmd.OutOrStdout(), scenarioPath, currentFlags(cmd)); err != nil {
			logrus.Fatalf("run failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// explainCmd prints the decision for one snapshot
var explainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Explain which policy would serve a snapshot and why",
	Run: func(cmd *cobra.Command, args []string) {
		if snapshotPath == "" {
			logrus.Fatalf("--snapshot is required")
		}
		if err := explainSnapshot(cmd.OutOrStdout(), snapshotPath, currentFlags(cmd)); err != nil {
			logrus.Fatalf("explain failed: %v", err)
		}
	},
}

// serveCmd exposes the scheduler over HTTP
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scheduler over HTTP",
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := serve(ctx, listenAddr, currentFlags(cmd)); err != nil {
			logrus.Fatalf("serve failed: %v", err)
		}
	},
}

// defaultsCmd prints the resolved policy parameters
var defaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Print the resolved policy parameters as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		if err := printDefaults(cmd.OutOrStdout(), currentFlags(cmd)); err != nil {
			logrus.Fatalf("defaults failed: %v", err)
		}
	},
}

func currentFlags(cmd *cobra.Command) schedulerFlags {
	return schedulerFlags{
		Preset:       presetName,
		DefaultsPath: defaultsFilePath,
		PolicyConfig: policyConfigPath,
		Policy:       policyName,
		PolicySet:    cmd.Flags().Changed("policy"),
		TraceLevel:   traceLevel,
		TraceCap:     traceCapacity,
		TraceDB:      traceDBPath,
	}
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&presetName, "preset", "", "Policy preset from the defaults file")
	rootCmd.PersistentFlags().StringVar(&defaultsFilePath, "defaults-file", "defaults.yaml", "Path to the presets file")
	rootCmd.PersistentFlags().StringVar(&policyConfigPath, "policy-config", "", "Policy bundle YAML (policy, params, trace)")
	rootCmd.PersistentFlags().StringVar(&policyName, "policy", "", "Force one policy (round-robin, sjf, priority); empty uses the meta-scheduler")
	rootCmd.PersistentFlags().StringVar(&traceLevel, "trace-level", "decisions", "Decision trace level (none, decisions)")
	rootCmd.PersistentFlags().IntVar(&traceCapacity, "trace-capacity", 0, "Decision trace ring size (0 = default)")

	runCmd.Flags().StringVar(&scenarioPath, "scenario", "", "Scenario YAML")
	runCmd.Flags().StringVar(&traceDBPath, "trace-db", "", "SQLite file to persist tick records")
	explainCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Snapshot YAML or JSON")
	serveCmd.Flags().StringVar(&listenAddr, "addr", ":8080", "Listen address")
	serveCmd.Flags().StringVar(&traceDBPath, "trace-db", "", "SQLite file to persist tick records")

	rootCmd.AddCommand(runCmd, explainCmd, serveCmd, defaultsCmd)
}

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	sim "github.com/nandsim/nandsim/sim"
	"github.com/nandsim/nandsim/sim/check"
	"github.com/nandsim/nandsim/sim/trace"
)

var (
	// CLI flags for the run command
	configPath  string  // Path to the YAML configuration (empty for the built-in default)
	seed        int64   // Seed override
	horizon     float64 // Horizon override (in time units)
	logLevel    string  // Log verbosity level
	outputPath  string  // Where to write operation records (empty to skip)
	format      string  // Record output format: jsonl or yaml
	metricsOut  string  // Prometheus text file path (empty to skip)
	validate    bool    // Run the timeline checker after the simulation
	showSummary bool    // Print the trace summary

	// CLI flags for the check command
	recordsPath string // Operation records to validate
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "nandsim",
	Short: "Discrete-event scheduler for multi-die NAND flash operations",
}

// runCmd executes one simulation run
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the NAND operation scheduler",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := loadConfig(configPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		applyOverrides(cfg, cmd, seed, horizon)
		params, err := cfg.Compile()
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		logrus.Infof("Starting simulation: seed=%d, horizon=%d ticks, %d die(s) x %d plane(s)",
			params.Seed, params.Horizon, params.Topology.Dies, params.Topology.Planes)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s := sim.NewScheduler(params)
		if err := s.Run(ctx); err != nil {
			logrus.Fatalf("Simulation failed: %v", err)
		}
		records := s.Records()

		if outputPath != "" {
			if err := writeRecordsFile(outputPath, format, records); err != nil {
				logrus.Fatalf("%v", err)
			}
			logrus.Infof("Wrote %d records to %s", len(records), outputPath)
		}
		if metricsOut != "" {
			if err := s.Metrics.WriteTextfile(metricsOut); err != nil {
				logrus.Fatalf("%v", err)
			}
		}

		s.Metrics.Print(s.Obligations.Stats(), len(records), s.Clock, params.Clock)
		if showSummary {
			printSummary(trace.Summarize(records, s.Trace))
		}

		if validate {
			if vs := check.Validate(records, params.CheckOptions()); len(vs) > 0 {
				for _, v := range vs {
					logrus.Errorf("%s", v)
				}
				logrus.Fatalf("Timeline check failed with %d violation(s)", len(vs))
			}
			logrus.Infof("Timeline check passed for %d records", len(records))
		}
	},
}

// checkCmd validates a previously written record file
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate a JSONL record file against a configuration",
	Run: func(cmd *cobra.Command, args []string) {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logrus.Fatalf("Invalid log level: %s", logLevel)
		}
		logrus.SetLevel(level)

		cfg, err := loadConfig(configPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		params, err := cfg.Compile()
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		records, err := readRecordsFile(recordsPath)
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		vs := check.Validate(records, params.CheckOptions())
		for _, v := range vs {
			fmt.Println(v)
		}
		if len(vs) > 0 {
			logrus.Fatalf("%d violation(s) in %d records", len(vs), len(records))
		}
		fmt.Printf("OK: %d records, no violations\n", len(records))
	},
}

// loadConfig reads path, or returns the built-in default when path is empty.
func loadConfig(path string) (*sim.Config, error) {
	if path == "" {
		return sim.DefaultConfig(), nil
	}
	return sim.LoadConfig(path)
}

// applyOverrides copies explicitly set CLI flags over the file values.
func applyOverrides(cfg *sim.Config, cmd *cobra.Command, seed int64, horizon float64) {
	if cmd.Flags().Changed("seed") {
		cfg.Seed = seed
	}
	if cmd.Flags().Changed("horizon") {
		cfg.Horizon = horizon
	}
}

func printSummary(sum *trace.TraceSummary) {
	fmt.Println("=== Trace Summary ===")
	fmt.Printf("Operations           : %d (%d multi-plane, %d from obligations)\n",
		sum.TotalOps, sum.MultiPlaneOps, sum.ObligationOps)
	for _, tok := range sortedTokens(sum.OpsByToken) {
		fmt.Printf("  %-18s : %d\n", tok, sum.OpsByToken[tok])
	}
	fmt.Printf("Latency mean/p50/p99 : %.2f / %.2f / %.2f ticks\n", sum.MeanLatency, sum.P50Latency, sum.P99Latency)
	fmt.Printf("Follow-ups           : %d (mean gap %.2f, max %.0f ticks)\n", sum.FollowUps, sum.MeanFollowUpGap, sum.MaxFollowUpGap)
	fmt.Printf("Rejections           : %d\n", sum.TotalRejections)
	for _, stage := range sortedTokens(sum.RejectionsByStage) {
		fmt.Printf("  %-18s : %d\n", stage, sum.RejectionsByStage[stage])
	}
	fmt.Printf("Defers / expiries    : %d / %d (%d obligations)\n", sum.TotalDefers, sum.TotalExpiries, sum.ExpiredObligations)
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	for _, c := range []*cobra.Command{runCmd, checkCmd} {
		c.Flags().StringVar(&configPath, "config", "", "Path to the YAML configuration (default: built-in reference config)")
		c.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")
	}

	runCmd.Flags().Int64Var(&seed, "seed", 42, "Seed override for the run")
	runCmd.Flags().Float64Var(&horizon, "horizon", 0, "Simulated time horizon override (in time units)")
	runCmd.Flags().StringVar(&outputPath, "output", "", "File to write operation records to")
	runCmd.Flags().StringVar(&format, "format", formatJSONL, "Record output format (jsonl, yaml)")
	runCmd.Flags().StringVar(&metricsOut, "metrics-out", "", "File to write Prometheus text-format metrics to")
	runCmd.Flags().BoolVar(&validate, "validate", false, "Check the produced timeline and fail on violations")
	runCmd.Flags().BoolVar(&showSummary, "summary", false, "Print the trace summary")

	checkCmd.Flags().StringVar(&recordsPath, "records", "", "JSONL record file to validate")
	_ = checkCmd.MarkFlagRequired("records")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
}

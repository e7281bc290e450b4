// Package main provides the formflow CLI entrypoint:
//
//	formflow validate <flow.yaml>
//	formflow run <flow.yaml>
//	formflow schema
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ItsDalk-Lane/formflow/pkg/engine"
	"github.com/ItsDalk-Lane/formflow/pkg/schema"
	"github.com/ItsDalk-Lane/formflow/pkg/steps"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "formflow",
	Short: "Workflow execution engine — flow/v1",
}

// --- validate ---

var validateCmd = &cobra.Command{
	Use:   "validate [flow.yaml]",
	Short: "Validate a flow/v1 YAML (3-phase pipeline)",
	Args:  cobra.ExactArgs(1),
	RunE:  runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	fl, errs := schema.ValidateFile(args[0])
	var hard []*schema.ValidationError
	for _, e := range errs {
		if e.Severity == "warning" {
			fmt.Fprintf(os.Stderr, "  ⚠ [%s] %s\n", e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "    at: %s\n", e.Path)
			}
			continue
		}
		hard = append(hard, e)
	}
	if len(hard) > 0 {
		fmt.Fprintf(os.Stderr, "Validation failed: %d error(s)\n\n", len(hard))
		for i, e := range hard {
			fmt.Fprintf(os.Stderr, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(os.Stderr, "     at: %s\n", e.Path)
			}
		}
		return fmt.Errorf("validation failed with %d error(s)", len(hard))
	}
	fmt.Printf("✓ %s is valid (%d steps)\n", fl.Name, len(fl.Steps))
	return nil
}

// --- run ---

var (
	runVars       []string
	runTrace      string
	runBackground string
	runVerbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run [flow.yaml]",
	Short: "Execute a flow/v1 workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	fl, errs := schema.ValidateFile(args[0])
	for _, e := range errs {
		if e.Severity != "warning" {
			fmt.Fprintf(os.Stderr, "  [%s] %s\n", e.Phase, e.Message)
		}
	}
	for _, e := range errs {
		if e.Severity != "warning" {
			return fmt.Errorf("validation failed")
		}
	}

	vars := make(map[string]any)
	for _, v := range runVars {
		parts := strings.SplitN(v, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid --var %q: expected key=value", v)
		}
		vars[parts[0]] = parts[1]
	}

	level := slog.LevelInfo
	if runVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithVars(vars),
	}
	if runTrace != "" {
		tw, err := engine.NewTraceWriter(runTrace)
		if err != nil {
			return fmt.Errorf("trace: %w", err)
		}
		defer tw.Close()
		opts = append(opts, engine.WithTrace(tw))
	}
	if runBackground != "" {
		opts = append(opts, engine.WithBackground(schema.StepKind(runBackground)))
	}

	eng := engine.New(fl, steps.Builtin(), opts...)
	if err := eng.Run(cmd.Context()); err != nil {
		return err
	}

	if failures := eng.Failures(); failures != nil {
		// Run returned early because a step detached; wait for the tail so
		// a CLI invocation does not abandon it.
		for err := range failures {
			fmt.Fprintf(os.Stderr, "background: %v\n", err)
		}
	}

	s := eng.Summary()
	fmt.Printf("✓ %s: %d passed, %d failed, %d skipped (total: %d)\n",
		fl.Name, s.Passed, s.Failed, s.Skipped, s.Total)
	return nil
}

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Export flow/v1 JSON Schema to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := schema.GenerateJSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version info",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("formflow flow/v1 %s (%s)\n", version, commit)
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Set a variable (key=value), repeatable")
	runCmd.Flags().StringVar(&runTrace, "trace", "", "Write trace to JSONL file")
	runCmd.Flags().StringVar(&runBackground, "background", "", "Step kind that detaches the rest of the chain")
	runCmd.Flags().BoolVar(&runVerbose, "verbose", false, "Debug logging")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(schemaCmd)
	rootCmd.AddCommand(versionCmd)
}

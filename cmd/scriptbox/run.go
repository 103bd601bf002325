package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/isdmx/scriptbox/config"
	"github.com/isdmx/scriptbox/logger"
	"github.com/isdmx/scriptbox/sandbox"
)

var (
	runTimeoutSec int
	runModules    []string
	runPolicyFile string
)

var runCmd = &cobra.Command{
	Use:   "run FILE",
	Short: "Execute a single snippet locally and print the result as JSON",
	Long: `Run executes one JavaScript snippet from FILE (or standard input when
FILE is "-") under the same restrictions the server applies, then prints
the result document to standard output.`,
	Args: cobra.ExactArgs(1),
	RunE: runSnippetFile,
}

func init() {
	runCmd.Flags().IntVar(&runTimeoutSec, "timeout", 0, "execution deadline in seconds (0 uses the configured default)")
	runCmd.Flags().StringSliceVar(&runModules, "modules", nil, "modules the snippet may import (replaces the configured allow-list)")
	runCmd.Flags().StringVar(&runPolicyFile, "policy", "", "YAML policy document overriding the configured defaults")
}

// policyDocument is the YAML shape accepted by --policy. Only fields
// present in the document override the configured defaults.
type policyDocument struct {
	AllowedModules []string `yaml:"allowed_modules"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxStackDepth  int      `yaml:"max_stack_depth"`
	MaxOutputKB    int      `yaml:"max_output_kb"`
}

func runSnippetFile(_ *cobra.Command, args []string) error {
	source, err := readSource(args[0])
	if err != nil {
		return err
	}

	cfg, err := config.New()
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	sandboxCfg := sandbox.Config{
		TimeoutSec:     cfg.Sandbox.TimeoutSec,
		AllowedModules: cfg.Sandbox.AllowedModules,
		MaxStackDepth:  cfg.Sandbox.MaxStackDepth,
		MaxOutputKB:    cfg.Sandbox.MaxOutputKB,
	}
	if runPolicyFile != "" {
		if err := applyPolicyFile(runPolicyFile, &sandboxCfg); err != nil {
			return err
		}
	}
	if runTimeoutSec > 0 {
		sandboxCfg.TimeoutSec = runTimeoutSec
	}
	if runModules != nil {
		sandboxCfg.AllowedModules = runModules
	}

	executor, err := sandbox.NewExecutor(log, &sandboxCfg)
	if err != nil {
		return err
	}

	result, err := executor.Execute(context.Background(), sandbox.ExecuteRequest{Code: source})
	if err != nil {
		return err
	}

	return printResult(os.Stdout, result)
}

func readSource(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("reading standard input: %w", err)
		}
		return string(data), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func applyPolicyFile(path string, cfg *sandbox.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading policy file: %w", err)
	}

	var doc policyDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parsing policy file: %w", err)
	}

	if doc.AllowedModules != nil {
		cfg.AllowedModules = doc.AllowedModules
	}
	if doc.TimeoutSeconds > 0 {
		cfg.TimeoutSec = doc.TimeoutSeconds
	}
	if doc.MaxStackDepth > 0 {
		cfg.MaxStackDepth = doc.MaxStackDepth
	}
	if doc.MaxOutputKB > 0 {
		cfg.MaxOutputKB = doc.MaxOutputKB
	}
	return nil
}

// runResult is the document printed by the run command. It extends the
// server payload with the terminal status so shell callers can branch on
// rejection versus runtime failure.
type runResult struct {
	Success       bool    `json:"success"`
	Status        string  `json:"status"`
	Output        string  `json:"output"`
	Error         *string `json:"error"`
	ResultValue   any     `json:"result_value"`
	ExecutionTime float64 `json:"execution_time"`
}

func printResult(w io.Writer, result sandbox.ExecuteResult) error {
	payload := runResult{
		Success:       result.Success,
		Status:        string(result.Status),
		Output:        result.Output,
		ResultValue:   result.Value,
		ExecutionTime: result.Duration.Seconds(),
	}
	if result.Error != "" {
		payload.Error = &result.Error
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		payload.ResultValue = fmt.Sprintf("%v", result.Value)
		data, err = json.MarshalIndent(payload, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding result: %w", err)
		}
	}

	_, err = fmt.Fprintln(w, string(data))
	return err
}

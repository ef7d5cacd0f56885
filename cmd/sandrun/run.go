package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/sandrun/internal/config"
	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/executor"
)

// exitError carries a process exit status without printing "fatal".
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

// requestFlags are shared by run and call.
type requestFlags struct {
	name     string
	params   string
	body     string
	bodyFile string
	args     string
	argsFile string
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "function name (default from config)")
	cmd.Flags().StringVarP(&f.params, "params", "p", "", "comma-separated parameter names")
	cmd.Flags().StringVarP(&f.body, "body", "b", "", "function body source")
	cmd.Flags().StringVar(&f.bodyFile, "body-file", "", "read the body from a file (- for stdin)")
	cmd.Flags().StringVarP(&f.args, "args", "a", "", "comma-separated JSON argument literals")
	cmd.Flags().StringVar(&f.argsFile, "args-file", "", "read the arguments from a file (- for stdin)")
}

// request builds the executor request, reading files where given.
func (f *requestFlags) request(stdin io.Reader) (executor.Request, error) {
	body, err := flagOrFile(f.body, f.bodyFile, stdin)
	if err != nil {
		return executor.Request{}, fmt.Errorf("reading body: %w", err)
	}
	args, err := flagOrFile(f.args, f.argsFile, stdin)
	if err != nil {
		return executor.Request{}, fmt.Errorf("reading arguments: %w", err)
	}
	if body == "" {
		return executor.Request{}, fmt.Errorf("a body is required (--body or --body-file)")
	}
	return executor.Request{
		FunctionName:   f.name,
		ParameterNames: f.params,
		BodySource:     body,
		ArgumentsText:  args,
	}, nil
}

func flagOrFile(value, path string, stdin io.Reader) (string, error) {
	switch path {
	case "":
		return value, nil
	case "-":
		b, err := io.ReadAll(stdin)
		return string(b), err
	default:
		b, err := os.ReadFile(path)
		return string(b), err
	}
}

var (
	runConfigPath string
	runPreview    bool
	runFlags      requestFlags
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a function once, locally, and print its outcome",
	Example: `  sandrun run -p "a, b" -b "return a + b;" -a "1, 2"
  sandrun run --body-file fn.js --args '[1,2], {"k": true}'`,
	RunE: runRun,
}

func init() {
	runFlags.register(runCmd)
	runCmd.Flags().StringVar(&runConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	runCmd.Flags().BoolVar(&runPreview, "preview", false, "print the assembled unit instead of running it")
}

func runRun(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(runConfigPath)
	if err != nil {
		return err
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "warn"
	}
	logger := newLogger(cfg.Log)

	req, err := runFlags.request(cmd.InOrStdin())
	if err != nil {
		return err
	}

	sc, err := initShared(cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	if runPreview {
		unit, err := sc.Executor.Preview(req)
		if err != nil {
			return printOutcome(cmd.OutOrStdout(), domain.FailureFrom(err))
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), unit)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return printOutcome(cmd.OutOrStdout(), sc.Executor.Execute(ctx, req))
}

// printOutcome writes the outcome as indented JSON and maps failure to exit 1.
func printOutcome(w io.Writer, out domain.Outcome) error {
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	if _, err := fmt.Fprintln(w, string(b)); err != nil {
		return err
	}
	if !out.OK() {
		return exitError(1)
	}
	return nil
}

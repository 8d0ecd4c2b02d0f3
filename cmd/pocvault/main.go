// pocvault is a catalog and execution engine for vulnerability verification
// checks: save them, search them, run them against targets, and generate new
// ones through a staged LLM pipeline.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"

	"github.com/basket/pocvault/internal/config"
	"github.com/basket/pocvault/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s <command> [options]

CATALOG:
  save [options]              Catalog a check from a content file or manual procedure
  get <id>                    Show one check
  content <id>                Print a check's stored payload
  search [options]            Search the catalog
  categories                  List categories with counts
  stats                       Catalog statistics
  delete <id>                 Delete a check and its content files

EXECUTION:
  run <id> <target>           Execute a check against a target
  validate <template.yaml>    Validate a scanner template
  import <template.yaml>      Validate and catalog a scanner template

GENERATION PIPELINE:
  pipeline produce <task>     Draft a check for a vulnerability task
  pipeline review <run-id>    Review the draft of a run
  pipeline finalize <run-id>  Revise per review and catalog the result
  pipeline list               List runs and their stage progress

MAINTENANCE:
  sweep                       Cross-check catalog rows against content files
  watch                       Run the config watcher and scheduled sweeps
  config show                 Show the active configuration
  config set-model <provider> <generate-model> [review-model]
  config set-key <value>      Persist the LLM API key

ENVIRONMENT VARIABLES:
  POCVAULT_HOME           Data directory (default: ~/.pocvault)
  POCVAULT_LOG_LEVEL      Log level override
  GOOGLE_API_KEY          API key for the google provider
  ANTHROPIC_API_KEY       API key for the anthropic provider
  OPENAI_API_KEY          API key for the openai provider
  LLM_API_KEY             API key for the openai_compatible provider
  NUCLEI_PATH             Scanner binary override
`, os.Args[0])
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := os.Args[1:]
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	cmd := strings.ToLower(strings.TrimSpace(args[0]))
	if cmd == "help" || cmd == "-h" || cmd == "--help" {
		printUsage()
		os.Exit(0)
	}

	app, err := newApp(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup: %v\n", err)
		os.Exit(1)
	}
	defer app.close()

	var code int
	switch cmd {
	case "save":
		code = app.runSave(ctx, args[1:])
	case "get":
		code = app.runGet(ctx, args[1:])
	case "content":
		code = app.runContent(ctx, args[1:])
	case "search":
		code = app.runSearch(ctx, args[1:])
	case "categories":
		code = app.runCategories(ctx, args[1:])
	case "stats":
		code = app.runStats(ctx, args[1:])
	case "delete":
		code = app.runDelete(ctx, args[1:])
	case "run":
		code = app.runExecute(ctx, args[1:])
	case "validate":
		code = app.runValidate(ctx, args[1:])
	case "import":
		code = app.runImport(ctx, args[1:])
	case "pipeline":
		code = app.runPipeline(ctx, args[1:])
	case "sweep":
		code = app.runSweep(ctx, args[1:])
	case "watch":
		code = app.runWatch(ctx, args[1:])
	case "config":
		code = app.runConfig(ctx, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage()
		code = 2
	}
	os.Exit(code)
}

// app holds the lazily shared process state: config, logger, and the log
// file closer.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	closer interface{ Close() error }
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	// File-only logs when stdout is a terminal, so command output stays clean.
	quiet := isatty.IsTerminal(os.Stdout.Fd())
	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quiet)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded", "fingerprint", cfg.Fingerprint())
	return &app{cfg: cfg, logger: logger, closer: closer}, nil
}

func (a *app) close() {
	if a.closer != nil {
		_ = a.closer.Close()
	}
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return 1
}

func usageError(msg string) int {
	fmt.Fprintf(os.Stderr, "usage: %s\n", msg)
	return 2
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/basket/pocvault/internal/config"
	"github.com/basket/pocvault/internal/integrity"
)

func (a *app) runSweep(ctx context.Context, args []string) int {
	store, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	report, err := integrity.NewSweeper(store, a.logger).Sweep(ctx)
	if err != nil {
		return fail(err)
	}
	code := printJSON(report)
	if code == 0 && !report.Clean() {
		return 1
	}
	return code
}

// runWatch keeps the process resident: scheduled integrity sweeps plus config
// reload notifications, until interrupted.
func (a *app) runWatch(ctx context.Context, args []string) int {
	store, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	if a.cfg.Sweep.Enabled {
		if _, err := integrity.NewSweeper(store, a.logger).Schedule(ctx, a.cfg.Sweep.Schedule); err != nil {
			return fail(err)
		}
		fmt.Printf("integrity sweep scheduled: %s\n", a.cfg.Sweep.Schedule)
	}

	watcher := config.NewWatcher(a.cfg.HomeDir, a.logger)
	if err := watcher.Start(ctx); err != nil {
		return fail(err)
	}
	fmt.Printf("watching %s (ctrl-c to stop)\n", config.ConfigPath(a.cfg.HomeDir))

	for {
		select {
		case <-ctx.Done():
			fmt.Println("stopped")
			return 0
		case ev, ok := <-watcher.Events():
			if !ok {
				return 0
			}
			cfg, err := config.Load()
			if err != nil {
				a.logger.Error("config reload failed", "path", ev.Path, "error", err)
				continue
			}
			a.cfg = cfg
			fmt.Printf("config reloaded: %s\n", cfg.Fingerprint())
		}
	}
}

func (a *app) runConfig(ctx context.Context, args []string) int {
	if len(args) < 1 {
		return usageError("config show|set-model|set-key ...")
	}
	switch args[0] {
	case "show":
		fmt.Printf("home:           %s\n", a.cfg.HomeDir)
		fmt.Printf("library:        %s\n", a.cfg.LibraryDir)
		fmt.Printf("pipeline:       %s\n", a.cfg.PipelineDir)
		fmt.Printf("log level:      %s\n", a.cfg.LogLevel)
		fmt.Printf("provider:       %s\n", a.cfg.LLM.Provider)
		fmt.Printf("generate model: %s\n", a.cfg.LLM.GenerateModel)
		fmt.Printf("review model:   %s\n", a.cfg.LLM.ReviewModel)
		fmt.Printf("api key:        %s\n", a.cfg.APIKeyPreview())
		fmt.Printf("temperature:    %.2f (max tokens %d)\n", a.cfg.LLM.Temperature, a.cfg.LLM.MaxTokens)
		fmt.Printf("nuclei:         %s (timeout %ds)\n", a.cfg.Nuclei.Path, a.cfg.Nuclei.TimeoutSeconds)
		fmt.Printf("script limits:  %ds, %d pages\n", a.cfg.Script.TimeoutSeconds, a.cfg.Script.MemoryLimitPages)
		fmt.Printf("sweep:          enabled=%v schedule=%q\n", a.cfg.Sweep.Enabled, a.cfg.Sweep.Schedule)
		return 0

	case "set-model":
		if len(args) < 3 {
			return usageError("config set-model <provider> <generate-model> [review-model]")
		}
		review := ""
		if len(args) > 3 {
			review = args[3]
		}
		if err := config.SetModel(a.cfg.HomeDir, args[1], args[2], review); err != nil {
			return fail(err)
		}
		fmt.Println("model updated")
		return 0

	case "set-key":
		if len(args) < 2 {
			return usageError("config set-key <value>")
		}
		if err := config.SetAPIKey(a.cfg.HomeDir, args[1]); err != nil {
			return fail(err)
		}
		// Echo only the elided form.
		cfg, err := config.Load()
		if err != nil {
			return fail(err)
		}
		fmt.Printf("api key updated: %s\n", cfg.APIKeyPreview())
		return 0

	default:
		fmt.Fprintf(os.Stderr, "unknown config action %q\n", args[0])
		return 2
	}
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/pocvault/internal/executor"
	"github.com/basket/pocvault/internal/runner/nuclei"
	"github.com/basket/pocvault/internal/runner/wasm"
)

func (a *app) newScanner() *nuclei.Adapter {
	return nuclei.NewAdapter(
		a.cfg.Nuclei.Path,
		time.Duration(a.cfg.Nuclei.TimeoutSeconds)*time.Second,
		a.logger)
}

func (a *app) runExecute(ctx context.Context, args []string) int {
	if len(args) < 2 {
		return usageError("run <id> <target>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return fail(err)
	}
	rawTarget := args[1]

	store, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	scripts := wasm.NewRunner(wasm.Config{
		MemoryLimitPages: a.cfg.Script.MemoryLimitPages,
		InvokeTimeout:    time.Duration(a.cfg.Script.TimeoutSeconds) * time.Second,
		Logger:           a.logger,
	})
	engine := executor.New(store, scripts, a.newScanner(), a.logger)

	outcome, err := engine.Run(ctx, id, rawTarget)
	if err != nil {
		return fail(err)
	}
	return printJSON(outcome)
}

func (a *app) runValidate(ctx context.Context, args []string) int {
	if len(args) < 1 {
		return usageError("validate <template.yaml>")
	}
	if err := a.newScanner().Validate(ctx, args[0]); err != nil {
		return fail(err)
	}
	fmt.Printf("%s: valid\n", args[0])
	return 0
}

func (a *app) runImport(ctx context.Context, args []string) int {
	if len(args) < 1 {
		return usageError("import <template.yaml>")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	rec, err := executor.ImportTemplate(ctx, store, a.newScanner(), args[0], a.logger)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("imported check %d (%s)\n", rec.ID, rec.Category)
	return 0
}

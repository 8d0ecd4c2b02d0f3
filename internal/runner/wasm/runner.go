// Package wasm executes embedded-script checks inside a wazero sandbox. Each
// invocation gets a fresh runtime and module instance, so no state survives
// between runs and a faulting script cannot poison the next one.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"

	"github.com/basket/pocvault/internal/fault"
	"github.com/basket/pocvault/internal/verdict"
)

// DefaultMemoryLimitPages is 160 pages = 10MB (each WASM page = 64KB).
const DefaultMemoryLimitPages uint32 = 160

// DefaultInvokeTimeout is the wall-clock limit for a single scan invocation.
const DefaultInvokeTimeout = 30 * time.Second

// Script ABI: the module exports
//
//	alloc(size: u32) -> u32           guest buffer for the target URL
//	scan(ptr: u32, len: u32) -> u64   high 32 bits = result ptr, low 32 = len
//
// The scan result bytes are a JSON verdict document.
const (
	exportAlloc = "alloc"
	exportScan  = "scan"
)

type Config struct {
	// MemoryLimitPages caps guest memory. 0 uses DefaultMemoryLimitPages.
	MemoryLimitPages uint32
	// InvokeTimeout caps wall-clock time per invocation. 0 uses DefaultInvokeTimeout.
	InvokeTimeout time.Duration
	Logger        *slog.Logger
}

type Runner struct {
	memoryLimitPages uint32
	invokeTimeout    time.Duration
	logger           *slog.Logger
}

func NewRunner(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MemoryLimitPages == 0 {
		cfg.MemoryLimitPages = DefaultMemoryLimitPages
	}
	if cfg.InvokeTimeout == 0 {
		cfg.InvokeTimeout = DefaultInvokeTimeout
	}
	return &Runner{
		memoryLimitPages: cfg.MemoryLimitPages,
		invokeTimeout:    cfg.InvokeTimeout,
		logger:           cfg.Logger,
	}
}

// Run compiles and executes the module at modulePath against targetURL.
func (r *Runner) Run(ctx context.Context, modulePath, targetURL string) (*verdict.Verdict, error) {
	wasmBytes, err := os.ReadFile(modulePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.Wrap(fault.KindNotFound, err, "script module %s", modulePath)
		}
		return nil, fault.Wrap(fault.KindStorageFailure, err, "read script module %s", modulePath)
	}
	return r.RunBytes(ctx, wasmBytes, targetURL)
}

// RunBytes executes an in-memory module against targetURL.
func (r *Runner) RunBytes(ctx context.Context, wasmBytes []byte, targetURL string) (*verdict.Verdict, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, r.invokeTimeout)
	defer cancel()

	runtimeCfg := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(r.memoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(invokeCtx, runtimeCfg)
	defer runtime.Close(context.WithoutCancel(ctx))

	compiled, err := runtime.CompileModule(invokeCtx, wasmBytes)
	if err != nil {
		return nil, fault.Wrap(fault.KindContractViolation, err, "payload is not a wasm module")
	}

	module, err := runtime.InstantiateModule(invokeCtx, compiled, wazero.NewModuleConfig().WithName("check"))
	if err != nil {
		return nil, classifyFault(err, "instantiate module")
	}

	scanFn := module.ExportedFunction(exportScan)
	if scanFn == nil {
		return nil, fault.New(fault.KindContractViolation, "module does not export %q", exportScan)
	}
	allocFn := module.ExportedFunction(exportAlloc)
	if allocFn == nil {
		return nil, fault.New(fault.KindContractViolation, "module does not export %q", exportAlloc)
	}
	memory := module.Memory()
	if memory == nil {
		return nil, fault.New(fault.KindContractViolation, "module exports no memory")
	}

	urlBytes := []byte(targetURL)
	allocRes, err := allocFn.Call(invokeCtx, uint64(len(urlBytes)))
	if err != nil {
		return nil, classifyFault(err, "alloc target buffer")
	}
	if len(allocRes) == 0 {
		return nil, fault.New(fault.KindContractViolation, "%s returned no value", exportAlloc)
	}
	urlPtr := uint32(allocRes[0])
	if !memory.Write(urlPtr, urlBytes) {
		return nil, fault.New(fault.KindContractViolation, "%s returned pointer outside guest memory", exportAlloc)
	}

	results, err := scanFn.Call(invokeCtx, uint64(urlPtr), uint64(len(urlBytes)))
	if err != nil {
		return nil, classifyFault(err, "scan")
	}
	if len(results) == 0 {
		return nil, fault.New(fault.KindContractViolation, "%s returned no value", exportScan)
	}

	packed := results[0]
	resultPtr := uint32(packed >> 32)
	resultLen := uint32(packed)
	raw, ok := memory.Read(resultPtr, resultLen)
	if !ok {
		return nil, fault.New(fault.KindContractViolation, "scan result pointer outside guest memory")
	}

	v, err := verdict.FromJSON(raw)
	if err != nil {
		return nil, fault.Wrap(fault.KindContractViolation, err, "decode scan result")
	}
	return v, nil
}

// classifyFault maps a wazero execution error onto the failure taxonomy. A
// caller-driven cancel is not a script fault, so it propagates as a plain
// wrapped cancellation rather than a timeout.
func classifyFault(err error, op string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fault.Wrap(fault.KindTimeout, err, "script %s", op)
	}
	var exitErr *sys.ExitError
	if errors.Is(err, context.Canceled) ||
		(errors.As(err, &exitErr) && exitErr.ExitCode() == sys.ExitCodeContextCanceled) {
		return fmt.Errorf("script %s canceled: %w", op, context.Canceled)
	}
	// wazero raises sys.ExitError when it closes a module whose deadline fired.
	if errors.As(err, &exitErr) {
		return fault.Wrap(fault.KindTimeout, err, "script %s terminated", op)
	}
	if strings.Contains(err.Error(), "memory") {
		return fault.Wrap(fault.KindRunnerException, err, "script %s exceeded memory limit", op)
	}
	return fault.Wrap(fault.KindRunnerException, err, "script %s faulted", op)
}

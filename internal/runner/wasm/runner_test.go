package wasm_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/basket/pocvault/internal/fault"
	"github.com/basket/pocvault/internal/runner/wasm"
)

// Minimal valid WASM binary (empty module: magic + version + no sections).
// The WASM binary format: \x00asm (magic) + version 1 (little-endian u32).
var minimalModule = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// scan body that hits an unreachable trap immediately.
var trappingScanBody = []byte{
	0x00, // no locals
	0x00, // unreachable
	0x0b, // end
}

// scan body that spins forever: loop { br 0 }.
var spinningScanBody = []byte{
	0x00,       // no locals
	0x03, 0x40, // loop (void)
	0x0c, 0x00, // br 0
	0x0b, // end loop
	0x00, // unreachable (never reached; satisfies the i64 result)
	0x0b, // end
}

// assembleCheckModule hand-assembles the smallest module honoring the script
// ABI: one memory page, alloc(i32)->i32 returning offset 0, and
// scan(i32,i32)->i64 with the supplied body (locals declaration included).
// Single-byte LEB128 lengths are fine here; every section is tiny.
func assembleCheckModule(scanBody []byte) []byte {
	section := func(id byte, body ...byte) []byte {
		return append([]byte{id, byte(len(body))}, body...)
	}
	allocBody := []byte{
		0x00,       // no locals
		0x41, 0x00, // i32.const 0
		0x0b, // end
	}
	codeBody := []byte{0x02, byte(len(allocBody))}
	codeBody = append(codeBody, allocBody...)
	codeBody = append(codeBody, byte(len(scanBody)))
	codeBody = append(codeBody, scanBody...)

	mod := append([]byte{}, minimalModule...)
	mod = append(mod, section(0x01, // type: (i32)->i32, (i32,i32)->i64
		0x02,
		0x60, 0x01, 0x7f, 0x01, 0x7f,
		0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7e)...)
	mod = append(mod, section(0x03, 0x02, 0x00, 0x01)...) // func 0 -> type 0, func 1 -> type 1
	mod = append(mod, section(0x05, 0x01, 0x00, 0x01)...) // memory: min 1 page
	mod = append(mod, section(0x07, // exports: alloc (func 0), scan (func 1), memory
		0x03,
		0x05, 'a', 'l', 'l', 'o', 'c', 0x00, 0x00,
		0x04, 's', 'c', 'a', 'n', 0x00, 0x01,
		0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00)...)
	mod = append(mod, section(0x0a, codeBody...)...)
	return mod
}

func TestRun_MissingModuleFile(t *testing.T) {
	r := wasm.NewRunner(wasm.Config{})
	_, err := r.Run(context.Background(), filepath.Join(t.TempDir(), "nope.wasm"), "http://example.com:80/")
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRunBytes_InvalidModule(t *testing.T) {
	r := wasm.NewRunner(wasm.Config{})
	_, err := r.RunBytes(context.Background(), []byte("not wasm at all"), "http://example.com:80/")
	if !fault.IsKind(err, fault.KindContractViolation) {
		t.Fatalf("expected CONTRACT_VIOLATION, got %v", err)
	}
}

func TestRunBytes_MissingScanExport(t *testing.T) {
	// The empty module compiles but exports neither scan nor alloc, which is
	// a contract violation rather than a runner exception.
	r := wasm.NewRunner(wasm.Config{})
	_, err := r.RunBytes(context.Background(), minimalModule, "http://example.com:80/")
	if !fault.IsKind(err, fault.KindContractViolation) {
		t.Fatalf("expected CONTRACT_VIOLATION, got %v", err)
	}
}

func TestRunBytes_TrappingScanIsRunnerException(t *testing.T) {
	r := wasm.NewRunner(wasm.Config{})
	_, err := r.RunBytes(context.Background(), assembleCheckModule(trappingScanBody), "http://example.com:80/")
	if !fault.IsKind(err, fault.KindRunnerException) {
		t.Fatalf("expected RUNNER_EXCEPTION, got %v", err)
	}
	if fault.IsKind(err, fault.KindTimeout) {
		t.Fatalf("trap misreported as timeout: %v", err)
	}
}

func TestRunBytes_HungScanIsTimeout(t *testing.T) {
	r := wasm.NewRunner(wasm.Config{InvokeTimeout: 50 * time.Millisecond})
	_, err := r.RunBytes(context.Background(), assembleCheckModule(spinningScanBody), "http://example.com:80/")
	if !fault.IsKind(err, fault.KindTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
}

func TestRunBytes_CallerCancelIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(20*time.Millisecond, cancel)
	defer timer.Stop()
	defer cancel()

	r := wasm.NewRunner(wasm.Config{InvokeTimeout: time.Minute})
	_, err := r.RunBytes(ctx, assembleCheckModule(spinningScanBody), "http://example.com:80/")
	if err == nil {
		t.Fatal("expected error from canceled run")
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected wrapped cancellation, got %v", err)
	}
	if fault.IsKind(err, fault.KindTimeout) {
		t.Fatalf("operator abort misreported as timeout: %v", err)
	}
}

func TestRun_MissingScanExportFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.wasm")
	if err := os.WriteFile(path, minimalModule, 0o644); err != nil {
		t.Fatalf("write wasm: %v", err)
	}
	r := wasm.NewRunner(wasm.Config{})
	_, err := r.Run(context.Background(), path, "http://example.com:80/")
	if !fault.IsKind(err, fault.KindContractViolation) {
		t.Fatalf("expected CONTRACT_VIOLATION, got %v", err)
	}
}

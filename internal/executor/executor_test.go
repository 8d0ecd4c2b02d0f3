package executor_test

import (
	"context"
	"testing"

	"github.com/basket/pocvault/internal/executor"
	"github.com/basket/pocvault/internal/fault"
	"github.com/basket/pocvault/internal/library"
	"github.com/basket/pocvault/internal/verdict"
)

type fakeCatalog struct {
	records map[int64]*library.CheckRecord
	touched []int64
}

func (f *fakeCatalog) Get(_ context.Context, id int64) (*library.CheckRecord, error) {
	return f.records[id], nil
}

func (f *fakeCatalog) Touch(_ context.Context, id int64) error {
	f.touched = append(f.touched, id)
	return nil
}

type fakeScripts struct {
	verdict *verdict.Verdict
	err     error
	gotPath string
	gotURL  string
}

func (f *fakeScripts) Run(_ context.Context, modulePath, targetURL string) (*verdict.Verdict, error) {
	f.gotPath, f.gotURL = modulePath, targetURL
	return f.verdict, f.err
}

type fakeTemplates struct {
	verdict *verdict.Verdict
	err     error
	gotURL  string
}

func (f *fakeTemplates) Execute(_ context.Context, _, targetURL string) (*verdict.Verdict, error) {
	f.gotURL = targetURL
	return f.verdict, f.err
}

func scriptRecord(id int64) *library.CheckRecord {
	return &library.CheckRecord{ID: id, Kind: library.KindScript, ContentPath: "/lib/scripts/x.wasm", Automatable: true}
}

func TestRun_UnknownID(t *testing.T) {
	e := executor.New(&fakeCatalog{records: map[int64]*library.CheckRecord{}}, &fakeScripts{}, &fakeTemplates{}, nil)
	_, err := e.Run(context.Background(), 7, "example.com")
	if !fault.IsKind(err, fault.KindNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestRun_InvalidTarget(t *testing.T) {
	cat := &fakeCatalog{records: map[int64]*library.CheckRecord{1: scriptRecord(1)}}
	e := executor.New(cat, &fakeScripts{}, &fakeTemplates{}, nil)
	_, err := e.Run(context.Background(), 1, "ftp://example.com")
	if !fault.IsKind(err, fault.KindInvalidTarget) {
		t.Fatalf("expected INVALID_TARGET, got %v", err)
	}
	if len(cat.touched) != 1 {
		t.Fatalf("attempt should still advance last-used, touched=%v", cat.touched)
	}
}

func TestRun_ManualIsNotExecutable(t *testing.T) {
	cat := &fakeCatalog{records: map[int64]*library.CheckRecord{
		1: {ID: 1, Kind: library.KindManual, Automatable: false},
	}}
	e := executor.New(cat, &fakeScripts{}, &fakeTemplates{}, nil)
	_, err := e.Run(context.Background(), 1, "example.com")
	if !fault.IsKind(err, fault.KindNotExecutable) {
		t.Fatalf("expected NOT_EXECUTABLE, got %v", err)
	}
}

func TestRun_DispatchesScriptWithNormalizedTarget(t *testing.T) {
	cat := &fakeCatalog{records: map[int64]*library.CheckRecord{1: scriptRecord(1)}}
	scripts := &fakeScripts{verdict: &verdict.Verdict{Vulnerable: true, Reason: "banner leaked"}}
	e := executor.New(cat, scripts, &fakeTemplates{}, nil)

	out, err := e.Run(context.Background(), 1, "example.com/login")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if scripts.gotURL != "http://example.com:80/" {
		t.Fatalf("runner should get the normalized target, got %q", scripts.gotURL)
	}
	if scripts.gotPath != "/lib/scripts/x.wasm" {
		t.Fatalf("runner should get the content path, got %q", scripts.gotPath)
	}
	if out.TargetURL != "http://example.com:80/" || !out.Verdict.Vulnerable {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(cat.touched) != 1 || cat.touched[0] != 1 {
		t.Fatalf("expected one touch, got %v", cat.touched)
	}
}

func TestRun_DispatchesTemplate(t *testing.T) {
	cat := &fakeCatalog{records: map[int64]*library.CheckRecord{
		2: {ID: 2, Kind: library.KindTemplate, ContentPath: "/lib/templates/t.yaml", Automatable: true},
	}}
	templates := &fakeTemplates{verdict: &verdict.Verdict{Vulnerable: false}}
	e := executor.New(cat, &fakeScripts{}, templates, nil)

	out, err := e.Run(context.Background(), 2, "https://example.com")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if templates.gotURL != "https://example.com:443/" {
		t.Fatalf("unexpected target: %q", templates.gotURL)
	}
	if out.Verdict.Reason != verdict.DefaultReason {
		t.Fatalf("empty reason should be normalized, got %q", out.Verdict.Reason)
	}
}

func TestRun_RunnerFaultTouchesAndPropagates(t *testing.T) {
	cat := &fakeCatalog{records: map[int64]*library.CheckRecord{1: scriptRecord(1)}}
	scripts := &fakeScripts{err: fault.New(fault.KindTimeout, "script timed out")}
	e := executor.New(cat, scripts, &fakeTemplates{}, nil)

	_, err := e.Run(context.Background(), 1, "example.com")
	if !fault.IsKind(err, fault.KindTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if len(cat.touched) != 1 {
		t.Fatalf("faulted run should still touch, got %v", cat.touched)
	}
}

package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/pocvault/internal/fault"
	"github.com/basket/pocvault/internal/library"
	"github.com/basket/pocvault/internal/llm"
	"github.com/basket/pocvault/internal/pipeline"
)

type fakeGenerator struct {
	produce    *llm.Artifact
	produceErr error
	review     string
	reviewErr  error
	revise     *llm.Artifact
	reviseErr  error

	reviseDoc string
}

func (f *fakeGenerator) Produce(_ context.Context, _ string) (*llm.Artifact, error) {
	return f.produce, f.produceErr
}

func (f *fakeGenerator) Review(_ context.Context, _ string) (string, error) {
	return f.review, f.reviewErr
}

func (f *fakeGenerator) Revise(_ context.Context, doc string) (*llm.Artifact, error) {
	f.reviseDoc = doc
	return f.revise, f.reviseErr
}

type fakeSaver struct {
	saved *library.SaveRequest
}

func (f *fakeSaver) Save(_ context.Context, req library.SaveRequest) (*library.CheckRecord, error) {
	f.saved = &req
	return &library.CheckRecord{ID: 11, Category: req.Category, Kind: req.Kind}, nil
}

func draftArtifact() *llm.Artifact {
	return &llm.Artifact{
		Automatable: true,
		Kind:        library.KindTemplate,
		Category:    "exposure",
		Label:       "Exposed env file",
		Description: "Detects a readable .env",
		Content:     "id: env-exposure\n",
		Tags:        []string{"exposure"},
	}
}

func TestProduce_CheckpointsTaskAndDraft(t *testing.T) {
	dir := t.TempDir()
	gen := &fakeGenerator{produce: draftArtifact()}
	o := pipeline.New(dir, gen, &fakeSaver{}, nil)

	runID, artifact, err := o.Produce(context.Background(), "verify exposed .env files")
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if runID == "" || artifact == nil {
		t.Fatalf("expected run id and artifact, got %q %v", runID, artifact)
	}
	for _, name := range []string{"task.md", "draft.json"} {
		if _, err := os.Stat(filepath.Join(dir, runID, name)); err != nil {
			t.Fatalf("missing checkpoint %s: %v", name, err)
		}
	}
}

func TestProduce_EmptyTask(t *testing.T) {
	o := pipeline.New(t.TempDir(), &fakeGenerator{}, &fakeSaver{}, nil)
	if _, _, err := o.Produce(context.Background(), "   "); !fault.IsKind(err, fault.KindValidation) {
		t.Fatalf("expected VALIDATION_ERROR, got %v", err)
	}
}

func TestProduce_FailedDraftLeavesNoRun(t *testing.T) {
	dir := t.TempDir()
	gen := &fakeGenerator{produceErr: fault.New(fault.KindUpstreamFailure, "model unavailable")}
	o := pipeline.New(dir, gen, &fakeSaver{}, nil)

	runID, _, err := o.Produce(context.Background(), "verify exposed .env files")
	if !fault.IsKind(err, fault.KindUpstreamFailure) {
		t.Fatalf("expected UPSTREAM_FAILURE, got %v", err)
	}
	if runID != "" {
		t.Fatalf("failed produce should mint no run id, got %q", runID)
	}

	runs, err := o.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("failed produce left runs behind: %+v", runs)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read pipeline dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("failed produce left a partial run dir: %v", entries)
	}
}

func TestReview_RequiresDraftCheckpoint(t *testing.T) {
	o := pipeline.New(t.TempDir(), &fakeGenerator{}, &fakeSaver{}, nil)
	_, err := o.Review(context.Background(), "no-such-run")
	if !fault.IsKind(err, fault.KindMissingCheckpoint) {
		t.Fatalf("expected MISSING_CHECKPOINT, got %v", err)
	}
}

func TestFullRun_FinalizeCatalogsArtifact(t *testing.T) {
	dir := t.TempDir()
	gen := &fakeGenerator{
		produce: draftArtifact(),
		review:  "Tighten the matcher; otherwise sound.",
		revise:  draftArtifact(),
	}
	saver := &fakeSaver{}
	o := pipeline.New(dir, gen, saver, nil)
	ctx := context.Background()

	runID, _, err := o.Produce(ctx, "verify exposed .env files")
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if _, err := o.Review(ctx, runID); err != nil {
		t.Fatalf("review: %v", err)
	}
	rec, err := o.Finalize(ctx, runID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if rec.ID != 11 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if saver.saved == nil || saver.saved.Category != "exposure" || !saver.saved.Automatable {
		t.Fatalf("unexpected save request: %+v", saver.saved)
	}
	if saver.saved.Metadata["pipeline_run"] != runID {
		t.Fatalf("save should record its run id, got %v", saver.saved.Metadata)
	}
	if !strings.Contains(gen.reviseDoc, "Tighten the matcher") {
		t.Fatalf("revise should see the review notes, got %q", gen.reviseDoc)
	}
	if _, err := os.Stat(filepath.Join(dir, runID, "final.json")); err != nil {
		t.Fatalf("missing final checkpoint: %v", err)
	}
}

func TestFinalize_UpstreamFailureKeepsCheckpoints(t *testing.T) {
	dir := t.TempDir()
	gen := &fakeGenerator{
		produce:   draftArtifact(),
		review:    "notes",
		reviseErr: fault.New(fault.KindUpstreamFailure, "model unavailable"),
	}
	o := pipeline.New(dir, gen, &fakeSaver{}, nil)
	ctx := context.Background()

	runID, _, err := o.Produce(ctx, "task")
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if _, err := o.Review(ctx, runID); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := o.Finalize(ctx, runID); !fault.IsKind(err, fault.KindUpstreamFailure) {
		t.Fatalf("expected UPSTREAM_FAILURE, got %v", err)
	}

	// Earlier checkpoints must survive the failed stage for retry.
	for _, name := range []string{"task.md", "draft.json", "review.md"} {
		if _, err := os.Stat(filepath.Join(dir, runID, name)); err != nil {
			t.Fatalf("checkpoint %s lost after failure: %v", name, err)
		}
	}

	gen.reviseErr = nil
	gen.revise = draftArtifact()
	if _, err := o.Finalize(ctx, runID); err != nil {
		t.Fatalf("retry finalize: %v", err)
	}
}

func TestList_ReportsStageProgress(t *testing.T) {
	dir := t.TempDir()
	gen := &fakeGenerator{produce: draftArtifact(), review: "notes"}
	o := pipeline.New(dir, gen, &fakeSaver{}, nil)
	ctx := context.Background()

	runID, _, err := o.Produce(ctx, "first line\nsecond line")
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if _, err := o.Review(ctx, runID); err != nil {
		t.Fatalf("review: %v", err)
	}

	runs, err := o.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}
	st := runs[0]
	if st.RunID != runID || !st.HasDraft || !st.HasReview || st.HasFinal {
		t.Fatalf("unexpected status: %+v", st)
	}
	if st.Task != "first line" {
		t.Fatalf("task summary should be the first line, got %q", st.Task)
	}
}

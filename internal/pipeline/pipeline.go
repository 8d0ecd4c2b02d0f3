// Package pipeline drives staged check generation: draft, review, finalize.
// Each run owns a checkpoint directory keyed by a fresh run ID, so concurrent
// runs never clobber each other and a failed stage leaves earlier stages
// intact for retry.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/basket/pocvault/internal/fault"
	"github.com/basket/pocvault/internal/library"
	"github.com/basket/pocvault/internal/llm"
)

// Checkpoint file names inside a run directory.
const (
	taskFile   = "task.md"
	draftFile  = "draft.json"
	reviewFile = "review.md"
	finalFile  = "final.json"
)

// Saver is the slice of the library store the pipeline needs.
type Saver interface {
	Save(ctx context.Context, req library.SaveRequest) (*library.CheckRecord, error)
}

type Orchestrator struct {
	dir    string
	gen    llm.Generator
	store  Saver
	logger *slog.Logger
}

func New(dir string, gen llm.Generator, store Saver, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{dir: dir, gen: gen, store: store, logger: logger}
}

func (o *Orchestrator) runDir(runID string) string {
	return filepath.Join(o.dir, runID)
}

// Produce starts a new run: it asks the collaborator for a draft artifact and
// checkpoints the task and draft together. A failed draft leaves no run
// directory behind, so `list` only ever shows runs that reached a checkpoint.
// The returned run ID keys the later stages.
func (o *Orchestrator) Produce(ctx context.Context, task string) (string, *llm.Artifact, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return "", nil, fault.New(fault.KindValidation, "task description is empty")
	}

	artifact, err := o.gen.Produce(ctx, task)
	if err != nil {
		return "", nil, err
	}

	runID := uuid.NewString()
	dir := o.runDir(runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fault.Wrap(fault.KindStorageFailure, err, "create run dir %s", dir)
	}
	if err := os.WriteFile(filepath.Join(dir, taskFile), []byte(task+"\n"), 0o644); err != nil {
		os.RemoveAll(dir)
		return "", nil, fault.Wrap(fault.KindStorageFailure, err, "checkpoint task")
	}
	if err := writeJSON(filepath.Join(dir, draftFile), artifact); err != nil {
		os.RemoveAll(dir)
		return "", nil, err
	}

	o.logger.Info("pipeline draft checkpointed", "run_id", runID, "category", artifact.Category)
	return runID, artifact, nil
}

// Review critiques the draft of an existing run and checkpoints the notes.
func (o *Orchestrator) Review(ctx context.Context, runID string) (string, error) {
	dir := o.runDir(runID)
	task, err := readCheckpoint(dir, taskFile, runID)
	if err != nil {
		return "", err
	}
	draft, err := readCheckpoint(dir, draftFile, runID)
	if err != nil {
		return "", err
	}

	doc := fmt.Sprintf("# Task\n\n%s\n# Draft\n\n```json\n%s\n```\n", task, strings.TrimSpace(string(draft)))
	notes, err := o.gen.Review(ctx, doc)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dir, reviewFile), []byte(notes+"\n"), 0o644); err != nil {
		return "", fault.Wrap(fault.KindStorageFailure, err, "checkpoint review")
	}

	o.logger.Info("pipeline review checkpointed", "run_id", runID)
	return notes, nil
}

// Finalize revises the draft per the review, checkpoints the final artifact,
// and catalogs it.
func (o *Orchestrator) Finalize(ctx context.Context, runID string) (*library.CheckRecord, error) {
	dir := o.runDir(runID)
	task, err := readCheckpoint(dir, taskFile, runID)
	if err != nil {
		return nil, err
	}
	draft, err := readCheckpoint(dir, draftFile, runID)
	if err != nil {
		return nil, err
	}
	review, err := readCheckpoint(dir, reviewFile, runID)
	if err != nil {
		return nil, err
	}

	doc := fmt.Sprintf("# Task\n\n%s\n# Draft\n\n```json\n%s\n```\n\n# Review\n\n%s",
		task, strings.TrimSpace(string(draft)), review)
	artifact, err := o.gen.Revise(ctx, doc)
	if err != nil {
		return nil, err
	}
	if err := writeJSON(filepath.Join(dir, finalFile), artifact); err != nil {
		return nil, err
	}

	rec, err := o.store.Save(ctx, library.SaveRequest{
		Category:    artifact.Category,
		Label:       artifact.Label,
		Description: artifact.Description,
		Kind:        artifact.Kind,
		Content:     artifact.Content,
		Manual:      artifact.Manual,
		Tags:        artifact.Tags,
		Metadata:    map[string]string{"pipeline_run": runID},
		Automatable: artifact.Automatable,
	})
	if err != nil {
		return nil, err
	}

	o.logger.Info("pipeline run finalized", "run_id", runID, "check_id", rec.ID)
	return rec, nil
}

// RunStatus reports which checkpoints a run has reached.
type RunStatus struct {
	RunID     string `json:"run_id"`
	Task      string `json:"task"`
	HasDraft  bool   `json:"has_draft"`
	HasReview bool   `json:"has_review"`
	HasFinal  bool   `json:"has_final"`
}

// List enumerates all runs under the pipeline directory, sorted by run ID.
func (o *Orchestrator) List() ([]RunStatus, error) {
	entries, err := os.ReadDir(o.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fault.Wrap(fault.KindStorageFailure, err, "read pipeline dir")
	}

	var out []RunStatus
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(o.dir, e.Name())
		st := RunStatus{RunID: e.Name()}
		if data, err := os.ReadFile(filepath.Join(dir, taskFile)); err == nil {
			st.Task = firstLine(string(data))
		}
		st.HasDraft = fileExists(filepath.Join(dir, draftFile))
		st.HasReview = fileExists(filepath.Join(dir, reviewFile))
		st.HasFinal = fileExists(filepath.Join(dir, finalFile))
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RunID < out[j].RunID })
	return out, nil
}

func readCheckpoint(dir, name, runID string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return "", fault.New(fault.KindMissingCheckpoint, "run %s has no %s checkpoint", runID, name)
		}
		return "", fault.Wrap(fault.KindStorageFailure, err, "read %s for run %s", name, runID)
	}
	return string(data), nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fault.Wrap(fault.KindStorageFailure, err, "encode %s", filepath.Base(path))
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fault.Wrap(fault.KindStorageFailure, err, "checkpoint %s", filepath.Base(path))
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}

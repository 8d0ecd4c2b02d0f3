// Package executor dispatches a cataloged check against a target, selecting
// the runner by artifact kind.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/basket/pocvault/internal/fault"
	"github.com/basket/pocvault/internal/library"
	"github.com/basket/pocvault/internal/target"
	"github.com/basket/pocvault/internal/verdict"
)

// Catalog is the slice of the library store the engine needs.
type Catalog interface {
	Get(ctx context.Context, id int64) (*library.CheckRecord, error)
	Touch(ctx context.Context, id int64) error
}

// ScriptRunner executes embedded-script payloads.
type ScriptRunner interface {
	Run(ctx context.Context, modulePath, targetURL string) (*verdict.Verdict, error)
}

// TemplateRunner executes external-template payloads.
type TemplateRunner interface {
	Execute(ctx context.Context, templatePath, targetURL string) (*verdict.Verdict, error)
}

type Engine struct {
	catalog   Catalog
	scripts   ScriptRunner
	templates TemplateRunner
	logger    *slog.Logger
}

func New(catalog Catalog, scripts ScriptRunner, templates TemplateRunner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{catalog: catalog, scripts: scripts, templates: templates, logger: logger}
}

// Outcome describes one completed execution.
type Outcome struct {
	CheckID   int64            `json:"check_id"`
	TargetURL string           `json:"target_url"`
	Verdict   *verdict.Verdict `json:"verdict"`
	Duration  time.Duration    `json:"duration"`
}

// Run executes check id against rawTarget. Every attempt against an existing
// record advances its last-used marker, whether or not the run produced a
// verdict; a failed touch is logged and does not mask the run's result.
func (e *Engine) Run(ctx context.Context, id int64, rawTarget string) (*Outcome, error) {
	rec, err := e.catalog.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fault.New(fault.KindNotFound, "check %d not found", id)
	}
	defer func() {
		if err := e.catalog.Touch(context.WithoutCancel(ctx), id); err != nil {
			e.logger.Warn("last-used marker not updated", "check_id", id, "error", err)
		}
	}()

	targetURL, err := target.Normalize(rawTarget)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidTarget, err, "target %q", rawTarget)
	}

	if !rec.Automatable || rec.Kind == library.KindManual {
		return nil, fault.New(fault.KindNotExecutable, "check %d is a manual procedure", id)
	}

	start := time.Now()
	var v *verdict.Verdict
	switch rec.Kind {
	case library.KindScript:
		v, err = e.scripts.Run(ctx, rec.ContentPath, targetURL)
	case library.KindTemplate:
		v, err = e.templates.Execute(ctx, rec.ContentPath, targetURL)
	default:
		return nil, fault.New(fault.KindNotExecutable, "check %d has unknown kind %q", id, rec.Kind)
	}
	if err != nil {
		e.logger.Warn("check execution faulted",
			"check_id", id,
			"kind", string(rec.Kind),
			"target", targetURL,
			"fault", string(fault.KindOf(err)),
			"error", err)
		return nil, err
	}
	v.Normalize()

	outcome := &Outcome{
		CheckID:   id,
		TargetURL: targetURL,
		Verdict:   v,
		Duration:  time.Since(start),
	}
	e.logger.Info("check executed",
		"check_id", id,
		"kind", string(rec.Kind),
		"target", targetURL,
		"vulnerable", v.Vulnerable,
		"duration", outcome.Duration)
	return outcome, nil
}

// Package llm is the generation collaborator: it turns a vulnerability task
// description into a draft check artifact, critiques drafts, and revises them.
package llm

import (
	"context"
	"strings"

	"github.com/basket/pocvault/internal/fault"
	"github.com/basket/pocvault/internal/library"
)

// Artifact is the structured output of a generation or revision call. It is
// everything needed to catalog a check, minus the catalog row itself.
type Artifact struct {
	Automatable bool                     `json:"automatable"`
	Kind        library.Kind             `json:"kind,omitempty"`
	Category    string                   `json:"category"`
	Label       string                   `json:"label,omitempty"`
	Description string                   `json:"description"`
	Content     string                   `json:"content,omitempty"`
	Manual      *library.ManualProcedure `json:"manual_procedure,omitempty"`
	Tags        []string                 `json:"tags,omitempty"`
	Rationale   string                   `json:"rationale,omitempty"`
}

// Validate enforces the artifact's internal consistency. An inconsistent
// artifact is an upstream failure: the collaborator produced schema-valid
// JSON that still cannot be cataloged.
func (a *Artifact) Validate() error {
	if strings.TrimSpace(a.Category) == "" || strings.TrimSpace(a.Description) == "" {
		return fault.New(fault.KindUpstreamFailure, "artifact missing category or description")
	}
	if a.Automatable {
		if a.Kind != library.KindScript && a.Kind != library.KindTemplate {
			return fault.New(fault.KindUpstreamFailure, "automatable artifact has kind %q", a.Kind)
		}
		if strings.TrimSpace(a.Content) == "" {
			return fault.New(fault.KindUpstreamFailure, "automatable artifact has no content")
		}
		return nil
	}
	if a.Manual == nil || len(a.Manual.Steps) == 0 {
		return fault.New(fault.KindUpstreamFailure, "manual artifact has no procedure steps")
	}
	return nil
}

// Generator is the staged-generation contract the pipeline depends on.
type Generator interface {
	// Produce drafts an artifact for the given vulnerability task.
	Produce(ctx context.Context, task string) (*Artifact, error)
	// Review critiques a draft document and returns free-form review notes.
	Review(ctx context.Context, doc string) (string, error)
	// Revise produces the final artifact from a draft plus its review.
	Revise(ctx context.Context, doc string) (*Artifact, error)
}

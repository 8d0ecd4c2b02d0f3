package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/basket/pocvault/internal/llm"
	"github.com/basket/pocvault/internal/pipeline"
)

func (a *app) newGenerator(ctx context.Context) llm.Generator {
	return llm.NewClient(ctx, llm.ClientConfig{
		Provider:      a.cfg.LLM.Provider,
		GenerateModel: a.cfg.LLM.GenerateModel,
		ReviewModel:   a.cfg.LLM.ReviewModel,
		APIKey:        a.cfg.APIKey(),
		BaseURL:       a.cfg.LLM.BaseURL,
		Logger:        a.logger,
	})
}

func (a *app) runPipeline(ctx context.Context, args []string) int {
	if len(args) < 1 {
		return usageError("pipeline produce|review|finalize|list ...")
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	orch := pipeline.New(a.cfg.PipelineDir, a.newGenerator(ctx), store, a.logger)

	switch args[0] {
	case "produce":
		if len(args) < 2 {
			return usageError("pipeline produce <task description>")
		}
		task := strings.Join(args[1:], " ")
		runID, artifact, err := orch.Produce(ctx, task)
		if err != nil {
			return fail(err)
		}
		fmt.Printf("run %s: drafted %s check in category %q\n", runID, draftKind(artifact), artifact.Category)
		fmt.Printf("next: %s pipeline review %s\n", os.Args[0], runID)
		return 0

	case "review":
		if len(args) < 2 {
			return usageError("pipeline review <run-id>")
		}
		notes, err := orch.Review(ctx, args[1])
		if err != nil {
			return fail(err)
		}
		fmt.Println(notes)
		fmt.Printf("next: %s pipeline finalize %s\n", os.Args[0], args[1])
		return 0

	case "finalize":
		if len(args) < 2 {
			return usageError("pipeline finalize <run-id>")
		}
		rec, err := orch.Finalize(ctx, args[1])
		if err != nil {
			return fail(err)
		}
		fmt.Printf("run %s finalized: saved check %d (%s/%s)\n", args[1], rec.ID, rec.Category, rec.Kind)
		return 0

	case "list":
		runs, err := orch.List()
		if err != nil {
			return fail(err)
		}
		if len(runs) == 0 {
			fmt.Println("no pipeline runs")
			return 0
		}
		for _, st := range runs {
			fmt.Printf("%s  draft=%v review=%v final=%v  %s\n",
				st.RunID, st.HasDraft, st.HasReview, st.HasFinal, st.Task)
		}
		return 0

	default:
		return usageError("pipeline produce|review|finalize|list ...")
	}
}

func draftKind(artifact *llm.Artifact) string {
	if !artifact.Automatable {
		return "manual"
	}
	return string(artifact.Kind)
}

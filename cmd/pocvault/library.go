package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/basket/pocvault/internal/library"
)

func (a *app) openStore(ctx context.Context) (*library.Store, error) {
	return library.Open(ctx, a.cfg.LibraryDir, a.logger)
}

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("check id must be a positive integer, got %q", arg)
	}
	return id, nil
}

func printJSON(v any) int {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fail(err)
	}
	fmt.Println(string(out))
	return 0
}

func (a *app) runSave(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("save", flag.ExitOnError)
	category := fs.String("category", "", "vulnerability category (required)")
	label := fs.String("label", "", "one-line title")
	description := fs.String("description", "", "what the check verifies (required)")
	kind := fs.String("kind", "", "artifact kind: script or template")
	file := fs.String("file", "", "payload file: wasm module or template yaml")
	manual := fs.String("manual", "", "manual procedure JSON file (makes the check non-automatable)")
	tags := fs.String("tags", "", "comma-separated tags")
	_ = fs.Parse(args)

	req := library.SaveRequest{
		Category:    *category,
		Label:       *label,
		Description: *description,
		Automatable: *manual == "",
	}
	for _, tag := range strings.Split(*tags, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			req.Tags = append(req.Tags, tag)
		}
	}

	if *manual != "" {
		data, err := os.ReadFile(*manual)
		if err != nil {
			return fail(err)
		}
		req.Manual = &library.ManualProcedure{}
		if err := json.Unmarshal(data, req.Manual); err != nil {
			return fail(fmt.Errorf("parse manual procedure: %w", err))
		}
	} else {
		if *file == "" {
			return usageError("save requires -file (or -manual for manual procedures)")
		}
		data, err := os.ReadFile(*file)
		if err != nil {
			return fail(err)
		}
		req.Content = string(data)
		req.Kind = library.Kind(*kind)
		if req.Kind == "" {
			if strings.HasSuffix(*file, ".wasm") {
				req.Kind = library.KindScript
			} else {
				req.Kind = library.KindTemplate
			}
		}
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	rec, err := store.Save(ctx, req)
	if err != nil {
		return fail(err)
	}
	fmt.Printf("saved check %d (%s/%s)\n", rec.ID, rec.Category, rec.Kind)
	return 0
}

func (a *app) runGet(ctx context.Context, args []string) int {
	if len(args) < 1 {
		return usageError("get <id>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return fail(err)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	rec, err := store.Get(ctx, id)
	if err != nil {
		return fail(err)
	}
	if rec == nil {
		fmt.Fprintf(os.Stderr, "check %d not found\n", id)
		return 1
	}
	return printJSON(rec)
}

func (a *app) runContent(ctx context.Context, args []string) int {
	if len(args) < 1 {
		return usageError("content <id>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return fail(err)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	data, err := store.Content(ctx, id)
	if err != nil {
		return fail(err)
	}
	os.Stdout.Write(data)
	return 0
}

func (a *app) runSearch(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	category := fs.String("category", "", "filter by category (case-insensitive)")
	kind := fs.String("kind", "", "filter by kind: script, template, manual")
	keyword := fs.String("keyword", "", "substring match over label and description")
	automatable := fs.String("automatable", "", "filter by automatability: true or false")
	limit := fs.Int("limit", 0, "max results (default 50, cap 500)")
	offset := fs.Int("offset", 0, "skip this many results")
	asJSON := fs.Bool("json", false, "emit JSON")
	_ = fs.Parse(args)

	f := library.Filter{
		Category: *category,
		Kind:     library.Kind(*kind),
		Keyword:  *keyword,
		Limit:    *limit,
		Offset:   *offset,
	}
	if *automatable != "" {
		v, err := strconv.ParseBool(*automatable)
		if err != nil {
			return fail(fmt.Errorf("parse -automatable: %w", err))
		}
		f.Automatable = &v
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	recs, err := store.Search(ctx, f)
	if err != nil {
		return fail(err)
	}
	if *asJSON {
		return printJSON(recs)
	}
	if len(recs) == 0 {
		fmt.Println("no checks found")
		return 0
	}
	for _, rec := range recs {
		fmt.Printf("%6d  %-10s %-8s %s\n", rec.ID, rec.Category, rec.Kind, rec.Label)
	}
	return 0
}

func (a *app) runCategories(ctx context.Context, args []string) int {
	store, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	cats, err := store.ListCategories(ctx)
	if err != nil {
		return fail(err)
	}
	for _, cc := range cats {
		fmt.Printf("%6d  %s\n", cc.Count, cc.Category)
	}
	return 0
}

func (a *app) runStats(ctx context.Context, args []string) int {
	store, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	stats, err := store.Stats(ctx)
	if err != nil {
		return fail(err)
	}
	return printJSON(stats)
}

func (a *app) runDelete(ctx context.Context, args []string) int {
	if len(args) < 1 {
		return usageError("delete <id>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return fail(err)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return fail(err)
	}
	defer store.Close()

	ok, err := store.Delete(ctx, id)
	if err != nil {
		return fail(err)
	}
	if !ok {
		fmt.Fprintf(os.Stderr, "check %d not found\n", id)
		return 1
	}
	fmt.Printf("deleted check %d\n", id)
	return 0
}

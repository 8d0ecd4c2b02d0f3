package main

import (
	"testing"

	"github.com/basket/pocvault/internal/library"
	"github.com/basket/pocvault/internal/llm"
)

func TestParseID(t *testing.T) {
	if _, err := parseID("12"); err != nil {
		t.Fatalf("parse valid id: %v", err)
	}
	for _, bad := range []string{"", "0", "-3", "abc", "1.5"} {
		if _, err := parseID(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestDraftKind(t *testing.T) {
	if got := draftKind(&llm.Artifact{Automatable: true, Kind: library.KindScript}); got != "script" {
		t.Fatalf("got %q", got)
	}
	if got := draftKind(&llm.Artifact{Automatable: false}); got != "manual" {
		t.Fatalf("got %q", got)
	}
}

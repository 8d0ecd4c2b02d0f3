// Package library is the durable check catalog: one SQLite row per check plus
// content-addressed payload files partitioned by artifact kind.
package library

import "time"

// Kind selects the runner and the content-store subdirectory for a check.
type Kind string

const (
	// KindScript is a sandboxed wasm module exposing a scan entry point.
	KindScript Kind = "script"
	// KindTemplate is a scanner template executed by the external tool binary.
	KindTemplate Kind = "template"
	// KindManual is a structured procedure document for checks that cannot be
	// verified automatically.
	KindManual Kind = "manual"
)

func (k Kind) Valid() bool {
	switch k {
	case KindScript, KindTemplate, KindManual:
		return true
	}
	return false
}

// CheckRecord is one catalog row. Records are immutable after Save except for
// LastUsedAt, which Touch advances on every execution attempt.
type CheckRecord struct {
	ID          int64             `json:"id"`
	Category    string            `json:"category"`
	Label       string            `json:"label"`
	Description string            `json:"description"`
	Kind        Kind              `json:"kind"`
	ContentPath string            `json:"content_path"`
	CreatedAt   time.Time         `json:"created_at"`
	LastUsedAt  *time.Time        `json:"last_used_at,omitempty"`
	Tags        []string          `json:"tags,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Automatable bool              `json:"automatable"`
	// Manual is populated iff Automatable is false.
	Manual *ManualProcedure `json:"manual_procedure,omitempty"`
}

// ManualProcedure is the structured verification guide stored instead of
// runnable content when a check is not automatable.
type ManualProcedure struct {
	RequiredTools []ToolRequirement `json:"required_tools"`
	Steps         []ManualStep      `json:"steps"`
	Verification  Verification      `json:"verification"`
}

type ToolRequirement struct {
	Name           string `json:"name"`
	Version        string `json:"version,omitempty"`
	DownloadURL    string `json:"download_url,omitempty"`
	InstallCommand string `json:"install_command,omitempty"`
	Purpose        string `json:"purpose,omitempty"`
}

type ManualStep struct {
	Number         int      `json:"step_number"`
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Commands       []string `json:"commands,omitempty"`
	ExpectedResult string   `json:"expected_result,omitempty"`
	Notes          string   `json:"notes,omitempty"`
}

type Verification struct {
	SuccessIndicators []string `json:"success_indicators,omitempty"`
	FailureIndicators []string `json:"failure_indicators,omitempty"`
	ExampleOutput     string   `json:"example_output,omitempty"`
}

// SaveRequest carries everything needed to catalog one check. Exactly one of
// Content and Manual must be populated, gated by Automatable.
type SaveRequest struct {
	Category string
	// Label defaults to "<category>_<timestamp>" when empty.
	Label       string
	Description string
	Kind        Kind
	Content     string
	Manual      *ManualProcedure
	Tags        []string
	Metadata    map[string]string
	Automatable bool
}

// CategoryCount is one row of ListCategories.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// RecentUse identifies a recently executed check.
type RecentUse struct {
	ID         int64     `json:"id"`
	Label      string    `json:"label"`
	LastUsedAt time.Time `json:"last_used_at"`
}

// Statistics summarizes the catalog.
type Statistics struct {
	TotalCount       int          `json:"total_count"`
	PerKindCount     map[Kind]int `json:"per_kind_count"`
	MostRecentlyUsed []RecentUse  `json:"most_recently_used"`
}

// Filter narrows Search results. Zero-valued predicates impose no constraint;
// supplied predicates are conjunctive.
type Filter struct {
	// Category matches case-insensitively.
	Category string
	Kind     Kind
	// Keyword is a case-insensitive substring match over label and
	// description.
	Keyword     string
	Automatable *bool
	Limit       int
	Offset      int
}

// Package verdict defines the single result shape every runner produces.
package verdict

import (
	"encoding/json"
	"fmt"
)

// DefaultReason is supplied when a runner produces a verdict without an
// explanation, so Reason is never empty.
const DefaultReason = "no reason reported"

// Verdict is the outcome of executing one check against one target.
// Vulnerable is authoritative; Details carries best-effort evidence.
type Verdict struct {
	Vulnerable bool           `json:"vulnerable"`
	Reason     string         `json:"reason"`
	Details    map[string]any `json:"details,omitempty"`
}

// Normalize fills the default reason so downstream consumers never see an
// empty one.
func (v *Verdict) Normalize() {
	if v.Reason == "" {
		v.Reason = DefaultReason
	}
}

// FromJSON parses raw into a Verdict. Well-formed JSON that is not
// verdict-shaped (no boolean "vulnerable" field) is coerced to a negative
// verdict with the raw value preserved in Details.
func FromJSON(raw []byte) (*Verdict, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err == nil {
		if field, ok := probe["vulnerable"]; ok {
			var b bool
			if json.Unmarshal(field, &b) == nil {
				var v Verdict
				if err := json.Unmarshal(raw, &v); err != nil {
					return nil, fmt.Errorf("decode verdict: %w", err)
				}
				v.Normalize()
				return &v, nil
			}
		}
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("result is not valid JSON: %w", err)
	}
	v := &Verdict{
		Vulnerable: false,
		Reason:     "check returned a result without a vulnerable field",
		Details:    map[string]any{"raw": value},
	}
	return v, nil
}

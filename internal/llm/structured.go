package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/pocvault/internal/fault"
)

// artifactSchema gates collaborator output before it reaches the catalog.
const artifactSchema = `{
	"type": "object",
	"required": ["automatable", "category", "description"],
	"properties": {
		"automatable": {"type": "boolean"},
		"kind": {"enum": ["script", "template"]},
		"category": {"type": "string", "minLength": 1},
		"label": {"type": "string"},
		"description": {"type": "string", "minLength": 1},
		"content": {"type": "string"},
		"manual_procedure": {"type": "object"},
		"tags": {"type": "array", "items": {"type": "string"}},
		"rationale": {"type": "string"}
	}
}`

var compiledArtifactSchema = mustCompileSchema(artifactSchema)

func mustCompileSchema(schemaJSON string) *jsonschema.Schema {
	// Use jsonschema.UnmarshalJSON for correct number handling (json.Number).
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("unmarshal artifact schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("artifact.json", doc); err != nil {
		panic(fmt.Sprintf("add artifact schema resource: %v", err))
	}
	schema, err := c.Compile("artifact.json")
	if err != nil {
		panic(fmt.Sprintf("compile artifact schema: %v", err))
	}
	return schema
}

// ParseArtifact extracts the JSON document from a model response, validates
// it against the artifact schema, and decodes it. All failure modes are
// upstream failures: the collaborator, not the caller, produced the text.
func ParseArtifact(responseText string) (*Artifact, error) {
	jsonStr := extractJSON(responseText)
	if jsonStr == "" {
		return nil, fault.New(fault.KindUpstreamFailure, "response contains no JSON document")
	}

	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonStr))
	if err != nil {
		return nil, fault.Wrap(fault.KindUpstreamFailure, err, "response JSON is malformed")
	}
	if err := compiledArtifactSchema.Validate(parsed); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamFailure, err, "response does not match the artifact schema")
	}

	var artifact Artifact
	if err := json.Unmarshal([]byte(jsonStr), &artifact); err != nil {
		return nil, fault.Wrap(fault.KindUpstreamFailure, err, "decode artifact")
	}
	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// extractJSON finds a JSON object or array in the response text.
func extractJSON(text string) string {
	// 1. Try fenced JSON block: ```json\n...\n```
	if idx := strings.Index(text, "```json"); idx >= 0 {
		start := idx + 7
		if start < len(text) && text[start] == '\n' {
			start++
		}
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if candidate != "" {
				return candidate
			}
		}
	}

	// 2. Try generic fenced block: ```\n...\n```
	if idx := strings.Index(text, "```\n"); idx >= 0 {
		start := idx + 4
		if end := strings.Index(text[start:], "```"); end >= 0 {
			candidate := strings.TrimSpace(text[start : start+end])
			if isJSON(candidate) {
				return candidate
			}
		}
	}

	// 3. Try raw JSON: find first { or [ and match closing
	for i := 0; i < len(text); i++ {
		if text[i] == '{' || text[i] == '[' {
			candidate := extractBalanced(text[i:])
			if candidate != "" && isJSON(candidate) {
				return candidate
			}
		}
	}

	return ""
}

func isJSON(s string) bool {
	var v any
	return json.Unmarshal([]byte(s), &v) == nil
}

// extractBalanced extracts a balanced JSON structure from the start of the string.
func extractBalanced(s string) string {
	if len(s) == 0 {
		return ""
	}

	open := s[0]
	var close byte
	switch open {
	case '{':
		close = '}'
	case '[':
		close = ']'
	default:
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		ch := s[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		if ch == open {
			depth++
		} else if ch == close {
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

package llm

import "fmt"

const produceSystem = `You are a security engineer building non-destructive vulnerability verification checks.
Given a vulnerability description, produce a check artifact as a single JSON object with these fields:
  automatable (bool): whether the check can run without a human.
  kind ("script" or "template"): for automatable checks, "script" for a wasm
    scan module, "template" for a nuclei template.
  category (string): short vulnerability class, e.g. "sqli", "xss", "exposure".
  label (string): one-line title.
  description (string): what the check verifies and how.
  content (string): the full script source or template YAML, automatable only.
  manual_procedure (object): for non-automatable checks only, with
    required_tools, steps (step_number, title, description, commands,
    expected_result) and verification (success_indicators, failure_indicators).
  tags (array of strings).
  rationale (string): why this approach verifies the vulnerability.
Checks must only read state, never exploit or modify the target. Respond with the JSON object only.`

func producePrompt(task string) string {
	return fmt.Sprintf("Build a verification check for the following vulnerability:\n\n%s", task)
}

const reviewSystem = `You are reviewing a draft vulnerability verification check written by another engineer.
Assess correctness (does it actually verify the stated vulnerability), safety
(read-only, no exploitation or state change on the target), and robustness
(false positive/negative risk, error handling). Respond with concise review
notes: what is wrong, what is missing, what to keep.`

func reviewPrompt(doc string) string {
	return fmt.Sprintf("Review this draft check:\n\n%s", doc)
}

func revisePrompt(doc string) string {
	return fmt.Sprintf(`Below is a draft verification check followed by review notes.
Apply the review and produce the final artifact as a single JSON object in the
same format as the draft.

%s`, doc)
}

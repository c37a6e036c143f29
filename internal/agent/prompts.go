// internal/agent/prompts.go
package agent

import (
	"fmt"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webprobe/api/schemas"
)

const decisionSystemPrompt = `You are an exploratory web tester driving a real browser.
You behave like a curious first-time visitor: you navigate, click, fill forms, and notice anything that looks broken, confusing, or inconsistent.
Each turn you receive the current page snapshot (title, URL, sanitized markup, and a numbered list of interactive elements), the testing goal, and your most recent actions with their outcomes.
Respond with a single JSON object describing your next action and nothing else.

Available actions:
    - navigate: Open a URL on the same site. Requires "target_href".
    - click_element: Click one element. Provide "target_text" with its exact visible text when it has any, and "target_href" for links. "target_element" may carry a CSS selector or the element's id.
    - fill_form: Type into form fields. Requires "fill_data", an object mapping a field's name, id, placeholder, or label to the value to enter.
    - analyze: Take a fresh look at the current page without changing it.
    - complete: Stop. Use it when the goal is met or there is nothing meaningful left to try.

Response schema:
{
  "reasoning": "why this action moves the goal forward",
  "action": "navigate | click_element | fill_form | analyze | complete",
  "target_text": "optional",
  "target_href": "optional",
  "target_element": "optional",
  "fill_data": {"field": "value"},
  "next_steps": ["optional short plan"],
  "confidence": "high | medium | low"
}

Guidance:
    - Only target elements that appear in the interactive element list.
    - Prefer links you have not visited yet. Do not repeat an action that just failed with the same target.
    - Use realistic but obviously fake data when filling forms (for example test@example.com).
    - Failed actions carry an error code. ELEMENT_NOT_FOUND and UNRESOLVED_TARGET mean the target did not match; VISIT_REFUSED means the page was already visited or the page budget is spent.`

const summarySystemPrompt = `You review the results of an automated exploratory test of a website.
Given the goal and the list of failed actions, write short, concrete recommendations for the site's developers in plain text.
Group related problems, name the affected pages, and keep it under 200 words. Do not invent failures that are not listed.`

// promptElement is the compact element form sent to the oracle.
type promptElement struct {
	Index       int    `json:"i"`
	Tag         string `json:"tag"`
	Text        string `json:"text,omitempty"`
	ID          string `json:"id,omitempty"`
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	Href        string `json:"href,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Role        string `json:"role,omitempty"`
	AriaLabel   string `json:"aria_label,omitempty"`
}

type promptHistory struct {
	Step       int    `json:"step"`
	Action     string `json:"action"`
	Target     string `json:"target,omitempty"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	ErrorCode  string `json:"error_code,omitempty"`
	Confidence string `json:"confidence,omitempty"`
}

// buildDecisionPrompt renders the user prompt for one decision.
func buildDecisionPrompt(in DecisionInput) (string, error) {
	elements := make([]promptElement, 0, len(in.Snapshot.InteractiveElements))
	for _, el := range in.Snapshot.InteractiveElements {
		elements = append(elements, promptElement{
			Index: el.Index, Tag: el.Tag, Text: el.Text, ID: el.ID, Type: el.Type, Name: el.Name,
			Href: el.Href, Placeholder: el.Placeholder, Role: el.Role, AriaLabel: el.AriaLabel,
		})
	}
	history := make([]promptHistory, 0, len(in.History))
	for _, r := range in.History {
		history = append(history, promptHistory{
			Step: r.Step, Action: string(r.Action), Target: r.Target, Success: r.Success,
			Error: r.Error, ErrorCode: r.ErrorCode, Confidence: string(r.Confidence),
		})
	}

	elementsJSON, err := json.MarshalToString(elements)
	if err != nil {
		return "", fmt.Errorf("failed to marshal elements: %w", err)
	}
	historyJSON, err := json.MarshalToString(history)
	if err != nil {
		return "", fmt.Errorf("failed to marshal history: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", in.Goal)
	if in.MaxSteps > 0 {
		fmt.Fprintf(&b, "Step: %d of %d\n", in.Step, in.MaxSteps)
	}
	fmt.Fprintf(&b, "\nCurrent page: %s\nTitle: %s\n", in.Snapshot.URL, in.Snapshot.Title)
	if in.Snapshot.Partial {
		b.WriteString("Note: the page had not finished loading when this snapshot was taken.\n")
	}
	fmt.Fprintf(&b, "\nInteractive elements (JSON):\n%s\n", elementsJSON)
	if len(in.Unvisited) > 0 {
		fmt.Fprintf(&b, "\nDiscovered pages not yet visited:\n- %s\n", strings.Join(in.Unvisited, "\n- "))
	}
	fmt.Fprintf(&b, "\nRecent actions (JSON, oldest first):\n%s\n", historyJSON)
	fmt.Fprintf(&b, "\nCleaned markup:\n%s\n", in.Snapshot.CleanedMarkup)
	if in.Snapshot.Truncated {
		b.WriteString("(markup truncated)\n")
	}
	b.WriteString("\nDetermine the next action. Respond with a single JSON object.")
	return b.String(), nil
}

func buildSummaryPrompt(goal string, failures []schemas.ActionRecord) (string, error) {
	history := make([]promptHistory, 0, len(failures))
	for _, r := range failures {
		history = append(history, promptHistory{
			Step: r.Step, Action: string(r.Action), Target: r.Target, Error: r.Error, ErrorCode: r.ErrorCode,
		})
	}
	data, err := json.MarshalToString(history)
	if err != nil {
		return "", fmt.Errorf("failed to marshal failures: %w", err)
	}
	return fmt.Sprintf("Goal: %s\n\nFailed actions (JSON):\n%s", goal, data), nil
}

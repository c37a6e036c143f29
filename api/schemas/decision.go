// api/schemas/decision.go
package schemas

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// DecisionKind enumerates the five actions the oracle may propose.
type DecisionKind string

const (
	KindNavigate DecisionKind = "navigate"
	KindClick    DecisionKind = "click_element"
	KindFill     DecisionKind = "fill_form"
	KindAnalyze  DecisionKind = "analyze"
	KindComplete DecisionKind = "complete"
)

// AllDecisionKinds lists the valid kinds in the order they are presented to the oracle.
var AllDecisionKinds = []DecisionKind{KindNavigate, KindClick, KindFill, KindAnalyze, KindComplete}

// Valid reports whether k is one of the five known kinds.
func (k DecisionKind) Valid() bool {
	switch k {
	case KindNavigate, KindClick, KindFill, KindAnalyze, KindComplete:
		return true
	}
	return false
}

// Confidence is the oracle's self-reported certainty.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// ParseConfidence maps free-form input onto a Confidence, defaulting to low.
func ParseConfidence(s string) Confidence {
	switch Confidence(strings.ToLower(strings.TrimSpace(s))) {
	case ConfidenceHigh:
		return ConfidenceHigh
	case ConfidenceMedium:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ClickPayload identifies the element a click_element decision refers to.
// At least one field is set.
type ClickPayload struct {
	TargetText    string `json:"target_text,omitempty"`
	TargetHref    string `json:"target_href,omitempty"`
	TargetElement string `json:"target_element,omitempty"`
}

// NavigatePayload carries the destination of a navigate decision.
type NavigatePayload struct {
	URL string `json:"url"`
}

// FillPayload maps form field identifiers to the values to type into them.
type FillPayload struct {
	Fields map[string]string `json:"fill_data"`
}

// Decision is a validated instruction from the oracle. Exactly one payload
// pointer is set for navigate, click_element and fill_form; analyze and
// complete carry none.
type Decision struct {
	Kind       DecisionKind     `json:"action"`
	Click      *ClickPayload    `json:"click,omitempty"`
	Navigate   *NavigatePayload `json:"navigate,omitempty"`
	Fill       *FillPayload     `json:"fill,omitempty"`
	Reasoning  string           `json:"reasoning"`
	Confidence Confidence       `json:"confidence"`
	NextSteps  []string         `json:"next_steps,omitempty"`
}

// NewNavigateDecision builds a navigate decision.
func NewNavigateDecision(url, reasoning string, c Confidence) Decision {
	return Decision{Kind: KindNavigate, Navigate: &NavigatePayload{URL: url}, Reasoning: reasoning, Confidence: c}
}

// NewClickDecision builds a click_element decision.
func NewClickDecision(p ClickPayload, reasoning string, c Confidence) Decision {
	return Decision{Kind: KindClick, Click: &p, Reasoning: reasoning, Confidence: c}
}

// NewFillDecision builds a fill_form decision.
func NewFillDecision(fields map[string]string, reasoning string, c Confidence) Decision {
	return Decision{Kind: KindFill, Fill: &FillPayload{Fields: fields}, Reasoning: reasoning, Confidence: c}
}

// AnalyzeFallback is the decision substituted for any oracle reply that cannot
// be parsed or validated.
func AnalyzeFallback(reason string) Decision {
	return Decision{
		Kind:       KindAnalyze,
		Reasoning:  fmt.Sprintf("<parse failure: %s>", reason),
		Confidence: ConfidenceLow,
	}
}

// Validate checks that the payload matches the kind.
func (d Decision) Validate() error {
	switch d.Kind {
	case KindNavigate:
		if d.Navigate == nil || strings.TrimSpace(d.Navigate.URL) == "" {
			return fmt.Errorf("navigate requires target_href")
		}
	case KindClick:
		if d.Click == nil || (d.Click.TargetText == "" && d.Click.TargetHref == "" && d.Click.TargetElement == "") {
			return fmt.Errorf("click_element requires one of target_text, target_href or target_element")
		}
	case KindFill:
		if d.Fill == nil || len(d.Fill.Fields) == 0 {
			return fmt.Errorf("fill_form requires non-empty fill_data")
		}
	case KindAnalyze, KindComplete:
	default:
		return fmt.Errorf("unknown action %q", d.Kind)
	}
	return nil
}

// Target renders the decision's target for logs and action records.
func (d Decision) Target() string {
	switch d.Kind {
	case KindNavigate:
		if d.Navigate != nil {
			return d.Navigate.URL
		}
	case KindClick:
		if d.Click != nil {
			switch {
			case d.Click.TargetText != "":
				return d.Click.TargetText
			case d.Click.TargetHref != "":
				return d.Click.TargetHref
			default:
				return d.Click.TargetElement
			}
		}
	case KindFill:
		if d.Fill != nil {
			return strings.Join(slices.Sorted(maps.Keys(d.Fill.Fields)), ",")
		}
	}
	return ""
}

// internal/llmutil/parser.go
package llmutil

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	json "github.com/json-iterator/go"
)

// ErrNoJSONObject is returned when a reply contains no brace-delimited object.
var ErrNoJSONObject = errors.New("no JSON object found in response")

// fencedBlock matches a markdown code fence, with or without a language tag.
// \x60 is a backtick; raw strings cannot contain one.
var fencedBlock = regexp.MustCompile("(?s)\x60\x60\x60[a-zA-Z]*\\s*(.*?)\\s*\x60\x60\x60")

// ExtractJSONObject strips markdown fences and surrounding prose from a model
// reply and returns the outermost {...} span.
func ExtractJSONObject(response string) (string, error) {
	body := strings.TrimSpace(response)
	if m := fencedBlock.FindStringSubmatch(body); len(m) > 1 {
		body = strings.TrimSpace(m[1])
	}
	first := strings.Index(body, "{")
	last := strings.LastIndex(body, "}")
	if first == -1 || last <= first {
		return "", ErrNoJSONObject
	}
	return body[first : last+1], nil
}

// ParseJSONResponse extracts the JSON object from a model reply and decodes it into T.
func ParseJSONResponse[T any](response string) (*T, error) {
	raw, err := ExtractJSONObject(response)
	if err != nil {
		return nil, err
	}
	var result T
	if err := json.ConfigCompatibleWithStandardLibrary.UnmarshalFromString(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal LLM JSON response: %w (extracted: %s)", err, Truncate(raw, 200))
	}
	return &result, nil
}

// Truncate cuts s to at most maxLen runes, appending "..." when it cut.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

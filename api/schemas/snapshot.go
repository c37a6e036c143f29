// api/schemas/snapshot.go
package schemas

import "time"

// PageSnapshot is a sanitized, bounded capture of a single page. It is rebuilt
// on every iteration of a session and only persisted when embedded in a report.
type PageSnapshot struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	CleanedMarkup string `json:"cleanedMarkup"`
	// InteractiveElements are ordered by selector declaration order, then
	// document order within each selector.
	InteractiveElements []ElementDescriptor `json:"interactiveElements"`
	Timestamp           time.Time           `json:"timestamp"`
	// Truncated is set when the cleaned markup was cut to fit the token budget.
	Truncated bool `json:"truncated,omitempty"`
	// Partial is set when the page did not settle before the settle timeout.
	Partial bool `json:"partial,omitempty"`
}

// ElementDescriptor describes one interactive element found on a page.
// No two descriptors in a snapshot share the same (Text, Href, ID) triple.
type ElementDescriptor struct {
	Index       int    `json:"index"`
	Tag         string `json:"tag"`
	Text        string `json:"text,omitempty"`
	ID          string `json:"id,omitempty"`
	Class       string `json:"class,omitempty"`
	Type        string `json:"type,omitempty"`
	Name        string `json:"name,omitempty"`
	Href        string `json:"href,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Value       string `json:"value,omitempty"`
	Role        string `json:"role,omitempty"`
	AriaLabel   string `json:"ariaLabel,omitempty"`
}

// DedupKey returns the identity triple used for snapshot deduplication.
func (e ElementDescriptor) DedupKey() [3]string {
	return [3]string{e.Text, e.Href, e.ID}
}

// Label returns the most human readable name for the element, falling back
// from visible text to aria-label, placeholder, name and id.
func (e ElementDescriptor) Label() string {
	for _, s := range []string{e.Text, e.AriaLabel, e.Placeholder, e.Name, e.ID} {
		if s != "" {
			return s
		}
	}
	return ""
}

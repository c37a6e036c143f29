// internal/agent/resolver.go
package agent

import (
	"fmt"
	"net/url"
	"strings"

	json "github.com/json-iterator/go"

	"github.com/xkilldash9x/webprobe/api/schemas"
	"github.com/xkilldash9x/webprobe/internal/snapshot"
)

// AttemptKind selects how an Attempt is carried out against the page.
type AttemptKind int

const (
	// AttemptScript evaluates Script, which clicks the match itself and
	// returns true, or returns false when nothing matched.
	AttemptScript AttemptKind = iota
	// AttemptClick clicks the first element matching Selector.
	AttemptClick
	// AttemptNavigate loads URL directly.
	AttemptNavigate
)

func (k AttemptKind) String() string {
	switch k {
	case AttemptScript:
		return "script"
	case AttemptClick:
		return "click"
	case AttemptNavigate:
		return "navigate"
	}
	return "unknown"
}

// Attempt is one concrete way of acting on a click target.
type Attempt struct {
	Strategy string
	Kind     AttemptKind
	Script   string
	Selector string
	URL      string
}

// Strategy turns a click target into an Attempt, or reports that it does not apply.
type Strategy struct {
	Name    string
	Resolve func(snap *schemas.PageSnapshot, target schemas.ClickPayload) (Attempt, bool)
}

// ClickStrategies are tried in this order; the first attempt that succeeds wins.
var ClickStrategies = []Strategy{
	{Name: "exact_text", Resolve: resolveExactText},
	{Name: "partial_text", Resolve: resolvePartialText},
	{Name: "exact_href", Resolve: resolveExactHref},
	{Name: "path_href", Resolve: resolvePathHref},
	{Name: "descriptor_selector", Resolve: resolveDescriptorSelector},
	{Name: "href_navigation", Resolve: resolveHrefNavigation},
}

// ResolveClick returns the applicable attempts for target in strategy order.
// It does not touch the page.
func ResolveClick(snap *schemas.PageSnapshot, target schemas.ClickPayload) []Attempt {
	var attempts []Attempt
	for _, s := range ClickStrategies {
		a, ok := s.Resolve(snap, target)
		if !ok {
			continue
		}
		a.Strategy = s.Name
		attempts = append(attempts, a)
	}
	return attempts
}

// -- Text Strategies --

// textClickScript finds the first interactive element whose normalized text
// satisfies the comparison, clicks it and returns true.
const textClickScript = `(() => {
  const wanted = %s;
  const partial = %t;
  const norm = (s) => (s || '').replace(/\s+/g, ' ').trim();
  const needle = partial ? norm(wanted).toLowerCase() : norm(wanted);
  for (const el of document.querySelectorAll(%s)) {
    const text = norm(el.innerText || el.textContent || el.value);
    const hit = partial ? text.toLowerCase().includes(needle) : text === needle;
    if (hit) {
      el.scrollIntoView({block: 'center'});
      el.click();
      return true;
    }
  }
  return false;
})()`

func resolveExactText(snap *schemas.PageSnapshot, target schemas.ClickPayload) (Attempt, bool) {
	text := normalizeSpace(target.TargetText)
	if text == "" {
		return Attempt{}, false
	}
	// Only applies when the snapshot shows an element with exactly this text.
	if _, ok := findDescriptor(snap, func(el schemas.ElementDescriptor) bool {
		return normalizeSpace(el.Text) == text
	}); !ok {
		return Attempt{}, false
	}
	return Attempt{Kind: AttemptScript, Script: textScript(text, false)}, true
}

func resolvePartialText(_ *schemas.PageSnapshot, target schemas.ClickPayload) (Attempt, bool) {
	text := normalizeSpace(target.TargetText)
	if text == "" {
		return Attempt{}, false
	}
	return Attempt{Kind: AttemptScript, Script: textScript(text, true)}, true
}

func textScript(text string, partial bool) string {
	return fmt.Sprintf(textClickScript, jsString(text), partial, jsString(snapshot.SelectorList()))
}

// -- Href Strategies --

const pathClickScript = `(() => {
  const wanted = %s;
  for (const a of document.querySelectorAll('a[href]')) {
    let path;
    try { path = new URL(a.getAttribute('href'), location.href).pathname; } catch (e) { continue; }
    if (path === wanted) {
      a.scrollIntoView({block: 'center'});
      a.click();
      return true;
    }
  }
  return false;
})()`

func resolveExactHref(_ *schemas.PageSnapshot, target schemas.ClickPayload) (Attempt, bool) {
	href := strings.TrimSpace(target.TargetHref)
	if href == "" {
		return Attempt{}, false
	}
	return Attempt{Kind: AttemptClick, Selector: fmt.Sprintf(`a[href="%s"]`, cssQuote(href))}, true
}

func resolvePathHref(snap *schemas.PageSnapshot, target schemas.ClickPayload) (Attempt, bool) {
	href := strings.TrimSpace(target.TargetHref)
	if href == "" {
		return Attempt{}, false
	}
	u, err := url.Parse(resolveAgainst(snap, href))
	if err != nil {
		return Attempt{}, false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return Attempt{Kind: AttemptScript, Script: fmt.Sprintf(pathClickScript, jsString(path))}, true
}

func resolveHrefNavigation(snap *schemas.PageSnapshot, target schemas.ClickPayload) (Attempt, bool) {
	href := strings.TrimSpace(target.TargetHref)
	if href == "" {
		return Attempt{}, false
	}
	return Attempt{Kind: AttemptNavigate, URL: resolveAgainst(snap, href)}, true
}

// resolveAgainst resolves href against the snapshot URL when there is one.
func resolveAgainst(snap *schemas.PageSnapshot, href string) string {
	if snap == nil || snap.URL == "" {
		return href
	}
	base, err := url.Parse(snap.URL)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// -- Descriptor Strategy --

func resolveDescriptorSelector(snap *schemas.PageSnapshot, target schemas.ClickPayload) (Attempt, bool) {
	el, ok := findDescriptor(snap, func(el schemas.ElementDescriptor) bool {
		switch {
		case target.TargetElement != "" && (el.ID == target.TargetElement || el.Name == target.TargetElement):
			return true
		case target.TargetText != "" && normalizeSpace(el.Text) == normalizeSpace(target.TargetText):
			return true
		case target.TargetHref != "" && el.Href == target.TargetHref:
			return true
		}
		return false
	})
	if ok {
		if sel := descriptorSelector(el); sel != "" {
			return Attempt{Kind: AttemptClick, Selector: sel}, true
		}
	}
	// A target_element that matched no descriptor is taken as a raw selector.
	if sel := strings.TrimSpace(target.TargetElement); sel != "" {
		return Attempt{Kind: AttemptClick, Selector: sel}, true
	}
	return Attempt{}, false
}

func descriptorSelector(el schemas.ElementDescriptor) string {
	switch {
	case el.ID != "":
		return fmt.Sprintf(`[id="%s"]`, cssQuote(el.ID))
	case el.Name != "":
		return fmt.Sprintf(`%s[name="%s"]`, el.Tag, cssQuote(el.Name))
	case el.Type != "":
		return fmt.Sprintf(`%s[type="%s"]`, el.Tag, cssQuote(el.Type))
	}
	return ""
}

// -- Helpers --

func findDescriptor(snap *schemas.PageSnapshot, match func(schemas.ElementDescriptor) bool) (schemas.ElementDescriptor, bool) {
	if snap == nil {
		return schemas.ElementDescriptor{}, false
	}
	for _, el := range snap.InteractiveElements {
		if match(el) {
			return el, true
		}
	}
	return schemas.ElementDescriptor{}, false
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// cssQuote escapes s for use inside a double quoted CSS attribute value.
func cssQuote(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// jsString renders s as a JavaScript string literal.
func jsString(s string) string {
	out, err := json.MarshalToString(s)
	if err != nil {
		return `""`
	}
	return out
}

// internal/snapshot/selectors.go
package snapshot

import (
	"strings"

	"golang.org/x/net/html"
)

// selector is one entry of the interactive element enumeration table.
type selector struct {
	name  string
	match func(n *html.Node) bool
}

// interactiveSelectors is enumerated in order. An element matched by an
// earlier selector is not enumerated again by a later one.
var interactiveSelectors = []selector{
	{"input", tagIs("input")},
	{"select", tagIs("select")},
	{"textarea", tagIs("textarea")},
	{"button", tagIs("button")},
	{"a[href]", func(n *html.Node) bool { return n.Data == "a" && hasAttr(n, "href") }},
	{"[onclick]", func(n *html.Node) bool { return hasAttr(n, "onclick") }},
	{"[role=button]", attrEquals("role", "button")},
	{"[role=link]", attrEquals("role", "link")},
	{".btn", hasClass("btn")},
	{".button", hasClass("button")},
	{"[data-testid]", func(n *html.Node) bool { return hasAttr(n, "data-testid") }},
}

// keptAttributes is the allow-list retained on interactive elements.
var keptAttributes = map[string]struct{}{
	"id": {}, "class": {}, "type": {}, "name": {}, "href": {}, "placeholder": {},
	"value": {}, "role": {}, "aria-label": {}, "data-testid": {}, "for": {},
	"action": {}, "method": {},
}

// strippedElements are removed from the tree together with their subtrees.
var strippedElements = map[string]struct{}{
	"script": {}, "style": {}, "meta": {}, "noscript": {}, "template": {},
}

func tagIs(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == tag }
}

func attrEquals(key, value string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		v, ok := attr(n, key)
		return ok && strings.EqualFold(strings.TrimSpace(v), value)
	}
}

func hasClass(class string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		v, ok := attr(n, "class")
		if !ok {
			return false
		}
		for _, c := range strings.Fields(v) {
			if c == class {
				return true
			}
		}
		return false
	}
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := attr(n, key)
	return ok
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func isInteractive(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, s := range interactiveSelectors {
		if s.match(n) {
			return true
		}
	}
	return false
}

// isStripped reports whether n is a non-semantic node removed during sanitization.
func isStripped(n *html.Node) bool {
	switch n.Type {
	case html.CommentNode:
		return true
	case html.ElementNode:
		if _, ok := strippedElements[n.Data]; ok {
			return true
		}
		if n.Data == "link" {
			rel, _ := attr(n, "rel")
			return strings.Contains(strings.ToLower(rel), "stylesheet")
		}
	}
	return false
}

// walk visits element nodes in document order.
func walk(n *html.Node, fn func(*html.Node)) {
	if n.Type == html.ElementNode {
		fn(n)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, fn)
	}
}

// SelectorList returns the interactive selectors as one CSS selector group.
func SelectorList() string {
	names := make([]string, 0, len(interactiveSelectors))
	for _, s := range interactiveSelectors {
		names = append(names, s.name)
	}
	return strings.Join(names, ", ")
}

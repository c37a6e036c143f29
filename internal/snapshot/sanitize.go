// internal/snapshot/sanitize.go
package snapshot

import (
	"bytes"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// structuralElements keep allow-listed attributes without being enumerated.
var structuralElements = map[string]struct{}{"form": {}, "label": {}}

var (
	interTagSpace = regexp.MustCompile(`>\s+<`)
	spaceRun      = regexp.MustCompile(`\s{2,}`)
)

// sanitize removes non-semantic nodes and strips attributes in place. Interactive
// elements keep the allow-listed attributes; every other element keeps none.
func sanitize(root *html.Node) {
	var remove []*html.Node
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if isStripped(c) {
				remove = append(remove, c)
				continue
			}
			visit(c)
		}
	}
	visit(root)
	for _, n := range remove {
		n.Parent.RemoveChild(n)
	}

	walk(root, func(n *html.Node) {
		if _, structural := structuralElements[n.Data]; !structural && !isInteractive(n) {
			n.Attr = nil
			return
		}
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			if _, ok := keptAttributes[a.Key]; ok && a.Namespace == "" {
				if a.Key == "href" && isScriptURL(a.Val) {
					continue
				}
				kept = append(kept, a)
			}
		}
		n.Attr = kept
	})
}

func isScriptURL(v string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(v)), "javascript:")
}

// renderMarkup serializes the body (or the whole document if there is no body)
// with insignificant whitespace collapsed.
func renderMarkup(doc *html.Node) (string, error) {
	target := findElement(doc, "body")
	if target == nil {
		target = doc
	}
	var buf bytes.Buffer
	for c := target.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	out := interTagSpace.ReplaceAllString(buf.String(), "><")
	out = spaceRun.ReplaceAllString(out, " ")
	return strings.TrimSpace(out), nil
}

func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// innerText returns the collapsed visible text of n.
func innerText(n *html.Node) string {
	var b strings.Builder
	var collect func(*html.Node)
	collect = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			collect(c)
		}
	}
	collect(n)
	return strings.Join(strings.Fields(b.String()), " ")
}

// truncateRunes cuts s to at most max runes.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

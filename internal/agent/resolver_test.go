// internal/agent/resolver_test.go
package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webprobe/api/schemas"
)

func strategies(attempts []Attempt) []string {
	out := make([]string, 0, len(attempts))
	for _, a := range attempts {
		out = append(out, a.Strategy)
	}
	return out
}

func TestResolveClick_Order(t *testing.T) {
	snap := &schemas.PageSnapshot{
		URL: "https://example.com/shop/",
		InteractiveElements: []schemas.ElementDescriptor{
			{Tag: "a", Text: "Checkout", Href: "cart?step=2", ID: "checkout"},
		},
	}
	attempts := ResolveClick(snap, schemas.ClickPayload{TargetText: "Checkout", TargetHref: "cart?step=2"})

	assert.Equal(t, []string{
		"exact_text", "partial_text", "exact_href", "path_href", "descriptor_selector", "href_navigation",
	}, strategies(attempts))

	byName := map[string]Attempt{}
	for _, a := range attempts {
		byName[a.Strategy] = a
	}
	assert.Equal(t, AttemptScript, byName["exact_text"].Kind)
	assert.Contains(t, byName["exact_text"].Script, `"Checkout"`)
	assert.Equal(t, `a[href="cart?step=2"]`, byName["exact_href"].Selector)
	assert.Contains(t, byName["path_href"].Script, `"/shop/cart"`)
	assert.Equal(t, `[id="checkout"]`, byName["descriptor_selector"].Selector)
	assert.Equal(t, AttemptNavigate, byName["href_navigation"].Kind)
	assert.Equal(t, "https://example.com/shop/cart?step=2", byName["href_navigation"].URL)
}

func TestResolveClick_ExactTextNeedsSnapshotMatch(t *testing.T) {
	snap := &schemas.PageSnapshot{InteractiveElements: []schemas.ElementDescriptor{{Tag: "button", Text: "Add  to\ncart"}}}

	assert.Equal(t, []string{"exact_text", "partial_text"},
		strategies(ResolveClick(snap, schemas.ClickPayload{TargetText: "Add to cart"})),
		"whitespace is normalized")
	assert.Equal(t, []string{"partial_text"},
		strategies(ResolveClick(snap, schemas.ClickPayload{TargetText: "Add"})))
}

func TestResolveClick_DescriptorSelectorFallbacks(t *testing.T) {
	snap := &schemas.PageSnapshot{InteractiveElements: []schemas.ElementDescriptor{
		{Tag: "input", Name: "q", Type: "search"},
		{Tag: "input", Type: "submit", Text: "Go"},
	}}

	a := ResolveClick(snap, schemas.ClickPayload{TargetElement: "q"})
	require.Len(t, a, 1)
	assert.Equal(t, `input[name="q"]`, a[0].Selector)

	a = ResolveClick(snap, schemas.ClickPayload{TargetText: "Go"})
	require.Len(t, a, 3)
	assert.Equal(t, `input[type="submit"]`, a[2].Selector)

	a = ResolveClick(snap, schemas.ClickPayload{TargetElement: "form > button.primary"})
	require.Len(t, a, 1)
	assert.Equal(t, "form > button.primary", a[0].Selector, "unknown targets are used as raw selectors")
}

func TestResolveClick_NothingApplies(t *testing.T) {
	assert.Empty(t, ResolveClick(nil, schemas.ClickPayload{}))
}

func TestCSSQuote(t *testing.T) {
	assert.Equal(t, `say \"hi\" \\ bye`, cssQuote(`say "hi" \ bye`))
}

func TestJSStringEscapes(t *testing.T) {
	assert.Equal(t, `"it's \"quoted\"\n"`, jsString("it's \"quoted\"\n"))
}

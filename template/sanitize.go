package template

import (
	"html"
	"regexp"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleBlockRe  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	scriptTagRe   = regexp.MustCompile(`(?i)</?script\b[^>]*>`)
	styleTagRe    = regexp.MustCompile(`(?i)</?style\b[^>]*>`)
)

// StripDangerous removes script and style blocks after decoding HTML
// entities. The stripping loop reruns until the input stabilizes so inputs
// assembled to survive a single pass (for example `<scr<script>ipt>`) still
// come out clean.
func StripDangerous(input string) string {
	s := html.UnescapeString(input)
	for {
		next := scriptBlockRe.ReplaceAllString(s, "")
		next = styleBlockRe.ReplaceAllString(next, "")
		next = scriptTagRe.ReplaceAllString(next, "")
		next = styleTagRe.ReplaceAllString(next, "")
		if next == s {
			return s
		}
		s = next
	}
}

var (
	inAppPolicyOnce sync.Once
	inAppPolicyInst *bluemonday.Policy

	strictPolicyOnce sync.Once
	strictPolicyInst *bluemonday.Policy
)

// inAppPolicy is the restricted allow-list for in-app HTML: structural and
// inline formatting elements plus anchors. No tables, images, iframes,
// forms, style attributes, or event handlers; javascript: URLs are rejected
// by the URL scheme allow-list. External anchors gain target="_blank" and
// rel="noopener noreferrer".
func inAppPolicy() *bluemonday.Policy {
	inAppPolicyOnce.Do(func() {
		p := bluemonday.NewPolicy()
		p.AllowElements(
			"p", "br", "hr", "b", "strong", "i", "em", "u", "s",
			"ul", "ol", "li", "h1", "h2", "h3", "h4", "h5", "h6",
			"blockquote", "code", "pre", "span", "div", "a",
		)
		p.AllowAttrs("href").OnElements("a")
		p.AllowStandardURLs()
		p.AddTargetBlankToFullyQualifiedLinks(true)
		p.RequireNoReferrerOnFullyQualifiedLinks(true)
		inAppPolicyInst = p
	})
	return inAppPolicyInst
}

func strictPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicyInst = bluemonday.StrictPolicy()
	})
	return strictPolicyInst
}

var externalAnchorRe = regexp.MustCompile(`<a ([^>]*target="_blank"[^>]*)>`)

// SanitizeInApp produces in-app safe HTML: dangerous blocks are stripped,
// the allow-list policy is applied, and external anchors are tagged with
// data-external-link for the client renderer.
func SanitizeInApp(input string) string {
	out := inAppPolicy().Sanitize(StripDangerous(input))
	return externalAnchorRe.ReplaceAllString(out, `<a $1 data-external-link="true">`)
}

var whitespaceRe = regexp.MustCompile(`\s+`)

// StripHTML removes every tag and collapses whitespace, yielding plain text
// suitable for SMS bodies.
func StripHTML(input string) string {
	text := strictPolicy().Sanitize(StripDangerous(input))
	text = html.UnescapeString(text)
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

package template

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/xnovu/worker/api"
)

// ValidationResult reports whether a template is usable and why not.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

var emptyPlaceholderRe = regexp.MustCompile(`\{\{\s*\}\}`)

// Validate checks a template body (and optional subject template) for
// structural problems: unbalanced or empty mustaches, malformed render-call
// arguments, unresolvable referenced templates, and channel rule
// violations. Validation never renders; it only inspects.
func (r *Renderer) Validate(ctx context.Context, body string, subject *string, channel api.Channel, tenant *string) ValidationResult {
	var errs []string

	calls := findRenderCalls(body)
	remainder := cutSpans(body, calls)
	for _, call := range calls {
		if call.Err != nil {
			errs = append(errs, fmt.Sprintf("malformed render call for %q: %v", call.Key, call.Err))
			continue
		}
		if r.Loader != nil {
			tmpl, err := r.Loader.Load(ctx, call.Key, tenant)
			if err != nil {
				errs = append(errs, fmt.Sprintf("resolve template %q: %v", call.Key, err))
			} else if tmpl == nil || !tmpl.Resolvable(tenant) {
				errs = append(errs, fmt.Sprintf("unknown template %q", call.Key))
			}
		}
	}

	if opening, closing := strings.Count(remainder, "{{"), strings.Count(remainder, "}}"); opening != closing {
		errs = append(errs, fmt.Sprintf("unbalanced placeholders: %d opening vs %d closing", opening, closing))
	}
	if emptyPlaceholderRe.MatchString(remainder) {
		errs = append(errs, "empty placeholder {{ }}")
	}

	switch channel {
	case api.ChannelEmail:
		if subject != nil && strings.Contains(strings.ToLower(*subject), "<script") {
			errs = append(errs, "subject template contains a script tag")
		}
	}
	if subject != nil {
		if o, c := strings.Count(*subject, "{{"), strings.Count(*subject, "}}"); o != c {
			errs = append(errs, "unbalanced placeholders in subject template")
		}
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// cutSpans removes the render-call spans from s so placeholder balance
// checks do not trip over braces inside call arguments.
func cutSpans(s string, calls []renderCall) string {
	if len(calls) == 0 {
		return s
	}
	var b strings.Builder
	last := 0
	for _, c := range calls {
		b.WriteString(s[last:c.Start])
		last = c.End
	}
	b.WriteString(s[last:])
	return b.String()
}

package template

import (
	"context"
	"strings"

	"github.com/xnovu/worker/api"
)

const (
	// defaultMaxDepth caps recursive template expansion. A self-referential
	// template terminates at the cap with an error placeholder.
	defaultMaxDepth = 10

	// defaultErrorPlaceholder replaces a render call that failed; it is
	// itself interpolated with the failing template key.
	defaultErrorPlaceholder = "[Template Error: {{key}}]"
)

type (
	// RenderIssue records one non-fatal rendering failure. Rendering always
	// produces output; issues explain the placeholders in it.
	RenderIssue struct {
		Kind        api.ErrorKind
		TemplateKey string
		Message     string
	}

	// Result is the outcome of a render: the output string plus any issues
	// encountered while producing it.
	Result struct {
		Output string
		Issues []RenderIssue
	}

	// Renderer expands render calls recursively and interpolates variables.
	// The zero MaxDepth and ErrorPlaceholder take the package defaults.
	Renderer struct {
		Loader           Loader
		MaxDepth         int
		ErrorPlaceholder string
	}

	// frame is one unit of the explicit expansion worklist: a body to
	// expand at a given depth with a given variable bag.
	frame struct {
		body  string
		vars  map[string]any
		depth int
	}
)

// NewRenderer constructs a Renderer over the loader with default limits.
func NewRenderer(loader Loader) *Renderer {
	return &Renderer{Loader: loader}
}

// Render expands every xnovu_render call in body, innermost templates
// loading through the renderer's Loader, then interpolates the remaining
// variable placeholders. Rendering terminates for every input: the depth
// guard bounds expansion and failed calls collapse to the error placeholder.
func (r *Renderer) Render(ctx context.Context, body string, vars map[string]any, tenant *string) Result {
	res := Result{}
	res.Output = r.renderFrame(ctx, frame{body: body, vars: vars, depth: 0}, tenant, &res.Issues)
	return res
}

// renderFrame expands one body. Recursion is bounded by the depth counter so
// the call stack never exceeds MaxDepth frames regardless of input.
func (r *Renderer) renderFrame(ctx context.Context, f frame, tenant *string, issues *[]RenderIssue) string {
	calls := findRenderCalls(f.body)
	if len(calls) == 0 {
		return Interpolate(f.body, f.vars)
	}

	maxDepth := r.MaxDepth
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	var b strings.Builder
	last := 0
	for _, call := range calls {
		b.WriteString(f.body[last:call.Start])
		last = call.End
		b.WriteString(r.expandCall(ctx, call, f, maxDepth, tenant, issues))
	}
	b.WriteString(f.body[last:])
	return Interpolate(b.String(), f.vars)
}

func (r *Renderer) expandCall(ctx context.Context, call renderCall, f frame, maxDepth int, tenant *string, issues *[]RenderIssue) string {
	if call.Err != nil {
		*issues = append(*issues, RenderIssue{
			Kind:        api.KindTemplateMalformed,
			TemplateKey: call.Key,
			Message:     call.Err.Error(),
		})
		return r.placeholder(call.Key)
	}
	if f.depth+1 > maxDepth {
		*issues = append(*issues, RenderIssue{
			Kind:        api.KindTemplateCycle,
			TemplateKey: call.Key,
			Message:     "max render depth exceeded",
		})
		return r.placeholder(call.Key)
	}

	tmpl, err := r.Loader.Load(ctx, call.Key, tenant)
	if err != nil {
		*issues = append(*issues, RenderIssue{
			Kind:        api.KindTemplateNotFound,
			TemplateKey: call.Key,
			Message:     err.Error(),
		})
		return r.placeholder(call.Key)
	}
	if tmpl == nil || !tmpl.Resolvable(tenant) {
		*issues = append(*issues, RenderIssue{
			Kind:        api.KindTemplateNotFound,
			TemplateKey: call.Key,
			Message:     "template not resolvable in tenant context",
		})
		return r.placeholder(call.Key)
	}

	// Child variables: the parent bag overridden by the call's literal bag.
	merged := make(map[string]any, len(f.vars)+len(call.Vars))
	for k, v := range f.vars {
		merged[k] = v
	}
	for k, v := range call.Vars {
		merged[k] = v
	}
	return r.renderFrame(ctx, frame{body: tmpl.BodyTemplate, vars: merged, depth: f.depth + 1}, tenant, issues)
}

func (r *Renderer) placeholder(key string) string {
	ph := r.ErrorPlaceholder
	if ph == "" {
		ph = defaultErrorPlaceholder
	}
	return Interpolate(ph, map[string]any{"key": key})
}

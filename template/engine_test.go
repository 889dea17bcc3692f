package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xnovu/worker/api"
)

// mapLoader serves templates from a fixed map, keyed by template key.
type mapLoader struct {
	templates map[string]*api.Template
	loads     int
}

func (l *mapLoader) Load(_ context.Context, key string, _ *string) (*api.Template, error) {
	l.loads++
	return l.templates[key], nil
}

func tmpl(key, body string) *api.Template {
	return &api.Template{
		TemplateKey:   key,
		BodyTemplate:  body,
		PublishStatus: api.PublishStatusPublish,
		Deactivated:   false,
	}
}

func TestRenderFlatTemplate(t *testing.T) {
	r := NewRenderer(&mapLoader{})
	res := r.Render(context.Background(), "Hi {{userName}}!", map[string]any{"userName": "Ada"}, nil)
	assert.Equal(t, "Hi Ada!", res.Output)
	assert.Empty(t, res.Issues)
}

func TestRenderNestedTemplates(t *testing.T) {
	loader := &mapLoader{templates: map[string]*api.Template{
		"header": tmpl("header", "<h1>{{title}}</h1>"),
		"footer": tmpl("footer", "<p>Bye {{userName}}</p>"),
	}}
	r := NewRenderer(loader)

	body := "{{ xnovu_render('header', { title: 'Welcome' }) }}\nHi {{userName}}\n{{ xnovu_render('footer') }}"
	res := r.Render(context.Background(), body, map[string]any{"userName": "Ada"}, nil)

	require.Empty(t, res.Issues)
	assert.Equal(t, "<h1>Welcome</h1>\nHi Ada\n<p>Bye Ada</p>", res.Output)
}

func TestRenderCallVarsOverrideParentVars(t *testing.T) {
	loader := &mapLoader{templates: map[string]*api.Template{
		"line": tmpl("line", "{{greeting}} {{userName}}"),
	}}
	r := NewRenderer(loader)

	body := "{{ xnovu_render('line', { greeting: 'Hello' }) }}"
	res := r.Render(context.Background(), body, map[string]any{
		"greeting": "Yo",
		"userName": "Ada",
	}, nil)

	require.Empty(t, res.Issues)
	assert.Equal(t, "Hello Ada", res.Output)
}

func TestRenderDeepChain(t *testing.T) {
	loader := &mapLoader{templates: map[string]*api.Template{
		"a": tmpl("a", "A[{{ xnovu_render('b', {}) }}]"),
		"b": tmpl("b", "B[{{ xnovu_render('c', {}) }}]"),
		"c": tmpl("c", "C:{{v}}"),
	}}
	r := NewRenderer(loader)

	res := r.Render(context.Background(), "{{ xnovu_render('a', {}) }}", map[string]any{"v": "x"}, nil)

	require.Empty(t, res.Issues)
	assert.Equal(t, "A[B[C:x]]", res.Output)
}

func TestRenderCycleTerminates(t *testing.T) {
	loader := &mapLoader{templates: map[string]*api.Template{
		"loop": tmpl("loop", "again {{ xnovu_render('loop', {}) }}"),
	}}
	r := NewRenderer(loader)

	res := r.Render(context.Background(), "{{ xnovu_render('loop', {}) }}", nil, nil)

	assert.Contains(t, res.Output, "[Template Error: loop]")
	require.NotEmpty(t, res.Issues)
	last := res.Issues[len(res.Issues)-1]
	assert.Equal(t, api.KindTemplateCycle, last.Kind)
	assert.Equal(t, "loop", last.TemplateKey)
}

func TestRenderDepthCap(t *testing.T) {
	loader := &mapLoader{templates: map[string]*api.Template{
		"deep": tmpl("deep", "{{ xnovu_render('deep', {}) }}"),
	}}
	r := &Renderer{Loader: loader, MaxDepth: 3}

	res := r.Render(context.Background(), "{{ xnovu_render('deep', {}) }}", nil, nil)

	assert.Equal(t, "[Template Error: deep]", res.Output)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, api.KindTemplateCycle, res.Issues[0].Kind)
	// Expansion stopped at the cap, not after exhausting the loader.
	assert.Equal(t, 3, loader.loads)
}

func TestRenderUnknownTemplate(t *testing.T) {
	r := NewRenderer(&mapLoader{})

	res := r.Render(context.Background(), "before {{ xnovu_render('ghost', {}) }} after", nil, nil)

	assert.Equal(t, "before [Template Error: ghost] after", res.Output)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, api.KindTemplateNotFound, res.Issues[0].Kind)
	assert.Equal(t, "ghost", res.Issues[0].TemplateKey)
}

func TestRenderUnpublishedTemplateNotResolvable(t *testing.T) {
	draft := tmpl("draft", "hidden")
	draft.PublishStatus = api.PublishStatusDraft
	r := NewRenderer(&mapLoader{templates: map[string]*api.Template{"draft": draft}})

	res := r.Render(context.Background(), "{{ xnovu_render('draft', {}) }}", nil, nil)

	assert.Equal(t, "[Template Error: draft]", res.Output)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, api.KindTemplateNotFound, res.Issues[0].Kind)
}

func TestRenderMalformedCall(t *testing.T) {
	r := NewRenderer(&mapLoader{})

	res := r.Render(context.Background(), "x {{ xnovu_render('bad', { a: ) }} y", nil, nil)

	assert.Equal(t, "x [Template Error: bad] y", res.Output)
	require.Len(t, res.Issues, 1)
	assert.Equal(t, api.KindTemplateMalformed, res.Issues[0].Kind)
}

func TestRenderCustomErrorPlaceholder(t *testing.T) {
	r := &Renderer{Loader: &mapLoader{}, ErrorPlaceholder: "<!-- {{key}} missing -->"}

	res := r.Render(context.Background(), "{{ xnovu_render('gone', {}) }}", nil, nil)

	assert.Equal(t, "<!-- gone missing -->", res.Output)
}

func TestRenderIsIdempotentOnOutput(t *testing.T) {
	loader := &mapLoader{templates: map[string]*api.Template{
		"part": tmpl("part", "p={{v}}"),
	}}
	r := NewRenderer(loader)
	vars := map[string]any{"v": "1"}

	once := r.Render(context.Background(), "{{ xnovu_render('part', {}) }}", vars, nil)
	twice := r.Render(context.Background(), once.Output, vars, nil)

	assert.Equal(t, once.Output, twice.Output)
	assert.Empty(t, twice.Issues)
}

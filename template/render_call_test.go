package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindRenderCallsQuoteStyles(t *testing.T) {
	cases := []struct {
		name string
		in   string
		key  string
		vars map[string]any
	}{
		{
			"single quotes",
			`{{ xnovu_render('header', { title: 'Hello' }) }}`,
			"header",
			map[string]any{"title": "Hello"},
		},
		{
			"double quotes",
			`{{ xnovu_render("header", { "title": "Hello" }) }}`,
			"header",
			map[string]any{"title": "Hello"},
		},
		{
			"backticks",
			"{{ xnovu_render(`header`, { title: `Hello` }) }}",
			"header",
			map[string]any{"title": "Hello"},
		},
		{
			"no variable object",
			`{{ xnovu_render('footer') }}`,
			"footer",
			map[string]any{},
		},
		{
			"nested values",
			`{{ xnovu_render('card', { user: { name: 'Ada', tags: ['a', 'b'] }, n: 2, ok: true, none: null }) }}`,
			"card",
			map[string]any{
				"user": map[string]any{"name": "Ada", "tags": []any{"a", "b"}},
				"n":    float64(2),
				"ok":   true,
				"none": nil,
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := findRenderCalls(tc.in)
			require.Len(t, calls, 1)
			call := calls[0]
			require.NoError(t, call.Err)
			assert.Equal(t, tc.key, call.Key)
			assert.Equal(t, tc.vars, call.Vars)
			assert.Equal(t, 0, call.Start)
			assert.Equal(t, len(tc.in), call.End)
		})
	}
}

func TestFindRenderCallsMultiple(t *testing.T) {
	in := `a {{ xnovu_render('one', {}) }} b {{ xnovu_render('two', {}) }} c`
	calls := findRenderCalls(in)
	require.Len(t, calls, 2)
	assert.Equal(t, "one", calls[0].Key)
	assert.Equal(t, "two", calls[1].Key)
	assert.Less(t, calls[0].End, calls[1].Start)
}

func TestFindRenderCallsMalformed(t *testing.T) {
	cases := []string{
		`{{ xnovu_render('k', { broken ) }}`,
		`{{ xnovu_render('k', { a: }) }}`,
		`{{ xnovu_render(noquotes, {}) }}`,
		`{{ xnovu_render('k', { a: 'unterminated }) }}`,
	}
	for _, in := range cases {
		calls := findRenderCalls(in)
		require.Len(t, calls, 1, in)
		assert.Error(t, calls[0].Err, in)
	}
}

func TestFindRenderCallsIgnoresPlainPlaceholders(t *testing.T) {
	assert.Empty(t, findRenderCalls("Hi {{userName}}, {{ count }} items"))
}

func TestFindRenderCallsEscapes(t *testing.T) {
	calls := findRenderCalls(`{{ xnovu_render('k', { msg: 'it\'s here\nnow' }) }}`)
	require.Len(t, calls, 1)
	require.NoError(t, calls[0].Err)
	assert.Equal(t, "it's here\nnow", calls[0].Vars["msg"])
}

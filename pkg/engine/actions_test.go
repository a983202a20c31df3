package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botfabrik/botfabrik/pkg/dsl"
	"github.com/botfabrik/botfabrik/pkg/template"
)

// A pagination source that passes publish-time validation must dispatch at
// render time under the same tag.
func TestFetchPageSourceAcceptsValidatedCtxTag(t *testing.T) {
	spec := `{
		"use": ["flow.wizard.v1", "widget.pagination.v1"],
		"flows": [
			{
				"type": "flow.wizard.v1",
				"entry_cmd": "/services",
				"params": {
					"on_complete": [
						{"widget.pagination.v1": {
							"source": {"type": "ctx", "ctx_var": "items"},
							"item_template": "{{title}}"
						}}
					]
				}
			}
		]
	}`
	require.Empty(t, dsl.Validate([]byte(spec)))

	e := &Engine{}
	items := []map[string]any{{"title": "Маникюр"}, {"title": "Стрижка"}}
	got, err := e.fetchPageSource(context.Background(), Bot{}, 42,
		&dsl.PaginationParams{Source: dsl.PaginationSource{Type: "ctx", CtxVar: "items"}},
		template.Scope{"items": items})
	require.NoError(t, err)
	assert.Equal(t, items, got)
}

func TestFetchPageSourceRejectsUnknownTag(t *testing.T) {
	e := &Engine{}
	_, err := e.fetchPageSource(context.Background(), Bot{}, 42,
		&dsl.PaginationParams{Source: dsl.PaginationSource{Type: "csv"}},
		template.Scope{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown pagination source")
}

func TestFetchPageSourceCtxMissingVarYieldsEmptyList(t *testing.T) {
	e := &Engine{}
	got, err := e.fetchPageSource(context.Background(), Bot{}, 42,
		&dsl.PaginationParams{Source: dsl.PaginationSource{Type: "ctx", CtxVar: "absent"}},
		template.Scope{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

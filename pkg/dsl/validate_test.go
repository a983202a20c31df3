package dsl

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func issueMessages(issues []Issue) []string {
	msgs := make([]string, 0, len(issues))
	for _, i := range issues {
		msgs = append(msgs, i.Msg)
	}
	return msgs
}

func TestValidate_CleanSpecHasNoIssues(t *testing.T) {
	assert.Empty(t, Validate([]byte(bookingSpec)))
}

func TestValidate_UnknownUseBlock(t *testing.T) {
	issues := Validate([]byte(`{"use": ["flow.wizard.v1", "flow.bogus.v9"]}`))
	require.Len(t, issues, 1)
	assert.Equal(t, "use", issues[0].Path)
	assert.Contains(t, issues[0].Msg, "flow.bogus.v9")
}

func TestValidate_EntryCmdMustStartWithSlash(t *testing.T) {
	spec := `{
		"intents": [{"cmd": "start", "reply": "hi"}],
		"flows": [
			{"type": "flow.menu.v1", "entry_cmd": "menu"},
			{"type": "flow.wizard.v1", "entry_cmd": "book", "params": {"steps": [{"ask": "?", "var": "v"}]}}
		]
	}`
	issues := Validate([]byte(spec))
	assert.Len(t, issues, 3)
	for _, issue := range issues {
		assert.Contains(t, issue.Msg, "must start with /")
	}
}

func TestValidate_DuplicateStepVars(t *testing.T) {
	spec := `{"flows": [{"entry_cmd": "/x", "steps": [
		{"ask": "a?", "var": "v"},
		{"ask": "b?", "var": "v"}
	]}]}`
	issues := Validate([]byte(spec))
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Msg, `duplicate step var "v"`)
}

func TestValidate_SQLVerbs(t *testing.T) {
	tests := []struct {
		name    string
		actions string
		wantMsg string
	}{
		{
			"sql_query must select",
			`[{"action.sql_query.v1": {"sql": "DELETE FROM bookings WHERE bot_id = :bot_id", "result_var": "r"}}]`,
			"sql_query must be a SELECT or WITH",
		},
		{
			"sql_exec must write",
			`[{"action.sql_exec.v1": {"sql": "SELECT 1"}}]`,
			"sql_exec must be an INSERT, UPDATE or DELETE",
		},
		{
			"sql_query missing result_var",
			`[{"action.sql_query.v1": {"sql": "SELECT 1"}}]`,
			"missing result_var",
		},
		{
			"reply missing text",
			`[{"action.reply_template.v1": {"keyboard": []}}]`,
			"missing text",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := fmt.Sprintf(`{"flows": [{"entry_cmd": "/x", "on_enter": %s, "steps": [{"ask":"?","var":"v"}]}]}`, tt.actions)
			issues := Validate([]byte(spec))
			require.NotEmpty(t, issues)
			assert.Contains(t, strings.Join(issueMessages(issues), "\n"), tt.wantMsg)
		})
	}
}

func TestValidate_WizardStepLimit(t *testing.T) {
	var steps []string
	for i := 0; i <= MaxWizardSteps; i++ {
		steps = append(steps, fmt.Sprintf(`{"ask": "?", "var": "v%d"}`, i))
	}
	spec := fmt.Sprintf(`{"flows": [{"entry_cmd": "/x", "steps": [%s]}]}`, strings.Join(steps, ","))
	issues := Validate([]byte(spec))
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0].Msg, "limit is 10")
}

func TestValidate_WidgetChecks(t *testing.T) {
	spec := `{"flows": [{"entry_cmd": "/x", "on_enter": [
		{"widget.calendar.v1": {"mode": "weekly", "var": "d"}},
		{"widget.pagination.v1": {"source": {"type": "csv"}}}
	], "steps": [{"ask":"?","var":"v"}]}]}`
	issues := Validate([]byte(spec))
	msgs := strings.Join(issueMessages(issues), "\n")
	assert.Contains(t, msgs, "calendar mode must be date or datetime")
	assert.Contains(t, msgs, "pagination source type must be sql or ctx")
}

func TestValidate_UnparseableSpec(t *testing.T) {
	issues := Validate([]byte(`not json`))
	require.Len(t, issues, 1)
	assert.Equal(t, "$", issues[0].Path)
}

package dsl

import (
	"fmt"
	"strings"
)

// Issue is one structural problem found during spec validation.
type Issue struct {
	Path string `json:"path"`
	Msg  string `json:"msg"`
}

// Validate checks a spec document before publication. It returns every issue
// found rather than stopping at the first, so authors fix a spec in one pass.
// A spec that does not parse at all yields a single root-level issue.
func Validate(raw []byte) []Issue {
	compiled, err := Compile("validate", 0, raw)
	if err != nil {
		return []Issue{{Path: "$", Msg: err.Error()}}
	}

	var issues []Issue

	for tag := range compiled.Use {
		if !KnownBlocks[tag] {
			issues = append(issues, Issue{Path: "use", Msg: fmt.Sprintf("unknown block %q", tag)})
		}
	}

	for cmd := range compiled.Intents {
		if !strings.HasPrefix(cmd, "/") {
			issues = append(issues, Issue{Path: "intents", Msg: fmt.Sprintf("cmd %q must start with /", cmd)})
		}
	}
	for cmd := range compiled.Menus {
		if !strings.HasPrefix(cmd, "/") {
			issues = append(issues, Issue{Path: "flows", Msg: fmt.Sprintf("entry_cmd %q must start with /", cmd)})
		}
	}

	for cmd, wizard := range compiled.Wizards {
		path := "flows." + cmd
		if !strings.HasPrefix(cmd, "/") {
			issues = append(issues, Issue{Path: path, Msg: fmt.Sprintf("entry_cmd %q must start with /", cmd)})
		}
		if len(wizard.Steps) > MaxWizardSteps {
			issues = append(issues, Issue{Path: path, Msg: fmt.Sprintf("wizard has %d steps, limit is %d", len(wizard.Steps), MaxWizardSteps)})
		}

		seen := make(map[string]bool, len(wizard.Steps))
		for i, step := range wizard.Steps {
			varName := step.Var
			if varName == "" && step.Widget != nil && step.Widget.Calendar != nil {
				varName = step.Widget.Calendar.Var
			}
			if varName == "" {
				issues = append(issues, Issue{Path: fmt.Sprintf("%s.steps[%d]", path, i), Msg: "step missing var"})
				continue
			}
			if seen[varName] {
				issues = append(issues, Issue{Path: fmt.Sprintf("%s.steps[%d]", path, i), Msg: fmt.Sprintf("duplicate step var %q", varName)})
			}
			seen[varName] = true
		}

		issues = append(issues, validateActions(path+".on_enter", wizard.OnEnter)...)
		issues = append(issues, validateActions(path+".on_step", wizard.OnStep)...)
		issues = append(issues, validateActions(path+".on_complete", wizard.OnComplete)...)
	}

	return issues
}

// MaxWizardSteps bounds dialogue length; longer flows are a spec defect.
const MaxWizardSteps = 10

// validateActions runs the lexical pre-check on action SQL. The gatekeeper
// re-checks at run time; catching obvious mistakes at publish time keeps bad
// specs out of the cache.
func validateActions(path string, actions []Action) []Issue {
	var issues []Issue
	for i, action := range actions {
		p := fmt.Sprintf("%s[%d]", path, i)
		switch action.Kind {
		case ActionSQLQuery:
			if !hasLeadingVerb(action.SQLQuery.SQL, "SELECT", "WITH") {
				issues = append(issues, Issue{Path: p, Msg: "sql_query must be a SELECT or WITH statement"})
			}
			if action.SQLQuery.ResultVar == "" {
				issues = append(issues, Issue{Path: p, Msg: "sql_query missing result_var"})
			}
		case ActionSQLExec:
			if !hasLeadingVerb(action.SQLExec.SQL, "INSERT", "UPDATE", "DELETE") {
				issues = append(issues, Issue{Path: p, Msg: "sql_exec must be an INSERT, UPDATE or DELETE statement"})
			}
		case ActionReplyTemplate:
			if action.Reply.Text == "" {
				issues = append(issues, Issue{Path: p, Msg: "reply_template missing text"})
			}
		case ActionCalendar:
			if action.Calendar.Var == "" {
				issues = append(issues, Issue{Path: p, Msg: "calendar widget missing var"})
			}
			switch action.Calendar.Mode {
			case "", "date", "datetime":
			default:
				issues = append(issues, Issue{Path: p, Msg: fmt.Sprintf("calendar mode must be date or datetime, got %q", action.Calendar.Mode)})
			}
		case ActionPagination:
			switch action.Pagination.Source.Type {
			case "sql":
				if !hasLeadingVerb(action.Pagination.Source.SQL, "SELECT") {
					issues = append(issues, Issue{Path: p, Msg: "pagination sql source must be a SELECT statement"})
				}
			case "ctx":
				if action.Pagination.Source.CtxVar == "" {
					issues = append(issues, Issue{Path: p, Msg: "pagination ctx source missing ctx_var"})
				}
			default:
				issues = append(issues, Issue{Path: p, Msg: fmt.Sprintf("pagination source type must be sql or ctx, got %q", action.Pagination.Source.Type)})
			}
		}
	}
	return issues
}

func hasLeadingVerb(sql string, verbs ...string) bool {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return false
	}
	head := strings.ToUpper(fields[0])
	for _, v := range verbs {
		if head == v {
			return true
		}
	}
	return false
}

// Package dsl defines the declarative bot specification: intents, menu and
// wizard flows, actions and widget parameters, plus the compiled indexed form
// the interpreter executes.
package dsl

import (
	"encoding/json"
	"fmt"
	"regexp"
)

// Block tags accepted in a spec's "use" list.
const (
	BlockFlowMenu      = "flow.menu.v1"
	BlockFlowWizard    = "flow.wizard.v1"
	BlockFlowGeneric   = "flow.generic.v1"
	BlockReplyTemplate = "action.reply_template.v1"
	BlockSQLQuery      = "action.sql_query.v1"
	BlockSQLExec       = "action.sql_exec.v1"
	BlockCalendar      = "widget.calendar.v1"
	BlockPagination    = "widget.pagination.v1"
	BlockI18n          = "i18n.fluent.v1"
	BlockBroadcast     = "ops.broadcast.v1"
	BlockRateLimit     = "policy.ratelimit.v1"
)

// KnownBlocks is the set of component tags a spec may enable.
var KnownBlocks = map[string]bool{
	BlockFlowMenu:      true,
	BlockFlowWizard:    true,
	BlockFlowGeneric:   true,
	BlockReplyTemplate: true,
	BlockSQLQuery:      true,
	BlockSQLExec:       true,
	BlockCalendar:      true,
	BlockPagination:    true,
	BlockI18n:          true,
	BlockBroadcast:     true,
	BlockRateLimit:     true,
}

// Intent is a trivial cmd → reply pair with no actions.
type Intent struct {
	Cmd   string `json:"cmd"`
	Reply string `json:"reply"`
}

// MenuOption is one inline button of a menu flow.
type MenuOption struct {
	Text     string `json:"text"`
	Callback string `json:"callback"`
}

// MenuFlow is a stateless navigation menu keyed by an entry command.
type MenuFlow struct {
	EntryCmd string
	Title    string
	Options  []MenuOption
	Policy   *RateLimitPolicy
}

// StepValidation is a regex gate on a wizard step's input.
type StepValidation struct {
	Regex string `json:"regex"`
	Msg   string `json:"msg"`

	re *regexp.Regexp
}

// Matches reports whether input passes the step's regex. A step without
// validation accepts anything.
func (v *StepValidation) Matches(input string) bool {
	if v == nil || v.re == nil {
		return true
	}
	return v.re.MatchString(input)
}

// WizardStep is one question of a multi-step dialogue. A text step carries
// Ask/Var/Validate; a widget step renders an interactive grid instead and
// binds the pick into Var.
type WizardStep struct {
	Ask      string          `json:"ask"`
	Var      string          `json:"var"`
	Validate *StepValidation `json:"validate"`
	Widget   *Action         `json:"widget"`
}

// WizardFlow is a stateful multi-step dialogue keyed by an entry command.
type WizardFlow struct {
	EntryCmd   string
	Steps      []WizardStep
	OnEnter    []Action
	OnStep     []Action
	OnComplete []Action
	TTLSec     int
	Policy     *RateLimitPolicy
}

// RateLimitPolicy throttles flow entries per user, chat or bot.
type RateLimitPolicy struct {
	Scope     string `json:"scope"`
	WindowS   int    `json:"window_s"`
	Allowance int    `json:"allowance"`
	Msg       string `json:"msg"`
}

// ActionKind tags the variant held by an Action.
type ActionKind string

// Action kinds, matching the spec's block names.
const (
	ActionSQLQuery      ActionKind = BlockSQLQuery
	ActionSQLExec       ActionKind = BlockSQLExec
	ActionReplyTemplate ActionKind = BlockReplyTemplate
	ActionCalendar      ActionKind = BlockCalendar
	ActionPagination    ActionKind = BlockPagination
)

// Action is the tagged variant the executor switches on. Exactly one of the
// payload fields is set, matching Kind.
type Action struct {
	Kind       ActionKind
	SQLQuery   *SQLQueryAction
	SQLExec    *SQLExecAction
	Reply      *ReplyAction
	Calendar   *CalendarParams
	Pagination *PaginationParams
}

// SQLQueryAction reads rows into a scope variable.
type SQLQueryAction struct {
	SQL       string `json:"sql"`
	ResultVar string `json:"result_var"`
	Scalar    bool   `json:"scalar"`
	Flatten   bool   `json:"flatten"`
}

// SQLExecAction runs a write statement.
type SQLExecAction struct {
	SQL string `json:"sql"`
}

// KeyboardButton is one inline button attached to a reply.
type KeyboardButton struct {
	Text     string `json:"text"`
	Callback string `json:"callback"`
}

// ReplyAction renders a templated reply, optionally improved by the LLM.
type ReplyAction struct {
	Text       string             `json:"text"`
	EmptyText  string             `json:"empty_text"`
	Keyboard   [][]KeyboardButton `json:"keyboard"`
	LLMImprove bool               `json:"llm_improve"`
}

// CalendarParams configure the calendar widget (§ widget.calendar.v1).
type CalendarParams struct {
	Mode  string `json:"mode"`
	Var   string `json:"var"`
	Min   string `json:"min"`
	Max   string `json:"max"`
	TZ    string `json:"tz"`
	Title string `json:"title"`
}

// PaginationSource names where a paginated list's rows come from.
type PaginationSource struct {
	Type   string `json:"type"`
	SQL    string `json:"sql"`
	CtxVar string `json:"ctx_var"`
}

// PaginationParams configure the pagination widget (widget.pagination.v1).
type PaginationParams struct {
	Source         PaginationSource `json:"source"`
	PageSize       int              `json:"page_size"`
	ItemTemplate   string           `json:"item_template"`
	SelectCallback string           `json:"select_callback"`
	IDField        string           `json:"id_field"`
	Title          string           `json:"title"`
	EmptyText      string           `json:"empty_text"`
}

// UnmarshalJSON decodes the wire shape {"action.sql_query.v1": {...}}: a
// single-key object whose key names the action kind.
func (a *Action) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("action must have exactly one kind key, got %d", len(raw))
	}
	for key, body := range raw {
		switch ActionKind(key) {
		case ActionSQLQuery:
			a.Kind = ActionSQLQuery
			a.SQLQuery = &SQLQueryAction{}
			return json.Unmarshal(body, a.SQLQuery)
		case ActionSQLExec:
			a.Kind = ActionSQLExec
			a.SQLExec = &SQLExecAction{}
			return json.Unmarshal(body, a.SQLExec)
		case ActionReplyTemplate:
			a.Kind = ActionReplyTemplate
			a.Reply = &ReplyAction{}
			return json.Unmarshal(body, a.Reply)
		case ActionCalendar:
			a.Kind = ActionCalendar
			a.Calendar = &CalendarParams{}
			return json.Unmarshal(body, a.Calendar)
		case ActionPagination:
			a.Kind = ActionPagination
			a.Pagination = &PaginationParams{}
			return json.Unmarshal(body, a.Pagination)
		default:
			return fmt.Errorf("unknown action kind %q", key)
		}
	}
	return fmt.Errorf("empty action")
}

// MarshalJSON re-encodes the tagged variant into the single-key wire shape.
func (a Action) MarshalJSON() ([]byte, error) {
	var body any
	switch a.Kind {
	case ActionSQLQuery:
		body = a.SQLQuery
	case ActionSQLExec:
		body = a.SQLExec
	case ActionReplyTemplate:
		body = a.Reply
	case ActionCalendar:
		body = a.Calendar
	case ActionPagination:
		body = a.Pagination
	default:
		return nil, fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return json.Marshal(map[string]any{string(a.Kind): body})
}

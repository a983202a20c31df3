package engine

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/botfabrik/botfabrik/pkg/dsl"
	"github.com/botfabrik/botfabrik/pkg/events"
	"github.com/botfabrik/botfabrik/pkg/llm"
	"github.com/botfabrik/botfabrik/pkg/sqlguard"
	"github.com/botfabrik/botfabrik/pkg/telegram"
	"github.com/botfabrik/botfabrik/pkg/template"
	"github.com/botfabrik/botfabrik/pkg/widget"
)

// sqlTxTimeout is the statement budget for one handler's transaction.
const sqlTxTimeout = 10 * time.Second

// actionResult is one action list's outcome. reply holds the last reply
// produced; failed is true when any action failed; err is set only for
// infrastructure failures that abort the whole list.
type actionResult struct {
	reply  *telegram.Reply
	failed bool
	err    error
}

// runActions executes a flow hook's action list in order. SQL actions share
// one transaction; a failing statement rolls back to its savepoint and the
// list continues, so one bad query never voids the work before it.
func (e *Engine) runActions(ctx context.Context, bot Bot, locale string, userID, chatID int64,
	actions []dsl.Action, vars map[string]string) actionResult {

	if len(actions) == 0 {
		return actionResult{}
	}

	scope := template.Scope{
		"bot_id":  bot.ID,
		"user_id": userID,
		"chat_id": chatID,
	}
	for k, v := range vars {
		scope[k] = v
	}

	var res actionResult
	if hasSQL(actions) {
		res.err = e.db.WithTx(ctx, sqlTxTimeout, func(tx *sql.Tx) error {
			e.execList(ctx, tx, bot, locale, userID, chatID, actions, vars, scope, &res)
			return nil
		})
	} else {
		e.execList(ctx, nil, bot, locale, userID, chatID, actions, vars, scope, &res)
	}
	return res
}

func hasSQL(actions []dsl.Action) bool {
	for _, a := range actions {
		if a.Kind == dsl.ActionSQLQuery || a.Kind == dsl.ActionSQLExec {
			return true
		}
	}
	return false
}

func (e *Engine) execList(ctx context.Context, tx *sql.Tx, bot Bot, locale string, userID, chatID int64,
	actions []dsl.Action, vars map[string]string, scope template.Scope, res *actionResult) {

	for i, action := range actions {
		start := time.Now()
		switch action.Kind {
		case dsl.ActionSQLQuery:
			if err := e.execSQLQuery(ctx, tx, bot, userID, i, action.SQLQuery, vars, scope); err != nil {
				res.failed = true
			}
			e.metrics.ObserveActionLatency("sql_query", time.Since(start))

		case dsl.ActionSQLExec:
			if err := e.execSQLExec(ctx, tx, bot, userID, i, action.SQLExec, scope); err != nil {
				res.failed = true
			}
			e.metrics.ObserveActionLatency("sql_exec", time.Since(start))

		case dsl.ActionReplyTemplate:
			res.reply = e.execReply(ctx, bot, locale, userID, action.Reply, scope)
			e.metrics.ObserveActionLatency("reply_template", time.Since(start))

		case dsl.ActionCalendar, dsl.ActionPagination:
			if reply := e.renderWidget(ctx, bot, locale, userID, chatID, &actions[i], vars); reply != nil {
				res.reply = reply
			}
			e.metrics.ObserveActionLatency("widget", time.Since(start))
		}
	}
}

// execSQLQuery validates, runs and scans a read statement, binding the
// result into the action scope. Scalar results also persist into the wizard
// vars so later steps can template them.
func (e *Engine) execSQLQuery(ctx context.Context, tx *sql.Tx, bot Bot, userID int64, idx int,
	a *dsl.SQLQueryAction, vars map[string]string, scope template.Scope) error {

	stmt, err := sqlguard.Validate(a.SQL, sqlguard.ModeQuery, scope)
	if err != nil {
		e.fail(ctx, bot.ID, userID, "action_sql", "sql_error", map[string]any{
			"sql_hash": sqlguard.Hash(a.SQL),
			"error":    err.Error(),
		})
		return err
	}

	rows, cols, err := e.queryRows(ctx, tx, idx, stmt, bot, userID, scope)
	success := err == nil
	e.metrics.IncSQLQuery(bot.ID)
	e.events.Log(ctx, bot.ID, userID, events.TypeActionSQL, map[string]any{
		"mode":     "query",
		"sql_hash": stmt.Hash,
		"rows":     len(rows),
		"success":  success,
	})
	if err != nil {
		e.fail(ctx, bot.ID, userID, "action_sql", "sql_error", map[string]any{
			"sql_hash": stmt.Hash,
			"error":    err.Error(),
		})
		return err
	}

	if a.ResultVar == "" {
		return nil
	}
	switch {
	case a.Scalar:
		value := ""
		if len(rows) > 0 && len(cols) > 0 {
			value = scalarText(rows[0][cols[0]])
		}
		scope[a.ResultVar] = value
		vars[a.ResultVar] = value
	case a.Flatten:
		flat := make([]any, 0, len(rows))
		for _, row := range rows {
			if len(cols) > 0 {
				flat = append(flat, row[cols[0]])
			}
		}
		scope[a.ResultVar] = flat
	default:
		scope[a.ResultVar] = rows
	}
	return nil
}

func (e *Engine) execSQLExec(ctx context.Context, tx *sql.Tx, bot Bot, userID int64, idx int,
	a *dsl.SQLExecAction, scope template.Scope) error {

	stmt, err := sqlguard.Validate(a.SQL, sqlguard.ModeExec, scope)
	if err != nil {
		e.fail(ctx, bot.ID, userID, "action_sql", "sql_error", map[string]any{
			"sql_hash": sqlguard.Hash(a.SQL),
			"error":    err.Error(),
		})
		return err
	}

	affected, err := e.execStatement(ctx, tx, idx, stmt, bot, userID, scope)
	success := err == nil
	e.metrics.IncSQLExec(bot.ID)
	e.events.Log(ctx, bot.ID, userID, events.TypeActionSQL, map[string]any{
		"mode":     "exec",
		"sql_hash": stmt.Hash,
		"rows":     affected,
		"success":  success,
	})
	if err != nil {
		e.fail(ctx, bot.ID, userID, "action_sql", "sql_error", map[string]any{
			"sql_hash": stmt.Hash,
			"error":    err.Error(),
		})
	}
	return err
}

// queryRows runs one read inside its own savepoint.
func (e *Engine) queryRows(ctx context.Context, tx *sql.Tx, idx int, stmt *sqlguard.Statement,
	bot Bot, userID int64, scope template.Scope) ([]map[string]any, []string, error) {

	sp := fmt.Sprintf("action_%d", idx)
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return nil, nil, err
	}

	rows, err := tx.QueryContext(ctx, stmt.SQL, bindArgs(stmt, bot, userID, scope)...)
	if err != nil {
		_, _ = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp)
		return nil, nil, err
	}
	result, cols, err := scanRows(rows)
	if err != nil {
		_, _ = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp)
		return nil, nil, err
	}
	_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp)
	return result, cols, nil
}

func (e *Engine) execStatement(ctx context.Context, tx *sql.Tx, idx int, stmt *sqlguard.Statement,
	bot Bot, userID int64, scope template.Scope) (int64, error) {

	sp := fmt.Sprintf("action_%d", idx)
	if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
		return 0, err
	}

	tag, err := tx.ExecContext(ctx, stmt.SQL, bindArgs(stmt, bot, userID, scope)...)
	if err != nil {
		_, _ = tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp)
		return 0, err
	}
	_, _ = tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp)

	affected, _ := tag.RowsAffected()
	return affected, nil
}

// execReply renders a templated reply, optionally passing it through the
// LLM improvement pipeline, and attaches the declared keyboard.
func (e *Engine) execReply(ctx context.Context, bot Bot, locale string, userID int64,
	a *dsl.ReplyAction, scope template.Scope) *telegram.Reply {

	text := e.resolve(ctx, bot.ID, locale, a.Text)
	empty := e.resolve(ctx, bot.ID, locale, a.EmptyText)

	rendered, err := template.Render(text, empty, scope)
	if err != nil {
		e.fail(ctx, bot.ID, userID, "action_reply", "template_error", map[string]any{
			"error": err.Error(),
		})
	}

	improved, cached := false, false
	if a.LLMImprove && bot.LLMEnabled && e.llm != nil && e.llm.Enabled() {
		outcome := e.llm.Improve(ctx, bot.ID, userID, rendered, llm.Preset(bot.LLMPreset), bot.LLMBudget)
		if outcome.RejectCode != "" {
			e.events.Log(ctx, bot.ID, userID, events.TypeLLMRejected, map[string]any{
				"reason": outcome.RejectCode,
			})
		} else if outcome.Improved {
			e.events.Log(ctx, bot.ID, userID, events.TypeLLMRequest, map[string]any{
				"cached": outcome.Cached,
			})
		}
		rendered = outcome.Text
		improved = outcome.Improved
		cached = outcome.Cached
	}

	e.events.Log(ctx, bot.ID, userID, events.TypeActionReply, map[string]any{
		"length":       len(rendered),
		"llm_improved": improved,
		"llm_cached":   cached,
	})

	reply := &telegram.Reply{Text: rendered}
	for _, row := range a.Keyboard {
		buttons := make([]telegram.Button, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, telegram.Button{
				Text:         e.resolve(ctx, bot.ID, locale, b.Text),
				CallbackData: b.Callback,
			})
		}
		reply.Keyboard = append(reply.Keyboard, buttons)
	}
	return reply
}

// renderPaginationPage fetches the widget's source rows and renders one
// page. The source runs on the pool: list reads never join a flow's write
// transaction.
func (e *Engine) renderPaginationPage(ctx context.Context, bot Bot, userID, chatID int64,
	params *dsl.PaginationParams, vars map[string]string, page int) *telegram.Reply {

	scope := template.Scope{
		"bot_id":  bot.ID,
		"user_id": userID,
		"chat_id": chatID,
	}
	for k, v := range vars {
		scope[k] = v
	}

	items, err := e.fetchPageSource(ctx, bot, userID, params, scope)
	if err != nil {
		e.fail(ctx, bot.ID, userID, "widget_pagination", "internal", map[string]any{
			"error": err.Error(),
		})
		return nil
	}

	size := widget.PageSize(params)
	total := len(items)
	if page < 0 {
		page = 0
	}
	lo := page * size
	if lo > total {
		lo = total
	}
	hi := lo + size
	if hi > total {
		hi = total
	}

	reply := widget.RenderPage(bot.ID, userID, params, items[lo:hi], page, total)
	e.metrics.IncPaginationRender(bot.ID)
	e.events.Log(ctx, bot.ID, userID, events.TypeWidgetPaginationRender, map[string]any{
		"page":  page,
		"total": total,
	})
	return &reply
}

func (e *Engine) fetchPageSource(ctx context.Context, bot Bot, userID int64,
	params *dsl.PaginationParams, scope template.Scope) ([]map[string]any, error) {

	switch params.Source.Type {
	case "sql":
		// Runs under the gatekeeper's read cap: pages slice a window of at
		// most 100 rows, and total counts that window.
		stmt, err := sqlguard.Validate(params.Source.SQL, sqlguard.ModeQuery, scope)
		if err != nil {
			return nil, err
		}
		rows, err := e.db.DB().QueryContext(ctx, stmt.SQL, bindArgs(stmt, bot, userID, scope)...)
		if err != nil {
			return nil, err
		}
		items, _, err := scanRows(rows)
		return items, err

	case "ctx":
		items, _ := scope[params.Source.CtxVar].([]map[string]any)
		return items, nil
	}
	return nil, fmt.Errorf("unknown pagination source %q", params.Source.Type)
}

// bindArgs resolves a validated statement's bind names against the tenant
// frame and the action scope, in positional order.
func bindArgs(stmt *sqlguard.Statement, bot Bot, userID int64, scope template.Scope) []any {
	args := make([]any, 0, len(stmt.Binds))
	for _, name := range stmt.Binds {
		switch name {
		case "bot_id":
			args = append(args, bot.ID)
		case "user_id":
			args = append(args, userID)
		default:
			args = append(args, scope[name])
		}
	}
	return args
}

// scanRows reads every row into column-keyed maps, normalizing byte slices
// into strings for templating. The column list preserves statement order so
// scalar and flatten bindings can address "the first column".
func scanRows(rows *sql.Rows) ([]map[string]any, []string, error) {
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, cols, rows.Err()
}

func scalarText(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

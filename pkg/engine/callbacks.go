package engine

import (
	"context"
	"time"

	"github.com/botfabrik/botfabrik/pkg/dsl"
	"github.com/botfabrik/botfabrik/pkg/events"
	"github.com/botfabrik/botfabrik/pkg/state"
	"github.com/botfabrik/botfabrik/pkg/telegram"
	"github.com/botfabrik/botfabrik/pkg/widget"
)

func decodeCal(data string) (widget.CalCallback, bool) { return widget.DecodeCalCallback(data) }
func decodePg(data string) (widget.PgCallback, bool)   { return widget.DecodePgCallback(data) }

// handleCalendar processes a calendar button press. Every callback carries
// the tenant frame it was rendered for; a mismatch is dropped, not routed.
func (e *Engine) handleCalendar(ctx context.Context, bot Bot, spec *dsl.Compiled, locale string,
	userID, chatID int64, cb widget.CalCallback) *telegram.Reply {

	if cb.Action == widget.CalActionIgnore {
		return nil
	}
	if cb.BotID != bot.ID || cb.UserID != userID {
		e.fail(ctx, bot.ID, userID, "widget_calendar", "callback_owner_mismatch", nil)
		return nil
	}

	wiz, st, params := e.calendarContext(ctx, bot, spec, userID)
	if params == nil {
		e.fail(ctx, bot.ID, userID, "widget_calendar", "state_corrupt", map[string]any{
			"action": cb.Action,
		})
		return nil
	}

	switch cb.Action {
	case widget.CalActionNav:
		month, err := time.Parse("2006-01", cb.Payload)
		if err != nil {
			return nil
		}
		reply := widget.RenderMonth(bot.ID, userID, params, month)
		e.metrics.IncCalendarRender(bot.ID)
		e.events.Log(ctx, bot.ID, userID, events.TypeWidgetCalendarRender, map[string]any{
			"mode":  params.Mode,
			"month": cb.Payload,
		})
		return &reply

	case widget.CalActionBack:
		reply := widget.RenderMonth(bot.ID, userID, params, widget.CurrentMonth(params, timeNow()))
		e.metrics.IncCalendarRender(bot.ID)
		return &reply

	case widget.CalActionDate:
		if !widget.DateAllowed(params, cb.Payload) {
			return nil
		}
		if params.Mode == widget.CalModeDatetime {
			reply := widget.RenderTimeGrid(bot.ID, userID, cb.Payload)
			return &reply
		}
		return e.confirmPick(ctx, bot, locale, userID, chatID, wiz, st, params,
			cb.Payload, widget.DateConfirmation(cb.Payload))

	case widget.CalActionTime:
		value, ok := widget.TimeValue(cb.Payload)
		if !ok {
			return nil
		}
		return e.confirmPick(ctx, bot, locale, userID, chatID, wiz, st, params,
			value, widget.DatetimeConfirmation(value))
	}
	return nil
}

// calendarContext locates the active wizard whose pending step rendered the
// calendar. Without it there is nothing to bind the pick into.
func (e *Engine) calendarContext(ctx context.Context, bot Bot, spec *dsl.Compiled, userID int64) (*dsl.WizardFlow, *state.State, *dsl.CalendarParams) {
	st, err := e.states.Load(ctx, bot.ID, userID)
	if err != nil || st == nil {
		return nil, nil, nil
	}
	wiz, ok := spec.Wizards[st.Cmd]
	if !ok || st.Step >= len(wiz.Steps) {
		return nil, nil, nil
	}
	step := &wiz.Steps[st.Step]
	if step.Widget == nil || step.Widget.Kind != dsl.ActionCalendar {
		return nil, nil, nil
	}
	return wiz, st, step.Widget.Calendar
}

// confirmPick binds a terminal calendar pick into the step variable and
// moves the wizard forward, prefixing the next prompt with the confirmation.
func (e *Engine) confirmPick(ctx context.Context, bot Bot, locale string, userID, chatID int64,
	wiz *dsl.WizardFlow, st *state.State, params *dsl.CalendarParams,
	value, confirmation string) *telegram.Reply {

	e.metrics.IncCalendarPick(bot.ID, params.Mode)
	e.events.Log(ctx, bot.ID, userID, events.TypeWidgetCalendarPick, map[string]any{
		"mode":  params.Mode,
		"value": value,
	})

	varName := params.Var
	if varName == "" {
		varName = wiz.Steps[st.Step].Var
	}

	next := e.advance(ctx, bot, locale, userID, chatID, wiz, st, varName, value)
	if next == nil {
		return &telegram.Reply{Text: confirmation}
	}
	next.Text = confirmation + "\n\n" + next.Text
	return next
}

// handlePagination processes a pagination button press.
func (e *Engine) handlePagination(ctx context.Context, bot Bot, spec *dsl.Compiled, locale string,
	userID, chatID int64, cb widget.PgCallback) *telegram.Reply {

	if cb.Action == widget.PgActionIgnore {
		return nil
	}
	if cb.BotID != bot.ID || cb.UserID != userID {
		e.fail(ctx, bot.ID, userID, "widget_pagination", "callback_owner_mismatch", nil)
		return nil
	}

	st, err := e.states.Load(ctx, bot.ID, userID)
	if err != nil || st == nil {
		e.fail(ctx, bot.ID, userID, "widget_pagination", "state_corrupt", map[string]any{
			"action": cb.Action,
		})
		return nil
	}
	wiz, ok := spec.Wizards[st.Cmd]
	if !ok {
		return nil
	}

	switch cb.Action {
	case widget.PgActionPrev, widget.PgActionNext:
		params := paginationParams(wiz, st)
		if params == nil {
			return nil
		}
		return e.renderPaginationPage(ctx, bot, userID, chatID, params, st.Vars, cb.Page)

	case widget.PgActionSelect:
		e.metrics.IncPaginationSelect(bot.ID)
		e.events.Log(ctx, bot.ID, userID, events.TypeWidgetPaginationSelect, map[string]any{
			"id": cb.ID,
		})
		// The selection feeds the owning flow as that step's input. A
		// pending pagination step binds it directly; text steps validate
		// it like typed input.
		if st.Step < len(wiz.Steps) {
			if w := wiz.Steps[st.Step].Widget; w != nil && w.Kind == dsl.ActionPagination {
				return e.advance(ctx, bot, locale, userID, chatID, wiz, st, wiz.Steps[st.Step].Var, cb.ID)
			}
		}
		return e.stepWizard(ctx, bot, locale, userID, chatID, wiz, st, cb.ID)
	}
	return nil
}

// paginationParams finds the widget configuration a nav press refers to:
// the pending step's widget, else the first pagination action in the flow's
// hooks.
func paginationParams(wiz *dsl.WizardFlow, st *state.State) *dsl.PaginationParams {
	if st.Step < len(wiz.Steps) {
		if w := wiz.Steps[st.Step].Widget; w != nil && w.Kind == dsl.ActionPagination {
			return w.Pagination
		}
	}
	for _, list := range [][]dsl.Action{wiz.OnEnter, wiz.OnStep, wiz.OnComplete} {
		for i := range list {
			if list[i].Kind == dsl.ActionPagination {
				return list[i].Pagination
			}
		}
	}
	return nil
}

package engine

import (
	"context"
	"errors"

	"github.com/botfabrik/botfabrik/pkg/dsl"
	"github.com/botfabrik/botfabrik/pkg/events"
	"github.com/botfabrik/botfabrik/pkg/state"
	"github.com/botfabrik/botfabrik/pkg/telegram"
	"github.com/botfabrik/botfabrik/pkg/widget"
)

// startWizard begins or restarts a wizard: on_enter actions run first, then
// step 0 is asked. prior carries the user's existing state record so the
// restart keeps its compare-and-set revision; it is nil for a fresh start.
func (e *Engine) startWizard(ctx context.Context, bot Bot, locale string, userID, chatID int64,
	wiz *dsl.WizardFlow, prior *state.State) *telegram.Reply {

	st := state.New(wiz.EntryCmd)
	if prior != nil {
		st.Rev = prior.Rev
	}

	res := e.runActions(ctx, bot, locale, userID, chatID, wiz.OnEnter, st.Vars)
	if res.err != nil || res.failed {
		e.fail(ctx, bot.ID, userID, "wizard", "internal", map[string]any{
			"flow":  wiz.EntryCmd,
			"phase": "on_enter",
		})
		return &telegram.Reply{Text: msgEnterFailed}
	}

	e.events.Log(ctx, bot.ID, userID, events.TypeFlowStep, map[string]any{
		"flow":  wiz.EntryCmd,
		"step":  0,
		"phase": "start",
	})

	// A flow without steps is a one-shot command: run the hooks, reply, done.
	if len(wiz.Steps) == 0 {
		if prior != nil {
			_ = e.states.Delete(ctx, bot.ID, userID)
		}
		if res.reply != nil {
			return res.reply
		}
		return &telegram.Reply{Text: msgDone}
	}

	ttl := state.NormalizeTTL(wiz.TTLSec)
	if err := e.states.Save(ctx, bot.ID, userID, st, ttl); err != nil {
		if errors.Is(err, state.ErrConflict) {
			return e.reaskCurrent(ctx, bot, locale, userID, chatID)
		}
		e.fail(ctx, bot.ID, userID, "wizard", "internal", map[string]any{"error": err.Error()})
		return &telegram.Reply{Text: msgEnterFailed}
	}

	ask := e.askStep(ctx, bot, locale, userID, chatID, wiz, st)
	if ask == nil {
		return res.reply
	}
	if res.reply != nil && res.reply.Text != "" {
		ask.Text = res.reply.Text + "\n\n" + ask.Text
	}
	return ask
}

// stepWizard consumes one text input for the active step.
func (e *Engine) stepWizard(ctx context.Context, bot Bot, locale string, userID, chatID int64,
	wiz *dsl.WizardFlow, st *state.State, input string) *telegram.Reply {

	if st.Step >= len(wiz.Steps) {
		// The published spec shrank below the recorded progress.
		_ = e.states.Delete(ctx, bot.ID, userID)
		e.fail(ctx, bot.ID, userID, "wizard", "state_corrupt", map[string]any{
			"flow": wiz.EntryCmd,
			"step": st.Step,
		})
		return nil
	}

	step := &wiz.Steps[st.Step]

	// A pending widget step takes button presses, not text. Re-present it.
	if step.Widget != nil {
		return e.askStep(ctx, bot, locale, userID, chatID, wiz, st)
	}

	if !step.Validate.Matches(input) {
		e.fail(ctx, bot.ID, userID, "wizard", "validation_failed", map[string]any{
			"flow": wiz.EntryCmd,
			"step": st.Step,
		})
		if step.Validate != nil && step.Validate.Msg != "" {
			return &telegram.Reply{Text: e.resolve(ctx, bot.ID, locale, step.Validate.Msg)}
		}
		return &telegram.Reply{Text: e.resolve(ctx, bot.ID, locale, step.Ask)}
	}

	return e.advance(ctx, bot, locale, userID, chatID, wiz, st, step.Var, input)
}

// advance binds value into the step's variable, runs on_step hooks and moves
// the dialogue forward, completing the flow on the last step. Callers hold
// the loaded state; a save conflict means another update won the step and
// the loser re-asks whatever is now pending.
func (e *Engine) advance(ctx context.Context, bot Bot, locale string, userID, chatID int64,
	wiz *dsl.WizardFlow, st *state.State, varName, value string) *telegram.Reply {

	if varName != "" {
		st.Vars[varName] = value
	}

	res := e.runActions(ctx, bot, locale, userID, chatID, wiz.OnStep, st.Vars)
	if res.err != nil {
		e.fail(ctx, bot.ID, userID, "wizard", "internal", map[string]any{
			"flow":  wiz.EntryCmd,
			"phase": "on_step",
		})
	}

	st.Step++
	if st.Step >= len(wiz.Steps) {
		return e.complete(ctx, bot, locale, userID, chatID, wiz, st)
	}

	ttl := state.NormalizeTTL(wiz.TTLSec)
	if err := e.states.Save(ctx, bot.ID, userID, st, ttl); err != nil {
		if errors.Is(err, state.ErrConflict) {
			return e.reaskCurrent(ctx, bot, locale, userID, chatID)
		}
		e.fail(ctx, bot.ID, userID, "wizard", "internal", map[string]any{"error": err.Error()})
		return &telegram.Reply{Text: msgEnterFailed}
	}

	e.events.Log(ctx, bot.ID, userID, events.TypeFlowStep, map[string]any{
		"flow":  wiz.EntryCmd,
		"step":  st.Step,
		"phase": "advance",
		"var":   varName,
	})

	reply := e.askStep(ctx, bot, locale, userID, chatID, wiz, st)
	if reply != nil && res.reply != nil && res.reply.Text != "" {
		reply.Text = res.reply.Text + "\n\n" + reply.Text
	}
	return reply
}

// complete runs on_complete and ends the dialogue. The state record is
// deleted whether the hooks succeed or not; a broken completion must not
// trap the user in a finished flow.
func (e *Engine) complete(ctx context.Context, bot Bot, locale string, userID, chatID int64,
	wiz *dsl.WizardFlow, st *state.State) *telegram.Reply {

	res := e.runActions(ctx, bot, locale, userID, chatID, wiz.OnComplete, st.Vars)
	_ = e.states.Delete(ctx, bot.ID, userID)

	if res.err != nil || res.failed {
		e.fail(ctx, bot.ID, userID, "wizard", "internal", map[string]any{
			"flow":  wiz.EntryCmd,
			"phase": "on_complete",
		})
		return &telegram.Reply{Text: msgCompleteFailed}
	}

	e.events.Log(ctx, bot.ID, userID, events.TypeFlowStep, map[string]any{
		"flow":  wiz.EntryCmd,
		"step":  st.Step,
		"phase": "complete",
	})

	if res.reply != nil {
		return res.reply
	}
	return &telegram.Reply{Text: msgDone}
}

// askStep presents the current step: a plain question for text steps, a
// rendered grid for widget steps.
func (e *Engine) askStep(ctx context.Context, bot Bot, locale string, userID, chatID int64,
	wiz *dsl.WizardFlow, st *state.State) *telegram.Reply {

	if st.Step >= len(wiz.Steps) {
		return nil
	}
	step := &wiz.Steps[st.Step]

	if step.Widget != nil {
		reply := e.renderWidget(ctx, bot, locale, userID, chatID, step.Widget, st.Vars)
		if reply != nil {
			return reply
		}
	}

	return &telegram.Reply{Text: e.resolve(ctx, bot.ID, locale, step.Ask)}
}

// reaskCurrent reloads the winner's state after a lost compare-and-set race
// and repeats its pending question.
func (e *Engine) reaskCurrent(ctx context.Context, bot Bot, locale string, userID, chatID int64) *telegram.Reply {
	st, err := e.states.Load(ctx, bot.ID, userID)
	if err != nil || st == nil {
		return nil
	}
	spec, err := e.specs.Get(ctx, bot.ID)
	if err != nil {
		return nil
	}
	wiz, ok := spec.Wizards[st.Cmd]
	if !ok {
		return nil
	}
	return e.askStep(ctx, bot, locale, userID, chatID, wiz, st)
}

// renderWidget draws the grid for a wizard step's widget action.
func (e *Engine) renderWidget(ctx context.Context, bot Bot, locale string, userID, chatID int64,
	action *dsl.Action, vars map[string]string) *telegram.Reply {

	switch action.Kind {
	case dsl.ActionCalendar:
		reply := widget.RenderMonth(bot.ID, userID, action.Calendar, widget.CurrentMonth(action.Calendar, timeNow()))
		e.metrics.IncCalendarRender(bot.ID)
		e.events.Log(ctx, bot.ID, userID, events.TypeWidgetCalendarRender, map[string]any{
			"mode": action.Calendar.Mode,
		})
		return &reply
	case dsl.ActionPagination:
		return e.renderPaginationPage(ctx, bot, userID, chatID, action.Pagination, vars, 0)
	}
	return nil
}

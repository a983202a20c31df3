// Package engine interprets compiled bot specs against inbound Telegram
// updates: it routes each update to an intent, menu, wizard or widget
// handler and executes the flow's declared actions.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/botfabrik/botfabrik/pkg/database"
	"github.com/botfabrik/botfabrik/pkg/dsl"
	"github.com/botfabrik/botfabrik/pkg/events"
	"github.com/botfabrik/botfabrik/pkg/i18n"
	"github.com/botfabrik/botfabrik/pkg/llm"
	"github.com/botfabrik/botfabrik/pkg/metrics"
	"github.com/botfabrik/botfabrik/pkg/state"
	"github.com/botfabrik/botfabrik/pkg/telegram"
)

// timeNow is replaceable in tests.
var timeNow = time.Now

const (
	// HandleTimeout bounds one update end to end.
	HandleTimeout = 30 * time.Second

	// MaxInputLen is the rune cap applied to inbound text before routing.
	MaxInputLen = 1024
)

// User-facing fallback texts.
const (
	msgEnterFailed    = "Произошла ошибка при запуске."
	msgDone           = "Готово."
	msgCompleteFailed = "Произошла ошибка при завершении."
	msgRateLimited    = "Слишком часто. Попробуйте позже."
)

// Bot is the tenant frame a handler runs under, loaded by the caller from
// the bot record.
type Bot struct {
	ID         string
	LLMEnabled bool
	LLMPreset  string
	// LLMBudget is the daily token budget, 0 meaning unlimited.
	LLMBudget int64
}

// Engine executes compiled specs. One instance serves every bot.
type Engine struct {
	db      *database.Client
	rdb     *redis.Client
	specs   *dsl.Cache
	states  *state.Store
	i18n    *i18n.Resolver
	llm     *llm.Client
	events  *events.Logger
	metrics *metrics.Recorder
}

// New wires the engine. llmClient may be nil when improvement is disabled.
func New(db *database.Client, rdb *redis.Client, specs *dsl.Cache, states *state.Store,
	resolver *i18n.Resolver, llmClient *llm.Client, ev *events.Logger, rec *metrics.Recorder) *Engine {
	return &Engine{
		db:      db,
		rdb:     rdb,
		specs:   specs,
		states:  states,
		i18n:    resolver,
		llm:     llmClient,
		events:  ev,
		metrics: rec,
	}
}

// HandleUpdate routes one inbound update and returns the reply to send, or
// nil when the update produced no output. Failures never propagate to the
// webhook: they are logged as error events and degrade to silence or a
// fallback text.
func (e *Engine) HandleUpdate(ctx context.Context, bot Bot, upd *telegram.Update) *telegram.Reply {
	ctx, cancel := context.WithTimeout(ctx, HandleTimeout)
	defer cancel()
	ctx, _ = events.WithTrace(ctx)

	start := time.Now()
	defer func() { e.metrics.ObserveHandleLatency(time.Since(start)) }()
	e.metrics.IncUpdate(bot.ID)

	userID := upd.UserID()
	chatID := upd.ChatID()
	text := truncate(upd.Text(), MaxInputLen)

	spec, err := e.specs.Get(ctx, bot.ID)
	if err != nil {
		e.fail(ctx, bot.ID, userID, "spec", "internal", map[string]any{"error": err.Error()})
		return nil
	}

	locale := e.i18n.UserLocale(ctx, bot.ID, userID, chatID, spec.I18n.DefaultLocale)

	// Widget callbacks carry their own tenant frame and bypass text routing.
	// Callback data starting with "/" re-enters the router as a command.
	if upd.IsCallback() && !strings.HasPrefix(text, "/") {
		if cb, ok := decodeCal(text); ok {
			reply := e.handleCalendar(ctx, bot, spec, locale, userID, chatID, cb)
			e.logUpdate(ctx, bot.ID, userID, "callback", reply != nil)
			return reply
		}
		if cb, ok := decodePg(text); ok {
			reply := e.handlePagination(ctx, bot, spec, locale, userID, chatID, cb)
			e.logUpdate(ctx, bot.ID, userID, "callback", reply != nil)
			return reply
		}
	}

	reply, matched := e.route(ctx, bot, spec, locale, userID, chatID, text)
	e.logUpdate(ctx, bot.ID, userID, updateKind(upd), matched)
	return reply
}

// route applies the precedence order: active wizard, menu flow, wizard
// entry, intent, silence. Entry commands win over an active wizard so a
// user is never trapped mid-dialogue.
func (e *Engine) route(ctx context.Context, bot Bot, spec *dsl.Compiled, locale string,
	userID, chatID int64, text string) (*telegram.Reply, bool) {

	st, err := e.states.Load(ctx, bot.ID, userID)
	if err != nil && err != state.ErrCorrupt {
		e.fail(ctx, bot.ID, userID, "state", "internal", map[string]any{"error": err.Error()})
		st = nil
	}
	if err == state.ErrCorrupt {
		e.fail(ctx, bot.ID, userID, "state", "state_corrupt", nil)
		st = nil
	}

	if menu, ok := spec.Menus[text]; ok {
		if denied := e.checkPolicy(ctx, bot.ID, userID, chatID, menu.EntryCmd, menu.Policy); denied != nil {
			return denied, true
		}
		return e.renderMenu(ctx, bot, locale, userID, menu), true
	}
	if wiz, ok := spec.Wizards[text]; ok {
		if denied := e.checkPolicy(ctx, bot.ID, userID, chatID, wiz.EntryCmd, wiz.Policy); denied != nil {
			return denied, true
		}
		return e.startWizard(ctx, bot, locale, userID, chatID, wiz, st), true
	}

	if st != nil {
		wiz, ok := spec.Wizards[st.Cmd]
		if !ok {
			// The spec changed under the dialogue; the state is orphaned.
			_ = e.states.Delete(ctx, bot.ID, userID)
			e.fail(ctx, bot.ID, userID, "wizard", "state_corrupt", map[string]any{"flow": st.Cmd})
			return nil, false
		}
		return e.stepWizard(ctx, bot, locale, userID, chatID, wiz, st, text), true
	}

	if reply, ok := spec.Intents[text]; ok {
		return &telegram.Reply{Text: e.resolve(ctx, bot.ID, locale, reply)}, true
	}

	return nil, false
}

// renderMenu builds the stateless option keyboard, one button per row.
func (e *Engine) renderMenu(ctx context.Context, bot Bot, locale string, userID int64, menu *dsl.MenuFlow) *telegram.Reply {
	keyboard := make(telegram.Keyboard, 0, len(menu.Options))
	for _, opt := range menu.Options {
		keyboard = append(keyboard, []telegram.Button{{
			Text:         e.resolve(ctx, bot.ID, locale, opt.Text),
			CallbackData: opt.Callback,
		}})
	}

	e.events.Log(ctx, bot.ID, userID, events.TypeFlowStep, map[string]any{
		"flow": menu.EntryCmd,
		"kind": "menu",
	})

	return &telegram.Reply{
		Text:     e.resolve(ctx, bot.ID, locale, menu.Title),
		Keyboard: keyboard,
	}
}

// resolve translates i18n markers, passing plain text through.
func (e *Engine) resolve(ctx context.Context, botID, locale, text string) string {
	if e.i18n == nil {
		return text
	}
	return e.i18n.Resolve(ctx, botID, locale, text)
}

// fail records an error event and the matching counter.
func (e *Engine) fail(ctx context.Context, botID string, userID int64, where, code string, data map[string]any) {
	e.metrics.IncError(botID, where, code)
	e.events.LogError(ctx, botID, userID, where, code, data)
}

func (e *Engine) logUpdate(ctx context.Context, botID string, userID int64, kind string, matched bool) {
	e.events.Log(ctx, botID, userID, events.TypeUpdate, map[string]any{
		"kind":    kind,
		"matched": matched,
	})
}

func updateKind(upd *telegram.Update) string {
	if upd.IsCallback() {
		return "callback"
	}
	return "message"
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

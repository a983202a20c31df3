package widget

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/botfabrik/botfabrik/pkg/dsl"
	"github.com/botfabrik/botfabrik/pkg/telegram"
	"github.com/botfabrik/botfabrik/pkg/template"
)

// Pagination defaults and bounds.
const (
	DefaultPageSize = 5
	MaxPageSize     = 50
)

// Pagination callback actions.
const (
	PgActionSelect = "sel"
	PgActionPrev   = "prev"
	PgActionNext   = "next"
	PgActionIgnore = "ignore"
)

const pgPrefix = "pg:"

// pgIgnoreData is the no-op cell callback; it carries no tenant frame.
const pgIgnoreData = pgPrefix + PgActionIgnore

// PgCallback is a decoded pagination button press.
type PgCallback struct {
	BotID  string
	UserID int64
	Action string
	// ID is the selected item for sel callbacks.
	ID string
	// Page is the target page for prev/next callbacks.
	Page int
}

// EncodePgSelect builds pg:sel:<bot>:<user>:<id>.
func EncodePgSelect(botID string, userID int64, id string) string {
	return fmt.Sprintf("%s%s:%s:%d:%s", pgPrefix, PgActionSelect, botID, userID, id)
}

// EncodePgNav builds pg:prev:…/pg:next:… with the target page.
func EncodePgNav(action, botID string, userID int64, page int) string {
	return fmt.Sprintf("%s%s:%s:%d:%d", pgPrefix, action, botID, userID, page)
}

// DecodePgCallback parses callback data; ok is false for non-pagination data.
func DecodePgCallback(data string) (PgCallback, bool) {
	if !strings.HasPrefix(data, pgPrefix) {
		return PgCallback{}, false
	}
	rest := strings.TrimPrefix(data, pgPrefix)
	if rest == PgActionIgnore {
		return PgCallback{Action: PgActionIgnore}, true
	}

	parts := strings.SplitN(rest, ":", 4)
	if len(parts) != 4 {
		return PgCallback{}, false
	}
	userID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return PgCallback{}, false
	}
	cb := PgCallback{Action: parts[0], BotID: parts[1], UserID: userID}

	switch cb.Action {
	case PgActionSelect:
		cb.ID = parts[3]
	case PgActionPrev, PgActionNext:
		page, err := strconv.Atoi(parts[3])
		if err != nil || page < 0 {
			return PgCallback{}, false
		}
		cb.Page = page
	default:
		return PgCallback{}, false
	}
	return cb, true
}

// PageSize clamps the configured page size into [1, MaxPageSize].
func PageSize(params *dsl.PaginationParams) int {
	size := params.PageSize
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	return size
}

// RenderPage builds one page of a paginated list. items are the current
// page's rows (already fetched and bounded by the caller); total is the full
// row count used for the page indicator.
func RenderPage(botID string, userID int64, params *dsl.PaginationParams, items []map[string]any, page, total int) telegram.Reply {
	if len(items) == 0 && page == 0 {
		empty := params.EmptyText
		if empty == "" {
			empty = "Пусто"
		}
		return telegram.Reply{Text: empty}
	}

	pageSize := PageSize(params)
	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	title := params.Title
	if title == "" {
		title = "Список:"
	}

	var text strings.Builder
	text.WriteString(title)
	var keyboard telegram.Keyboard
	for _, item := range items {
		rendered, _ := template.Render(params.ItemTemplate, "", template.Scope(item))
		text.WriteString("\n")
		text.WriteString(rendered)

		id := scalarID(item[params.IDField])
		keyboard = append(keyboard, []telegram.Button{{
			Text:         rendered,
			CallbackData: EncodePgSelect(botID, userID, id),
		}})
	}
	fmt.Fprintf(&text, "\n\nСтраница %d из %d", page+1, totalPages)

	nav := make([]telegram.Button, 0, 3)
	if page > 0 {
		nav = append(nav, telegram.Button{Text: "◀", CallbackData: EncodePgNav(PgActionPrev, botID, userID, page-1)})
	}
	nav = append(nav, telegram.Button{
		Text:         fmt.Sprintf("%d/%d", page+1, totalPages),
		CallbackData: pgIgnoreData,
	})
	if page+1 < totalPages {
		nav = append(nav, telegram.Button{Text: "▶", CallbackData: EncodePgNav(PgActionNext, botID, userID, page+1)})
	}
	keyboard = append(keyboard, nav)

	return telegram.Reply{Text: text.String(), Keyboard: keyboard}
}

func scalarID(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", x)
	}
}

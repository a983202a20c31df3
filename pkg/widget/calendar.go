// Package widget renders the interactive inline-keyboard widgets: the
// calendar/time picker and paginated lists. Renderers are stateless — all
// continuity lives in callback data and the owning wizard's state.
package widget

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/botfabrik/botfabrik/pkg/dsl"
	"github.com/botfabrik/botfabrik/pkg/telegram"
)

// Calendar callback actions.
const (
	CalActionNav    = "nav"
	CalActionDate   = "date"
	CalActionTime   = "time"
	CalActionBack   = "back"
	CalActionIgnore = "ignore"
)

// Calendar modes.
const (
	CalModeDate     = "date"
	CalModeDatetime = "datetime"
)

const calPrefix = "cal:"

var weekdayHeader = []string{"Пн", "Вт", "Ср", "Чт", "Пт", "Сб", "Вс"}

// timeSlots is the half-hour grid from 09:00 through 20:00.
var timeSlots = buildTimeSlots()

func buildTimeSlots() []string {
	var slots []string
	for h := 9; h <= 20; h++ {
		slots = append(slots, fmt.Sprintf("%02d:00", h))
		if h < 20 {
			slots = append(slots, fmt.Sprintf("%02d:30", h))
		}
	}
	return slots
}

// CalCallback is a decoded calendar button press.
type CalCallback struct {
	BotID   string
	UserID  int64
	Action  string
	Payload string
}

// EncodeCalCallback builds the wire form cal:<bot>:<user>:<action>:<payload>.
// The payload is omitted when empty. Time payloads keep the date and spell
// the time with a dash (YYYY-MM-DD:HH-MM) so the frame stays parseable.
func EncodeCalCallback(botID string, userID int64, action, payload string) string {
	data := fmt.Sprintf("%s%s:%d:%s", calPrefix, botID, userID, action)
	if payload != "" {
		data += ":" + payload
	}
	return data
}

// DecodeCalCallback parses callback data; ok is false for non-calendar data.
func DecodeCalCallback(data string) (CalCallback, bool) {
	if !strings.HasPrefix(data, calPrefix) {
		return CalCallback{}, false
	}
	parts := strings.SplitN(strings.TrimPrefix(data, calPrefix), ":", 4)
	if len(parts) < 3 {
		return CalCallback{}, false
	}
	userID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return CalCallback{}, false
	}
	cb := CalCallback{BotID: parts[0], UserID: userID, Action: parts[2]}
	if len(parts) == 4 {
		cb.Payload = parts[3]
	}
	return cb, true
}

// TimeValue converts a time payload (YYYY-MM-DD:HH-MM) to the stored wizard
// value "YYYY-MM-DD HH:MM".
func TimeValue(payload string) (string, bool) {
	datePart, timePart, found := strings.Cut(payload, ":")
	if !found {
		return "", false
	}
	hh, mm, found := strings.Cut(timePart, "-")
	if !found {
		return "", false
	}
	return fmt.Sprintf("%s %s:%s", datePart, hh, mm), true
}

// CalendarTitle returns the widget's prompt text.
func CalendarTitle(params *dsl.CalendarParams) string {
	if params.Title != "" {
		return params.Title
	}
	return "Выберите дату"
}

// CurrentMonth returns the first day of the current month in the widget's
// timezone. Unknown zones fall back to UTC.
func CurrentMonth(params *dsl.CalendarParams, now time.Time) time.Time {
	loc := time.UTC
	if params.TZ != "" {
		if l, err := time.LoadLocation(params.TZ); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, loc)
}

// RenderMonth builds the month grid for the month containing ref. Cells
// outside [min, max] render disabled with ignore callbacks.
func RenderMonth(botID string, userID int64, params *dsl.CalendarParams, ref time.Time) telegram.Reply {
	minDate, maxDate := bounds(params)
	month := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, ref.Location())

	ignore := telegram.Button{Text: " ", CallbackData: EncodeCalCallback(botID, userID, CalActionIgnore, "")}

	var keyboard telegram.Keyboard

	prev := month.AddDate(0, -1, 0)
	next := month.AddDate(0, 1, 0)
	keyboard = append(keyboard, []telegram.Button{
		{Text: "◀", CallbackData: EncodeCalCallback(botID, userID, CalActionNav, prev.Format("2006-01"))},
		{Text: month.Format("January 2006"), CallbackData: EncodeCalCallback(botID, userID, CalActionIgnore, "")},
		{Text: "▶", CallbackData: EncodeCalCallback(botID, userID, CalActionNav, next.Format("2006-01"))},
	})

	header := make([]telegram.Button, len(weekdayHeader))
	for i, name := range weekdayHeader {
		header[i] = telegram.Button{Text: name, CallbackData: ignore.CallbackData}
	}
	keyboard = append(keyboard, header)

	// Monday-first grid; leading blanks pad the first week.
	firstWeekday := (int(month.Weekday()) + 6) % 7
	daysInMonth := month.AddDate(0, 1, -1).Day()

	row := make([]telegram.Button, 0, 7)
	for i := 0; i < firstWeekday; i++ {
		row = append(row, ignore)
	}
	for day := 1; day <= daysInMonth; day++ {
		cell := time.Date(month.Year(), month.Month(), day, 0, 0, 0, 0, month.Location())
		if dateAllowed(cell, minDate, maxDate) {
			row = append(row, telegram.Button{
				Text:         strconv.Itoa(day),
				CallbackData: EncodeCalCallback(botID, userID, CalActionDate, cell.Format("2006-01-02")),
			})
		} else {
			row = append(row, telegram.Button{
				Text:         fmt.Sprintf("·%d·", day),
				CallbackData: ignore.CallbackData,
			})
		}
		if len(row) == 7 {
			keyboard = append(keyboard, row)
			row = make([]telegram.Button, 0, 7)
		}
	}
	if len(row) > 0 {
		for len(row) < 7 {
			row = append(row, ignore)
		}
		keyboard = append(keyboard, row)
	}

	return telegram.Reply{Text: CalendarTitle(params), Keyboard: keyboard}
}

// RenderTimeGrid builds the half-hour slot grid shown after a date pick in
// datetime mode, four slots per row, with a back-to-date row.
func RenderTimeGrid(botID string, userID int64, date string) telegram.Reply {
	var keyboard telegram.Keyboard

	row := make([]telegram.Button, 0, 4)
	for _, slot := range timeSlots {
		payload := date + ":" + strings.ReplaceAll(slot, ":", "-")
		row = append(row, telegram.Button{
			Text:         slot,
			CallbackData: EncodeCalCallback(botID, userID, CalActionTime, payload),
		})
		if len(row) == 4 {
			keyboard = append(keyboard, row)
			row = make([]telegram.Button, 0, 4)
		}
	}
	if len(row) > 0 {
		keyboard = append(keyboard, row)
	}

	keyboard = append(keyboard, []telegram.Button{{
		Text:         "◀ Назад к дате",
		CallbackData: EncodeCalCallback(botID, userID, CalActionBack, date),
	}})

	return telegram.Reply{Text: "Выберите время: " + date, Keyboard: keyboard}
}

// DateAllowed reports whether a picked date (YYYY-MM-DD) is inside the
// widget's bounds. Decoded callbacks re-check so stale keyboards cannot
// smuggle disabled cells through.
func DateAllowed(params *dsl.CalendarParams, date string) bool {
	parsed, err := time.Parse("2006-01-02", date)
	if err != nil {
		return false
	}
	minDate, maxDate := bounds(params)
	return dateAllowed(parsed, minDate, maxDate)
}

func bounds(params *dsl.CalendarParams) (minDate, maxDate *time.Time) {
	if params.Min != "" {
		if t, err := time.Parse("2006-01-02", params.Min); err == nil {
			minDate = &t
		}
	}
	if params.Max != "" {
		if t, err := time.Parse("2006-01-02", params.Max); err == nil {
			maxDate = &t
		}
	}
	return minDate, maxDate
}

func dateAllowed(day time.Time, minDate, maxDate *time.Time) bool {
	d := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	if minDate != nil && d.Before(*minDate) {
		return false
	}
	if maxDate != nil && d.After(*maxDate) {
		return false
	}
	return true
}

// DateConfirmation is the terminal text for a date pick.
func DateConfirmation(date string) string {
	return "✅ Выбрана дата: " + date
}

// DatetimeConfirmation is the terminal text for a date+time pick.
func DatetimeConfirmation(value string) string {
	return "✅ Выбраны дата и время: " + value
}

package widget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botfabrik/botfabrik/pkg/dsl"
)

func TestCalCallbackRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		action  string
		payload string
	}{
		{"nav", CalActionNav, "2025-02"},
		{"date pick", CalActionDate, "2025-01-15"},
		{"time pick", CalActionTime, "2025-01-15:14-30"},
		{"back", CalActionBack, "2025-01-15"},
		{"ignore without payload", CalActionIgnore, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := EncodeCalCallback("bot-1", 42, tt.action, tt.payload)
			cb, ok := DecodeCalCallback(data)
			require.True(t, ok)
			assert.Equal(t, "bot-1", cb.BotID)
			assert.Equal(t, int64(42), cb.UserID)
			assert.Equal(t, tt.action, cb.Action)
			assert.Equal(t, tt.payload, cb.Payload)
		})
	}
}

func TestDecodeCalCallback_Rejects(t *testing.T) {
	for _, data := range []string{
		"pg:sel:bot:1:x",
		"/start",
		"cal:bot-1",
		"cal:bot-1:notanumber:date:2025-01-01",
		"",
	} {
		_, ok := DecodeCalCallback(data)
		assert.False(t, ok, "expected reject for %q", data)
	}
}

func TestTimeValue(t *testing.T) {
	value, ok := TimeValue("2025-01-15:14-30")
	require.True(t, ok)
	assert.Equal(t, "2025-01-15 14:30", value)

	_, ok = TimeValue("2025-01-15")
	assert.False(t, ok)
	_, ok = TimeValue("2025-01-15:1430")
	assert.False(t, ok)
}

func TestRenderMonth_Grid(t *testing.T) {
	params := &dsl.CalendarParams{Mode: CalModeDate}
	// January 2025: the 1st is a Wednesday.
	ref := time.Date(2025, time.January, 10, 0, 0, 0, 0, time.UTC)
	reply := RenderMonth("bot-1", 42, params, ref)

	assert.Equal(t, "Выберите дату", reply.Text)
	require.GreaterOrEqual(t, len(reply.Keyboard), 3)

	nav := reply.Keyboard[0]
	require.Len(t, nav, 3)
	assert.Equal(t, "◀", nav[0].Text)
	assert.Equal(t, "January 2025", nav[1].Text)
	assert.Equal(t, "▶", nav[2].Text)
	assert.Contains(t, nav[0].CallbackData, ":nav:2024-12")
	assert.Contains(t, nav[2].CallbackData, ":nav:2025-02")

	header := reply.Keyboard[1]
	require.Len(t, header, 7)
	assert.Equal(t, "Пн", header[0].Text)
	assert.Equal(t, "Вс", header[6].Text)

	// First week row: two leading blanks, then day 1 on Wednesday.
	week := reply.Keyboard[2]
	require.Len(t, week, 7)
	assert.Equal(t, " ", week[0].Text)
	assert.Equal(t, " ", week[1].Text)
	assert.Equal(t, "1", week[2].Text)
	assert.Equal(t, EncodeCalCallback("bot-1", 42, CalActionDate, "2025-01-01"), week[2].CallbackData)

	// Every body row is a full week.
	for i, row := range reply.Keyboard[2:] {
		assert.Len(t, row, 7, "row %d", i)
	}
}

func TestRenderMonth_DisabledCells(t *testing.T) {
	params := &dsl.CalendarParams{Min: "2025-01-10", Max: "2025-01-20"}
	ref := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	reply := RenderMonth("bot-1", 42, params, ref)

	var disabled, enabled int
	for _, row := range reply.Keyboard[2:] {
		for _, btn := range row {
			switch {
			case btn.Text == "·5·":
				disabled++
				cb, ok := DecodeCalCallback(btn.CallbackData)
				require.True(t, ok)
				assert.Equal(t, CalActionIgnore, cb.Action)
			case btn.Text == "15":
				enabled++
				cb, ok := DecodeCalCallback(btn.CallbackData)
				require.True(t, ok)
				assert.Equal(t, CalActionDate, cb.Action)
				assert.Equal(t, "2025-01-15", cb.Payload)
			}
		}
	}
	assert.Equal(t, 1, disabled)
	assert.Equal(t, 1, enabled)
}

func TestDateAllowed(t *testing.T) {
	params := &dsl.CalendarParams{Min: "2025-01-10", Max: "2025-01-20"}
	assert.True(t, DateAllowed(params, "2025-01-10"))
	assert.True(t, DateAllowed(params, "2025-01-20"))
	assert.False(t, DateAllowed(params, "2025-01-09"))
	assert.False(t, DateAllowed(params, "2025-01-21"))
	assert.False(t, DateAllowed(params, "not-a-date"))

	open := &dsl.CalendarParams{}
	assert.True(t, DateAllowed(open, "1999-12-31"))
}

func TestRenderTimeGrid(t *testing.T) {
	reply := RenderTimeGrid("bot-1", 42, "2025-01-15")

	assert.Equal(t, "Выберите время: 2025-01-15", reply.Text)
	require.NotEmpty(t, reply.Keyboard)

	// 09:00 through 20:00 in half-hour steps is 23 slots.
	var slots int
	for _, row := range reply.Keyboard[:len(reply.Keyboard)-1] {
		assert.LessOrEqual(t, len(row), 4)
		slots += len(row)
	}
	assert.Equal(t, 23, slots)

	first := reply.Keyboard[0][0]
	assert.Equal(t, "09:00", first.Text)
	cb, ok := DecodeCalCallback(first.CallbackData)
	require.True(t, ok)
	assert.Equal(t, CalActionTime, cb.Action)
	assert.Equal(t, "2025-01-15:09-00", cb.Payload)

	back := reply.Keyboard[len(reply.Keyboard)-1]
	require.Len(t, back, 1)
	assert.Equal(t, "◀ Назад к дате", back[0].Text)
}

func TestCurrentMonth_Timezone(t *testing.T) {
	// 23:30 UTC on Jan 31 is already February in Moscow.
	now := time.Date(2025, time.January, 31, 23, 30, 0, 0, time.UTC)

	utcMonth := CurrentMonth(&dsl.CalendarParams{}, now)
	assert.Equal(t, time.January, utcMonth.Month())

	mskMonth := CurrentMonth(&dsl.CalendarParams{TZ: "Europe/Moscow"}, now)
	assert.Equal(t, time.February, mskMonth.Month())

	bogus := CurrentMonth(&dsl.CalendarParams{TZ: "Nowhere/Invalid"}, now)
	assert.Equal(t, time.January, bogus.Month())
}

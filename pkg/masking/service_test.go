package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskMap(t *testing.T) {
	t.Run("masks sensitive keys", func(t *testing.T) {
		data := map[string]any{
			"token":    "123456789:AAHsampletokenvaluewith35charsxxxxx",
			"password": "hunter2",
			"text":     "hello",
		}
		masked := MaskMap(data)
		assert.Equal(t, MaskedValue, masked["token"])
		assert.Equal(t, MaskedValue, masked["password"])
		assert.Equal(t, "hello", masked["text"])
	})

	t.Run("case insensitive key match", func(t *testing.T) {
		masked := MaskMap(map[string]any{"Authorization": "Bearer abc", "SECRET": "x"})
		assert.Equal(t, MaskedValue, masked["Authorization"])
		assert.Equal(t, MaskedValue, masked["SECRET"])
	})

	t.Run("descends into nested maps and lists", func(t *testing.T) {
		data := map[string]any{
			"ctx": map[string]any{"token": "abc", "user": "bob"},
			"items": []any{
				map[string]any{"secret": "s1", "id": 1},
				"plain",
			},
		}
		masked := MaskMap(data)
		ctx := masked["ctx"].(map[string]any)
		assert.Equal(t, MaskedValue, ctx["token"])
		assert.Equal(t, "bob", ctx["user"])
		items := masked["items"].([]any)
		assert.Equal(t, MaskedValue, items[0].(map[string]any)["secret"])
		assert.Equal(t, "plain", items[1])
	})

	t.Run("does not mutate input", func(t *testing.T) {
		data := map[string]any{"token": "original"}
		_ = MaskMap(data)
		assert.Equal(t, "original", data["token"])
	})

	t.Run("nil input", func(t *testing.T) {
		assert.Nil(t, MaskMap(nil))
	})
}

func TestServiceMaskText(t *testing.T) {
	s := NewService(true)

	t.Run("telegram bot token", func(t *testing.T) {
		in := "sendMessage failed for bot 123456789:AAHdEfGh1234567890abcdefgh-1234567890x"
		out := s.MaskText(in)
		assert.NotContains(t, out, "AAHdEfGh")
		assert.Contains(t, out, MaskedValue)
	})

	t.Run("bearer token", func(t *testing.T) {
		out := s.MaskText("request denied: Authorization: Bearer sk-abc123.def456")
		assert.NotContains(t, out, "sk-abc123")
		assert.Contains(t, out, "Bearer "+MaskedValue)
	})

	t.Run("postgres dsn password", func(t *testing.T) {
		out := s.MaskText("connect failed: postgres://app:supersecret@db:5432/bots")
		assert.NotContains(t, out, "supersecret")
		assert.Contains(t, out, "postgres://app:"+MaskedValue+"@db:5432/bots")
	})

	t.Run("plain text untouched", func(t *testing.T) {
		in := "Забронировано: massage на 2024-01-15 14:00"
		assert.Equal(t, in, s.MaskText(in))
	})

	t.Run("disabled service passes through", func(t *testing.T) {
		off := NewService(false)
		in := "token 123456789:AAHdEfGh1234567890abcdefgh-1234567890x"
		assert.Equal(t, in, off.MaskText(in))
	})
}

func TestServiceMaskEventData(t *testing.T) {
	s := NewService(true)

	t.Run("masks keys and string values", func(t *testing.T) {
		data := map[string]any{
			"token":   "raw-credential",
			"message": "failed calling https://api.telegram.org with Bearer abc.def",
			"count":   3,
		}
		masked := s.MaskEventData(data)
		assert.Equal(t, MaskedValue, masked["token"])
		assert.Contains(t, masked["message"], "Bearer "+MaskedValue)
		assert.Equal(t, 3, masked["count"])
	})

	t.Run("disabled returns input untouched", func(t *testing.T) {
		off := NewService(false)
		data := map[string]any{"token": "raw"}
		assert.Equal(t, data, off.MaskEventData(data))
	})
}

func TestJSONCredentialMasker(t *testing.T) {
	m := &JSONCredentialMasker{}

	t.Run("applies only to JSON with credential keys", func(t *testing.T) {
		assert.True(t, m.AppliesTo(`{"token": "abc"}`))
		assert.True(t, m.AppliesTo(`[{"password": "x"}]`))
		assert.False(t, m.AppliesTo(`{"text": "hello"}`))
		assert.False(t, m.AppliesTo("plain text with token word"))
	})

	t.Run("masks nested credentials", func(t *testing.T) {
		in := `{"update_id": 1, "auth": {"token": "123:abc", "user": "bob"}}`
		out := m.Mask(in)

		assert.NotContains(t, out, "123:abc")
		assert.Contains(t, out, MaskedValue)
		assert.Contains(t, out, `"user":"bob"`)
	})

	t.Run("invalid JSON returns original", func(t *testing.T) {
		in := `{"token": broken`
		assert.Equal(t, in, m.Mask(in))
	})
}

func TestNewService(t *testing.T) {
	s := NewService(true)
	require.NotNil(t, s)
	assert.True(t, s.Enabled())
	assert.NotEmpty(t, s.patterns)
	assert.NotEmpty(t, s.maskers)
}

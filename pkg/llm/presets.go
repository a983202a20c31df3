package llm

// Preset selects the improvement style configured per bot.
type Preset string

// Supported presets.
const (
	PresetShort    Preset = "short"
	PresetNeutral  Preset = "neutral"
	PresetDetailed Preset = "detailed"
)

const improveUserPrefix = "Улучши этот текст: "

var presetPrompts = map[Preset]string{
	PresetShort: `Ты помощник для улучшения текстов ботов. Твоя задача - сделать текст более кратким и ёмким.

Правила:
- Сохраняй основной смысл
- Убирай лишние слова
- Делай текст максимально коротким
- Используй эмодзи очень умеренно
- Отвечай только улучшенным текстом, без объяснений`,

	PresetNeutral: `Ты помощник для улучшения текстов ботов. Твоя задача - сделать текст более дружелюбным, понятным и полезным для пользователя.

Правила:
- Сохраняй основной смысл
- Делай текст более живым и человечным
- Используй эмодзи умеренно
- Избегай канцеляризмов
- Отвечай только улучшенным текстом, без объяснений`,

	PresetDetailed: `Ты помощник для улучшения текстов ботов. Твоя задача - сделать текст более подробным и информативным.

Правила:
- Сохраняй основной смысл
- Добавляй полезные детали и контекст
- Делай текст более живым и человечным
- Используй эмодзи для улучшения восприятия
- Отвечай только улучшенным текстом, без объяснений`,
}

var presetMaxTokens = map[Preset]int{
	PresetShort:    100,
	PresetNeutral:  200,
	PresetDetailed: 300,
}

// normalize maps unknown or empty presets to neutral.
func (p Preset) normalize() Preset {
	if _, ok := presetPrompts[p]; ok {
		return p
	}
	return PresetNeutral
}

// SystemPrompt returns the preset's system prompt.
func (p Preset) SystemPrompt() string {
	return presetPrompts[p.normalize()]
}

// MaxTokens returns the preset's completion budget.
func (p Preset) MaxTokens() int {
	return presetMaxTokens[p.normalize()]
}

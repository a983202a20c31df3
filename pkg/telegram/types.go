// Package telegram holds the webhook update model and the outbound message
// client for Telegram-style bot APIs.
package telegram

// Update is the inbound webhook body. Exactly one of Message or
// CallbackQuery is set for updates the runtime handles.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Message is an inbound text message.
type Message struct {
	MessageID int64  `json:"message_id"`
	Text      string `json:"text"`
	From      *User  `json:"from"`
	Chat      *Chat  `json:"chat"`
}

// CallbackQuery is an inline-keyboard button press.
type CallbackQuery struct {
	ID      string   `json:"id"`
	Data    string   `json:"data"`
	From    *User    `json:"from"`
	Message *Message `json:"message"`
}

// User identifies the sender.
type User struct {
	ID int64 `json:"id"`
}

// Chat identifies the conversation.
type Chat struct {
	ID int64 `json:"id"`
}

// Button is one inline-keyboard cell.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// Keyboard is an inline keyboard: rows of buttons.
type Keyboard [][]Button

// Reply is one outbound message produced by a handler.
type Reply struct {
	Text     string   `json:"text"`
	Keyboard Keyboard `json:"keyboard,omitempty"`
}

// UserID returns the acting user for routing and tenancy checks.
func (u *Update) UserID() int64 {
	if u.Message != nil && u.Message.From != nil {
		return u.Message.From.ID
	}
	if u.CallbackQuery != nil && u.CallbackQuery.From != nil {
		return u.CallbackQuery.From.ID
	}
	return 0
}

// ChatID returns the conversation the reply should go to. Callback updates
// reply into the chat holding the original message.
func (u *Update) ChatID() int64 {
	if u.Message != nil && u.Message.Chat != nil {
		return u.Message.Chat.ID
	}
	if u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil {
		return u.CallbackQuery.Message.Chat.ID
	}
	return 0
}

// Text returns the routable input: message text or callback data.
func (u *Update) Text() string {
	if u.Message != nil {
		return u.Message.Text
	}
	if u.CallbackQuery != nil {
		return u.CallbackQuery.Data
	}
	return ""
}

// IsCallback reports whether the update is a button press.
func (u *Update) IsCallback() bool {
	return u.CallbackQuery != nil
}

package telegram

// Update is an inbound webhook payload. Only the fields the bot consumes are
// declared.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message"`
}

// Message is one chat message.
type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from"`
	Chat      Chat   `json:"chat"`
	Text      string `json:"text"`
}

// Chat identifies the conversation; for direct messages the chat id equals
// the sender's user id.
type Chat struct {
	ID int64 `json:"id"`
}

// User is the sender of a message.
type User struct {
	ID           int64  `json:"id"`
	LanguageCode string `json:"language_code"`
}

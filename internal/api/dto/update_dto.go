package dto

// Update is the messaging gateway's webhook envelope. Identifiers on
// the wire are numeric; they are stringified at the handler boundary.
type Update struct {
	UpdateID int64            `json:"update_id"`
	Message  *IncomingMessage `json:"message,omitempty"`
}

// IncomingMessage is one inbound message from either side of the
// conversation. Exactly one content field is expected to be set.
type IncomingMessage struct {
	MessageID       int64      `json:"message_id"`
	From            *Sender    `json:"from,omitempty"`
	Chat            Chat       `json:"chat"`
	MessageThreadID int64      `json:"message_thread_id,omitempty"`
	Text            string     `json:"text,omitempty"`
	Caption         string     `json:"caption,omitempty"`
	Photo           []FileMeta `json:"photo,omitempty"`
	Document        *FileMeta  `json:"document,omitempty"`
	Video           *FileMeta  `json:"video,omitempty"`
	Voice           *FileMeta  `json:"voice,omitempty"`
	Sticker         *FileMeta  `json:"sticker,omitempty"`
}

// Sender identifies the author of a message.
type Sender struct {
	ID           int64  `json:"id"`
	IsBot        bool   `json:"is_bot"`
	Username     string `json:"username,omitempty"`
	FirstName    string `json:"first_name,omitempty"`
	LastName     string `json:"last_name,omitempty"`
	LanguageCode string `json:"language_code,omitempty"`
}

// Chat identifies the conversation a message arrived in.
type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// FileMeta references an uploaded attachment.
type FileMeta struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

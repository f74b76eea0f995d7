package domain

// ContentKind discriminates the message content union.
type ContentKind string

const (
	ContentText     ContentKind = "TEXT"
	ContentImage    ContentKind = "IMAGE"
	ContentDocument ContentKind = "DOCUMENT"
	ContentVideo    ContentKind = "VIDEO"
	ContentVoice    ContentKind = "VOICE"
	ContentSticker  ContentKind = "STICKER"
	ContentUnknown  ContentKind = "UNKNOWN"
)

// MessageContent is a tagged union for gateway payloads. Exactly one of
// Text or FileRef is meaningful depending on Kind; Caption accompanies
// media kinds.
type MessageContent struct {
	Kind     ContentKind
	Text     string
	Caption  string
	FileRef  string
	FileName string
	MimeType string
}

// TextContent builds a plain text payload.
func TextContent(text string) MessageContent {
	return MessageContent{Kind: ContentText, Text: text}
}

// MediaContent builds a media payload of the given kind.
func MediaContent(kind ContentKind, fileRef, caption string) MessageContent {
	return MessageContent{Kind: kind, FileRef: fileRef, Caption: caption}
}

// Preview returns the human-readable part of the content, for logs and
// routing headers.
func (c MessageContent) Preview() string {
	if c.Kind == ContentText {
		return c.Text
	}
	return c.Caption
}

// IsMedia reports whether the content carries a file reference.
func (c MessageContent) IsMedia() bool {
	switch c.Kind {
	case ContentImage, ContentDocument, ContentVideo, ContentVoice, ContentSticker:
		return true
	}
	return false
}

package routing

import (
	"fmt"
	"strings"

	"github.com/spec-kit/support-router/internal/domain"
)

// mapToThread converts an inbound user payload into the team-thread
// delivery payload, prepending the sender metadata header. The switch
// is exhaustive over content kinds; both directions must stay
// type-preserving.
func mapToThread(user domain.User, ticket *domain.SupportTicket, content domain.MessageContent) domain.MessageContent {
	header := threadHeader(user, ticket, content)
	switch content.Kind {
	case domain.ContentText:
		return domain.MessageContent{
			Kind: domain.ContentText,
			Text: header + "\n\n" + content.Text,
		}
	case domain.ContentImage, domain.ContentDocument, domain.ContentVideo, domain.ContentVoice:
		mapped := content
		mapped.Caption = joinNonEmpty(header, content.Caption)
		return mapped
	case domain.ContentSticker:
		// Stickers carry no caption on most gateways; the header goes
		// out as the sticker itself plus nothing else. Routing metadata
		// is preserved on the ticket instead.
		return content
	default:
		return domain.MessageContent{
			Kind: domain.ContentText,
			Text: header + "\n\n(unsupported message type, forwarded as notice)",
		}
	}
}

// mapToUser converts an admin reply into the end-user delivery payload,
// preserving the media type and appending reply instructions in the
// ticket language.
func mapToUser(ticket *domain.SupportTicket, content domain.MessageContent) domain.MessageContent {
	footer := replyFooter(ticket.Language)
	switch content.Kind {
	case domain.ContentText:
		return domain.MessageContent{
			Kind: domain.ContentText,
			Text: supportPrefix(ticket.Language) + content.Text + footer,
		}
	case domain.ContentImage, domain.ContentDocument, domain.ContentVideo, domain.ContentVoice:
		mapped := content
		mapped.Caption = joinNonEmpty(content.Caption, strings.TrimSpace(footer))
		return mapped
	case domain.ContentSticker:
		return content
	default:
		return domain.MessageContent{
			Kind: domain.ContentText,
			Text: supportPrefix(ticket.Language) + content.Preview() + footer,
		}
	}
}

func threadHeader(user domain.User, ticket *domain.SupportTicket, content domain.MessageContent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "👤 %s", user.DisplayName())
	if user.Username != "" && !strings.HasPrefix(user.DisplayName(), "@") {
		fmt.Fprintf(&b, " (@%s)", user.Username)
	}
	fmt.Fprintf(&b, " · %s/%s", ticket.Category, ticket.Priority)
	if descriptor := attachmentDescriptor(content); descriptor != "" {
		b.WriteString("\n" + descriptor)
	}
	return b.String()
}

func attachmentDescriptor(content domain.MessageContent) string {
	if !content.IsMedia() {
		return ""
	}
	switch content.Kind {
	case domain.ContentImage:
		return "📎 photo"
	case domain.ContentDocument:
		if content.FileName != "" {
			return "📎 document: " + content.FileName
		}
		return "📎 document"
	case domain.ContentVideo:
		return "📎 video"
	case domain.ContentVoice:
		return "📎 voice note"
	default:
		return "📎 sticker"
	}
}

func supportPrefix(lang string) string {
	if strings.HasPrefix(strings.ToLower(lang), "es") {
		return "💬 Soporte:\n"
	}
	return "💬 Support:\n"
}

func replyFooter(lang string) string {
	if strings.HasPrefix(strings.ToLower(lang), "es") {
		return "\n\n✍️ Responde a este mensaje para continuar la conversación."
	}
	return "\n\n✍️ Reply to this message to continue the conversation."
}

func joinNonEmpty(parts ...string) string {
	nonEmpty := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			nonEmpty = append(nonEmpty, part)
		}
	}
	return strings.Join(nonEmpty, "\n\n")
}

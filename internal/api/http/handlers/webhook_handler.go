package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/support-router/internal/api/dto"
	"github.com/spec-kit/support-router/internal/domain"
	"github.com/spec-kit/support-router/internal/routing"
	"github.com/spec-kit/support-router/internal/satisfaction"
)

// Secret token header set by the gateway on webhook calls.
const secretTokenHeader = "X-Gateway-Secret-Token"

const requestKindSupport = "Support"

// WebhookHandler ingests gateway updates and routes them to the user
// path or the team path depending on the chat they arrived in.
type WebhookHandler struct {
	engine      *routing.Engine
	flow        *satisfaction.Flow
	logger      *zap.Logger
	supportChat string
	secret      string
}

// NewWebhookHandler constructs handler.
func NewWebhookHandler(engine *routing.Engine, flow *satisfaction.Flow, logger *zap.Logger, supportChat, secret string) *WebhookHandler {
	return &WebhookHandler{
		engine:      engine,
		flow:        flow,
		logger:      logger,
		supportChat: supportChat,
		secret:      secret,
	}
}

// Handle processes POST /webhook. The gateway retries on non-2xx, so
// routing failures are logged and acknowledged rather than returned.
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	if h.secret != "" && c.Get(secretTokenHeader) != h.secret {
		return fiber.NewError(http.StatusUnauthorized, "bad secret token")
	}

	var update dto.Update
	if err := c.BodyParser(&update); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid payload")
	}

	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.IsBot {
		return ack(c)
	}

	ctx := c.UserContext()
	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	content := messageContent(msg)

	if chatID == h.supportChat {
		h.handleTeamMessage(ctx, chatID, msg, content)
	} else {
		h.handleUserMessage(ctx, msg, content)
	}
	return ack(c)
}

func (h *WebhookHandler) handleTeamMessage(ctx context.Context, chatID string, msg *dto.IncomingMessage, content domain.MessageContent) {
	threadID := ""
	if msg.MessageThreadID != 0 {
		threadID = strconv.FormatInt(msg.MessageThreadID, 10)
		h.engine.RememberThreadContext(ctx, chatID, threadID)
	}

	if strings.HasPrefix(msg.Text, "/") {
		cmdCtx := routing.CommandContext{
			ChatID:   chatID,
			ThreadID: threadID,
			AgentID:  strconv.FormatInt(msg.From.ID, 10),
		}
		reply, err := h.engine.ExecuteAdminCommand(ctx, cmdCtx, msg.Text)
		if err != nil {
			h.logger.Warn("admin command failed",
				zap.String("command", msg.Text),
				zap.String("agent_id", cmdCtx.AgentID),
				zap.Error(err))
			reply = commandErrorText(err)
		} else {
			h.engine.AcknowledgeCommand(ctx, cmdCtx)
		}
		if threadID != "" {
			h.engine.NotifyThread(ctx, threadID, reply)
		} else {
			// General-topic commands answer at chat level; a thread id
			// equal to the chat id is rejected by the gateway.
			h.engine.NotifyChat(ctx, chatID, reply)
		}
		return
	}

	if threadID == "" {
		// Chatter in the general topic is not routed anywhere.
		return
	}
	if err := h.engine.SendReplyToUser(ctx, threadID, threadID, content); err != nil {
		h.logger.Error("reply routing failed", zap.String("thread_id", threadID), zap.Error(err))
	}
}

func (h *WebhookHandler) handleUserMessage(ctx context.Context, msg *dto.IncomingMessage, content domain.MessageContent) {
	user := senderToUser(msg.From)

	if content.Kind == domain.ContentText {
		handled, err := h.flow.HandleFeedback(ctx, &user, content.Text)
		if err != nil {
			h.logger.Error("feedback handling failed", zap.String("user_id", user.ID), zap.Error(err))
		}
		if handled {
			return
		}
	}

	if _, err := h.engine.ForwardUserMessage(ctx, user, content, requestKindSupport); err != nil {
		h.logger.Error("forward failed", zap.String("user_id", user.ID), zap.Error(err))
	}
}

func senderToUser(s *dto.Sender) domain.User {
	return domain.User{
		ID:        strconv.FormatInt(s.ID, 10),
		Username:  s.Username,
		FirstName: s.FirstName,
		LastName:  s.LastName,
		Language:  s.LanguageCode,
	}
}

// messageContent maps the wire shape onto the routing content union.
// Unrecognized payloads degrade to the unknown kind so they still reach
// the thread as a notice.
func messageContent(msg *dto.IncomingMessage) domain.MessageContent {
	switch {
	case msg.Text != "":
		return domain.TextContent(msg.Text)
	case len(msg.Photo) > 0:
		// The last size is the largest rendition.
		return media(domain.ContentImage, &msg.Photo[len(msg.Photo)-1], msg.Caption)
	case msg.Document != nil:
		return media(domain.ContentDocument, msg.Document, msg.Caption)
	case msg.Video != nil:
		return media(domain.ContentVideo, msg.Video, msg.Caption)
	case msg.Voice != nil:
		return media(domain.ContentVoice, msg.Voice, msg.Caption)
	case msg.Sticker != nil:
		return media(domain.ContentSticker, msg.Sticker, "")
	default:
		return domain.MessageContent{Kind: domain.ContentUnknown}
	}
}

func media(kind domain.ContentKind, file *dto.FileMeta, caption string) domain.MessageContent {
	content := domain.MediaContent(kind, file.FileID, caption)
	content.FileName = file.FileName
	content.MimeType = file.MimeType
	return content
}

func commandErrorText(err error) string {
	return "❌ " + err.Error()
}

func ack(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-router/internal/domain"
)

const defaultAPIBase = "https://api.telegram.org"

// telegramGateway talks to the Telegram Bot API. Threads map to forum
// topics inside the configured support supergroup.
type telegramGateway struct {
	token       string
	supportChat string
	apiBase     string
	client      *http.Client
	logger      *zap.Logger
}

// NewTelegramGateway builds the production gateway. supportChat is the
// supergroup that hosts one forum topic per ticket.
func NewTelegramGateway(token, supportChat string, logger *zap.Logger) Gateway {
	return &telegramGateway{
		token:       token,
		supportChat: supportChat,
		apiBase:     defaultAPIBase,
		client:      &http.Client{Timeout: 15 * time.Second},
		logger:      logger,
	}
}

type apiResponse struct {
	OK          bool            `json:"ok"`
	Result      json.RawMessage `json:"result"`
	ErrorCode   int             `json:"error_code"`
	Description string          `json:"description"`
}

func (g *telegramGateway) CreateThread(ctx context.Context, label string, colorHint int) (string, error) {
	params := map[string]any{
		"chat_id": g.supportChat,
		"name":    label,
	}
	if colorHint != 0 {
		params["icon_color"] = colorHint
	}
	var topic struct {
		MessageThreadID int64 `json:"message_thread_id"`
	}
	if err := g.call(ctx, "createForumTopic", params, &topic); err != nil {
		return "", err
	}
	return strconv.FormatInt(topic.MessageThreadID, 10), nil
}

func (g *telegramGateway) CloseThread(ctx context.Context, threadID string) error {
	return g.call(ctx, "closeForumTopic", map[string]any{
		"chat_id":           g.supportChat,
		"message_thread_id": threadID,
	}, nil)
}

func (g *telegramGateway) ReopenThread(ctx context.Context, threadID string) error {
	return g.call(ctx, "reopenForumTopic", map[string]any{
		"chat_id":           g.supportChat,
		"message_thread_id": threadID,
	}, nil)
}

func (g *telegramGateway) Deliver(ctx context.Context, dest Destination, content domain.MessageContent) (string, error) {
	method, params := deliverParams(dest, content, g.supportChat)
	var sent struct {
		MessageID int64 `json:"message_id"`
	}
	if err := g.call(ctx, method, params, &sent); err != nil {
		return "", err
	}
	return strconv.FormatInt(sent.MessageID, 10), nil
}

func (g *telegramGateway) React(ctx context.Context, dest Destination, emoji string) error {
	// setMessageReaction needs a message id; the routing layer only
	// tracks destinations, so reactions target the chat's last message
	// and silently degrade when unsupported.
	params := map[string]any{
		"chat_id":  destChatID(dest, g.supportChat),
		"reaction": []map[string]string{{"type": "emoji", "emoji": emoji}},
	}
	return g.call(ctx, "setMessageReaction", params, nil)
}

func (g *telegramGateway) call(ctx context.Context, method string, params map[string]any, out any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return NewError(FailureUnknown, method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", g.apiBase, g.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return NewError(FailureUnknown, method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return NewError(FailureUnknown, method, err)
	}
	defer resp.Body.Close()

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return NewError(FailureUnknown, method, err)
	}
	if !apiResp.OK {
		kind := classifyAPIError(apiResp.ErrorCode, apiResp.Description)
		g.logger.Debug("telegram api error",
			zap.String("method", method),
			zap.Int("code", apiResp.ErrorCode),
			zap.String("description", apiResp.Description))
		return NewError(kind, method, fmt.Errorf("api %d: %s", apiResp.ErrorCode, apiResp.Description))
	}
	if out != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, out); err != nil {
			return NewError(FailureUnknown, method, err)
		}
	}
	return nil
}

// classifyAPIError maps Bot API failures onto the routing failure
// taxonomy. Descriptions are matched because Telegram reuses 400/403
// codes across very different conditions.
func classifyAPIError(code int, description string) FailureKind {
	desc := strings.ToLower(description)
	switch {
	case code == 429:
		return FailureRateLimited
	case code == 403 && strings.Contains(desc, "blocked"):
		return FailureUserBlocked
	case code == 403:
		return FailurePermissionDenied
	case strings.Contains(desc, "chat not found"),
		strings.Contains(desc, "thread not found"),
		strings.Contains(desc, "topic_deleted"):
		return FailureDestinationNotFound
	default:
		return FailureUnknown
	}
}

func destChatID(dest Destination, supportChat string) string {
	if dest.Kind == DestinationThread {
		return supportChat
	}
	return dest.ID
}

func deliverParams(dest Destination, content domain.MessageContent, supportChat string) (string, map[string]any) {
	params := map[string]any{"chat_id": destChatID(dest, supportChat)}
	if dest.Kind == DestinationThread {
		params["message_thread_id"] = dest.ID
	}

	switch content.Kind {
	case domain.ContentImage:
		params["photo"] = content.FileRef
		if content.Caption != "" {
			params["caption"] = content.Caption
		}
		return "sendPhoto", params
	case domain.ContentDocument:
		params["document"] = content.FileRef
		if content.Caption != "" {
			params["caption"] = content.Caption
		}
		return "sendDocument", params
	case domain.ContentVideo:
		params["video"] = content.FileRef
		if content.Caption != "" {
			params["caption"] = content.Caption
		}
		return "sendVideo", params
	case domain.ContentVoice:
		params["voice"] = content.FileRef
		if content.Caption != "" {
			params["caption"] = content.Caption
		}
		return "sendVoice", params
	case domain.ContentSticker:
		params["sticker"] = content.FileRef
		return "sendSticker", params
	default:
		params["text"] = content.Text
		return "sendMessage", params
	}
}

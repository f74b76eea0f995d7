package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-router/internal/api/dto"
	"github.com/spec-kit/support-router/internal/domain"
	"github.com/spec-kit/support-router/internal/events"
	"github.com/spec-kit/support-router/internal/gateway"
	"github.com/spec-kit/support-router/internal/observability"
	"github.com/spec-kit/support-router/internal/ratelimit"
	"github.com/spec-kit/support-router/internal/repository"
	"github.com/spec-kit/support-router/internal/routing"
	"github.com/spec-kit/support-router/internal/satisfaction"
)

const testSupportChat = "-100200300"

type memGateway struct {
	mu        sync.Mutex
	threads   int
	delivered []gateway.Destination
	texts     []string
	reactions []string
}

func (g *memGateway) CreateThread(ctx context.Context, label string, colorHint int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.threads++
	return strconv.Itoa(g.threads), nil
}
func (g *memGateway) CloseThread(ctx context.Context, threadID string) error  { return nil }
func (g *memGateway) ReopenThread(ctx context.Context, threadID string) error { return nil }
func (g *memGateway) Deliver(ctx context.Context, dest gateway.Destination, content domain.MessageContent) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delivered = append(g.delivered, dest)
	g.texts = append(g.texts, content.Preview())
	return "1", nil
}
func (g *memGateway) React(ctx context.Context, dest gateway.Destination, emoji string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reactions = append(g.reactions, emoji)
	return nil
}

func newWebhookApp(t *testing.T) (*fiber.App, *memGateway, repository.TicketRepository) {
	t.Helper()
	logger := zap.NewNop()
	repo := repository.NewMemoryTicketRepository()
	gw := &memGateway{}
	dispatcher := events.NewInMemoryDispatcher()
	quota := ratelimit.NewMemoryQuota()
	metrics := observability.NewMetrics()

	flow := satisfaction.NewFlow(satisfaction.Dependencies{
		Repo: repo, Gateway: gw, Quota: quota, Dispatcher: dispatcher,
		Metrics: metrics, Logger: logger, DailyQuota: 10,
	})
	engine := routing.NewEngine(routing.Dependencies{
		Repo: repo, Gateway: gw, Dispatcher: dispatcher, Quota: quota,
		Metrics: metrics, Logger: logger, Survey: flow,
		SupportChatID: testSupportChat, DailyQuota: 10,
	})

	app := fiber.New()
	handler := NewWebhookHandler(engine, flow, logger, testSupportChat, "hook-secret")
	app.Post("/webhook", handler.Handle)
	return app, gw, repo
}

func postUpdate(t *testing.T, app *fiber.App, secret string, update dto.Update) *http.Response {
	t.Helper()
	body, err := json.Marshal(update)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(secretTokenHeader, secret)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	return resp
}

func userUpdate(text string) dto.Update {
	return dto.Update{
		UpdateID: 1,
		Message: &dto.IncomingMessage{
			MessageID: 10,
			From:      &dto.Sender{ID: 555, Username: "alice", FirstName: "Alice", LanguageCode: "en"},
			Chat:      dto.Chat{ID: 555, Type: "private"},
			Text:      text,
		},
	}
}

func teamUpdate(threadID int64, text string) dto.Update {
	chatID, _ := strconv.ParseInt(testSupportChat, 10, 64)
	return dto.Update{
		UpdateID: 2,
		Message: &dto.IncomingMessage{
			MessageID:       11,
			From:            &dto.Sender{ID: 900, Username: "agent"},
			Chat:            dto.Chat{ID: chatID, Type: "supergroup"},
			MessageThreadID: threadID,
			Text:            text,
		},
	}
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	app, _, _ := newWebhookApp(t)
	resp := postUpdate(t, app, "wrong", userUpdate("hi"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookUserMessageOpensTicket(t *testing.T) {
	app, gw, repo := newWebhookApp(t)
	resp := postUpdate(t, app, "hook-secret", userUpdate("my payment failed"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ticket, err := repo.GetByUser(context.Background(), "555")
	require.NoError(t, err)
	assert.Equal(t, domain.CategoryBilling, ticket.Category)
	assert.Equal(t, "1", ticket.ThreadID)
	assert.Equal(t, 1, gw.threads)
}

func TestWebhookIgnoresBots(t *testing.T) {
	app, gw, repo := newWebhookApp(t)
	update := userUpdate("beep")
	update.Message.From.IsBot = true

	resp := postUpdate(t, app, "hook-secret", update)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, gw.threads)
	_, err := repo.GetByUser(context.Background(), "555")
	assert.Error(t, err)
}

func TestWebhookTeamReplyRoutesToUser(t *testing.T) {
	app, gw, _ := newWebhookApp(t)
	postUpdate(t, app, "hook-secret", userUpdate("help me"))

	resp := postUpdate(t, app, "hook-secret", teamUpdate(1, "on it!"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var toUser bool
	for i, dest := range gw.delivered {
		if dest.Kind == gateway.DestinationUser && dest.ID == "555" {
			toUser = true
			assert.Contains(t, gw.texts[i], "on it!")
		}
	}
	assert.True(t, toUser)
}

func TestWebhookAdminCommandRepliesInThread(t *testing.T) {
	app, gw, repo := newWebhookApp(t)
	postUpdate(t, app, "hook-secret", userUpdate("help me"))

	resp := postUpdate(t, app, "hook-secret", teamUpdate(1, "/priority critical"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ticket, err := repo.GetByUser(context.Background(), "555")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketPriorityCritical, ticket.Priority)

	last := gw.delivered[len(gw.delivered)-1]
	assert.Equal(t, gateway.DestinationThread, last.Kind)
	assert.Equal(t, "1", last.ID)
	assert.Equal(t, []string{"✅"}, gw.reactions, "successful commands are acknowledged with a reaction")
}

func TestWebhookGeneralTopicCommandAnswersAtChatLevel(t *testing.T) {
	app, gw, _ := newWebhookApp(t)
	postUpdate(t, app, "hook-secret", userUpdate("my payment failed"))

	resp := postUpdate(t, app, "hook-secret", teamUpdate(0, "/stats"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	last := gw.delivered[len(gw.delivered)-1]
	assert.Equal(t, gateway.DestinationChat, last.Kind)
	assert.Equal(t, testSupportChat, last.ID)
	assert.Contains(t, gw.texts[len(gw.texts)-1], "Open: 1")
	assert.Equal(t, []string{"✅"}, gw.reactions)
}

func TestWebhookFeedbackDigitAfterClose(t *testing.T) {
	app, gw, repo := newWebhookApp(t)
	ctx := context.Background()
	postUpdate(t, app, "hook-secret", userUpdate("help me"))
	require.NoError(t, repo.SetStatus(ctx, "555", domain.TicketStatusClosed))

	resp := postUpdate(t, app, "hook-secret", userUpdate("5"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ticket, err := repo.GetByUser(ctx, "555")
	require.NoError(t, err)
	require.NotNil(t, ticket.SatisfactionRating)
	assert.Equal(t, 5, *ticket.SatisfactionRating)
	assert.Equal(t, 1, gw.threads, "feedback does not reopen the ticket")
}

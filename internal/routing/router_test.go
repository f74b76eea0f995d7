package routing

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-router/internal/domain"
	"github.com/spec-kit/support-router/internal/events"
	"github.com/spec-kit/support-router/internal/gateway"
	"github.com/spec-kit/support-router/internal/observability"
	"github.com/spec-kit/support-router/internal/ratelimit"
	"github.com/spec-kit/support-router/internal/repository"
)

type fakeDelivery struct {
	dest    gateway.Destination
	content domain.MessageContent
}

type fakeReaction struct {
	dest  gateway.Destination
	emoji string
}

type fakeGateway struct {
	mu             sync.Mutex
	nextThread     int
	createErr      error
	deliverUserErr error
	created        []string
	closed         []string
	reopened       []string
	delivered      []fakeDelivery
	reactions      []fakeReaction
}

func (g *fakeGateway) CreateThread(ctx context.Context, label string, colorHint int) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.createErr != nil {
		return "", g.createErr
	}
	g.nextThread++
	g.created = append(g.created, label)
	return "thread-" + strconv.Itoa(g.nextThread), nil
}

func (g *fakeGateway) CloseThread(ctx context.Context, threadID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = append(g.closed, threadID)
	return nil
}

func (g *fakeGateway) ReopenThread(ctx context.Context, threadID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reopened = append(g.reopened, threadID)
	return nil
}

func (g *fakeGateway) Deliver(ctx context.Context, dest gateway.Destination, content domain.MessageContent) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if dest.Kind == gateway.DestinationUser && g.deliverUserErr != nil {
		return "", g.deliverUserErr
	}
	g.delivered = append(g.delivered, fakeDelivery{dest: dest, content: content})
	return "msg-" + strconv.Itoa(len(g.delivered)), nil
}

func (g *fakeGateway) React(ctx context.Context, dest gateway.Destination, emoji string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reactions = append(g.reactions, fakeReaction{dest: dest, emoji: emoji})
	return nil
}

func (g *fakeGateway) userDeliveries() []fakeDelivery {
	return g.deliveriesTo(gateway.DestinationUser)
}

func (g *fakeGateway) threadDeliveries() []fakeDelivery {
	return g.deliveriesTo(gateway.DestinationThread)
}

func (g *fakeGateway) deliveriesTo(kind gateway.DestinationKind) []fakeDelivery {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []fakeDelivery
	for _, d := range g.delivered {
		if d.dest.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

type capturedEvents struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *capturedEvents) record(ctx context.Context, event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *capturedEvents) ofType(eventType events.EventType) []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []events.Event
	for _, event := range c.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

type engineFixture struct {
	engine   *Engine
	gw       *fakeGateway
	repo     repository.TicketRepository
	captured *capturedEvents
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	gw := &fakeGateway{}
	repo := repository.NewMemoryTicketRepository()
	dispatcher := events.NewInMemoryDispatcher()
	captured := &capturedEvents{}
	for _, eventType := range []events.EventType{
		events.EventTicketCreated, events.EventTicketStatusChanged,
		events.EventTicketEscalated, events.EventFirstResponseRecorded,
		events.EventSatisfactionRecorded,
	} {
		dispatcher.Subscribe(eventType, captured.record)
	}
	engine := NewEngine(Dependencies{
		Repo:          repo,
		Gateway:       gw,
		Cache:         NewMemoryContextCache(),
		Dispatcher:    dispatcher,
		Quota:         ratelimit.NewMemoryQuota(),
		Metrics:       observability.NewMetrics(),
		Logger:        zap.NewNop(),
		SupportChatID: "support-chat",
		DailyQuota:    10,
		Clock:         func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	return &engineFixture{engine: engine, gw: gw, repo: repo, captured: captured}
}

var testUser = domain.User{ID: "u1", Username: "alice", FirstName: "Alice", Language: "en"}

func TestForwardUserMessageCreatesTicketAndThread(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	ticket, err := f.engine.ForwardUserMessage(ctx, testUser, domain.TextContent("urgent: payment failed"), "Support")
	require.NoError(t, err)
	assert.Equal(t, "thread-1", ticket.ThreadID)
	assert.Equal(t, domain.CategoryBilling, ticket.Category)
	assert.Equal(t, domain.TicketPriorityCritical, ticket.Priority)

	require.Len(t, f.gw.created, 1)
	assert.Contains(t, f.gw.created[0], "Alice")

	forwarded := f.gw.threadDeliveries()
	require.Len(t, forwarded, 1)
	assert.Equal(t, "thread-1", forwarded[0].dest.ID)
	assert.Contains(t, forwarded[0].content.Text, "urgent: payment failed")
	assert.Contains(t, forwarded[0].content.Text, "BILLING/CRITICAL")

	created := f.captured.ofType(events.EventTicketCreated)
	require.Len(t, created, 1)
	assert.Equal(t, "u1", created[0].UserID)
}

func TestForwardUserMessageReusesTicket(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	first, err := f.engine.ForwardUserMessage(ctx, testUser, domain.TextContent("hello"), "Support")
	require.NoError(t, err)
	second, err := f.engine.ForwardUserMessage(ctx, testUser, domain.TextContent("still waiting"), "Support")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, f.gw.created, 1, "thread created exactly once")
	assert.Len(t, f.captured.ofType(events.EventTicketCreated), 1)

	stored, err := f.repo.GetByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.MessageCount)
}

func TestForwardUserMessageFallbackThread(t *testing.T) {
	f := newEngineFixture(t)
	f.gw.createErr = errors.New("gateway down")
	ctx := context.Background()

	ticket, err := f.engine.ForwardUserMessage(ctx, testUser, domain.TextContent("help"), "Support")
	require.NoError(t, err, "ticket persists even when the thread cannot be created")
	assert.True(t, strings.HasPrefix(ticket.ThreadID, "fallback-"))
	assert.Empty(t, f.gw.threadDeliveries(), "nothing forwarded without a real thread")

	created := f.captured.ofType(events.EventTicketCreated)
	require.Len(t, created, 1)
	payload := created[0].Payload.(events.TicketCreatedPayload)
	assert.True(t, payload.Degraded)
}

func TestForwardUserMessageReopensClosedTicket(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.ForwardUserMessage(ctx, testUser, domain.TextContent("hello"), "Support")
	require.NoError(t, err)
	require.NoError(t, f.repo.SetStatus(ctx, "u1", domain.TicketStatusClosed))

	ticket, err := f.engine.ForwardUserMessage(ctx, testUser, domain.TextContent("me again"), "Support")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.Contains(t, f.gw.reopened, "thread-1")

	changes := f.captured.ofType(events.EventTicketStatusChanged)
	require.Len(t, changes, 1)
	payload := changes[0].Payload.(events.TicketStatusChangedPayload)
	assert.Equal(t, domain.TicketStatusOpen, payload.NewStatus)
	assert.Equal(t, "user-message", payload.Actor)
}

func TestSendReplyToUserRecordsFirstResponseOnce(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.ForwardUserMessage(ctx, testUser, domain.TextContent("hello"), "Support")
	require.NoError(t, err)

	require.NoError(t, f.engine.SendReplyToUser(ctx, "thread-1", "thread-1", domain.TextContent("hi Alice")))
	require.NoError(t, f.engine.SendReplyToUser(ctx, "thread-1", "thread-1", domain.TextContent("anything else?")))

	ticket, err := f.repo.GetByUser(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, ticket.FirstResponseAt)
	assert.NotNil(t, ticket.LastAgentMessageAt)
	assert.Len(t, f.captured.ofType(events.EventFirstResponseRecorded), 1)

	replies := f.gw.userDeliveries()
	require.Len(t, replies, 2)
	assert.Equal(t, "u1", replies[0].dest.ID)
	assert.Contains(t, replies[0].content.Text, "hi Alice")
	assert.Contains(t, replies[0].content.Text, "Support:")
}

func TestSendReplyToUserDegradedCorrelation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.ForwardUserMessage(ctx, testUser, domain.TextContent("hello"), "Support")
	require.NoError(t, err)

	err = f.engine.SendReplyToUser(ctx, "stale-thread", "thread-1", domain.TextContent("found you"))
	require.NoError(t, err)

	replies := f.gw.userDeliveries()
	require.Len(t, replies, 1)
	assert.Equal(t, "u1", replies[0].dest.ID)
}

func TestSendReplyToUserUnknownThread(t *testing.T) {
	f := newEngineFixture(t)
	err := f.engine.SendReplyToUser(context.Background(), "nope", "", domain.TextContent("hi"))
	assert.Error(t, err)
}

func TestSendReplyToUserDeliveryFailureNotifiesThread(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, err := f.engine.ForwardUserMessage(ctx, testUser, domain.TextContent("hello"), "Support")
	require.NoError(t, err)

	f.gw.deliverUserErr = gateway.NewError(gateway.FailureUserBlocked, "sendMessage", errors.New("blocked"))
	err = f.engine.SendReplyToUser(ctx, "thread-1", "thread-1", domain.TextContent("hi"))
	require.Error(t, err)

	notices := f.gw.threadDeliveries()
	require.NotEmpty(t, notices)
	last := notices[len(notices)-1]
	assert.Contains(t, last.content.Text, "blocked")
}

func TestSendProactiveQuotaExhaustion(t *testing.T) {
	gw := &fakeGateway{}
	engine := NewEngine(Dependencies{
		Repo:       repository.NewMemoryTicketRepository(),
		Gateway:    gw,
		Quota:      ratelimit.NewMemoryQuota(),
		Metrics:    observability.NewMetrics(),
		Logger:     zap.NewNop(),
		DailyQuota: 2,
	})
	ctx := context.Background()

	require.NoError(t, engine.SendProactive(ctx, "u1", domain.TextContent("one")))
	require.NoError(t, engine.SendProactive(ctx, "u2", domain.TextContent("two")))
	err := engine.SendProactive(ctx, "u3", domain.TextContent("three"))
	assert.Error(t, err, "third proactive send exceeds the daily quota")
	assert.Len(t, gw.userDeliveries(), 2)
}

func TestThreadContextRoundTrip(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	_, ok := f.engine.LastThreadContext(ctx, "chat-9")
	assert.False(t, ok)

	f.engine.RememberThreadContext(ctx, "chat-9", "thread-42")
	got, ok := f.engine.LastThreadContext(ctx, "chat-9")
	assert.True(t, ok)
	assert.Equal(t, "thread-42", got)
}

func TestMapToThreadPreservesMediaKind(t *testing.T) {
	ticket := &domain.SupportTicket{Category: domain.CategoryGeneral, Priority: domain.TicketPriorityMedium}
	content := domain.MessageContent{Kind: domain.ContentImage, FileRef: "f1", Caption: "screenshot"}

	mapped := mapToThread(testUser, ticket, content)
	assert.Equal(t, domain.ContentImage, mapped.Kind)
	assert.Equal(t, "f1", mapped.FileRef)
	assert.Contains(t, mapped.Caption, "screenshot")
	assert.Contains(t, mapped.Caption, "Alice")
}

func TestMapToUserSpanishFooter(t *testing.T) {
	ticket := &domain.SupportTicket{Language: "es"}
	mapped := mapToUser(ticket, domain.TextContent("hola"))
	assert.Contains(t, mapped.Text, "Soporte")
	assert.Contains(t, mapped.Text, "hola")
	assert.Contains(t, mapped.Text, "Responde a este mensaje")
}

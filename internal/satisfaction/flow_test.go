package satisfaction

import (
	"context"
	"strconv"
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

type stubGateway struct {
	mu        sync.Mutex
	delivered []string
}

func (g *stubGateway) CreateThread(ctx context.Context, label string, colorHint int) (string, error) {
	return "thread-x", nil
}
func (g *stubGateway) CloseThread(ctx context.Context, threadID string) error  { return nil }
func (g *stubGateway) ReopenThread(ctx context.Context, threadID string) error { return nil }
func (g *stubGateway) Deliver(ctx context.Context, dest gateway.Destination, content domain.MessageContent) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.delivered = append(g.delivered, content.Text)
	return strconv.Itoa(len(g.delivered)), nil
}
func (g *stubGateway) React(ctx context.Context, dest gateway.Destination, emoji string) error {
	return nil
}

type flowFixture struct {
	flow      *Flow
	repo      repository.TicketRepository
	gw        *stubGateway
	published *[]events.Event
}

func newFlowFixture(t *testing.T, dailyQuota int) *flowFixture {
	t.Helper()
	repo := repository.NewMemoryTicketRepository()
	gw := &stubGateway{}
	dispatcher := events.NewInMemoryDispatcher()
	var published []events.Event
	dispatcher.Subscribe(events.EventSatisfactionRecorded, func(ctx context.Context, event events.Event) error {
		published = append(published, event)
		return nil
	})
	flow := NewFlow(Dependencies{
		Repo:       repo,
		Gateway:    gw,
		Quota:      ratelimit.NewMemoryQuota(),
		Dispatcher: dispatcher,
		Metrics:    observability.NewMetrics(),
		Logger:     zap.NewNop(),
		DailyQuota: dailyQuota,
		Clock:      func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
	})
	return &flowFixture{flow: flow, repo: repo, gw: gw, published: &published}
}

func seedFinishedTicket(t *testing.T, repo repository.TicketRepository, userID, language string) {
	t.Helper()
	ctx := context.Background()
	_, created, err := repo.UpsertForUser(ctx, repository.UpsertInput{
		UserID: userID, ThreadID: "t-" + userID, Category: domain.CategoryGeneral,
		Priority: domain.TicketPriorityMedium, Language: language,
	})
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, repo.SetStatus(ctx, userID, domain.TicketStatusClosed))
}

func TestSendSurvey(t *testing.T) {
	f := newFlowFixture(t, 10)
	ctx := context.Background()

	ticket := &domain.SupportTicket{UserID: "u1", Language: "es"}
	require.NoError(t, f.flow.SendSurvey(ctx, ticket))
	require.Len(t, f.gw.delivered, 1)
	assert.Contains(t, f.gw.delivered[0], "1 al 5")

	rating := 3
	rated := &domain.SupportTicket{UserID: "u2", SatisfactionRating: &rating}
	require.NoError(t, f.flow.SendSurvey(ctx, rated))
	assert.Len(t, f.gw.delivered, 1, "no survey when feedback already exists")
}

func TestSendSurveyQuotaExhausted(t *testing.T) {
	f := newFlowFixture(t, 1)
	ctx := context.Background()

	require.NoError(t, f.flow.SendSurvey(ctx, &domain.SupportTicket{UserID: "u1", Language: "en"}))
	err := f.flow.SendSurvey(ctx, &domain.SupportTicket{UserID: "u2", Language: "en"})
	assert.Error(t, err)
	assert.Len(t, f.gw.delivered, 1)
}

func TestHandleFeedbackRating(t *testing.T) {
	f := newFlowFixture(t, 10)
	ctx := context.Background()
	seedFinishedTicket(t, f.repo, "u1", "en")
	user := &domain.User{ID: "u1", Language: "en"}

	handled, err := f.flow.HandleFeedback(ctx, user, " 4 ")
	require.NoError(t, err)
	assert.True(t, handled)

	ticket, err := f.repo.GetByUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, ticket.SatisfactionRating)
	assert.Equal(t, 4, *ticket.SatisfactionRating)

	require.Len(t, *f.published, 1)
	payload := (*f.published)[0].Payload.(events.SatisfactionRecordedPayload)
	require.NotNil(t, payload.Rating)
	assert.Equal(t, 4, *payload.Rating)

	require.Len(t, f.gw.delivered, 1)
	assert.Contains(t, f.gw.delivered[0], "Thank you")
}

func TestHandleFeedbackText(t *testing.T) {
	f := newFlowFixture(t, 10)
	ctx := context.Background()
	seedFinishedTicket(t, f.repo, "u1", "es")
	user := &domain.User{ID: "u1", Language: "es"}

	handled, err := f.flow.HandleFeedback(ctx, user, "muy buena atención")
	require.NoError(t, err)
	assert.True(t, handled)

	ticket, err := f.repo.GetByUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, ticket.SatisfactionFeedback)
	assert.Equal(t, "muy buena atención", *ticket.SatisfactionFeedback)
	assert.Nil(t, ticket.SatisfactionRating)

	require.Len(t, f.gw.delivered, 1)
	assert.Contains(t, f.gw.delivered[0], "Gracias")
}

func TestHandleFeedbackOnlyOnce(t *testing.T) {
	f := newFlowFixture(t, 10)
	ctx := context.Background()
	seedFinishedTicket(t, f.repo, "u1", "en")
	user := &domain.User{ID: "u1", Language: "en"}

	handled, err := f.flow.HandleFeedback(ctx, user, "5")
	require.NoError(t, err)
	require.True(t, handled)

	handled, err = f.flow.HandleFeedback(ctx, user, "actually it was bad")
	require.NoError(t, err)
	assert.False(t, handled, "second message routes as new traffic")
	assert.Len(t, *f.published, 1)
}

func TestHandleFeedbackIgnoresOpenTickets(t *testing.T) {
	f := newFlowFixture(t, 10)
	ctx := context.Background()
	_, _, err := f.repo.UpsertForUser(ctx, repository.UpsertInput{
		UserID: "u1", ThreadID: "t1", Category: domain.CategoryGeneral,
		Priority: domain.TicketPriorityMedium, Language: "en",
	})
	require.NoError(t, err)
	user := &domain.User{ID: "u1", Language: "en"}

	handled, err := f.flow.HandleFeedback(ctx, user, "3")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestHandleFeedbackNoTicket(t *testing.T) {
	f := newFlowFixture(t, 10)
	handled, err := f.flow.HandleFeedback(context.Background(), &domain.User{ID: "ghost"}, "3")
	require.NoError(t, err)
	assert.False(t, handled)
}

func TestParseRatingBounds(t *testing.T) {
	cases := []struct {
		text string
		want int
		ok   bool
	}{
		{"1", 1, true},
		{"5", 5, true},
		{"0", 0, false},
		{"6", 0, false},
		{"10", 0, false},
		{"five", 0, false},
		{"", 0, false},
	}
	for _, tc := range cases {
		got, ok := parseRating(tc.text)
		assert.Equal(t, tc.ok, ok, "text=%q", tc.text)
		if tc.ok {
			assert.Equal(t, tc.want, got)
		}
	}
}

package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/support-router/internal/domain"
)

func newTestRepo(t *testing.T) (TicketRepository, *time.Time) {
	t.Helper()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	repo := NewMemoryTicketRepositoryWithClock(func() time.Time { return now })
	return repo, &now
}

func seedTicket(t *testing.T, repo TicketRepository, userID, threadID string) *domain.SupportTicket {
	t.Helper()
	ticket, created, err := repo.UpsertForUser(context.Background(), UpsertInput{
		UserID:     userID,
		ThreadID:   threadID,
		ThreadName: "🆘 Support — " + userID,
		Category:   domain.CategoryGeneral,
		Priority:   domain.TicketPriorityMedium,
		Language:   "en",
	})
	require.NoError(t, err)
	require.True(t, created)
	return ticket
}

func TestUpsertForUserCreatesOnce(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	first := seedTicket(t, repo, "u1", "t1")
	assert.Equal(t, domain.TicketStatusOpen, first.Status)
	assert.NotEmpty(t, first.ID)

	second, created, err := repo.UpsertForUser(ctx, UpsertInput{
		UserID:   "u1",
		ThreadID: "t-other",
		Category: domain.CategoryBilling,
		Priority: domain.TicketPriorityHigh,
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, "t1", second.ThreadID, "existing thread binding wins")
}

func TestUpsertForUserConcurrent(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	createdCount := make(chan bool, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, created, err := repo.UpsertForUser(ctx, UpsertInput{
				UserID: "u1", ThreadID: "t1",
				Category: domain.CategoryGeneral, Priority: domain.TicketPriorityMedium,
			})
			assert.NoError(t, err)
			createdCount <- created
		}()
	}
	wg.Wait()
	close(createdCount)

	wins := 0
	for created := range createdCount {
		if created {
			wins++
		}
	}
	assert.Equal(t, 1, wins, "exactly one goroutine creates the ticket")
}

func TestLookupMiss(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()

	_, err := repo.GetByUser(ctx, "ghost")
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	_, err = repo.GetByThread(ctx, "no-thread")
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	err = repo.SetStatus(ctx, "ghost", domain.TicketStatusClosed)
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestGetByThread(t *testing.T) {
	repo, _ := newTestRepo(t)
	seedTicket(t, repo, "u1", "t1")

	ticket, err := repo.GetByThread(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "u1", ticket.UserID)
}

func TestRecordFirstResponseIdempotent(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()
	seedTicket(t, repo, "u1", "t1")

	require.NoError(t, repo.RecordFirstResponse(ctx, "u1"))
	first, err := repo.GetByUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, first.FirstResponseAt)

	*clock = clock.Add(time.Hour)
	require.NoError(t, repo.RecordFirstResponse(ctx, "u1"))
	second, err := repo.GetByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, *first.FirstResponseAt, *second.FirstResponseAt)
}

func TestReopenClearsBreachAndTimestamps(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	seedTicket(t, repo, "u1", "t1")

	require.NoError(t, repo.RecordFirstResponse(ctx, "u1"))
	require.NoError(t, repo.RecordResolution(ctx, "u1"))
	require.NoError(t, repo.SetSLABreached(ctx, "u1", true))

	require.NoError(t, repo.Reopen(ctx, "u1"))
	ticket, err := repo.GetByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, ticket.Status)
	assert.False(t, ticket.SLABreached)
	assert.Nil(t, ticket.FirstResponseAt)
	assert.Nil(t, ticket.ResolvedAt)
}

func TestSetSatisfactionOneShot(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	seedTicket(t, repo, "u1", "t1")

	rating := 4
	applied, err := repo.SetSatisfaction(ctx, "u1", &rating, nil)
	require.NoError(t, err)
	assert.True(t, applied)

	feedback := "changed my mind"
	applied, err = repo.SetSatisfaction(ctx, "u1", nil, &feedback)
	require.NoError(t, err)
	assert.False(t, applied, "second write must not take effect")

	ticket, err := repo.GetByUser(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, ticket.SatisfactionRating)
	assert.Equal(t, 4, *ticket.SatisfactionRating)
	assert.Nil(t, ticket.SatisfactionFeedback)
}

func TestListsAndStats(t *testing.T) {
	repo, clock := newTestRepo(t)
	ctx := context.Background()

	seedTicket(t, repo, "u1", "t1")
	*clock = clock.Add(time.Minute)
	seedTicket(t, repo, "u2", "t2")
	*clock = clock.Add(time.Minute)
	seedTicket(t, repo, "u3", "t3")

	require.NoError(t, repo.SetPriority(ctx, "u2", domain.TicketPriorityCritical))
	require.NoError(t, repo.SetCategory(ctx, "u2", domain.CategoryBilling))
	require.NoError(t, repo.SetSLABreached(ctx, "u2", true))
	require.NoError(t, repo.RecordFirstResponse(ctx, "u3"))
	require.NoError(t, repo.RecordResolution(ctx, "u3"))

	open, err := repo.ListOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "u1", open[0].UserID, "oldest first")

	critical, err := repo.ListByPriority(ctx, domain.TicketPriorityCritical)
	require.NoError(t, err)
	require.Len(t, critical, 1)
	assert.Equal(t, "u2", critical[0].UserID)

	billing, err := repo.ListByCategory(ctx, domain.CategoryBilling)
	require.NoError(t, err)
	require.Len(t, billing, 1)

	breached, err := repo.ListSLABreached(ctx)
	require.NoError(t, err)
	require.Len(t, breached, 1)
	assert.Equal(t, "u2", breached[0].UserID)

	needing, err := repo.ListNeedingFirstResponse(ctx)
	require.NoError(t, err)
	assert.Len(t, needing, 2)

	stats, err := repo.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Open)
	assert.Equal(t, 1, stats.Resolved)
	assert.Equal(t, 0, stats.Closed)
	assert.Equal(t, 1, stats.Breached)
	assert.Equal(t, 1, stats.ByCategory[domain.CategoryBilling])
	assert.Equal(t, 1, stats.ByPriority[domain.TicketPriorityCritical])
}

func TestSearch(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	seedTicket(t, repo, "12345", "t1")
	seedTicket(t, repo, "99999", "t2")
	require.NoError(t, repo.SetAssignment(ctx, "99999", "maria"))

	byUser, err := repo.Search(ctx, "123")
	require.NoError(t, err)
	require.Len(t, byUser, 1)
	assert.Equal(t, "12345", byUser[0].UserID)

	byAgent, err := repo.Search(ctx, "MARIA")
	require.NoError(t, err)
	require.Len(t, byAgent, 1)
	assert.Equal(t, "99999", byAgent[0].UserID)
}

func TestReadsReturnCopies(t *testing.T) {
	repo, _ := newTestRepo(t)
	ctx := context.Background()
	seedTicket(t, repo, "u1", "t1")

	ticket, err := repo.GetByUser(ctx, "u1")
	require.NoError(t, err)
	ticket.Status = domain.TicketStatusClosed

	fresh, err := repo.GetByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.TicketStatusOpen, fresh.Status)
}

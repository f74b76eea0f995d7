package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/support-router/internal/domain"
)

// memoryTicketRepository is the in-process TicketRepository used in
// tests and when no postgres DSN is configured. Writes are serialized
// under one mutex, which trivially satisfies the one-ticket-per-user
// contract; reads hand out copies so callers never share state.
type memoryTicketRepository struct {
	mu      sync.Mutex
	tickets map[string]*domain.SupportTicket
	byThrd  map[string]string
	now     func() time.Time
}

// NewMemoryTicketRepository builds an empty in-memory repository.
func NewMemoryTicketRepository() TicketRepository {
	return newMemoryRepository(time.Now)
}

// NewMemoryTicketRepositoryWithClock lets tests control time.
func NewMemoryTicketRepositoryWithClock(now func() time.Time) TicketRepository {
	return newMemoryRepository(now)
}

func newMemoryRepository(now func() time.Time) *memoryTicketRepository {
	return &memoryTicketRepository{
		tickets: make(map[string]*domain.SupportTicket),
		byThrd:  make(map[string]string),
		now:     now,
	}
}

func (r *memoryTicketRepository) GetByUser(ctx context.Context, userID string) (*domain.SupportTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[userID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyTicket(ticket), nil
}

func (r *memoryTicketRepository) GetByThread(ctx context.Context, threadID string) (*domain.SupportTicket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	userID, ok := r.byThrd[threadID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copyTicket(r.tickets[userID]), nil
}

func (r *memoryTicketRepository) UpsertForUser(ctx context.Context, input UpsertInput) (*domain.SupportTicket, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.tickets[input.UserID]; ok {
		return copyTicket(existing), false, nil
	}
	now := r.now()
	ticket := &domain.SupportTicket{
		ID:            uuid.NewString(),
		UserID:        input.UserID,
		ThreadID:      input.ThreadID,
		ThreadName:    input.ThreadName,
		Status:        domain.TicketStatusOpen,
		Category:      input.Category,
		Priority:      input.Priority,
		Language:      input.Language,
		CreatedAt:     now,
		LastMessageAt: now,
		UpdatedAt:     now,
	}
	r.tickets[input.UserID] = ticket
	if input.ThreadID != "" {
		r.byThrd[input.ThreadID] = input.UserID
	}
	return copyTicket(ticket), true, nil
}

func (r *memoryTicketRepository) SetStatus(ctx context.Context, userID string, status domain.TicketStatus) error {
	return r.mutate(userID, func(t *domain.SupportTicket) {
		t.Status = status
	})
}

func (r *memoryTicketRepository) Reopen(ctx context.Context, userID string) error {
	return r.mutate(userID, func(t *domain.SupportTicket) {
		t.Status = domain.TicketStatusOpen
		t.SLABreached = false
		t.FirstResponseAt = nil
		t.ResolvedAt = nil
	})
}

func (r *memoryTicketRepository) SetCategory(ctx context.Context, userID string, category domain.TicketCategory) error {
	return r.mutate(userID, func(t *domain.SupportTicket) {
		t.Category = category
	})
}

func (r *memoryTicketRepository) SetPriority(ctx context.Context, userID string, priority domain.TicketPriority) error {
	return r.mutate(userID, func(t *domain.SupportTicket) {
		t.Priority = priority
	})
}

func (r *memoryTicketRepository) SetAssignment(ctx context.Context, userID, agentID string) error {
	return r.mutate(userID, func(t *domain.SupportTicket) {
		agent := agentID
		t.AssignedAgent = &agent
	})
}

func (r *memoryTicketRepository) SetEscalation(ctx context.Context, userID string, level int) error {
	return r.mutate(userID, func(t *domain.SupportTicket) {
		t.EscalationLevel = level
	})
}

func (r *memoryTicketRepository) RecordLastMessage(ctx context.Context, userID string) error {
	return r.mutate(userID, func(t *domain.SupportTicket) {
		t.LastMessageAt = r.now()
		t.MessageCount++
	})
}

func (r *memoryTicketRepository) RecordLastAgentMessage(ctx context.Context, userID string) error {
	return r.mutate(userID, func(t *domain.SupportTicket) {
		now := r.now()
		t.LastAgentMessageAt = &now
		t.LastMessageAt = now
		t.MessageCount++
	})
}

func (r *memoryTicketRepository) RecordFirstResponse(ctx context.Context, userID string) error {
	return r.mutate(userID, func(t *domain.SupportTicket) {
		if t.FirstResponseAt == nil {
			now := r.now()
			t.FirstResponseAt = &now
		}
	})
}

func (r *memoryTicketRepository) RecordResolution(ctx context.Context, userID string) error {
	return r.mutate(userID, func(t *domain.SupportTicket) {
		now := r.now()
		t.Status = domain.TicketStatusResolved
		t.ResolvedAt = &now
	})
}

func (r *memoryTicketRepository) SetSLABreached(ctx context.Context, userID string, breached bool) error {
	return r.mutate(userID, func(t *domain.SupportTicket) {
		t.SLABreached = breached
	})
}

func (r *memoryTicketRepository) SetSatisfaction(ctx context.Context, userID string, rating *int, feedback *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[userID]
	if !ok {
		return false, pgx.ErrNoRows
	}
	if ticket.HasFeedback() {
		return false, nil
	}
	if rating != nil {
		value := *rating
		ticket.SatisfactionRating = &value
	}
	if feedback != nil {
		value := *feedback
		ticket.SatisfactionFeedback = &value
	}
	ticket.UpdatedAt = r.now()
	return true, nil
}

func (r *memoryTicketRepository) ListOpen(ctx context.Context) ([]domain.SupportTicket, error) {
	return r.collect(func(t *domain.SupportTicket) bool {
		return t.Status == domain.TicketStatusOpen
	}), nil
}

func (r *memoryTicketRepository) ListByCategory(ctx context.Context, category domain.TicketCategory) ([]domain.SupportTicket, error) {
	return r.collect(func(t *domain.SupportTicket) bool {
		return t.Category == category
	}), nil
}

func (r *memoryTicketRepository) ListByPriority(ctx context.Context, priority domain.TicketPriority) ([]domain.SupportTicket, error) {
	return r.collect(func(t *domain.SupportTicket) bool {
		return t.Priority == priority
	}), nil
}

func (r *memoryTicketRepository) ListSLABreached(ctx context.Context) ([]domain.SupportTicket, error) {
	return r.collect(func(t *domain.SupportTicket) bool {
		return t.SLABreached && t.Status == domain.TicketStatusOpen
	}), nil
}

func (r *memoryTicketRepository) ListNeedingFirstResponse(ctx context.Context) ([]domain.SupportTicket, error) {
	return r.collect(func(t *domain.SupportTicket) bool {
		return t.Status == domain.TicketStatusOpen && t.FirstResponseAt == nil
	}), nil
}

func (r *memoryTicketRepository) Search(ctx context.Context, term string) ([]domain.SupportTicket, error) {
	needle := strings.ToLower(strings.TrimSpace(term))
	return r.collect(func(t *domain.SupportTicket) bool {
		if strings.Contains(strings.ToLower(t.UserID), needle) {
			return true
		}
		if strings.Contains(strings.ToLower(t.ThreadName), needle) {
			return true
		}
		return t.AssignedAgent != nil && strings.Contains(strings.ToLower(*t.AssignedAgent), needle)
	}), nil
}

func (r *memoryTicketRepository) GetStats(ctx context.Context) (*Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stats := &Stats{
		ByCategory: make(map[domain.TicketCategory]int),
		ByPriority: make(map[domain.TicketPriority]int),
	}
	for _, ticket := range r.tickets {
		switch ticket.Status {
		case domain.TicketStatusOpen:
			stats.Open++
		case domain.TicketStatusResolved:
			stats.Resolved++
		case domain.TicketStatusClosed:
			stats.Closed++
		}
		if ticket.SLABreached {
			stats.Breached++
		}
		stats.ByCategory[ticket.Category]++
		stats.ByPriority[ticket.Priority]++
	}
	return stats, nil
}

func (r *memoryTicketRepository) mutate(userID string, apply func(*domain.SupportTicket)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[userID]
	if !ok {
		return pgx.ErrNoRows
	}
	apply(ticket)
	ticket.UpdatedAt = r.now()
	return nil
}

func (r *memoryTicketRepository) collect(match func(*domain.SupportTicket) bool) []domain.SupportTicket {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []domain.SupportTicket
	for _, ticket := range r.tickets {
		if match(ticket) {
			result = append(result, *copyTicket(ticket))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result
}

func copyTicket(t *domain.SupportTicket) *domain.SupportTicket {
	clone := *t
	clone.AssignedAgent = copyString(t.AssignedAgent)
	clone.LastAgentMessageAt = copyTime(t.LastAgentMessageAt)
	clone.FirstResponseAt = copyTime(t.FirstResponseAt)
	clone.ResolvedAt = copyTime(t.ResolvedAt)
	clone.SatisfactionRating = copyInt(t.SatisfactionRating)
	clone.SatisfactionFeedback = copyString(t.SatisfactionFeedback)
	return &clone
}

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

func copyTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	clone := *v
	return &clone
}

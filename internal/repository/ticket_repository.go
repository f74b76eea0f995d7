package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/support-router/internal/domain"
)

// UpsertInput carries the creation-time fields for a ticket. On conflict
// with an existing ticket for the same user the input is ignored and the
// surviving row is returned.
type UpsertInput struct {
	UserID     string
	ThreadID   string
	ThreadName string
	Category   domain.TicketCategory
	Priority   domain.TicketPriority
	Language   string
}

// Stats aggregates ticket counts for the admin surface.
type Stats struct {
	Open       int
	Resolved   int
	Closed     int
	Breached   int
	ByCategory map[domain.TicketCategory]int
	ByPriority map[domain.TicketPriority]int
}

// TicketRepository encapsulates ticket persistence. Lookup misses
// surface as pgx.ErrNoRows; all writes are idempotent under retry.
type TicketRepository interface {
	GetByUser(ctx context.Context, userID string) (*domain.SupportTicket, error)
	GetByThread(ctx context.Context, threadID string) (*domain.SupportTicket, error)
	// UpsertForUser atomically creates the user's ticket or returns the
	// existing one; the bool reports whether a row was created.
	UpsertForUser(ctx context.Context, input UpsertInput) (*domain.SupportTicket, bool, error)
	SetStatus(ctx context.Context, userID string, status domain.TicketStatus) error
	// Reopen transitions back to OPEN and resets the per-open-period
	// fields: SLA breach flag, first response and resolution timestamps.
	Reopen(ctx context.Context, userID string) error
	SetCategory(ctx context.Context, userID string, category domain.TicketCategory) error
	SetPriority(ctx context.Context, userID string, priority domain.TicketPriority) error
	SetAssignment(ctx context.Context, userID, agentID string) error
	SetEscalation(ctx context.Context, userID string, level int) error
	RecordLastMessage(ctx context.Context, userID string) error
	RecordLastAgentMessage(ctx context.Context, userID string) error
	// RecordFirstResponse sets first_response_at once; later calls are
	// no-ops.
	RecordFirstResponse(ctx context.Context, userID string) error
	RecordResolution(ctx context.Context, userID string) error
	SetSLABreached(ctx context.Context, userID string, breached bool) error
	// SetSatisfaction records rating/feedback only when none was captured
	// yet; the bool reports whether the write took effect.
	SetSatisfaction(ctx context.Context, userID string, rating *int, feedback *string) (bool, error)
	ListOpen(ctx context.Context) ([]domain.SupportTicket, error)
	ListByCategory(ctx context.Context, category domain.TicketCategory) ([]domain.SupportTicket, error)
	ListByPriority(ctx context.Context, priority domain.TicketPriority) ([]domain.SupportTicket, error)
	ListSLABreached(ctx context.Context) ([]domain.SupportTicket, error)
	ListNeedingFirstResponse(ctx context.Context) ([]domain.SupportTicket, error)
	Search(ctx context.Context, term string) ([]domain.SupportTicket, error)
	GetStats(ctx context.Context) (*Stats, error)
}

const ticketColumns = `id, user_id, thread_id, thread_name, status, category, priority, language,
       assigned_agent, escalation_level, sla_breached, message_count,
       created_at, last_message_at, last_agent_message_at, first_response_at,
       resolved_at, satisfaction_rating, satisfaction_feedback, updated_at`

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates the postgres-backed repository.
func NewTicketRepository(pool *pgxpool.Pool) TicketRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) GetByUser(ctx context.Context, userID string) (*domain.SupportTicket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM support_tickets WHERE user_id=$1`
	return r.fetchSingle(ctx, query, userID)
}

func (r *ticketRepository) GetByThread(ctx context.Context, threadID string) (*domain.SupportTicket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM support_tickets WHERE thread_id=$1`
	return r.fetchSingle(ctx, query, threadID)
}

func (r *ticketRepository) UpsertForUser(ctx context.Context, input UpsertInput) (*domain.SupportTicket, bool, error) {
	// The unique constraint on user_id makes concurrent first messages
	// collapse onto one row: the losing insert hits DO NOTHING and falls
	// through to the read.
	const insert = `
        INSERT INTO support_tickets (user_id, thread_id, thread_name, status, category, priority, language)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (user_id) DO NOTHING
        RETURNING ` + ticketColumns
	ticket, err := r.scanRow(r.pool.QueryRow(ctx, insert,
		input.UserID,
		input.ThreadID,
		input.ThreadName,
		domain.TicketStatusOpen,
		input.Category,
		input.Priority,
		input.Language,
	))
	if err == nil {
		return ticket, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, err
	}
	existing, err := r.GetByUser(ctx, input.UserID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *ticketRepository) SetStatus(ctx context.Context, userID string, status domain.TicketStatus) error {
	const query = `UPDATE support_tickets SET status=$1, updated_at=NOW() WHERE user_id=$2`
	return r.execForUser(ctx, query, status, userID)
}

func (r *ticketRepository) Reopen(ctx context.Context, userID string) error {
	const query = `
        UPDATE support_tickets
        SET status=$1, sla_breached=FALSE, first_response_at=NULL, resolved_at=NULL, updated_at=NOW()
        WHERE user_id=$2`
	return r.execForUser(ctx, query, domain.TicketStatusOpen, userID)
}

func (r *ticketRepository) SetCategory(ctx context.Context, userID string, category domain.TicketCategory) error {
	const query = `UPDATE support_tickets SET category=$1, updated_at=NOW() WHERE user_id=$2`
	return r.execForUser(ctx, query, category, userID)
}

func (r *ticketRepository) SetPriority(ctx context.Context, userID string, priority domain.TicketPriority) error {
	const query = `UPDATE support_tickets SET priority=$1, updated_at=NOW() WHERE user_id=$2`
	return r.execForUser(ctx, query, priority, userID)
}

func (r *ticketRepository) SetAssignment(ctx context.Context, userID, agentID string) error {
	const query = `UPDATE support_tickets SET assigned_agent=$1, updated_at=NOW() WHERE user_id=$2`
	return r.execForUser(ctx, query, agentID, userID)
}

func (r *ticketRepository) SetEscalation(ctx context.Context, userID string, level int) error {
	const query = `UPDATE support_tickets SET escalation_level=$1, updated_at=NOW() WHERE user_id=$2`
	return r.execForUser(ctx, query, level, userID)
}

func (r *ticketRepository) RecordLastMessage(ctx context.Context, userID string) error {
	const query = `
        UPDATE support_tickets
        SET last_message_at=NOW(), message_count=message_count+1, updated_at=NOW()
        WHERE user_id=$1`
	return r.execForUser(ctx, query, userID)
}

func (r *ticketRepository) RecordLastAgentMessage(ctx context.Context, userID string) error {
	const query = `
        UPDATE support_tickets
        SET last_agent_message_at=NOW(), last_message_at=NOW(), message_count=message_count+1, updated_at=NOW()
        WHERE user_id=$1`
	return r.execForUser(ctx, query, userID)
}

func (r *ticketRepository) RecordFirstResponse(ctx context.Context, userID string) error {
	const query = `
        UPDATE support_tickets SET first_response_at=NOW(), updated_at=NOW()
        WHERE user_id=$1 AND first_response_at IS NULL`
	// Zero rows affected means it was already set; that is the
	// idempotent no-op, not a miss.
	_, err := r.pool.Exec(ctx, query, userID)
	return err
}

func (r *ticketRepository) RecordResolution(ctx context.Context, userID string) error {
	const query = `
        UPDATE support_tickets SET status=$1, resolved_at=NOW(), updated_at=NOW()
        WHERE user_id=$2`
	return r.execForUser(ctx, query, domain.TicketStatusResolved, userID)
}

func (r *ticketRepository) SetSLABreached(ctx context.Context, userID string, breached bool) error {
	const query = `UPDATE support_tickets SET sla_breached=$1, updated_at=NOW() WHERE user_id=$2`
	return r.execForUser(ctx, query, breached, userID)
}

func (r *ticketRepository) SetSatisfaction(ctx context.Context, userID string, rating *int, feedback *string) (bool, error) {
	const query = `
        UPDATE support_tickets SET satisfaction_rating=$1, satisfaction_feedback=$2, updated_at=NOW()
        WHERE user_id=$3 AND satisfaction_rating IS NULL AND satisfaction_feedback IS NULL`
	cmd, err := r.pool.Exec(ctx, query, rating, feedback, userID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *ticketRepository) ListOpen(ctx context.Context) ([]domain.SupportTicket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM support_tickets WHERE status=$1 ORDER BY created_at ASC`
	return r.fetchMany(ctx, query, domain.TicketStatusOpen)
}

func (r *ticketRepository) ListByCategory(ctx context.Context, category domain.TicketCategory) ([]domain.SupportTicket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM support_tickets WHERE category=$1 ORDER BY last_message_at DESC`
	return r.fetchMany(ctx, query, category)
}

func (r *ticketRepository) ListByPriority(ctx context.Context, priority domain.TicketPriority) ([]domain.SupportTicket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM support_tickets WHERE priority=$1 ORDER BY last_message_at DESC`
	return r.fetchMany(ctx, query, priority)
}

func (r *ticketRepository) ListSLABreached(ctx context.Context) ([]domain.SupportTicket, error) {
	const query = `SELECT ` + ticketColumns + ` FROM support_tickets WHERE sla_breached=TRUE AND status=$1 ORDER BY created_at ASC`
	return r.fetchMany(ctx, query, domain.TicketStatusOpen)
}

func (r *ticketRepository) ListNeedingFirstResponse(ctx context.Context) ([]domain.SupportTicket, error) {
	const query = `
        SELECT ` + ticketColumns + ` FROM support_tickets
        WHERE status=$1 AND first_response_at IS NULL ORDER BY created_at ASC`
	return r.fetchMany(ctx, query, domain.TicketStatusOpen)
}

func (r *ticketRepository) Search(ctx context.Context, term string) ([]domain.SupportTicket, error) {
	const query = `
        SELECT ` + ticketColumns + ` FROM support_tickets
        WHERE user_id ILIKE $1 OR thread_name ILIKE $1 OR assigned_agent ILIKE $1
        ORDER BY last_message_at DESC LIMIT 50`
	return r.fetchMany(ctx, query, "%"+term+"%")
}

func (r *ticketRepository) GetStats(ctx context.Context) (*Stats, error) {
	const query = `SELECT status, category, priority, sla_breached, COUNT(*) FROM support_tickets
        GROUP BY status, category, priority, sla_breached`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &Stats{
		ByCategory: make(map[domain.TicketCategory]int),
		ByPriority: make(map[domain.TicketPriority]int),
	}
	for rows.Next() {
		var (
			status   domain.TicketStatus
			category domain.TicketCategory
			priority domain.TicketPriority
			breached bool
			count    int
		)
		if err := rows.Scan(&status, &category, &priority, &breached, &count); err != nil {
			return nil, err
		}
		switch status {
		case domain.TicketStatusOpen:
			stats.Open += count
		case domain.TicketStatusResolved:
			stats.Resolved += count
		case domain.TicketStatusClosed:
			stats.Closed += count
		}
		if breached {
			stats.Breached += count
		}
		stats.ByCategory[category] += count
		stats.ByPriority[priority] += count
	}
	return stats, rows.Err()
}

func (r *ticketRepository) execForUser(ctx context.Context, query string, args ...any) error {
	cmd, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *ticketRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.SupportTicket, error) {
	return r.scanRow(r.pool.QueryRow(ctx, query, arg))
}

func (r *ticketRepository) scanRow(row pgx.Row) (*domain.SupportTicket, error) {
	var ticket domain.SupportTicket
	if err := row.Scan(
		&ticket.ID,
		&ticket.UserID,
		&ticket.ThreadID,
		&ticket.ThreadName,
		&ticket.Status,
		&ticket.Category,
		&ticket.Priority,
		&ticket.Language,
		&ticket.AssignedAgent,
		&ticket.EscalationLevel,
		&ticket.SLABreached,
		&ticket.MessageCount,
		&ticket.CreatedAt,
		&ticket.LastMessageAt,
		&ticket.LastAgentMessageAt,
		&ticket.FirstResponseAt,
		&ticket.ResolvedAt,
		&ticket.SatisfactionRating,
		&ticket.SatisfactionFeedback,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (r *ticketRepository) fetchMany(ctx context.Context, query string, args ...any) ([]domain.SupportTicket, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.SupportTicket
	for rows.Next() {
		ticket, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *ticket)
	}
	return result, rows.Err()
}

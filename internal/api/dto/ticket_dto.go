package dto

import (
	"time"

	"github.com/spec-kit/support-router/internal/domain"
	"github.com/spec-kit/support-router/internal/repository"
)

// TicketResponse is the dashboard view of one support ticket.
type TicketResponse struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	ThreadID             string     `json:"thread_id"`
	ThreadName           string     `json:"thread_name"`
	Status               string     `json:"status"`
	Category             string     `json:"category"`
	Priority             string     `json:"priority"`
	Language             string     `json:"language"`
	AssignedAgent        *string    `json:"assigned_agent,omitempty"`
	EscalationLevel      int        `json:"escalation_level"`
	SLABreached          bool       `json:"sla_breached"`
	MessageCount         int        `json:"message_count"`
	CreatedAt            time.Time  `json:"created_at"`
	LastMessageAt        time.Time  `json:"last_message_at"`
	FirstResponseAt      *time.Time `json:"first_response_at,omitempty"`
	ResolvedAt           *time.Time `json:"resolved_at,omitempty"`
	SatisfactionRating   *int       `json:"satisfaction_rating,omitempty"`
	SatisfactionFeedback *string    `json:"satisfaction_feedback,omitempty"`
}

// FromTicket maps a domain ticket to its response shape.
func FromTicket(t domain.SupportTicket) TicketResponse {
	return TicketResponse{
		ID:                   t.ID,
		UserID:               t.UserID,
		ThreadID:             t.ThreadID,
		ThreadName:           t.ThreadName,
		Status:               string(t.Status),
		Category:             string(t.Category),
		Priority:             string(t.Priority),
		Language:             t.Language,
		AssignedAgent:        t.AssignedAgent,
		EscalationLevel:      t.EscalationLevel,
		SLABreached:          t.SLABreached,
		MessageCount:         t.MessageCount,
		CreatedAt:            t.CreatedAt,
		LastMessageAt:        t.LastMessageAt,
		FirstResponseAt:      t.FirstResponseAt,
		ResolvedAt:           t.ResolvedAt,
		SatisfactionRating:   t.SatisfactionRating,
		SatisfactionFeedback: t.SatisfactionFeedback,
	}
}

// FromTickets maps a slice of domain tickets.
func FromTickets(tickets []domain.SupportTicket) []TicketResponse {
	out := make([]TicketResponse, 0, len(tickets))
	for _, t := range tickets {
		out = append(out, FromTicket(t))
	}
	return out
}

// StatsResponse is the dashboard counters view.
type StatsResponse struct {
	Open       int            `json:"open"`
	Resolved   int            `json:"resolved"`
	Closed     int            `json:"closed"`
	Breached   int            `json:"breached"`
	ByCategory map[string]int `json:"by_category"`
	ByPriority map[string]int `json:"by_priority"`
}

// FromStats maps repository counters to the response shape.
func FromStats(s *repository.Stats) StatsResponse {
	byCategory := make(map[string]int, len(s.ByCategory))
	for category, n := range s.ByCategory {
		byCategory[string(category)] = n
	}
	byPriority := make(map[string]int, len(s.ByPriority))
	for priority, n := range s.ByPriority {
		byPriority[string(priority)] = n
	}
	return StatsResponse{
		Open:       s.Open,
		Resolved:   s.Resolved,
		Closed:     s.Closed,
		Breached:   s.Breached,
		ByCategory: byCategory,
		ByPriority: byPriority,
	}
}

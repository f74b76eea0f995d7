package events

import (
	"time"

	"github.com/spec-kit/support-router/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventTicketCreated         EventType = "ticket_created"
	EventTicketStatusChanged   EventType = "ticket_status_changed"
	EventTicketEscalated       EventType = "ticket_escalated"
	EventFirstResponseRecorded EventType = "first_response_recorded"
	EventSLABreached           EventType = "sla_breached"
	EventSatisfactionRecorded  EventType = "satisfaction_recorded"
)

// Event represents a domain event emitted by the routing core.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	UserID    string      `json:"user_id"`
	ThreadID  string      `json:"thread_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// TicketCreatedPayload payload.
type TicketCreatedPayload struct {
	Category domain.TicketCategory `json:"category"`
	Priority domain.TicketPriority `json:"priority"`
	Language string                `json:"language"`
	Degraded bool                  `json:"degraded,omitempty"`
}

// TicketStatusChangedPayload payload.
type TicketStatusChangedPayload struct {
	OldStatus domain.TicketStatus `json:"old_status"`
	NewStatus domain.TicketStatus `json:"new_status"`
	Actor     string              `json:"actor,omitempty"`
}

// TicketEscalatedPayload payload.
type TicketEscalatedPayload struct {
	Level    int                   `json:"level"`
	Priority domain.TicketPriority `json:"priority"`
}

// SLABreachedPayload payload.
type SLABreachedPayload struct {
	Priority domain.TicketPriority `json:"priority"`
	// Resolution distinguishes the 2x-threshold resolution breach from
	// the first-response breach.
	Resolution bool          `json:"resolution"`
	Overdue    time.Duration `json:"overdue"`
}

// SatisfactionRecordedPayload payload.
type SatisfactionRecordedPayload struct {
	Rating   *int   `json:"rating,omitempty"`
	Feedback string `json:"feedback,omitempty"`
}

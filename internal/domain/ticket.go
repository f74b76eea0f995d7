package domain

import "time"

// TicketStatus enumerates lifecycle states for support tickets.
type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "OPEN"
	TicketStatusResolved TicketStatus = "RESOLVED"
	TicketStatusClosed   TicketStatus = "CLOSED"
)

// TicketCategory enumerates what a ticket is about.
type TicketCategory string

const (
	CategoryBilling      TicketCategory = "BILLING"
	CategoryTechnical    TicketCategory = "TECHNICAL"
	CategorySubscription TicketCategory = "SUBSCRIPTION"
	CategoryAccount      TicketCategory = "ACCOUNT"
	CategoryGeneral      TicketCategory = "GENERAL"
)

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow      TicketPriority = "LOW"
	TicketPriorityMedium   TicketPriority = "MEDIUM"
	TicketPriorityHigh     TicketPriority = "HIGH"
	TicketPriorityCritical TicketPriority = "CRITICAL"
)

// MaxEscalationLevel bounds manual escalation.
const MaxEscalationLevel = 3

// SupportTicket is the aggregate for one user's support interaction.
// At most one ticket exists per user; after closure the record stays
// around as an audit trail until the user writes in again.
type SupportTicket struct {
	ID                   string
	UserID               string
	ThreadID             string
	ThreadName           string
	Status               TicketStatus
	Category             TicketCategory
	Priority             TicketPriority
	Language             string
	AssignedAgent        *string
	EscalationLevel      int
	SLABreached          bool
	MessageCount         int
	CreatedAt            time.Time
	LastMessageAt        time.Time
	LastAgentMessageAt   *time.Time
	FirstResponseAt      *time.Time
	ResolvedAt           *time.Time
	SatisfactionRating   *int
	SatisfactionFeedback *string
	UpdatedAt            time.Time
}

// IsOpen reports whether the ticket still needs agent attention.
func (t *SupportTicket) IsOpen() bool {
	return t.Status == TicketStatusOpen
}

// HasFeedback reports whether satisfaction input was already captured.
func (t *SupportTicket) HasFeedback() bool {
	return t.SatisfactionRating != nil || t.SatisfactionFeedback != nil
}

var allowedTransitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:     {TicketStatusResolved, TicketStatusClosed},
	TicketStatusResolved: {TicketStatusClosed, TicketStatusOpen},
	TicketStatusClosed:   {TicketStatusOpen},
}

// ValidTransition reports whether the status machine permits current -> next.
func ValidTransition(current, next TicketStatus) bool {
	for _, candidate := range allowedTransitions[current] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ValidPriority reports whether the value is a known priority.
func ValidPriority(p TicketPriority) bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityCritical:
		return true
	}
	return false
}

// ValidCategory reports whether the value is a known category.
func ValidCategory(c TicketCategory) bool {
	switch c {
	case CategoryBilling, CategoryTechnical, CategorySubscription, CategoryAccount, CategoryGeneral:
		return true
	}
	return false
}

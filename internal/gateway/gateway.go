// Package gateway defines the messaging gateway contract the routing
// core consumes. The concrete transport (the bot API client) lives
// behind this interface; routing code only sees destinations, typed
// payloads and typed failures.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/spec-kit/support-router/internal/domain"
)

// DestinationKind discriminates thread (team side), chat-level (team
// side, outside any thread) and user (end-user side) deliveries.
type DestinationKind string

const (
	DestinationThread DestinationKind = "THREAD"
	DestinationChat   DestinationKind = "CHAT"
	DestinationUser   DestinationKind = "USER"
)

// Destination addresses a delivery target.
type Destination struct {
	Kind DestinationKind
	ID   string
}

// ThreadDest addresses a team-side conversation thread.
func ThreadDest(threadID string) Destination {
	return Destination{Kind: DestinationThread, ID: threadID}
}

// ChatDest addresses the team chat itself, outside any thread. Used
// for general announcements and command responses issued without a
// thread context.
func ChatDest(chatID string) Destination {
	return Destination{Kind: DestinationChat, ID: chatID}
}

// UserDest addresses an end user directly.
func UserDest(userID string) Destination {
	return Destination{Kind: DestinationUser, ID: userID}
}

// FailureKind classifies gateway errors for routing decisions.
type FailureKind string

const (
	FailurePermissionDenied    FailureKind = "PERMISSION_DENIED"
	FailureDestinationNotFound FailureKind = "DESTINATION_NOT_FOUND"
	FailureUserBlocked         FailureKind = "USER_BLOCKED"
	FailureRateLimited         FailureKind = "RATE_LIMITED"
	FailureUnknown             FailureKind = "UNKNOWN"
)

// Error is the typed failure surface for all gateway operations.
type Error struct {
	Kind FailureKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps a transport failure with its classification.
func NewError(kind FailureKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf extracts the failure kind from any error chain, defaulting to
// FailureUnknown.
func KindOf(err error) FailureKind {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Kind
	}
	return FailureUnknown
}

// Gateway is the messaging transport contract consumed by the routing
// engine, SLA monitor and satisfaction flow.
type Gateway interface {
	// CreateThread opens a team-side conversation thread and returns its
	// id. colorHint is advisory; gateways without color support ignore it.
	CreateThread(ctx context.Context, label string, colorHint int) (string, error)
	// CloseThread marks the thread as finished on the team side.
	CloseThread(ctx context.Context, threadID string) error
	// ReopenThread reverses CloseThread.
	ReopenThread(ctx context.Context, threadID string) error
	// Deliver sends content to a thread or a user and returns the
	// gateway delivery id.
	Deliver(ctx context.Context, dest Destination, content domain.MessageContent) (string, error)
	// React attaches an emoji reaction to the destination's latest
	// message where the gateway supports it.
	React(ctx context.Context, dest Destination, emoji string) error
}

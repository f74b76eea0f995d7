package routing

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-router/internal/domain"
	"github.com/spec-kit/support-router/internal/events"
	"github.com/spec-kit/support-router/internal/gateway"
)

// AlertService announces noteworthy ticket events in the support chat's
// general topic. Per-thread messages stay with the routing engine and
// the SLA monitor; this service only produces the team-wide feed.
type AlertService struct {
	dispatcher  events.Dispatcher
	gw          gateway.Gateway
	logger      *zap.Logger
	supportChat string
}

// NewAlertService creates the service.
func NewAlertService(dispatcher events.Dispatcher, gw gateway.Gateway, logger *zap.Logger, supportChat string) *AlertService {
	return &AlertService{
		dispatcher:  dispatcher,
		gw:          gw,
		logger:      logger,
		supportChat: supportChat,
	}
}

// RegisterHandlers subscribes to events.
func (a *AlertService) RegisterHandlers() {
	if a.dispatcher == nil {
		return
	}
	a.dispatcher.Subscribe(events.EventTicketCreated, a.handleTicketCreated)
	a.dispatcher.Subscribe(events.EventTicketEscalated, a.handleTicketEscalated)
	a.dispatcher.Subscribe(events.EventSLABreached, a.handleSLABreached)
	a.dispatcher.Subscribe(events.EventSatisfactionRecorded, a.handleSatisfactionRecorded)
}

func (a *AlertService) handleTicketCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketCreatedPayload)
	if !ok {
		return nil
	}
	a.logger.Info("TicketCreated", zap.String("user_id", event.UserID), zap.Any("payload", payload))
	if payload.Priority == domain.TicketPriorityCritical {
		a.announce(ctx, fmt.Sprintf("🔴 Critical ticket opened: %s (%s)", event.UserID, payload.Category))
	}
	return nil
}

func (a *AlertService) handleTicketEscalated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.TicketEscalatedPayload)
	if !ok {
		return nil
	}
	a.logger.Info("TicketEscalated", zap.String("user_id", event.UserID), zap.Int("level", payload.Level))
	a.announce(ctx, fmt.Sprintf("🚨 Ticket %s escalated to L%d", event.UserID, payload.Level))
	return nil
}

func (a *AlertService) handleSLABreached(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SLABreachedPayload)
	if !ok {
		return nil
	}
	kind := "first response"
	if payload.Resolution {
		kind = "resolution"
	}
	a.logger.Warn("SLABreached",
		zap.String("user_id", event.UserID),
		zap.String("kind", kind),
		zap.Duration("overdue", payload.Overdue))
	a.announce(ctx, fmt.Sprintf("⏰ SLA %s breach: %s · %s · overdue %s",
		kind, event.UserID, payload.Priority, payload.Overdue.Round(time.Minute)))
	return nil
}

func (a *AlertService) handleSatisfactionRecorded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SatisfactionRecordedPayload)
	if !ok {
		return nil
	}
	a.logger.Info("SatisfactionRecorded", zap.String("user_id", event.UserID), zap.Any("payload", payload))
	// Low ratings get surfaced to the team; everything else stays in logs.
	if payload.Rating != nil && *payload.Rating <= 2 {
		a.announce(ctx, fmt.Sprintf("⭐ Low rating (%d/5) from %s", *payload.Rating, event.UserID))
	}
	return nil
}

func (a *AlertService) announce(ctx context.Context, text string) {
	if strings.TrimSpace(a.supportChat) == "" {
		return
	}
	if _, err := a.gw.Deliver(ctx, gateway.ChatDest(a.supportChat), domain.TextContent(text)); err != nil {
		a.logger.Warn("alert announcement failed", zap.Error(err))
	}
}

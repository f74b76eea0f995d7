// Package sla implements the periodic service-level sweep over open
// tickets. Alerting is edge-triggered: a ticket is flagged and alerted
// exactly once per breach, and the flag is only cleared by reopen.
package sla

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-router/internal/config"
	"github.com/spec-kit/support-router/internal/domain"
	"github.com/spec-kit/support-router/internal/events"
	"github.com/spec-kit/support-router/internal/gateway"
	"github.com/spec-kit/support-router/internal/observability"
	"github.com/spec-kit/support-router/internal/repository"
)

// Breach describes one detected violation.
type Breach struct {
	// Resolution distinguishes the 2x resolution breach from the
	// first-response breach.
	Resolution bool
	Overdue    time.Duration
}

// ResponseThreshold returns the first-response SLA for a priority.
func ResponseThreshold(cfg config.SLAConfig, priority domain.TicketPriority) time.Duration {
	minutes := cfg.MediumMinutes
	switch priority {
	case domain.TicketPriorityCritical:
		minutes = cfg.CriticalMinutes
	case domain.TicketPriorityHigh:
		minutes = cfg.HighMinutes
	case domain.TicketPriorityLow:
		minutes = cfg.LowMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// CheckBreach evaluates the breach rules against one open ticket at the
// given instant. Pure; the monitor and tests share it.
func CheckBreach(cfg config.SLAConfig, ticket *domain.SupportTicket, now time.Time) (Breach, bool) {
	if !ticket.IsOpen() {
		return Breach{}, false
	}
	threshold := ResponseThreshold(cfg, ticket.Priority)
	if ticket.FirstResponseAt == nil {
		elapsed := now.Sub(ticket.CreatedAt)
		if elapsed > threshold {
			return Breach{Overdue: elapsed - threshold}, true
		}
		return Breach{}, false
	}
	multiplier := cfg.ResolutionMultiplier
	if multiplier <= 0 {
		multiplier = 2
	}
	resolutionThreshold := time.Duration(multiplier) * threshold
	elapsed := now.Sub(*ticket.FirstResponseAt)
	if elapsed > resolutionThreshold {
		return Breach{Resolution: true, Overdue: elapsed - resolutionThreshold}, true
	}
	return Breach{}, false
}

// Monitor owns the sweep loop.
type Monitor struct {
	repo       repository.TicketRepository
	gw         gateway.Gateway
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        config.SLAConfig
	now        func() time.Time
	sweeping   atomic.Bool
}

// Dependencies bundles collaborators for the monitor.
type Dependencies struct {
	Repo       repository.TicketRepository
	Gateway    gateway.Gateway
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Config     config.SLAConfig
	Clock      func() time.Time
}

// NewMonitor constructs the monitor.
func NewMonitor(deps Dependencies) *Monitor {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Monitor{
		repo:       deps.Repo,
		gw:         deps.Gateway,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		cfg:        deps.Config,
		now:        clock,
	}
}

// Run sweeps on the configured interval until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx); err != nil {
				m.logger.Error("sla sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep evaluates every open ticket once and returns the number of new
// alerts fired. A sweep that would overlap a still-running one is
// skipped entirely so per-ticket alerts cannot double-fire.
func (m *Monitor) Sweep(ctx context.Context) (int, error) {
	if !m.sweeping.CompareAndSwap(false, true) {
		m.logger.Warn("previous sla sweep still running, skipping")
		return 0, nil
	}
	defer m.sweeping.Store(false)

	tickets, err := m.repo.ListOpen(ctx)
	if err != nil {
		return 0, err
	}

	now := m.now()
	alerts := 0
	for i := range tickets {
		ticket := &tickets[i]
		breach, breached := CheckBreach(m.cfg, ticket, now)
		if !breached || ticket.SLABreached {
			// Already-flagged tickets were alerted on a previous sweep.
			continue
		}
		if err := m.repo.SetSLABreached(ctx, ticket.UserID, true); err != nil {
			m.logger.Error("flag sla breach failed", zap.String("user_id", ticket.UserID), zap.Error(err))
			continue
		}
		m.alert(ctx, ticket, breach)
		alerts++
	}
	m.logger.Debug("sla sweep complete", zap.Int("open", len(tickets)), zap.Int("alerts", alerts))
	return alerts, nil
}

func (m *Monitor) alert(ctx context.Context, ticket *domain.SupportTicket, breach Breach) {
	text := alertText(ticket, breach)
	if _, err := m.gw.Deliver(ctx, gateway.ThreadDest(ticket.ThreadID), domain.TextContent(text)); err != nil {
		m.logger.Error("sla alert delivery failed",
			zap.String("thread_id", ticket.ThreadID), zap.Error(err))
	}
	m.metrics.RecordSLAAlert()
	if m.dispatcher != nil {
		_ = m.dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventSLABreached,
			UserID:    ticket.UserID,
			ThreadID:  ticket.ThreadID,
			Timestamp: m.now(),
			Payload: events.SLABreachedPayload{
				Priority:   ticket.Priority,
				Resolution: breach.Resolution,
				Overdue:    breach.Overdue,
			},
		})
	}
}

func alertText(ticket *domain.SupportTicket, breach Breach) string {
	kind := "first response"
	if breach.Resolution {
		kind = "resolution"
	}
	return fmt.Sprintf("⏰ SLA breach (%s): %s · priority %s · overdue by %s",
		kind, ticket.UserID, ticket.Priority, breach.Overdue.Round(time.Minute))
}

// Package satisfaction collects post-resolution feedback: the 1-5
// survey sent after a ticket is closed and the interpretation of the
// user's next message as a rating or free-text comment.
package satisfaction

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-router/internal/domain"
	"github.com/spec-kit/support-router/internal/events"
	"github.com/spec-kit/support-router/internal/gateway"
	"github.com/spec-kit/support-router/internal/observability"
	"github.com/spec-kit/support-router/internal/ratelimit"
	"github.com/spec-kit/support-router/internal/repository"
	"github.com/spec-kit/support-router/pkg/errorutil"
)

const (
	minRating = 1
	maxRating = 5
)

// Flow drives the survey and feedback capture. It implements the
// routing engine's Surveyor hook.
type Flow struct {
	repo       repository.TicketRepository
	gw         gateway.Gateway
	quota      ratelimit.Quota
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	dailyQuota int
	now        func() time.Time
}

// Dependencies bundles collaborators for the flow.
type Dependencies struct {
	Repo       repository.TicketRepository
	Gateway    gateway.Gateway
	Quota      ratelimit.Quota
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	DailyQuota int
	Clock      func() time.Time
}

// NewFlow constructs the flow.
func NewFlow(deps Dependencies) *Flow {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Flow{
		repo:       deps.Repo,
		gw:         deps.Gateway,
		quota:      deps.Quota,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		dailyQuota: deps.DailyQuota,
		now:        clock,
	}
}

// SendSurvey delivers the 1-5 survey to the ticket's user. The survey
// is a proactive send, so it consumes the shared daily quota; replies
// and the later thank-you do not.
func (f *Flow) SendSurvey(ctx context.Context, ticket *domain.SupportTicket) error {
	if ticket.HasFeedback() {
		return nil
	}
	if f.quota != nil {
		canSend, remaining, err := f.quota.CheckAndRecord(ctx, "proactive", f.dailyQuota)
		if err != nil {
			f.logger.Warn("quota check failed, allowing survey", zap.Error(err))
		} else if !canSend {
			f.logger.Warn("daily quota exhausted, skipping survey",
				zap.String("user_id", ticket.UserID), zap.Int("remaining", remaining))
			return errorutil.NewDeliveryFailure(string(gateway.FailureRateLimited), nil)
		}
	}
	text := surveyText(ticket.Language)
	if _, err := f.gw.Deliver(ctx, gateway.UserDest(ticket.UserID), domain.TextContent(text)); err != nil {
		kind := gateway.KindOf(err)
		f.metrics.RecordDeliveryFailure(string(kind))
		return errorutil.NewDeliveryFailure(string(kind), err)
	}
	return nil
}

// HandleFeedback interprets a user's message against a just-finished
// ticket. It reports handled=false when the message is not feedback
// (no finished ticket, or feedback already captured) so the caller can
// route it as a fresh support message instead.
func (f *Flow) HandleFeedback(ctx context.Context, user *domain.User, text string) (bool, error) {
	ticket, err := f.repo.GetByUser(ctx, user.ID)
	if err != nil {
		if errorutil.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if ticket.IsOpen() || ticket.HasFeedback() {
		return false, nil
	}

	trimmed := strings.TrimSpace(text)
	rating, isRating := parseRating(trimmed)

	var applied bool
	if isRating {
		applied, err = f.repo.SetSatisfaction(ctx, user.ID, &rating, nil)
	} else {
		applied, err = f.repo.SetSatisfaction(ctx, user.ID, nil, &trimmed)
	}
	if err != nil {
		return false, err
	}
	if !applied {
		// Another message won the race; route this one as new traffic.
		return false, nil
	}

	f.logger.Info("satisfaction recorded",
		zap.String("user_id", user.ID),
		zap.Bool("rating", isRating))
	f.thank(ctx, user.ID, ticket.Language)
	if f.dispatcher != nil {
		var ratingPtr *int
		feedback := ""
		if isRating {
			ratingPtr = &rating
		} else {
			feedback = trimmed
		}
		_ = f.dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventSatisfactionRecorded,
			UserID:    user.ID,
			ThreadID:  ticket.ThreadID,
			Timestamp: f.now(),
			Payload: events.SatisfactionRecordedPayload{
				Rating:   ratingPtr,
				Feedback: feedback,
			},
		})
	}
	return true, nil
}

func (f *Flow) thank(ctx context.Context, userID, language string) {
	text := "Thank you for your feedback! 🙏"
	if language == "es" {
		text = "¡Gracias por tus comentarios! 🙏"
	}
	if _, err := f.gw.Deliver(ctx, gateway.UserDest(userID), domain.TextContent(text)); err != nil {
		f.logger.Warn("thank-you delivery failed", zap.String("user_id", userID), zap.Error(err))
	}
}

// parseRating accepts a bare digit within bounds. Anything else is
// treated as free-text feedback.
func parseRating(text string) (int, bool) {
	if len(text) != 1 {
		return 0, false
	}
	n, err := strconv.Atoi(text)
	if err != nil || n < minRating || n > maxRating {
		return 0, false
	}
	return n, true
}

func surveyText(language string) string {
	if language == "es" {
		return "⭐ Tu ticket ha sido cerrado. ¿Cómo calificarías nuestra atención? Responde con un número del 1 al 5, o escríbenos un comentario."
	}
	return "⭐ Your ticket has been closed. How would you rate our support? Reply with a number from 1 to 5, or send us a comment."
}

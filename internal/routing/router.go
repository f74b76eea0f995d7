// Package routing orchestrates the bidirectional flow between end
// users and the support team: ticket get-or-create, thread management
// on the messaging gateway, type-preserving message forwarding and the
// admin command surface.
package routing

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/support-router/internal/classify"
	"github.com/spec-kit/support-router/internal/domain"
	"github.com/spec-kit/support-router/internal/events"
	"github.com/spec-kit/support-router/internal/gateway"
	"github.com/spec-kit/support-router/internal/observability"
	"github.com/spec-kit/support-router/internal/ratelimit"
	"github.com/spec-kit/support-router/internal/repository"
	"github.com/spec-kit/support-router/pkg/errorutil"
)

// fallbackThreadPrefix marks locally synthesized thread ids used when
// the gateway cannot create a real thread. Tickets carrying one persist
// but cannot route admin replies by thread.
const fallbackThreadPrefix = "fallback-"

// Thread color hints by priority, highest urgency first.
var priorityColors = map[domain.TicketPriority]int{
	domain.TicketPriorityCritical: 0xFF6B6B,
	domain.TicketPriorityHigh:     0xFFA94D,
	domain.TicketPriorityMedium:   0x74C0FC,
	domain.TicketPriorityLow:      0x8CE99A,
}

// Surveyor dispatches the post-closure satisfaction survey. Decoupled
// behind an interface so closure handling never depends on the
// satisfaction package.
type Surveyor interface {
	SendSurvey(ctx context.Context, ticket *domain.SupportTicket) error
}

// Engine is the routing core. One instance serves all users; per-user
// write serialization is delegated to the ticket repository.
type Engine struct {
	repo        repository.TicketRepository
	gw          gateway.Gateway
	cache       ContextCache
	dispatcher  events.Dispatcher
	quota       ratelimit.Quota
	metrics     *observability.Metrics
	logger      *zap.Logger
	survey      Surveyor
	supportChat string
	dailyQuota  int
	now         func() time.Time
}

// Dependencies bundles collaborators for the engine.
type Dependencies struct {
	Repo          repository.TicketRepository
	Gateway       gateway.Gateway
	Cache         ContextCache
	Dispatcher    events.Dispatcher
	Quota         ratelimit.Quota
	Metrics       *observability.Metrics
	Logger        *zap.Logger
	Survey        Surveyor
	SupportChatID string
	DailyQuota    int
	Clock         func() time.Time
}

// NewEngine constructs the routing engine.
func NewEngine(deps Dependencies) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	cache := deps.Cache
	if cache == nil {
		cache = NewMemoryContextCache()
	}
	return &Engine{
		repo:        deps.Repo,
		gw:          deps.Gateway,
		cache:       cache,
		dispatcher:  deps.Dispatcher,
		quota:       deps.Quota,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		survey:      deps.Survey,
		supportChat: deps.SupportChatID,
		dailyQuota:  deps.DailyQuota,
		now:         clock,
	}
}

// ForwardUserMessage routes an inbound user message into the team
// thread, creating the ticket and thread on first contact. Returns the
// ticket the message was attributed to. Gateway failures degrade: the
// ticket always persists.
func (e *Engine) ForwardUserMessage(ctx context.Context, user domain.User, content domain.MessageContent, requestKind string) (*domain.SupportTicket, error) {
	ticket, err := e.repo.GetByUser(ctx, user.ID)
	if err != nil && !errorutil.IsNotFound(err) {
		return nil, errorutil.MapError(err)
	}

	created := false
	if ticket == nil {
		ticket, created, err = e.createTicket(ctx, user, content, requestKind)
		if err != nil {
			return nil, err
		}
	} else if !ticket.IsOpen() {
		// Returning user on a closed ticket: same record, new open period.
		if err := e.repo.Reopen(ctx, user.ID); err != nil {
			return nil, errorutil.MapError(err)
		}
		if !isFallbackThread(ticket.ThreadID) {
			if err := e.gw.ReopenThread(ctx, ticket.ThreadID); err != nil {
				e.logger.Warn("reopen thread failed",
					zap.String("thread_id", ticket.ThreadID), zap.Error(err))
			}
		}
		e.publish(ctx, events.Event{
			Type:     events.EventTicketStatusChanged,
			UserID:   user.ID,
			ThreadID: ticket.ThreadID,
			Payload: events.TicketStatusChangedPayload{
				OldStatus: ticket.Status,
				NewStatus: domain.TicketStatusOpen,
				Actor:     "user-message",
			},
		})
		ticket.Status = domain.TicketStatusOpen
	}

	e.deliverToThread(ctx, user, ticket, content)

	if err := e.repo.RecordLastMessage(ctx, user.ID); err != nil {
		e.logger.Error("record last message failed", zap.String("user_id", user.ID), zap.Error(err))
	}
	e.metrics.RecordForwarded()

	if created {
		e.publish(ctx, events.Event{
			Type:     events.EventTicketCreated,
			UserID:   user.ID,
			ThreadID: ticket.ThreadID,
			Payload: events.TicketCreatedPayload{
				Category: ticket.Category,
				Priority: ticket.Priority,
				Language: ticket.Language,
				Degraded: isFallbackThread(ticket.ThreadID),
			},
		})
	}
	return ticket, nil
}

func (e *Engine) createTicket(ctx context.Context, user domain.User, content domain.MessageContent, requestKind string) (*domain.SupportTicket, bool, error) {
	text := content.Preview()
	category := classify.DetectCategory(text)
	priority := classify.DetectPriority(text, user)
	language := classify.DetectLanguage(text, user)

	threadName := fmt.Sprintf("🆘 %s — %s", requestKind, user.DisplayName())
	threadID, err := e.gw.CreateThread(ctx, threadName, priorityColors[priority])
	if err != nil {
		// Degraded mode: the ticket still persists, replies cannot be
		// routed by thread until an admin intervenes.
		threadID = fallbackThreadPrefix + strconv.FormatInt(e.now().Unix(), 10)
		e.logger.Error("thread creation failed, using fallback thread id",
			zap.String("user_id", user.ID),
			zap.String("fallback_id", threadID),
			zap.Error(errorutil.NewThreadCreationFailure(err)))
	}

	ticket, created, err := e.repo.UpsertForUser(ctx, repository.UpsertInput{
		UserID:     user.ID,
		ThreadID:   threadID,
		ThreadName: threadName,
		Category:   category,
		Priority:   priority,
		Language:   language,
	})
	if err != nil {
		return nil, false, errorutil.MapError(err)
	}
	if !created && ticket.ThreadID != threadID && !isFallbackThread(threadID) {
		// Lost the creation race; the thread we opened is an orphan.
		if err := e.gw.CloseThread(ctx, threadID); err != nil {
			e.logger.Warn("close orphan thread failed", zap.String("thread_id", threadID), zap.Error(err))
		}
	}
	return ticket, created, nil
}

func (e *Engine) deliverToThread(ctx context.Context, user domain.User, ticket *domain.SupportTicket, content domain.MessageContent) {
	if isFallbackThread(ticket.ThreadID) {
		e.logger.Warn("no real thread for ticket; message recorded but not forwarded",
			zap.String("user_id", user.ID), zap.String("thread_id", ticket.ThreadID))
		return
	}
	mapped := mapToThread(user, ticket, content)
	if _, err := e.gw.Deliver(ctx, gateway.ThreadDest(ticket.ThreadID), mapped); err != nil {
		kind := gateway.KindOf(err)
		e.metrics.RecordDeliveryFailure(string(kind))
		e.logger.Error("forward to thread failed",
			zap.String("user_id", user.ID),
			zap.String("thread_id", ticket.ThreadID),
			zap.String("kind", string(kind)),
			zap.Error(err))
	}
}

// SendReplyToUser routes an admin reply from a thread back to the
// owning user, preserving the media type. invokingThreadID is the
// thread the command physically arrived in; when threadID no longer
// resolves (stale or forwarded command) it is used as a degraded
// correlation fallback.
func (e *Engine) SendReplyToUser(ctx context.Context, threadID, invokingThreadID string, content domain.MessageContent) error {
	ticket, err := e.repo.GetByThread(ctx, threadID)
	if errorutil.IsNotFound(err) && invokingThreadID != "" && invokingThreadID != threadID {
		// Degraded correlation: may attribute the reply to the wrong
		// user when the referenced thread belonged to someone else.
		e.logger.Warn("thread lookup miss, falling back to invoking thread",
			zap.String("thread_id", threadID),
			zap.String("invoking_thread_id", invokingThreadID))
		ticket, err = e.repo.GetByThread(ctx, invokingThreadID)
	}
	if err != nil {
		if errorutil.IsNotFound(err) {
			return errorutil.NewNotFound("ticket", map[string]any{"thread_id": threadID})
		}
		return errorutil.MapError(err)
	}

	firstReply := ticket.FirstResponseAt == nil
	if firstReply {
		if err := e.repo.RecordFirstResponse(ctx, ticket.UserID); err != nil {
			e.logger.Error("record first response failed", zap.String("user_id", ticket.UserID), zap.Error(err))
		} else {
			e.publish(ctx, events.Event{
				Type:     events.EventFirstResponseRecorded,
				UserID:   ticket.UserID,
				ThreadID: ticket.ThreadID,
			})
		}
	}

	mapped := mapToUser(ticket, content)
	if _, err := e.gw.Deliver(ctx, gateway.UserDest(ticket.UserID), mapped); err != nil {
		kind := gateway.KindOf(err)
		e.metrics.RecordDeliveryFailure(string(kind))
		e.NotifyThread(ctx, ticket.ThreadID, deliveryFailureNotice(ticket, kind))
		return errorutil.NewDeliveryFailure(string(kind), err)
	}

	if err := e.repo.RecordLastAgentMessage(ctx, ticket.UserID); err != nil {
		e.logger.Error("record agent message failed", zap.String("user_id", ticket.UserID), zap.Error(err))
	}
	e.metrics.RecordReply()
	return nil
}

// SendProactive delivers a non-reply message to a user, consulting the
// shared daily quota first. Reply paths never go through here.
func (e *Engine) SendProactive(ctx context.Context, userID string, content domain.MessageContent) error {
	if e.quota != nil {
		canSend, remaining, err := e.quota.CheckAndRecord(ctx, "proactive", e.dailyQuota)
		if err != nil {
			e.logger.Warn("quota check failed, allowing send", zap.Error(err))
		} else if !canSend {
			e.logger.Warn("daily proactive quota exhausted",
				zap.String("user_id", userID), zap.Int("remaining", remaining))
			return errorutil.NewDeliveryFailure(string(gateway.FailureRateLimited), nil)
		}
	}
	if _, err := e.gw.Deliver(ctx, gateway.UserDest(userID), content); err != nil {
		kind := gateway.KindOf(err)
		e.metrics.RecordDeliveryFailure(string(kind))
		return errorutil.NewDeliveryFailure(string(kind), err)
	}
	return nil
}

// RememberThreadContext records the thread an admin chat last
// interacted with, for degraded command correlation.
func (e *Engine) RememberThreadContext(ctx context.Context, chatID, threadID string) {
	if err := e.cache.Put(ctx, chatID, "last-thread", threadID); err != nil {
		e.logger.Warn("thread context cache put failed", zap.Error(err))
	}
}

// LastThreadContext returns the last thread seen for the admin chat.
func (e *Engine) LastThreadContext(ctx context.Context, chatID string) (string, bool) {
	return e.cache.Get(ctx, chatID, "last-thread")
}

// NotifyThread posts a plain service notice into a thread. Fallback
// thread ids are skipped silently.
func (e *Engine) NotifyThread(ctx context.Context, threadID, text string) {
	if isFallbackThread(threadID) {
		return
	}
	if _, err := e.gw.Deliver(ctx, gateway.ThreadDest(threadID), domain.TextContent(text)); err != nil {
		e.logger.Error("thread notice failed", zap.String("thread_id", threadID), zap.Error(err))
	}
}

// NotifyChat posts a plain service notice at chat level, outside any
// thread. Used for command responses issued from the general topic.
func (e *Engine) NotifyChat(ctx context.Context, chatID, text string) {
	if _, err := e.gw.Deliver(ctx, gateway.ChatDest(chatID), domain.TextContent(text)); err != nil {
		e.logger.Error("chat notice failed", zap.String("chat_id", chatID), zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	_ = e.dispatcher.Publish(ctx, event)
}

func isFallbackThread(threadID string) bool {
	return strings.HasPrefix(threadID, fallbackThreadPrefix)
}

func deliveryFailureNotice(ticket *domain.SupportTicket, kind gateway.FailureKind) string {
	switch kind {
	case gateway.FailureUserBlocked:
		return fmt.Sprintf("⚠️ %s blocked the bot — replies cannot be delivered.", ticket.UserID)
	case gateway.FailureDestinationNotFound:
		return fmt.Sprintf("⚠️ Chat with %s not found — the reply was not delivered.", ticket.UserID)
	default:
		return fmt.Sprintf("⚠️ Reply to %s failed (%s).", ticket.UserID, kind)
	}
}

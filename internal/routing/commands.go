package routing

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/support-router/internal/domain"
	"github.com/spec-kit/support-router/internal/events"
	"github.com/spec-kit/support-router/internal/gateway"
	"github.com/spec-kit/support-router/pkg/errorutil"
)

// Command is a parsed admin command with positional arguments.
type Command struct {
	Name string
	Args []string
}

// CommandContext carries where an admin command was issued from. When a
// command omits an explicit user id it targets the ticket owning
// ThreadID.
type CommandContext struct {
	ChatID   string
	ThreadID string
	AgentID  string
}

// Known command names, longest first so embedded-argument prefix
// matching never picks a shorter command by accident.
var commandNames = []string{
	"needs_first_response",
	"quick_answer",
	"open_tickets",
	"escalate",
	"category",
	"priority",
	"search",
	"solved",
	"reopen",
	"assign",
	"close",
	"stats",
	"user",
	"msg",
	"sla",
}

// ParseCommand normalizes both accepted grammars, space-separated
// ("/close 12345") and underscore-embedded ("/close_12345"), into a
// typed command before any execution logic runs.
func ParseCommand(raw string) (*Command, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "/")
	if trimmed == "" {
		return nil, errorutil.NewInvalidCommand("empty command")
	}

	tokens := strings.Fields(trimmed)
	first := strings.ToLower(tokens[0])
	// Strip the bot mention suffix gateways append in group chats.
	if at := strings.IndexByte(first, '@'); at >= 0 {
		first = first[:at]
	}
	first = strings.ReplaceAll(first, "-", "_")

	for _, name := range commandNames {
		if first == name {
			return &Command{Name: name, Args: tokens[1:]}, nil
		}
		if strings.HasPrefix(first, name+"_") {
			embedded := strings.Split(first[len(name)+1:], "_")
			return &Command{Name: name, Args: append(embedded, tokens[1:]...)}, nil
		}
	}
	return nil, errorutil.NewInvalidCommand(fmt.Sprintf("unknown command %q", tokens[0]))
}

// ExecuteAdminCommand parses and runs one admin command, returning the
// formatted response to post back into the invoking thread. Errors are
// admin-facing and safe to render verbatim.
func (e *Engine) ExecuteAdminCommand(ctx context.Context, cmdCtx CommandContext, raw string) (string, error) {
	cmd, err := ParseCommand(raw)
	if err != nil {
		return "", err
	}

	switch cmd.Name {
	case "close":
		return e.cmdClose(ctx, cmdCtx, cmd.Args)
	case "reopen":
		return e.cmdReopen(ctx, cmdCtx, cmd.Args)
	case "priority":
		return e.cmdPriority(ctx, cmdCtx, cmd.Args)
	case "category":
		return e.cmdCategory(ctx, cmdCtx, cmd.Args)
	case "assign":
		return e.cmdAssign(ctx, cmdCtx, cmd.Args)
	case "escalate":
		return e.cmdEscalate(ctx, cmdCtx, cmd.Args)
	case "solved":
		return e.cmdSolved(ctx, cmdCtx, cmd.Args)
	case "user":
		return e.cmdUser(ctx, cmdCtx, cmd.Args)
	case "msg":
		return e.cmdMsg(ctx, cmdCtx, cmd.Args)
	case "quick_answer":
		return e.cmdQuickAnswer(ctx, cmdCtx, cmd.Args)
	case "stats":
		return e.cmdStats(ctx)
	case "open_tickets":
		return e.cmdOpenTickets(ctx)
	case "search":
		return e.cmdSearch(ctx, cmd.Args)
	case "sla":
		return e.cmdSLA(ctx)
	case "needs_first_response":
		return e.cmdNeedsFirstResponse(ctx)
	}
	return "", errorutil.NewInvalidCommand(fmt.Sprintf("unknown command %q", cmd.Name))
}

// AcknowledgeCommand reacts ✅ on the message that carried a successful
// admin command. Reactions are cosmetic; failures are log-only.
func (e *Engine) AcknowledgeCommand(ctx context.Context, cmdCtx CommandContext) {
	dest := gateway.ChatDest(cmdCtx.ChatID)
	if cmdCtx.ThreadID != "" {
		dest = gateway.ThreadDest(cmdCtx.ThreadID)
	}
	if err := e.gw.React(ctx, dest, "✅"); err != nil {
		e.logger.Debug("command ack reaction failed",
			zap.String("dest_id", dest.ID), zap.Error(err))
	}
}

// resolveTarget finds the ticket a command refers to: explicit user id
// first, then the invoking thread, then the chat's last-seen thread.
// The thread fallback after a failed explicit lookup is the documented
// degraded correlation path and is always logged.
func (e *Engine) resolveTarget(ctx context.Context, cmdCtx CommandContext, explicitUserID string) (*domain.SupportTicket, error) {
	if explicitUserID != "" {
		ticket, err := e.repo.GetByUser(ctx, explicitUserID)
		if err == nil {
			return ticket, nil
		}
		if !errorutil.IsNotFound(err) {
			return nil, errorutil.MapError(err)
		}
		e.logger.Warn("explicit user id did not match a ticket, falling back to thread context",
			zap.String("user_id", explicitUserID), zap.String("thread_id", cmdCtx.ThreadID))
	}
	if cmdCtx.ThreadID != "" {
		ticket, err := e.repo.GetByThread(ctx, cmdCtx.ThreadID)
		if err == nil {
			return ticket, nil
		}
		if !errorutil.IsNotFound(err) {
			return nil, errorutil.MapError(err)
		}
	}
	if lastThread, ok := e.LastThreadContext(ctx, cmdCtx.ChatID); ok {
		ticket, err := e.repo.GetByThread(ctx, lastThread)
		if err == nil {
			e.logger.Warn("resolved command target from cached thread context",
				zap.String("thread_id", lastThread))
			return ticket, nil
		}
	}
	return nil, errorutil.NewNotFound("ticket", nil)
}

func (e *Engine) cmdClose(ctx context.Context, cmdCtx CommandContext, args []string) (string, error) {
	ticket, err := e.resolveTarget(ctx, cmdCtx, firstArg(args))
	if err != nil {
		return "", err
	}
	if !domain.ValidTransition(ticket.Status, domain.TicketStatusClosed) {
		return "", errorutil.NewInvalidCommand(fmt.Sprintf("ticket for %s is already closed", ticket.UserID))
	}
	if err := e.repo.SetStatus(ctx, ticket.UserID, domain.TicketStatusClosed); err != nil {
		return "", errorutil.MapError(err)
	}
	if !isFallbackThread(ticket.ThreadID) {
		if err := e.gw.CloseThread(ctx, ticket.ThreadID); err != nil {
			e.logger.Warn("close thread failed", zap.String("thread_id", ticket.ThreadID), zap.Error(err))
		}
	}
	e.publish(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		UserID:   ticket.UserID,
		ThreadID: ticket.ThreadID,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: ticket.Status,
			NewStatus: domain.TicketStatusClosed,
			Actor:     cmdCtx.AgentID,
		},
	})
	if e.survey != nil {
		closed := *ticket
		closed.Status = domain.TicketStatusClosed
		if err := e.survey.SendSurvey(ctx, &closed); err != nil {
			e.logger.Warn("survey dispatch failed", zap.String("user_id", ticket.UserID), zap.Error(err))
		}
	}
	return fmt.Sprintf("✅ Ticket for %s closed.", ticket.UserID), nil
}

func (e *Engine) cmdReopen(ctx context.Context, cmdCtx CommandContext, args []string) (string, error) {
	ticket, err := e.resolveTarget(ctx, cmdCtx, firstArg(args))
	if err != nil {
		return "", err
	}
	if ticket.IsOpen() {
		return "", errorutil.NewInvalidCommand(fmt.Sprintf("ticket for %s is already open", ticket.UserID))
	}
	if err := e.repo.Reopen(ctx, ticket.UserID); err != nil {
		return "", errorutil.MapError(err)
	}
	if !isFallbackThread(ticket.ThreadID) {
		if err := e.gw.ReopenThread(ctx, ticket.ThreadID); err != nil {
			e.logger.Warn("reopen thread failed", zap.String("thread_id", ticket.ThreadID), zap.Error(err))
		}
	}
	e.publish(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		UserID:   ticket.UserID,
		ThreadID: ticket.ThreadID,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: ticket.Status,
			NewStatus: domain.TicketStatusOpen,
			Actor:     cmdCtx.AgentID,
		},
	})
	return fmt.Sprintf("🔄 Ticket for %s reopened. SLA timers restarted.", ticket.UserID), nil
}

func (e *Engine) cmdPriority(ctx context.Context, cmdCtx CommandContext, args []string) (string, error) {
	if len(args) == 0 {
		return "", errorutil.NewInvalidCommand("usage: priority <low|medium|high|critical>")
	}
	priority := domain.TicketPriority(strings.ToUpper(args[0]))
	if !domain.ValidPriority(priority) {
		return "", errorutil.NewInvalidCommand(fmt.Sprintf("unknown priority %q", args[0]))
	}
	ticket, err := e.resolveTarget(ctx, cmdCtx, secondArg(args))
	if err != nil {
		return "", err
	}
	if err := e.repo.SetPriority(ctx, ticket.UserID, priority); err != nil {
		return "", errorutil.MapError(err)
	}
	return fmt.Sprintf("🎯 Priority for %s set to %s.", ticket.UserID, priority), nil
}

func (e *Engine) cmdCategory(ctx context.Context, cmdCtx CommandContext, args []string) (string, error) {
	if len(args) == 0 {
		return "", errorutil.NewInvalidCommand("usage: category <billing|technical|subscription|account|general>")
	}
	category := domain.TicketCategory(strings.ToUpper(args[0]))
	if !domain.ValidCategory(category) {
		return "", errorutil.NewInvalidCommand(fmt.Sprintf("unknown category %q", args[0]))
	}
	ticket, err := e.resolveTarget(ctx, cmdCtx, secondArg(args))
	if err != nil {
		return "", err
	}
	if err := e.repo.SetCategory(ctx, ticket.UserID, category); err != nil {
		return "", errorutil.MapError(err)
	}
	return fmt.Sprintf("🏷 Category for %s set to %s.", ticket.UserID, category), nil
}

func (e *Engine) cmdAssign(ctx context.Context, cmdCtx CommandContext, args []string) (string, error) {
	if len(args) == 0 {
		return "", errorutil.NewInvalidCommand("usage: assign <agentId>")
	}
	ticket, err := e.resolveTarget(ctx, cmdCtx, secondArg(args))
	if err != nil {
		return "", err
	}
	if err := e.repo.SetAssignment(ctx, ticket.UserID, args[0]); err != nil {
		return "", errorutil.MapError(err)
	}
	return fmt.Sprintf("👤 Ticket for %s assigned to %s.", ticket.UserID, args[0]), nil
}

func (e *Engine) cmdEscalate(ctx context.Context, cmdCtx CommandContext, args []string) (string, error) {
	if len(args) == 0 {
		return "", errorutil.NewInvalidCommand("usage: escalate <1-3>")
	}
	level, err := strconv.Atoi(args[0])
	if err != nil || level < 1 || level > domain.MaxEscalationLevel {
		return "", errorutil.NewInvalidCommand(fmt.Sprintf("escalation level must be 1-%d", domain.MaxEscalationLevel))
	}
	ticket, resolveErr := e.resolveTarget(ctx, cmdCtx, secondArg(args))
	if resolveErr != nil {
		return "", resolveErr
	}
	if err := e.repo.SetEscalation(ctx, ticket.UserID, level); err != nil {
		return "", errorutil.MapError(err)
	}
	// Escalation always forces priority to at least HIGH.
	if err := e.repo.SetPriority(ctx, ticket.UserID, domain.TicketPriorityHigh); err != nil {
		return "", errorutil.MapError(err)
	}
	e.publish(ctx, events.Event{
		Type:     events.EventTicketEscalated,
		UserID:   ticket.UserID,
		ThreadID: ticket.ThreadID,
		Payload: events.TicketEscalatedPayload{
			Level:    level,
			Priority: domain.TicketPriorityHigh,
		},
	})
	return fmt.Sprintf("🚨 Ticket for %s escalated to level %d, priority HIGH.", ticket.UserID, level), nil
}

func (e *Engine) cmdSolved(ctx context.Context, cmdCtx CommandContext, args []string) (string, error) {
	ticket, err := e.resolveTarget(ctx, cmdCtx, firstArg(args))
	if err != nil {
		return "", err
	}
	if !domain.ValidTransition(ticket.Status, domain.TicketStatusResolved) {
		return "", errorutil.NewInvalidCommand(fmt.Sprintf("ticket for %s cannot be resolved from %s", ticket.UserID, ticket.Status))
	}
	if err := e.repo.RecordResolution(ctx, ticket.UserID); err != nil {
		return "", errorutil.MapError(err)
	}

	note := ""
	if len(args) > 1 {
		note = strings.Join(args[1:], " ")
	}
	notice := resolutionNotice(ticket.Language, note)
	if _, err := e.gw.Deliver(ctx, gateway.UserDest(ticket.UserID), domain.TextContent(notice)); err != nil {
		e.logger.Warn("resolution notice failed", zap.String("user_id", ticket.UserID), zap.Error(err))
	}
	if !isFallbackThread(ticket.ThreadID) {
		if err := e.gw.CloseThread(ctx, ticket.ThreadID); err != nil {
			e.logger.Warn("close thread failed", zap.String("thread_id", ticket.ThreadID), zap.Error(err))
		}
	}
	e.publish(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		UserID:   ticket.UserID,
		ThreadID: ticket.ThreadID,
		Payload: events.TicketStatusChangedPayload{
			OldStatus: ticket.Status,
			NewStatus: domain.TicketStatusResolved,
			Actor:     cmdCtx.AgentID,
		},
	})
	return fmt.Sprintf("✅ Ticket for %s marked as solved.", ticket.UserID), nil
}

func (e *Engine) cmdUser(ctx context.Context, cmdCtx CommandContext, args []string) (string, error) {
	ticket, err := e.resolveTarget(ctx, cmdCtx, firstArg(args))
	if err != nil {
		return "", err
	}
	return formatTicketCard(ticket), nil
}

func (e *Engine) cmdMsg(ctx context.Context, cmdCtx CommandContext, args []string) (string, error) {
	if len(args) < 2 {
		return "", errorutil.NewInvalidCommand("usage: msg <userId> <text>")
	}
	ticket, err := e.resolveTarget(ctx, cmdCtx, args[0])
	if err != nil {
		return "", err
	}
	text := strings.Join(args[1:], " ")
	if err := e.SendReplyToUser(ctx, ticket.ThreadID, cmdCtx.ThreadID, domain.TextContent(text)); err != nil {
		return "", err
	}
	return fmt.Sprintf("📤 Message delivered to %s.", ticket.UserID), nil
}

func (e *Engine) cmdQuickAnswer(ctx context.Context, cmdCtx CommandContext, args []string) (string, error) {
	if len(args) == 0 {
		return "", errorutil.NewInvalidCommand("usage: quick_answer <id> [lang]. Available: " + strings.Join(QuickAnswerIDs(), ", "))
	}
	ticket, err := e.resolveTarget(ctx, cmdCtx, "")
	if err != nil {
		return "", err
	}
	lang := ticket.Language
	if len(args) > 1 {
		lang = args[1]
	}
	text, ok := QuickAnswerText(args[0], lang)
	if !ok {
		return "", errorutil.NewInvalidCommand(fmt.Sprintf("unknown quick answer %q. Available: %s", args[0], strings.Join(QuickAnswerIDs(), ", ")))
	}
	if err := e.SendReplyToUser(ctx, ticket.ThreadID, cmdCtx.ThreadID, domain.TextContent(text)); err != nil {
		return "", err
	}
	return fmt.Sprintf("📤 Quick answer %s sent to %s.", args[0], ticket.UserID), nil
}

func (e *Engine) cmdStats(ctx context.Context) (string, error) {
	stats, err := e.repo.GetStats(ctx)
	if err != nil {
		return "", errorutil.MapError(err)
	}
	var b strings.Builder
	b.WriteString("📊 Ticket stats\n")
	fmt.Fprintf(&b, "Open: %d · Resolved: %d · Closed: %d\n", stats.Open, stats.Resolved, stats.Closed)
	fmt.Fprintf(&b, "SLA breached: %d\n", stats.Breached)
	for _, category := range []domain.TicketCategory{
		domain.CategoryBilling, domain.CategoryTechnical, domain.CategorySubscription,
		domain.CategoryAccount, domain.CategoryGeneral,
	} {
		if count := stats.ByCategory[category]; count > 0 {
			fmt.Fprintf(&b, "%s: %d\n", category, count)
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (e *Engine) cmdOpenTickets(ctx context.Context) (string, error) {
	tickets, err := e.repo.ListOpen(ctx)
	if err != nil {
		return "", errorutil.MapError(err)
	}
	return formatTicketList("📂 Open tickets", tickets), nil
}

func (e *Engine) cmdSearch(ctx context.Context, args []string) (string, error) {
	if len(args) == 0 {
		return "", errorutil.NewInvalidCommand("usage: search <term>")
	}
	tickets, err := e.repo.Search(ctx, strings.Join(args, " "))
	if err != nil {
		return "", errorutil.MapError(err)
	}
	return formatTicketList("🔎 Search results", tickets), nil
}

func (e *Engine) cmdSLA(ctx context.Context) (string, error) {
	tickets, err := e.repo.ListSLABreached(ctx)
	if err != nil {
		return "", errorutil.MapError(err)
	}
	return formatTicketList("⏰ SLA breached", tickets), nil
}

func (e *Engine) cmdNeedsFirstResponse(ctx context.Context) (string, error) {
	tickets, err := e.repo.ListNeedingFirstResponse(ctx)
	if err != nil {
		return "", errorutil.MapError(err)
	}
	return formatTicketList("⏳ Awaiting first response", tickets), nil
}

func resolutionNotice(lang, note string) string {
	if strings.HasPrefix(strings.ToLower(lang), "es") {
		notice := "✅ Tu solicitud de soporte fue marcada como resuelta."
		if note != "" {
			notice += "\n\n" + note
		}
		return notice + "\n\n⭐ Califícanos del 1 al 4 respondiendo con un número."
	}
	notice := "✅ Your support request has been marked as solved."
	if note != "" {
		notice += "\n\n" + note
	}
	return notice + "\n\n⭐ Rate us 1-4 by replying with a number."
}

func formatTicketCard(t *domain.SupportTicket) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🎫 %s\n", t.UserID)
	fmt.Fprintf(&b, "Status: %s · Category: %s · Priority: %s\n", t.Status, t.Category, t.Priority)
	fmt.Fprintf(&b, "Messages: %d · Escalation: %d\n", t.MessageCount, t.EscalationLevel)
	if t.AssignedAgent != nil {
		fmt.Fprintf(&b, "Assigned: %s\n", *t.AssignedAgent)
	}
	fmt.Fprintf(&b, "Created: %s · Last message: %s\n",
		t.CreatedAt.Format("2006-01-02 15:04"), t.LastMessageAt.Format("2006-01-02 15:04"))
	if t.FirstResponseAt != nil {
		fmt.Fprintf(&b, "First response: %s\n", t.FirstResponseAt.Format("2006-01-02 15:04"))
	}
	if t.SLABreached {
		b.WriteString("⚠️ SLA breached\n")
	}
	if t.SatisfactionRating != nil {
		fmt.Fprintf(&b, "Rating: %d\n", *t.SatisfactionRating)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatTicketList(title string, tickets []domain.SupportTicket) string {
	if len(tickets) == 0 {
		return title + ": none"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d)\n", title, len(tickets))
	for i := range tickets {
		t := &tickets[i]
		fmt.Fprintf(&b, "• %s · %s/%s · %d msgs", t.UserID, t.Category, t.Priority, t.MessageCount)
		if t.SLABreached {
			b.WriteString(" ⚠️")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

func secondArg(args []string) string {
	if len(args) > 1 {
		return args[1]
	}
	return ""
}

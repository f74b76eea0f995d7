package gateway

import (
	"context"
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/spec-kit/support-router/internal/domain"
)

// noopGateway logs every operation instead of delivering. Used when no
// bot token is configured so the service can run against local stores.
type noopGateway struct {
	logger *zap.Logger
	seq    atomic.Int64
}

// NewNoopGateway builds the log-only gateway.
func NewNoopGateway(logger *zap.Logger) Gateway {
	return &noopGateway{logger: logger}
}

func (g *noopGateway) CreateThread(ctx context.Context, label string, colorHint int) (string, error) {
	id := "local-" + strconv.FormatInt(g.seq.Add(1), 10)
	g.logger.Info("noop create thread", zap.String("label", label), zap.String("thread_id", id))
	return id, nil
}

func (g *noopGateway) CloseThread(ctx context.Context, threadID string) error {
	g.logger.Info("noop close thread", zap.String("thread_id", threadID))
	return nil
}

func (g *noopGateway) ReopenThread(ctx context.Context, threadID string) error {
	g.logger.Info("noop reopen thread", zap.String("thread_id", threadID))
	return nil
}

func (g *noopGateway) Deliver(ctx context.Context, dest Destination, content domain.MessageContent) (string, error) {
	g.logger.Info("noop deliver",
		zap.String("dest_kind", string(dest.Kind)),
		zap.String("dest_id", dest.ID),
		zap.String("content_kind", string(content.Kind)),
		zap.String("preview", content.Preview()))
	return "local-msg-" + strconv.FormatInt(g.seq.Add(1), 10), nil
}

func (g *noopGateway) React(ctx context.Context, dest Destination, emoji string) error {
	g.logger.Info("noop react", zap.String("dest_id", dest.ID), zap.String("emoji", emoji))
	return nil
}

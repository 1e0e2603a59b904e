package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/query-service/internal/config"
	"github.com/spec-kit/query-service/internal/events"
)

const webhookTimeout = 5 * time.Second

// NotificationService is a hub observer that logs query changes and forwards
// them to an optional webhook.
type NotificationService struct {
	hub    *events.Hub
	logger *zap.Logger
	cfg    config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(hub *events.Hub, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		hub:    hub,
		logger: logger,
		cfg:    cfg,
	}
}

// Run consumes events until ctx is cancelled or the hub closes.
func (n *NotificationService) Run(ctx context.Context) {
	if n.hub == nil {
		return
	}
	sub := n.hub.Subscribe()
	defer n.hub.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.C:
			if !ok {
				return
			}
			n.handle(ctx, event)
		}
	}
}

func (n *NotificationService) handle(ctx context.Context, event events.Event) {
	fields := []zap.Field{
		zap.String("event_kind", string(event.Kind)),
		zap.String("query_id", event.QueryID),
	}
	if event.Query != nil {
		fields = append(fields,
			zap.String("status", string(event.Query.Status)),
			zap.String("priority", string(event.Query.Priority)),
			zap.String("assigned_to", event.Query.AssignedTo))
	}

	switch event.Kind {
	case events.KindCreated:
		n.logger.Info("QueryCreated", fields...)
	case events.KindUpdated:
		n.logger.Info("QueryUpdated", fields...)
	default:
		n.logger.Debug("ignoring unknown event kind", fields...)
		return
	}

	if err := n.sendWebhook(ctx, event); err != nil {
		n.logger.Warn("webhook notification failed", append(fields, zap.Error(err))...)
	}
}

func (n *NotificationService) sendWebhook(ctx context.Context, event events.Event) error {
	url := strings.TrimSpace(n.cfg.WebhookURL)
	if url == "" || ctx.Err() != nil {
		return nil
	}

	code, _, errs := fiber.Post(url).
		JSON(event).
		Timeout(webhookTimeout).
		Bytes()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if code < 200 || code >= 300 {
		return fmt.Errorf("webhook %s responded with status %d", url, code)
	}
	n.logger.Debug("webhook notification delivered",
		zap.String("query_id", event.QueryID),
		zap.String("event_kind", string(event.Kind)))
	return nil
}

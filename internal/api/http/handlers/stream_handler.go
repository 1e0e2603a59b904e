package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/query-service/internal/api/dto"
	"github.com/spec-kit/query-service/internal/events"
)

// DefaultHeartbeat keeps idle stream connections open through proxies.
const DefaultHeartbeat = 15 * time.Second

// StreamHandler pushes query changes to browsers as Server-Sent Events.
type StreamHandler struct {
	hub       *events.Hub
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewStreamHandler constructs handler.
func NewStreamHandler(hub *events.Hub, logger *zap.Logger, heartbeat time.Duration) *StreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &StreamHandler{hub: hub, logger: logger, heartbeat: heartbeat}
}

// Stream GET /api/queries/stream.
func (h *StreamHandler) Stream(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	sub := h.hub.Subscribe()
	h.logger.Info("stream observer connected", zap.String("subscription_id", sub.ID), zap.String("remote", c.IP()))

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(sub)

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		if err := writeComment(w, "connected"); err != nil {
			return
		}
		for {
			select {
			case event, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeEvent(w, event); err != nil {
					h.logger.Info("stream observer disconnected", zap.String("subscription_id", sub.ID), zap.Error(err))
					return
				}
			case <-ticker.C:
				if err := writeComment(w, "heartbeat"); err != nil {
					h.logger.Info("stream observer disconnected", zap.String("subscription_id", sub.ID), zap.Error(err))
					return
				}
			}
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, event events.Event) error {
	if event.Query == nil {
		return nil
	}
	payload, err := json.Marshal(dto.QueryEventResponse{
		ID:        event.ID,
		QueryID:   event.QueryID,
		Timestamp: event.Timestamp,
		Query:     dto.NewQueryResponse(event.Query),
	})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", event.ID, event.Kind.StreamName(), payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeComment(w *bufio.Writer, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}
	return w.Flush()
}

package events

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisPublishTimeout = 2 * time.Second

// eventEncMode encodes relay payloads deterministically and keeps
// sub-second timestamps.
var eventEncMode cbor.EncMode

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	mode, err := encOptions.EncMode()
	if err != nil {
		panic("events: CBOR encoder initialization failed: " + err.Error())
	}
	eventEncMode = mode
}

// encodeEvent renders event in the CBOR relay format.
func encodeEvent(event Event) ([]byte, error) {
	return eventEncMode.Marshal(event)
}

func decodeEvent(payload []byte) (Event, error) {
	var event Event
	err := cbor.Unmarshal(payload, &event)
	return event, err
}

// RedisBroadcaster relays events through a Redis channel so that observers
// connected to any service instance receive them. Events reach the local hub
// only via the relay loop started by Run, unless Redis rejects the publish.
type RedisBroadcaster struct {
	client  *redis.Client
	channel string
	local   *Hub
	logger  *zap.Logger
}

// NewRedisBroadcaster wires a broadcaster in front of the local hub.
func NewRedisBroadcaster(client *redis.Client, channel string, local *Hub, logger *zap.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{client: client, channel: channel, local: local, logger: logger}
}

// Publish sends event to Redis, falling back to the local hub on failure.
func (b *RedisBroadcaster) Publish(ctx context.Context, event Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisPublishTimeout)
	defer cancel()

	payload, err := encodeEvent(event)
	if err == nil {
		err = b.client.Publish(ctx, b.channel, payload).Err()
	}
	if err != nil {
		b.logger.Warn("redis publish failed; delivering locally",
			zap.String("channel", b.channel),
			zap.String("event_kind", string(event.Kind)),
			zap.String("query_id", event.QueryID),
			zap.Error(err))
		b.local.Publish(ctx, event)
	}
}

// Run relays events from Redis into the local hub until ctx is cancelled.
func (b *RedisBroadcaster) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close() //nolint:errcheck

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.Info("relaying query events from redis", zap.String("channel", b.channel))

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			event, err := decodeEvent([]byte(msg.Payload))
			if err != nil {
				b.logger.Warn("discarding malformed event payload", zap.Error(err))
				continue
			}
			b.local.Publish(ctx, event)
		}
	}
}

// Package pubsub publishes domain events to Redis channels and mirrors
// them to the in-process WebSocket hub.
package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Bus struct {
	rdb   *redis.Client
	log   *zap.Logger
	ctx   context.Context
	wsHub WSHub
}

type WSHub interface {
	Publish(channel string, message map[string]interface{})
}

func New(rdb *redis.Client, log *zap.Logger) *Bus {
	return &Bus{
		rdb: rdb,
		log: log,
		ctx: context.Background(),
	}
}

// SetWSHub sets the WebSocket hub for event broadcasting
func (b *Bus) SetWSHub(hub WSHub) {
	b.wsHub = hub
}

// PublishConversation publishes an event to a conversation's channel
func (b *Bus) PublishConversation(conversationID string, event map[string]interface{}) error {
	return b.Publish("conversation:"+conversationID, event)
}

// PublishRequest publishes an event to a request's channel
func (b *Bus) PublishRequest(requestID string, event map[string]interface{}) error {
	return b.Publish("request:"+requestID, event)
}

// PublishProvider publishes an event to a provider's channel
func (b *Bus) PublishProvider(providerID string, event map[string]interface{}) error {
	return b.Publish("provider:"+providerID, event)
}

// Publish publishes an event to a channel
func (b *Bus) Publish(channel string, event map[string]interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := b.rdb.Publish(b.ctx, channel, data).Err(); err != nil {
		b.log.Error("Failed to publish event", zap.String("channel", channel), zap.Error(err))
		return err
	}

	if b.wsHub != nil {
		b.wsHub.Publish(channel, event)
	}

	b.log.Debug("Published event", zap.String("channel", channel), zap.String("event", string(data)))
	return nil
}

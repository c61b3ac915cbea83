// Package events publishes domain notifications after a transaction commits.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Type names a published event.
type Type string

const (
	EnrollmentCreated   Type = "enrollment.created"
	EnrollmentCancelled Type = "enrollment.cancelled"
	AttendanceMarked    Type = "attendance.marked"
	AttendanceReset     Type = "attendance.reset"
	MakeupScheduled     Type = "session.makeup_scheduled"
	MakeupRemoved       Type = "session.makeup_removed"
)

// Event is the wire envelope.
type Event struct {
	ID         string                 `json:"id"`
	Type       Type                   `json:"type"`
	TenantID   string                 `json:"tenant_id"`
	ActorID    string                 `json:"actor_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	Payload    map[string]interface{} `json:"payload"`
}

// New stamps an event with an id and timestamp.
func New(eventType Type, tenantID, actorID string, payload map[string]interface{}) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		TenantID:   tenantID,
		ActorID:    actorID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Publisher delivers events to subscribers.
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

// Publish implements Publisher.
func (NopPublisher) Publish(context.Context, ...Event) error { return nil }

type redisPublisherClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher fans events out over a Redis Pub/Sub channel.
type RedisPublisher struct {
	client  redisPublisherClient
	channel string
	logger  *zap.Logger
}

// NewRedisPublisher constructs a publisher on channel.
func NewRedisPublisher(client redisPublisherClient, channel string, logger *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = "drive-school:events"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

// Publish marshals and publishes each event. The first failure is returned after
// the remaining events have been attempted.
func (p *RedisPublisher) Publish(ctx context.Context, events ...Event) error {
	var firstErr error
	for _, evt := range events {
		payload, err := json.Marshal(evt)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("marshal event %s: %w", evt.Type, err)
			}
			continue
		}
		receivers, err := p.client.Publish(ctx, p.channel, payload).Result()
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish event %s: %w", evt.Type, err)
			}
			continue
		}
		p.logger.Debug("event published",
			zap.String("type", string(evt.Type)),
			zap.String("tenant_id", evt.TenantID),
			zap.Int64("receivers", receivers))
	}
	return firstErr
}

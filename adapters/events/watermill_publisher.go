package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/medoxie/gateway/ports"
)

const (
	TopicConnected      = "withings.connected"
	TopicReauthRequired = "withings.reauth_required"
)

// ConnectionEvent describes a change in a user's Withings connection
type ConnectionEvent struct {
	UserID     string `json:"user_id"`
	Provider   string `json:"provider"`
	OccurredAt int64  `json:"occurred_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	now       func() time.Time
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		now:       time.Now,
	}
}

// PublishConnected publishes a connected event after a successful code exchange
func (p *WatermillPublisher) PublishConnected(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicConnected, userID)
}

// PublishReauthRequired publishes an event when stored tokens stop working
func (p *WatermillPublisher) PublishReauthRequired(ctx context.Context, userID string) error {
	return p.publish(ctx, TopicReauthRequired, userID)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, userID string) error {
	event := ConnectionEvent{
		UserID:     userID,
		Provider:   "withings",
		OccurredAt: p.now().UnixMilli(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher drops every event. Used when events are disabled.
type NopPublisher struct{}

// PublishConnected does nothing
func (NopPublisher) PublishConnected(context.Context, string) error { return nil }

// PublishReauthRequired does nothing
func (NopPublisher) PublishReauthRequired(context.Context, string) error { return nil }

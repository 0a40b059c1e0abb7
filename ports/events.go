package ports

import "context"

// EventPublisher publishes provider connection lifecycle events
type EventPublisher interface {
	PublishConnected(ctx context.Context, userID string) error
	PublishReauthRequired(ctx context.Context, userID string) error
}

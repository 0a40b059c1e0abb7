package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/medoxie/gateway/core"
	"github.com/medoxie/gateway/internal/metrics"
	"github.com/medoxie/gateway/ports"
	"go.uber.org/zap"
)

const (
	stateKeyPrefix = "state:"

	// DefaultStateTTL is how long an issued OAuth state stays redeemable
	DefaultStateTTL = 10 * time.Minute
)

// StateStore issues and redeems single-use OAuth state tokens
type StateStore struct {
	store  ports.Store
	logger *zap.Logger
}

// NewStateStore creates a state store on top of store
func NewStateStore(store ports.Store, logger *zap.Logger) *StateStore {
	return &StateStore{
		store:  store,
		logger: logger,
	}
}

// Issue binds a fresh random state to userID for ttl.
// ttl is floored to whole seconds with a minimum of one second.
func (s *StateStore) Issue(ctx context.Context, userID string, ttl time.Duration) (string, error) {
	ttl = ttl.Truncate(time.Second)
	if ttl < time.Second {
		ttl = time.Second
	}

	state := uuid.NewString()
	if err := s.store.Set(ctx, stateKeyPrefix+state, userID, ttl); err != nil {
		metrics.StateTokensTotal.WithLabelValues("issue", "error").Inc()
		return "", fmt.Errorf("failed to store state: %w", err)
	}

	metrics.StateTokensTotal.WithLabelValues("issue", "ok").Inc()
	return state, nil
}

// Consume redeems state and returns the user it was issued for.
// ok is false when the state is unknown, expired or already consumed.
func (s *StateStore) Consume(ctx context.Context, state string) (userID string, ok bool, err error) {
	if state == "" {
		return "", false, nil
	}

	userID, err = s.store.Take(ctx, stateKeyPrefix+state)
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			metrics.StateTokensTotal.WithLabelValues("consume", "invalid").Inc()
			return "", false, nil
		}
		metrics.StateTokensTotal.WithLabelValues("consume", "error").Inc()
		return "", false, fmt.Errorf("failed to consume state: %w", err)
	}

	metrics.StateTokensTotal.WithLabelValues("consume", "ok").Inc()
	return userID, true, nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/medoxie/gateway/core"
	"github.com/medoxie/gateway/internal/logger"
	"github.com/medoxie/gateway/internal/metrics"
	"github.com/medoxie/gateway/ports"
	"go.uber.org/zap"
)

const (
	tokenKeyPrefix = "tokens:"

	// DefaultRefreshWindow is how close to expiry a token may get before it is refreshed
	DefaultRefreshWindow = 30 * time.Second
)

// TokenManager keeps each user's provider tokens usable.
// It refreshes at most once proactively and once reactively per call and never loops.
type TokenManager struct {
	store         ports.Store
	oauth         ports.OAuthClient
	events        ports.EventPublisher
	logger        *zap.Logger
	refreshWindow time.Duration
	now           func() time.Time
}

// NewTokenManager creates a token manager; events may be nil
func NewTokenManager(
	store ports.Store,
	oauth ports.OAuthClient,
	events ports.EventPublisher,
	logger *zap.Logger,
	refreshWindow time.Duration,
) *TokenManager {
	if refreshWindow <= 0 {
		refreshWindow = DefaultRefreshWindow
	}
	return &TokenManager{
		store:         store,
		oauth:         oauth,
		events:        events,
		logger:        logger,
		refreshWindow: refreshWindow,
		now:           time.Now,
	}
}

// GetTokens returns the stored bundle; found is false when the user never connected
func (m *TokenManager) GetTokens(ctx context.Context, userID string) (bundle core.TokenBundle, found bool, err error) {
	raw, err := m.store.Get(ctx, tokenKeyPrefix+userID)
	if err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			return core.TokenBundle{}, false, nil
		}
		return core.TokenBundle{}, false, fmt.Errorf("failed to load tokens: %w", err)
	}

	bundle, err = core.DecodeTokenBundle([]byte(raw))
	if err != nil {
		return core.TokenBundle{}, true, err
	}
	return bundle, true, nil
}

// SaveTokens replaces the user's stored bundle in a single write
func (m *TokenManager) SaveTokens(ctx context.Context, userID string, bundle core.TokenBundle) error {
	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("failed to marshal tokens: %w", err)
	}
	if err := m.store.Set(ctx, tokenKeyPrefix+userID, string(data), 0); err != nil {
		return fmt.Errorf("failed to save tokens: %w", err)
	}
	return nil
}

// Connect exchanges an authorization code and stores the resulting bundle
func (m *TokenManager) Connect(ctx context.Context, userID, code string) error {
	bundle, err := m.oauth.ExchangeCode(ctx, code)
	if err != nil {
		return fmt.Errorf("failed to exchange code: %w", err)
	}
	if err := m.SaveTokens(ctx, userID, bundle); err != nil {
		return err
	}

	log := logger.WithUserID(m.logger, userID)
	log.Info("provider connected", zap.Time("expires_at", bundle.Expiry()))

	if m.events != nil {
		if err := m.events.PublishConnected(ctx, userID); err != nil {
			log.Warn("failed to publish connected event", zap.Error(err))
		}
	}
	return nil
}

// EnsureTokens returns usable tokens for userID, refreshing them when they are about to expire.
// A failed refresh leaves the stored bundle untouched and yields reauth_required.
func (m *TokenManager) EnsureTokens(ctx context.Context, userID string) (core.TokenStatus, error) {
	bundle, found, err := m.GetTokens(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrMalformedTokenBundle) {
			m.logger.Error("stored tokens are malformed", zap.String("user_id", userID), zap.Error(err))
			return m.reauthRequired(ctx, userID), nil
		}
		return core.TokenStatus{}, err
	}
	if !found {
		return core.TokenStatus{Kind: core.StatusNotConnected}, nil
	}

	if bundle.FreshAt(m.now(), m.refreshWindow) {
		return core.TokenStatus{Kind: core.StatusOK, Tokens: bundle}, nil
	}

	refreshed, err := m.refresh(ctx, userID, bundle.RefreshToken, "expiry")
	if err != nil {
		return m.reauthRequired(ctx, userID), nil
	}
	return core.TokenStatus{Kind: core.StatusOK, Tokens: refreshed}, nil
}

// Refresh unconditionally refreshes the user's tokens
func (m *TokenManager) Refresh(ctx context.Context, userID string) (core.TokenStatus, error) {
	bundle, found, err := m.GetTokens(ctx, userID)
	if err != nil {
		if errors.Is(err, core.ErrMalformedTokenBundle) {
			return m.reauthRequired(ctx, userID), nil
		}
		return core.TokenStatus{}, err
	}
	if !found {
		return core.TokenStatus{Kind: core.StatusNotConnected}, nil
	}

	refreshed, err := m.refresh(ctx, userID, bundle.RefreshToken, "manual")
	if err != nil {
		return m.reauthRequired(ctx, userID), nil
	}
	return core.TokenStatus{Kind: core.StatusOK, Tokens: refreshed}, nil
}

// refresh exchanges refreshToken and persists the new bundle.
// Nothing is written unless the provider returned a complete bundle.
func (m *TokenManager) refresh(ctx context.Context, userID, refreshToken, trigger string) (core.TokenBundle, error) {
	log := logger.WithUserID(m.logger, userID).With(zap.String("trigger", trigger))

	refreshed, err := m.oauth.Refresh(ctx, refreshToken)
	if err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(trigger, "provider_error").Inc()
		log.Warn("token refresh failed", zap.Error(err))
		return core.TokenBundle{}, err
	}

	if err := m.SaveTokens(ctx, userID, refreshed); err != nil {
		metrics.TokenRefreshTotal.WithLabelValues(trigger, "store_error").Inc()
		log.Error("failed to persist refreshed tokens", zap.Error(err))
		return core.TokenBundle{}, err
	}

	metrics.TokenRefreshTotal.WithLabelValues(trigger, "ok").Inc()
	log.Debug("tokens refreshed", zap.Time("expires_at", refreshed.Expiry()))
	return refreshed, nil
}

func (m *TokenManager) reauthRequired(ctx context.Context, userID string) core.TokenStatus {
	if m.events != nil {
		if err := m.events.PublishReauthRequired(ctx, userID); err != nil {
			m.logger.Warn("failed to publish reauth event", zap.String("user_id", userID), zap.Error(err))
		}
	}
	return core.TokenStatus{Kind: core.StatusReauthRequired}
}

// RequestFunc performs one provider call with an access token
type RequestFunc[T any] func(ctx context.Context, accessToken string) (T, error)

// RequestWithRetry runs fn with the user's access token.
//
// When tokens are unavailable fn is not called and the non-ok status is returned.
// When fn fails with a provider invalid-token error, the tokens are refreshed once and
// fn is retried once; any failure in that cycle yields reauth_required. Other errors
// from the first call are returned unchanged.
func RequestWithRetry[T any](ctx context.Context, m *TokenManager, userID string, fn RequestFunc[T]) (T, core.TokenStatus, error) {
	var zero T

	status, err := m.EnsureTokens(ctx, userID)
	if err != nil {
		return zero, core.TokenStatus{}, err
	}
	if !status.OK() {
		return zero, status, nil
	}

	result, err := fn(ctx, status.Tokens.AccessToken)
	if err == nil {
		return result, status, nil
	}
	if !core.IsInvalidTokenError(err) {
		return zero, status, err
	}

	// Another request may have rotated the refresh token since EnsureTokens read it
	current := status.Tokens
	if stored, found, err := m.GetTokens(ctx, userID); err == nil && found {
		current = stored
	}

	refreshed, err := m.refresh(ctx, userID, current.RefreshToken, "rejected")
	if err != nil {
		return zero, m.reauthRequired(ctx, userID), nil
	}

	result, err = fn(ctx, refreshed.AccessToken)
	if err != nil {
		m.logger.Warn("provider call failed after token refresh",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return zero, m.reauthRequired(ctx, userID), nil
	}

	return result, core.TokenStatus{Kind: core.StatusOK, Tokens: refreshed}, nil
}

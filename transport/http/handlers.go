package http

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/medoxie/gateway/core"
	"github.com/medoxie/gateway/ports"
	"github.com/medoxie/gateway/service"
	"go.uber.org/zap"
)

const connectedPage = "<!doctype html><html><head><title>Withings Connected</title></head>" +
	"<body><p>Withings connected. You can return to Medoxie.</p></body></html>"

var unixDate = regexp.MustCompile(`^\d+$`)

// Dependencies are the collaborators the handlers are built from
type Dependencies struct {
	Authenticator *service.Authenticator
	Oracle        ports.OwnershipOracle
	Users         ports.UserIDResolver
	States        *service.StateStore
	Tokens        *service.TokenManager
	OAuth         ports.OAuthClient
	Data          ports.HealthDataClient
	StateTTL      time.Duration
	Logger        *zap.Logger
}

// WithingsHandlers contains HTTP handlers for the Withings endpoints
type WithingsHandlers struct {
	deps Dependencies
}

// NewWithingsHandlers creates new Withings handlers
func NewWithingsHandlers(deps Dependencies) *WithingsHandlers {
	if deps.StateTTL <= 0 {
		deps.StateTTL = service.DefaultStateTTL
	}
	return &WithingsHandlers{deps: deps}
}

// signed returns the authentication middleware for a signed path
func (h *WithingsHandlers) signed(path string) gin.HandlerFunc {
	return SignedAuth(h.deps.Authenticator, h.deps.Oracle, h.deps.Users, path, h.deps.Logger)
}

// Health reports liveness
func (h *WithingsHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// AuthStart issues an OAuth state for the caller and returns the consent URL
func (h *WithingsHandlers) AuthStart(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	url, err := h.authorizeURL(c.Request.Context(), userID)
	if err != nil {
		h.deps.Logger.Error("failed to start oauth flow", zap.String("user_id", userID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "server_error", "Failed to start OAuth flow")
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// AuthCallback redeems the OAuth state and stores the exchanged tokens
func (h *WithingsHandlers) AuthCallback(c *gin.Context) {
	state := c.Query("state")
	code := c.Query("code")
	if state == "" || code == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", "state and code are required")
		return
	}

	ctx := c.Request.Context()
	userID, ok, err := h.deps.States.Consume(ctx, state)
	if err != nil {
		h.deps.Logger.Error("failed to consume oauth state", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "server_error", "Failed to verify state")
		return
	}
	if !ok {
		respondError(c, http.StatusBadRequest, "invalid_state", "Invalid or expired state")
		return
	}

	if err := h.deps.Tokens.Connect(ctx, userID, code); err != nil {
		h.deps.Logger.Warn("oauth callback failed", zap.String("user_id", userID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "oauth_error", "Failed to exchange code for tokens")
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(connectedPage))
}

// Sleep returns sleep summaries for the caller
func (h *WithingsHandlers) Sleep(c *gin.Context) {
	serveData(h, c, h.deps.Data.Sleep)
}

// Measure returns body measurements for the caller
func (h *WithingsHandlers) Measure(c *gin.Context) {
	serveData(h, c, h.deps.Data.Measures)
}

// Activity returns activity aggregates for the caller
func (h *WithingsHandlers) Activity(c *gin.Context) {
	serveData(h, c, h.deps.Data.Activity)
}

// TokenRefresh forces a refresh of the caller's tokens
func (h *WithingsHandlers) TokenRefresh(c *gin.Context) {
	userID := c.GetString(ctxUserID)

	status, err := h.deps.Tokens.Refresh(c.Request.Context(), userID)
	if err != nil {
		h.deps.Logger.Error("token refresh failed", zap.String("user_id", userID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "server_error", "Failed to load tokens")
		return
	}

	switch status.Kind {
	case core.StatusNotConnected:
		respondError(c, http.StatusUnauthorized, "not_connected", "User is not connected")
	case core.StatusReauthRequired:
		respondError(c, http.StatusUnauthorized, "reauth_required", "Refresh failed")
	default:
		c.JSON(http.StatusOK, gin.H{"ok": true, "expires_at": status.Tokens.ExpiresAt})
	}
}

type fetchFunc[T any] func(ctx context.Context, accessToken, startDate, endDate string) (T, error)

func serveData[T any](h *WithingsHandlers, c *gin.Context, fetch fetchFunc[T]) {
	startDate, ok := dateParam(c, "startdate")
	if !ok {
		return
	}
	endDate, ok := dateParam(c, "enddate")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	userID := c.GetString(ctxUserID)

	result, status, err := service.RequestWithRetry(ctx, h.deps.Tokens, userID,
		func(ctx context.Context, accessToken string) (T, error) {
			return fetch(ctx, accessToken, startDate, endDate)
		})
	if err != nil {
		h.respondProviderError(c, userID, err)
		return
	}
	if !status.OK() {
		h.respondOAuthRequired(c, userID, status.Kind)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": result})
}

func (h *WithingsHandlers) respondProviderError(c *gin.Context, userID string, err error) {
	if errors.Is(err, core.ErrStoreOperationFailed) {
		h.deps.Logger.Error("token store unavailable", zap.String("user_id", userID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "server_error", "Token store unavailable")
		return
	}

	h.deps.Logger.Warn("withings request failed", zap.String("user_id", userID), zap.Error(err))

	var perr *core.ProviderError
	if errors.As(err, &perr) {
		respondError(c, http.StatusBadGateway, "withings_error", strings.TrimPrefix(perr.Error(), "withings: "))
		return
	}
	respondError(c, http.StatusBadGateway, "withings_error", "Withings API error")
}

// respondOAuthRequired answers 401 with a fresh consent URL so the client can reconnect
func (h *WithingsHandlers) respondOAuthRequired(c *gin.Context, userID string, reason core.StatusKind) {
	message := "Withings is not connected"
	if reason == core.StatusReauthRequired {
		message = "Withings authorization expired, reconnect required"
	}

	body := gin.H{
		"error":   "oauth_required",
		"reason":  string(reason),
		"message": message,
	}

	url, err := h.authorizeURL(c.Request.Context(), userID)
	if err != nil {
		h.deps.Logger.Error("failed to issue oauth state", zap.String("user_id", userID), zap.Error(err))
	} else {
		body["url"] = url
	}

	c.JSON(http.StatusUnauthorized, body)
}

func (h *WithingsHandlers) authorizeURL(ctx context.Context, userID string) (string, error) {
	state, err := h.deps.States.Issue(ctx, userID, h.deps.StateTTL)
	if err != nil {
		return "", err
	}
	return h.deps.OAuth.AuthorizeURL(state), nil
}

// dateParam reads a required unix-seconds query parameter
func dateParam(c *gin.Context, name string) (string, bool) {
	value := strings.TrimSpace(c.Query(name))
	if value == "" {
		respondError(c, http.StatusBadRequest, "invalid_request", name+" is required")
		return "", false
	}
	if !unixDate.MatchString(value) {
		respondError(c, http.StatusBadRequest, "invalid_request", name+" must be a unix timestamp")
		return "", false
	}
	return value, true
}

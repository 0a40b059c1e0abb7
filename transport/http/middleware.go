package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/medoxie/gateway/core"
	"github.com/medoxie/gateway/ports"
	"github.com/medoxie/gateway/service"
	"go.uber.org/zap"
)

const (
	ctxIdentity = "identity"
	ctxUserID   = "userID"
)

// SignedAuth verifies the signed headers for path, checks that the wallet owns the
// claimed profile and stores the identity and resolved user id in the context
func SignedAuth(
	auth *service.Authenticator,
	oracle ports.OwnershipOracle,
	users ports.UserIDResolver,
	path string,
	logger *zap.Logger,
) gin.HandlerFunc {
	return func(c *gin.Context) {
		verified, err := auth.Verify(c.Request.Header, path)
		if err != nil {
			status, code, message := authErrorResponse(err)
			abortError(c, status, code, message)
			return
		}

		identity := verified.Identity()
		ctx := c.Request.Context()

		owns, err := oracle.Owns(ctx, identity.Address, identity.ProfileID)
		if err != nil {
			logger.Warn("ownership check failed",
				zap.String("address", identity.Address),
				zap.String("profile_id", identity.ProfileID),
				zap.Error(err),
			)
		}
		if !owns {
			abortError(c, http.StatusForbidden, "unauthorized", "Lens profile does not belong to wallet")
			return
		}

		userID, err := users.ResolveUserID(ctx, identity.ProfileID)
		if err != nil {
			if errors.Is(err, core.ErrUserUnresolved) {
				abortError(c, http.StatusForbidden, "unauthorized", "Unable to resolve Withings user for profile")
				return
			}
			logger.Error("failed to resolve user id", zap.String("profile_id", identity.ProfileID), zap.Error(err))
			abortError(c, http.StatusBadGateway, "upstream_error", "Failed to resolve user")
			return
		}

		c.Set(ctxIdentity, identity)
		c.Set(ctxUserID, userID)

		c.Next()
	}
}

// authErrorResponse maps a verification failure to status, code and message
func authErrorResponse(err error) (int, string, string) {
	switch {
	case errors.Is(err, core.ErrMissingHeaders):
		return http.StatusUnauthorized, "unauthorized", "Missing authentication headers"
	case errors.Is(err, core.ErrInvalidTimestamp), errors.Is(err, core.ErrTimestampOutOfRange):
		return http.StatusBadRequest, "invalid_request", "Invalid timestamp"
	default:
		return http.StatusUnauthorized, "unauthorized", "Invalid signature"
	}
}

// RequireHTTPS rejects plain-HTTP requests when enabled.
// TLS may be terminated by a proxy that sets X-Forwarded-Proto.
func RequireHTTPS(enabled bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enabled && c.Request.TLS == nil && c.GetHeader("X-Forwarded-Proto") != "https" {
			abortError(c, http.StatusBadRequest, "https_required", "HTTPS is required")
			return
		}
		c.Next()
	}
}

// LimitBody rejects requests whose declared body exceeds maxBytes
func LimitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			abortError(c, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body too large")
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// RequestLogger logs every request once it completes
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}

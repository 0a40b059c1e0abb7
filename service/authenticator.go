package service

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/medoxie/gateway/core"
	"github.com/medoxie/gateway/internal/eth"
	"github.com/medoxie/gateway/internal/metrics"
	"go.uber.org/zap"
)

// Signed request headers. Lookups go through http.Header.Get, so matching is case-insensitive.
const (
	HeaderAddress   = "X-Medoxie-Address"
	HeaderProfileID = "X-Medoxie-Profile-Id"
	HeaderTimestamp = "X-Medoxie-Timestamp"
	HeaderMessage   = "X-Medoxie-Message"
	HeaderSignature = "X-Medoxie-Signature"
)

// DefaultTimestampTolerance bounds clock skew in either direction
const DefaultTimestampTolerance = 5 * time.Minute

// HeaderGetter is satisfied by http.Header
type HeaderGetter interface {
	Get(key string) string
}

// Authenticator verifies signed requests. It keeps no state between calls.
type Authenticator struct {
	tolerance time.Duration
	now       func() time.Time
	logger    *zap.Logger
}

// NewAuthenticator creates an authenticator accepting timestamps within tolerance of now
func NewAuthenticator(logger *zap.Logger, tolerance time.Duration) *Authenticator {
	if tolerance <= 0 {
		tolerance = DefaultTimestampTolerance
	}
	return &Authenticator{
		tolerance: tolerance,
		now:       time.Now,
		logger:    logger,
	}
}

// EnvelopeFromHeaders extracts the signed envelope from request headers
func EnvelopeFromHeaders(headers HeaderGetter) core.SignedEnvelope {
	return core.SignedEnvelope{
		Address:        headers.Get(HeaderAddress),
		ProfileID:      headers.Get(HeaderProfileID),
		Timestamp:      headers.Get(HeaderTimestamp),
		EncodedMessage: headers.Get(HeaderMessage),
		Signature:      headers.Get(HeaderSignature),
	}
}

// Verify authenticates the request headers for expectedPath
func (a *Authenticator) Verify(headers HeaderGetter, expectedPath string) (core.VerifiedAuth, error) {
	auth, err := a.VerifyEnvelope(EnvelopeFromHeaders(headers), expectedPath)
	if err != nil {
		var authErr *core.AuthError
		result := "error"
		if errors.As(err, &authErr) {
			result = string(authErr.Kind)
		}
		metrics.AuthVerificationsTotal.WithLabelValues(result).Inc()
		a.logger.Info("signed request rejected",
			zap.String("path", expectedPath),
			zap.Error(err),
		)
		return core.VerifiedAuth{}, err
	}

	metrics.AuthVerificationsTotal.WithLabelValues("ok").Inc()
	return auth, nil
}

// VerifyEnvelope runs the verification steps cheapest first and stops at the first failure.
// Every returned error wraps one of the core auth error kinds.
func (a *Authenticator) VerifyEnvelope(env core.SignedEnvelope, expectedPath string) (core.VerifiedAuth, error) {
	if !env.Complete() {
		return core.VerifiedAuth{}, core.ErrMissingHeaders
	}

	message, err := decodeMessage(env.EncodedMessage)
	if err != nil {
		return core.VerifiedAuth{}, err
	}

	timestamp, err := strconv.ParseInt(env.Timestamp, 10, 64)
	if err != nil {
		return core.VerifiedAuth{}, core.ErrInvalidTimestamp
	}

	// Bounds are compared directly; now - timestamp can overflow for extreme inputs
	nowMs, tolMs := a.now().UnixMilli(), a.tolerance.Milliseconds()
	if timestamp < nowMs-tolMs || timestamp > nowMs+tolMs {
		return core.VerifiedAuth{}, fmt.Errorf("%w: timestamp %d, now %d", core.ErrTimestampOutOfRange, timestamp, nowMs)
	}

	expected := core.CanonicalMessage(env.Address, env.ProfileID, env.Timestamp, expectedPath)
	if message != expected {
		return core.VerifiedAuth{}, core.ErrMessageMismatch
	}

	if !strings.HasPrefix(env.Signature, "0x") {
		return core.VerifiedAuth{}, core.ErrInvalidSignatureFormat
	}

	recovered, err := eth.RecoverPersonalHex([]byte(message), env.Signature)
	if err != nil {
		return core.VerifiedAuth{}, fmt.Errorf("%w: %v", core.ErrInvalidSignature, err)
	}

	signer := strings.ToLower(recovered.Hex())
	if signer != strings.ToLower(env.Address) {
		return core.VerifiedAuth{}, core.ErrSignatureMismatch
	}

	return core.VerifiedAuth{
		Address:   signer,
		ProfileID: strings.ToLower(env.ProfileID),
		Timestamp: timestamp,
		Path:      expectedPath,
	}, nil
}

// decodeMessage accepts padded and unpadded standard base64 and requires valid UTF-8
func decodeMessage(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(encoded)
		if err != nil {
			return "", core.ErrInvalidMessageEncoding
		}
	}
	if !utf8.Valid(raw) {
		return "", core.ErrInvalidMessageEncoding
	}
	return string(raw), nil
}

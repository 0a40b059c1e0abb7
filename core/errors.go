package core

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthErrorKind identifies why a signed request was rejected
type AuthErrorKind string

// AuthError is a signed-request verification failure of a known kind
type AuthError struct {
	Kind AuthErrorKind
}

func (e *AuthError) Error() string {
	return string(e.Kind)
}

var (
	ErrMissingHeaders         = &AuthError{Kind: "missing_auth_headers"}
	ErrInvalidMessageEncoding = &AuthError{Kind: "invalid_message_encoding"}
	ErrInvalidTimestamp       = &AuthError{Kind: "invalid_timestamp"}
	ErrTimestampOutOfRange    = &AuthError{Kind: "timestamp_out_of_range"}
	ErrMessageMismatch        = &AuthError{Kind: "message_mismatch"}
	ErrInvalidSignatureFormat = &AuthError{Kind: "invalid_signature_format"}
	ErrInvalidSignature       = &AuthError{Kind: "invalid_signature"}
	ErrSignatureMismatch      = &AuthError{Kind: "signature_mismatch"}
)

var (
	ErrKeyNotFound          = errors.New("key not found")
	ErrStoreOperationFailed = errors.New("store operation failed")
	ErrMalformedTokenBundle = errors.New("malformed token bundle")
	ErrInvalidState         = errors.New("invalid or expired state")
	ErrProfileNotOwned      = errors.New("profile does not belong to wallet")
	ErrUserUnresolved       = errors.New("user id could not be resolved")
	ErrDecode               = errors.New("unexpected response shape")
)

// ProviderError is a failure reported by the Withings API
type ProviderError struct {
	Status  int    // Withings body status or HTTP status
	Code    string // Withings error code, if any
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("withings: %s (status %d)", e.Message, e.Status)
	}
	return "withings: " + e.Message
}

// IsInvalidToken reports whether the provider rejected the access token
func (e *ProviderError) IsInvalidToken() bool {
	return e.Status == http.StatusUnauthorized || e.Code == "invalid_token"
}

// IsInvalidTokenError reports whether err carries a provider invalid-token failure
func IsInvalidTokenError(err error) bool {
	var perr *ProviderError
	return errors.As(err, &perr) && perr.IsInvalidToken()
}

package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// TokenBundle is a provider OAuth token pair with an absolute expiry
type TokenBundle struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresAt    int64  `json:"expires_at"` // milliseconds since epoch
	Scope        string `json:"scope"`
}

// Expiry returns ExpiresAt as a time.Time
func (b TokenBundle) Expiry() time.Time {
	return time.UnixMilli(b.ExpiresAt)
}

// FreshAt reports whether the access token is still usable at now
// with at least window of validity left.
func (b TokenBundle) FreshAt(now time.Time, window time.Duration) bool {
	return b.ExpiresAt > now.Add(window).UnixMilli()
}

// DecodeTokenBundle parses a stored bundle, rejecting records with missing fields
func DecodeTokenBundle(data []byte) (TokenBundle, error) {
	var raw struct {
		AccessToken  *string `json:"access_token"`
		RefreshToken *string `json:"refresh_token"`
		ExpiresAt    *int64  `json:"expires_at"`
		Scope        *string `json:"scope"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return TokenBundle{}, fmt.Errorf("%w: %v", ErrMalformedTokenBundle, err)
	}
	switch {
	case raw.AccessToken == nil || *raw.AccessToken == "":
		return TokenBundle{}, fmt.Errorf("%w: access_token missing", ErrMalformedTokenBundle)
	case raw.RefreshToken == nil || *raw.RefreshToken == "":
		return TokenBundle{}, fmt.Errorf("%w: refresh_token missing", ErrMalformedTokenBundle)
	case raw.ExpiresAt == nil || *raw.ExpiresAt <= 0:
		return TokenBundle{}, fmt.Errorf("%w: expires_at missing", ErrMalformedTokenBundle)
	}

	bundle := TokenBundle{
		AccessToken:  *raw.AccessToken,
		RefreshToken: *raw.RefreshToken,
		ExpiresAt:    *raw.ExpiresAt,
	}
	if raw.Scope != nil {
		bundle.Scope = *raw.Scope
	}
	return bundle, nil
}

// StatusKind enumerates the outcomes of token lifecycle operations
type StatusKind string

const (
	// StatusOK means a usable token bundle is available
	StatusOK StatusKind = "ok"

	// StatusNotConnected means no bundle was ever stored for the user
	StatusNotConnected StatusKind = "not_connected"

	// StatusReauthRequired means the stored bundle could not be refreshed
	StatusReauthRequired StatusKind = "reauth_required"
)

// TokenStatus is the result of ensuring a user's tokens
type TokenStatus struct {
	Kind   StatusKind
	Tokens TokenBundle // set only when Kind is StatusOK
}

// OK reports whether the status carries usable tokens
func (s TokenStatus) OK() bool {
	return s.Kind == StatusOK
}

package ports

import (
	"context"

	"github.com/medoxie/gateway/core"
)

// OAuthClient talks to the provider's OAuth endpoints.
// Failures reported by the provider are *core.ProviderError.
type OAuthClient interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (core.TokenBundle, error)
	Refresh(ctx context.Context, refreshToken string) (core.TokenBundle, error)
}

// HealthDataClient fetches health data with a user's access token
type HealthDataClient interface {
	Sleep(ctx context.Context, accessToken, startDate, endDate string) (map[string]any, error)
	Measures(ctx context.Context, accessToken, startDate, endDate string) (core.MeasureBody, error)
	Activity(ctx context.Context, accessToken, startDate, endDate string) (map[string]any, error)
}

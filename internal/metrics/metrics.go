// Package metrics declares the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthVerificationsTotal counts signed-request verifications by result
	AuthVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medoxie_auth_verifications_total",
		Help: "The total number of signed request verifications",
	}, []string{"result"})

	// TokenRefreshTotal counts provider token refreshes by trigger and result
	TokenRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medoxie_token_refresh_total",
		Help: "The total number of provider token refreshes",
	}, []string{"trigger", "result"})

	// ProviderRequestsTotal counts Withings API calls by action and result
	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medoxie_provider_requests_total",
		Help: "The total number of Withings API requests",
	}, []string{"action", "result"})

	// ProviderRequestDuration observes Withings API latency by action
	ProviderRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medoxie_provider_request_duration_seconds",
		Help:    "The Withings API request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// StateTokensTotal counts OAuth state token operations by result
	StateTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medoxie_state_tokens_total",
		Help: "The total number of OAuth state token operations",
	}, []string{"operation", "result"})
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RateLimitAllowed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "daybook", Name: "rate_limit_allowed_total", Help: "Number of allowed requests by limiter type."},
		[]string{"limiter"},
	)
	RateLimitRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "daybook", Name: "rate_limit_rejected_total", Help: "Number of rejected requests by limiter type."},
		[]string{"limiter"},
	)
	// TokenRefresh counts calendar token refresh attempts by outcome:
	// success | invalid_grant | transient | store_error
	TokenRefresh = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "daybook", Name: "calendar_token_refresh_total", Help: "Calendar access-token refresh attempts by outcome."},
		[]string{"outcome"},
	)
	// RefreshCoalesced counts callers that joined an already in-flight refresh
	// instead of starting their own.
	RefreshCoalesced = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "daybook", Name: "calendar_refresh_coalesced_total", Help: "Refresh waiters coalesced onto an in-flight refresh."},
	)
	// OAuthExchange counts authorization-code exchanges by outcome:
	// success | state_mismatch | provider_error
	OAuthExchange = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "daybook", Name: "oauth_exchange_total", Help: "OAuth authorization-code exchanges by outcome."},
		[]string{"outcome"},
	)
)

func RegisterCollectors(reg prometheus.Registerer) {
	reg.MustRegister(RateLimitAllowed)
	reg.MustRegister(RateLimitRejected)
	reg.MustRegister(TokenRefresh)
	reg.MustRegister(RefreshCoalesced)
	reg.MustRegister(OAuthExchange)
}

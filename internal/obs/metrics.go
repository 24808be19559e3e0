// Package obs holds the client's prometheus metrics. Registration is
// explicit so embedders that already own a registry can skip Init and
// register the collectors themselves.
package obs

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prepstock_client_requests_total",
			Help: "Backend requests issued by the secure request client.",
		},
		[]string{"method", "status"},
	)

	TokenRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prepstock_client_token_refresh_total",
			Help: "Access-token refresh attempts by outcome.",
		},
		[]string{"outcome"},
	)

	InviteRedemptionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prepstock_client_invite_redemptions_total",
			Help: "Invite redemption attempts by outcome.",
		},
		[]string{"outcome"},
	)

	ImageCacheEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "prepstock_client_image_cache_evictions_total",
			Help: "Image cache entries evicted, by reason.",
		},
		[]string{"reason"},
	)
)

// Init registers all collectors with the default registry.
func Init() {
	prometheus.MustRegister(
		RequestsTotal,
		TokenRefreshTotal,
		InviteRedemptionsTotal,
		ImageCacheEvictionsTotal,
	)
}

// ObserveRequest records one completed backend request.
func ObserveRequest(method string, status int) {
	RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
}

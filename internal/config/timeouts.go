package config

import "time"

type Timeouts struct{}

var _ TimeoutConfig = Timeouts{}

// GetRequestTimeout bounds every individual backend round-trip.
func (Timeouts) GetRequestTimeout() time.Duration {
	return 10 * time.Second
}

// GetRedeemTimeout bounds a single invite call, validation or redemption.
func (Timeouts) GetRedeemTimeout() time.Duration {
	return 10 * time.Second
}

// GetRedeemAllTimeout bounds the whole process-pending-invites pass that
// runs after authentication completes.
func (Timeouts) GetRedeemAllTimeout() time.Duration {
	return 15 * time.Second
}

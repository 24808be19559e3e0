// Package session holds the authenticated identity and credentials the
// client persists between page loads, and the store that owns them.
package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is the persisted login state. A session with a non-empty access
// token counts as logged in for presentation purposes only; the admin and
// manager flags are advisory and privileged behavior must be confirmed
// server-side (see the admin package).
type Session struct {
	ID               int64  `json:"id"`
	Username         string `json:"username"`
	Email            string `json:"email"`
	AccessToken      string `json:"access_token"`
	RefreshToken     string `json:"refresh_token"`
	SessionExp       int64  `json:"session_exp,omitempty"`
	IsAdmin          bool   `json:"isAdmin,omitempty"`
	IsManager        bool   `json:"isManager,omitempty"`
	PoliciesAccepted bool   `json:"policiesAccepted,omitempty"`
}

func (s *Session) LoggedIn() bool {
	return s != nil && s.AccessToken != ""
}

// AccessTokenExpiry reads the exp claim from the access token without
// verifying the signature. The result is advisory: only the backend's
// 401 is authoritative.
func (s *Session) AccessTokenExpiry() (time.Time, bool) {
	if !s.LoggedIn() {
		return time.Time{}, false
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(s.AccessToken, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// TokenPrefix returns a short, log-safe prefix of the access token.
func (s *Session) TokenPrefix() string {
	if s == nil {
		return ""
	}
	if len(s.AccessToken) <= 8 {
		return s.AccessToken
	}
	return s.AccessToken[:8]
}

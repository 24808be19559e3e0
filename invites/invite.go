// Package invites manages group invitations: the locally remembered pending
// invites a visitor intends to redeem once authenticated, the inviter-side
// token records kept as an offline validation fallback, and the manager that
// validates and redeems tokens against the backend.
package invites

import (
	"encoding/json"
	"strconv"
	"time"
)

// PendingInvite is a locally remembered, not-yet-redeemed group invitation.
// At most one pending invite is retained per group; a newer invite to the
// same group supersedes the old one.
type PendingInvite struct {
	Token       string `json:"token"`
	GroupID     string `json:"groupId"`
	GroupName   string `json:"groupName"`
	InviterName string `json:"inviterName"`
	ExpiresAt   int64  `json:"expiresAt"` // unix milliseconds
	// Persistent marks an invite stored before a registration hand-off; it
	// survives redemption failures so a later retry can succeed.
	Persistent bool   `json:"persistent,omitempty"`
	Email      string `json:"email,omitempty"`
}

func (p PendingInvite) Expired(now time.Time) bool {
	return p.ExpiresAt <= now.UnixMilli()
}

// InviteToken is the inviter-side record of a token this client generated.
// It is only ever consulted as a degraded fallback when the backend is
// unreachable during validation.
type InviteToken struct {
	ID          string `json:"id"`
	Token       string `json:"token"`
	GroupID     string `json:"groupId"`
	GroupName   string `json:"groupName"`
	InviterID   string `json:"inviterId"`
	InviterName string `json:"inviterName"`
	CreatedAt   int64  `json:"createdAt"` // unix milliseconds
	ExpiresAt   int64  `json:"expiresAt"`
	UsedAt      int64  `json:"usedAt,omitempty"`
	UsedBy      string `json:"usedBy,omitempty"`
}

func (t InviteToken) Expired(now time.Time) bool {
	return t.ExpiresAt <= now.UnixMilli()
}

func (t InviteToken) Used() bool {
	return t.UsedAt != 0
}

// flexID decodes a JSON value that some backend versions emit as a number
// and others as a string.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		*f = flexID(asString)
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return err
	}
	*f = flexID(asNumber.String())
	return nil
}

func (f flexID) String() string { return string(f) }

// GroupIDString normalizes a numeric group id to the string form pending
// invites are keyed by.
func GroupIDString(id int64) string {
	return strconv.FormatInt(id, 10)
}

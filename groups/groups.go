// Package groups wraps the group-management API: CRUD, membership,
// invitation management, and joins, with transparent avatar caching.
package groups

import "time"

// Group is a household sharing one inventory.
type Group struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	// Image is the base64-encoded avatar, empty when the group has none.
	Image string `json:"image,omitempty"`
}

type Member struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	IsAdmin  bool   `json:"isAdmin,omitempty"`
}

// Invitation is a server-side pending invitation, shown in the group-admin
// management view.
type Invitation struct {
	Token     string `json:"token"`
	Email     string `json:"email,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt"`
}

func (i Invitation) Expired(now time.Time) bool {
	return i.ExpiresAt <= now.UnixMilli()
}

// CreateRequest carries a new or updated group. A nil Image leaves the
// avatar untouched on update; an empty non-nil Image clears it.
type CreateRequest struct {
	Name        string  `json:"name"`
	Description string  `json:"description,omitempty"`
	Image       *string `json:"image,omitempty"`
}

// InviteRequest invites a user by email address.
type InviteRequest struct {
	Email string `json:"email"`
}

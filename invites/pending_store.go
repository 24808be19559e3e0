package invites

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/prepstock/go-prepstock-client/storage"
)

const pendingStorageKey = "pending_invites"

// PendingStore is the durable, best-effort memory of invitations a visitor
// intends to redeem once authenticated. Unreadable persisted state heals to
// an empty store instead of failing.
type PendingStore struct {
	kv      storage.KV
	nowTime func() time.Time
}

// PendingStoreOption modifies the PendingStore instance.
type PendingStoreOption func(*PendingStore)

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) PendingStoreOption {
	return func(ps *PendingStore) {
		ps.nowTime = nowFunc
	}
}

func NewPendingStore(kv storage.KV, options ...PendingStoreOption) (*PendingStore, error) {
	if kv == nil {
		return nil, errors.New("[invites.NewPendingStore] kv is required")
	}
	store := &PendingStore{kv: kv, nowTime: time.Now}
	for _, opt := range options {
		opt(store)
	}
	return store, nil
}

// StoreOptions tune how an invite is remembered.
type StoreOptions struct {
	// Persistent keeps the entry across a registration hand-off and across
	// non-terminal redemption failures.
	Persistent bool
	// Email optionally tags the invite with the address it was issued to.
	Email string
}

// Store inserts or replaces the pending invite for groupID. Any previous
// invite for the same group is removed first, so a group holds at most one
// pending invite.
func (ps *PendingStore) Store(token, groupID, groupName, inviterName string, expiresAt int64, opts *StoreOptions) error {
	invites := ps.load()

	kept := invites[:0]
	for _, inv := range invites {
		if inv.GroupID != groupID {
			kept = append(kept, inv)
		}
	}

	entry := PendingInvite{
		Token:       token,
		GroupID:     groupID,
		GroupName:   groupName,
		InviterName: inviterName,
		ExpiresAt:   expiresAt,
	}
	if opts != nil {
		entry.Persistent = opts.Persistent
		entry.Email = opts.Email
	}
	kept = append(kept, entry)

	return ps.save(kept)
}

// List returns every pending invite whose expiry is still in the future.
// Expired entries found along the way are purged from storage (lazy cleanup,
// no background timer).
func (ps *PendingStore) List() []PendingInvite {
	invites := ps.load()
	now := ps.nowTime()

	valid := make([]PendingInvite, 0, len(invites))
	for _, inv := range invites {
		if !inv.Expired(now) {
			valid = append(valid, inv)
		}
	}

	if len(valid) != len(invites) {
		if err := ps.save(valid); err != nil {
			log.Warn().Err(err).Msg("invites: purging expired pending invites failed")
		}
	}
	return valid
}

// Get returns the unexpired pending invite with the given token.
func (ps *PendingStore) Get(token string) (PendingInvite, bool) {
	for _, inv := range ps.List() {
		if inv.Token == token {
			return inv, true
		}
	}
	return PendingInvite{}, false
}

// Remove deletes the entry with the matching token; absent tokens are a no-op.
func (ps *PendingStore) Remove(token string) error {
	invites := ps.load()
	kept := invites[:0]
	for _, inv := range invites {
		if inv.Token != token {
			kept = append(kept, inv)
		}
	}
	return ps.save(kept)
}

// Clear deletes all pending invites unconditionally.
func (ps *PendingStore) Clear() {
	ps.kv.Delete(pendingStorageKey)
}

func (ps *PendingStore) load() []PendingInvite {
	raw, ok := ps.kv.Get(pendingStorageKey)
	if !ok {
		return nil
	}
	var invites []PendingInvite
	if err := json.Unmarshal([]byte(raw), &invites); err != nil {
		log.Warn().Err(err).Msg("invites: unreadable pending invites, treating as empty")
		return nil
	}
	return invites
}

func (ps *PendingStore) save(invites []PendingInvite) error {
	if len(invites) == 0 {
		ps.kv.Delete(pendingStorageKey)
		return nil
	}
	raw, err := json.Marshal(invites)
	if err != nil {
		return errors.Wrap(err, "[PendingStore.save] marshal")
	}
	return errors.Wrap(ps.kv.Set(pendingStorageKey, string(raw)), "[PendingStore.save] set")
}

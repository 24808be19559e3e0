package invites

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/prepstock/go-prepstock-client/storage"
)

const tokenStorageKey = "invite_tokens"

// TokenStore keeps the invite tokens this client generated as an inviter.
// It exists solely so validation can degrade gracefully when the backend is
// unreachable; an invitee on a different device never has these records.
type TokenStore struct {
	kv      storage.KV
	nowTime func() time.Time
}

type TokenStoreOption func(*TokenStore)

func WithTokenNowTime(nowFunc func() time.Time) TokenStoreOption {
	return func(ts *TokenStore) {
		ts.nowTime = nowFunc
	}
}

func NewTokenStore(kv storage.KV, options ...TokenStoreOption) (*TokenStore, error) {
	if kv == nil {
		return nil, errors.New("[invites.NewTokenStore] kv is required")
	}
	store := &TokenStore{kv: kv, nowTime: time.Now}
	for _, opt := range options {
		opt(store)
	}
	return store, nil
}

func (ts *TokenStore) Add(token InviteToken) error {
	tokens := ts.load()
	tokens = append(tokens, token)
	return ts.save(tokens)
}

// Lookup returns the stored record for token, if any.
func (ts *TokenStore) Lookup(token string) (InviteToken, bool) {
	for _, t := range ts.load() {
		if t.Token == token {
			return t, true
		}
	}
	return InviteToken{}, false
}

// MarkUsed records that token was redeemed by userID. Unknown tokens are a
// no-op: tokens generated on other devices have no local record.
func (ts *TokenStore) MarkUsed(token, userID string) error {
	tokens := ts.load()
	for i := range tokens {
		if tokens[i].Token == token {
			tokens[i].UsedAt = ts.nowTime().UnixMilli()
			tokens[i].UsedBy = userID
			return ts.save(tokens)
		}
	}
	return nil
}

func (ts *TokenStore) load() []InviteToken {
	raw, ok := ts.kv.Get(tokenStorageKey)
	if !ok {
		return nil
	}
	var tokens []InviteToken
	if err := json.Unmarshal([]byte(raw), &tokens); err != nil {
		log.Warn().Err(err).Msg("invites: unreadable invite token records, treating as empty")
		return nil
	}
	return tokens
}

func (ts *TokenStore) save(tokens []InviteToken) error {
	if len(tokens) == 0 {
		ts.kv.Delete(tokenStorageKey)
		return nil
	}
	raw, err := json.Marshal(tokens)
	if err != nil {
		return errors.Wrap(err, "[TokenStore.save] marshal")
	}
	return errors.Wrap(ts.kv.Set(tokenStorageKey, string(raw)), "[TokenStore.save] set")
}

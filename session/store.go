package session

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/prepstock/go-prepstock-client/storage"
)

// storageKey is the single key the session lives under.
const storageKey = "user"

// Store persists the session through the storage port. The secure request
// client (on refresh) and the explicit auth flows are the only writers.
type Store struct {
	kv storage.KV
}

func NewStore(kv storage.KV) (*Store, error) {
	if kv == nil {
		return nil, errors.New("[session.NewStore] kv is required")
	}
	return &Store{kv: kv}, nil
}

// Load returns the persisted session, or nil when none exists. Unreadable
// persisted data is treated as "not logged in" and deleted.
func (st *Store) Load() *Session {
	raw, ok := st.kv.Get(storageKey)
	if !ok {
		return nil
	}

	var s Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		log.Warn().Err(err).Msg("session: discarding unreadable persisted session")
		st.kv.Delete(storageKey)
		return nil
	}
	return &s
}

func (st *Store) Save(s *Session) error {
	if s == nil {
		return errors.New("[Store.Save] nil session")
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "[Store.Save] marshal")
	}
	return errors.Wrap(st.kv.Set(storageKey, string(raw)), "[Store.Save] set")
}

// Clear removes the persisted session entirely.
func (st *Store) Clear() {
	st.kv.Delete(storageKey)
}

// UpdateTokens replaces the access token after a successful refresh, leaving
// identity untouched. A rotated refresh token or session expiry is adopted
// only when the backend returned one.
func (st *Store) UpdateTokens(accessToken, refreshToken string, sessionExp int64) (*Session, error) {
	if accessToken == "" {
		return nil, errors.New("[Store.UpdateTokens] empty access token")
	}
	s := st.Load()
	if s == nil {
		return nil, errors.New("[Store.UpdateTokens] no session")
	}

	s.AccessToken = accessToken
	if refreshToken != "" {
		s.RefreshToken = refreshToken
	}
	if sessionExp != 0 {
		s.SessionExp = sessionExp
	}
	if err := st.Save(s); err != nil {
		return nil, err
	}
	return s, nil
}

package invites_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/prepstock/go-prepstock-client/apiclient"
	"github.com/prepstock/go-prepstock-client/invites"
	"github.com/prepstock/go-prepstock-client/session"
	"github.com/prepstock/go-prepstock-client/storage/memkv"
)

type managerFixture struct {
	manager *invites.Manager
	pending *invites.PendingStore
	tokens  *invites.TokenStore
	kv      *memkv.Store
	server  *httptest.Server
}

func newManagerFixture(t *testing.T, handler http.Handler) *managerFixture {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	kv := memkv.New()
	sessions, err := session.NewStore(kv)
	require.NoError(t, err)
	require.NoError(t, sessions.Save(&session.Session{
		ID:          7,
		Username:    "pat",
		Email:       "pat@example.com",
		AccessToken: "access-token",
	}))

	api, err := apiclient.New(server.URL, sessions)
	require.NoError(t, err)

	pending, err := invites.NewPendingStore(kv)
	require.NoError(t, err)
	tokens, err := invites.NewTokenStore(kv)
	require.NoError(t, err)

	manager, err := invites.NewManager(api, pending, tokens, kv)
	require.NoError(t, err)

	return &managerFixture{
		manager: manager,
		pending: pending,
		tokens:  tokens,
		kv:      kv,
		server:  server,
	}
}

func (f *managerFixture) storePending(t *testing.T, token string, opts *invites.StoreOptions) {
	t.Helper()
	expiry := time.Now().Add(48 * time.Hour).UnixMilli()
	require.NoError(t, f.pending.Store(token, testGroupID, "Preppers", "Alice", expiry, opts))
}

func validationPayload(valid bool, expiresAt int64) []byte {
	raw, _ := json.Marshal(map[string]any{
		"valid":       valid,
		"groupId":     42, // numeric on the wire
		"groupName":   "Preppers",
		"inviterId":   "9",
		"inviterName": "Alice",
		"expiresAt":   expiresAt,
		"createdAt":   time.Now().Add(-time.Hour).UnixMilli(),
	})
	return raw
}

func TestValidateLiveToken(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/groups/validate-invitation/"+testToken, r.URL.Path)
		require.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write(validationPayload(true, time.Now().Add(time.Hour).UnixMilli()))
	}))

	v, err := f.manager.Validate(context.Background(), testToken)
	require.NoError(t, err)
	require.Equal(t, "42", v.GroupID)
	require.Equal(t, "Preppers", v.GroupName)
	require.Equal(t, "Alice", v.InviterName)
}

func TestValidateBackendReportsInvalid(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(validationPayload(false, time.Now().Add(time.Hour).UnixMilli()))
	}))

	_, err := f.manager.Validate(context.Background(), testToken)
	require.ErrorIs(t, err, invites.ErrInviteInvalid)
}

func TestValidateRejectsStaleExpiry(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(validationPayload(true, time.Now().Add(-time.Minute).UnixMilli()))
	}))

	_, err := f.manager.Validate(context.Background(), testToken)
	require.ErrorIs(t, err, invites.ErrInviteInvalid)
}

func TestValidateNotFoundIsInvalid(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := f.manager.Validate(context.Background(), testToken)
	require.ErrorIs(t, err, invites.ErrInviteInvalid)
}

func TestValidateFallsBackToLocalRecordOnServerError(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	now := time.Now()
	require.NoError(t, f.tokens.Add(invites.InviteToken{
		ID:          "local-1",
		Token:       testToken,
		GroupID:     testGroupID,
		GroupName:   "Preppers",
		InviterID:   "9",
		InviterName: "Alice",
		CreatedAt:   now.UnixMilli(),
		ExpiresAt:   now.Add(time.Hour).UnixMilli(),
	}))

	v, err := f.manager.Validate(context.Background(), testToken)
	require.NoError(t, err)
	require.Equal(t, testGroupID, v.GroupID)
	require.Equal(t, "Alice", v.InviterName)
}

func TestValidateFallbackNeedsUsableRecord(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	now := time.Now()
	require.NoError(t, f.tokens.Add(invites.InviteToken{
		ID:        "local-1",
		Token:     testToken,
		GroupID:   testGroupID,
		ExpiresAt: now.Add(time.Hour).UnixMilli(),
		UsedAt:    now.Add(-time.Minute).UnixMilli(),
	}))

	_, err := f.manager.Validate(context.Background(), testToken)
	require.ErrorIs(t, err, invites.ErrInviteInvalid)
}

func TestRedeemConsumesPendingEntry(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/groups/join-invitation/"+testToken, r.URL.Path)
		require.Equal(t, "Bearer access-token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"message":"joined"}`))
	}))
	f.storePending(t, testToken, nil)

	joined, err := f.manager.Redeem(context.Background(), testToken, "7")
	require.NoError(t, err)
	require.True(t, joined)
	require.Empty(t, f.pending.List())
}

func TestRedeemAlreadyMemberIsSuccess(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	f.storePending(t, testToken, nil)

	joined, err := f.manager.Redeem(context.Background(), testToken, "7")
	require.NoError(t, err)
	require.True(t, joined)
	require.Empty(t, f.pending.List())
}

func TestRedeemMarksLocalRecordUsed(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"message":"joined"}`))
	}))
	now := time.Now()
	require.NoError(t, f.tokens.Add(invites.InviteToken{
		ID:        "local-1",
		Token:     testToken,
		GroupID:   testGroupID,
		ExpiresAt: now.Add(time.Hour).UnixMilli(),
	}))

	_, err := f.manager.Redeem(context.Background(), testToken, "7")
	require.NoError(t, err)

	record, ok := f.tokens.Lookup(testToken)
	require.True(t, ok)
	require.True(t, record.Used())
	require.Equal(t, "7", record.UsedBy)
}

func TestRedeemGoneTokenIsTerminal(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	f.storePending(t, testToken, nil)

	joined, err := f.manager.Redeem(context.Background(), testToken, "7")
	require.ErrorIs(t, err, invites.ErrInviteGone)
	require.False(t, joined)
	require.Empty(t, f.pending.List())
}

func TestRedeemRejectionRemovesNonPersistentEntry(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	f.storePending(t, testToken, nil)

	_, err := f.manager.Redeem(context.Background(), testToken, "7")
	require.ErrorIs(t, err, invites.ErrInviteRejected)
	require.Empty(t, f.pending.List())
}

func TestRedeemRejectionRetainsPersistentEntry(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	f.storePending(t, testToken, &invites.StoreOptions{Persistent: true})

	_, err := f.manager.Redeem(context.Background(), testToken, "7")
	require.ErrorIs(t, err, invites.ErrInviteRejected)
	require.Len(t, f.pending.List(), 1)
}

func TestRedeemTransportFailureRetainsEntry(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	f.storePending(t, testToken, nil)
	f.server.Close()

	_, err := f.manager.Redeem(context.Background(), testToken, "7")
	require.Error(t, err)
	require.NotErrorIs(t, err, invites.ErrInviteGone)
	require.NotErrorIs(t, err, invites.ErrInviteRejected)
	require.Len(t, f.pending.List(), 1)
}

func TestRedeemAllSkippedDuringRegistration(t *testing.T) {
	var calls atomic.Int32
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	f.storePending(t, testToken, nil)
	require.NoError(t, invites.MarkRegistrationInProgress(f.kv))

	require.NoError(t, f.manager.RedeemAll(context.Background(), "7", "pat@example.com"))
	require.Zero(t, calls.Load())
	require.Len(t, f.pending.List(), 1)
}

func TestRedeemAllFailuresAreIndependent(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/groups/join-invitation/token-bad" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		_, _ = w.Write([]byte(`{"message":"joined"}`))
	}))
	expiry := time.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, f.pending.Store("token-bad", "1", "Alpha", "Alice", expiry, &invites.StoreOptions{Persistent: true}))
	require.NoError(t, f.pending.Store("token-good", "2", "Beta", "Bob", expiry, nil))

	require.NoError(t, f.manager.RedeemAll(context.Background(), "7", "pat@example.com"))

	list := f.pending.List()
	require.Len(t, list, 1)
	require.Equal(t, "token-bad", list[0].Token)
}

func TestRedeemAllSkipsInvitesForOtherAddresses(t *testing.T) {
	var calls atomic.Int32
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"message":"joined"}`))
	}))
	expiry := time.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, f.pending.Store("token-mine", "1", "Alpha", "Alice", expiry, &invites.StoreOptions{Email: "PAT@example.com"}))
	require.NoError(t, f.pending.Store("token-other", "2", "Beta", "Bob", expiry, &invites.StoreOptions{Email: "someone.else@example.com"}))

	require.NoError(t, f.manager.RedeemAll(context.Background(), "7", "pat@example.com"))

	require.Equal(t, int32(1), calls.Load())
	list := f.pending.List()
	require.Len(t, list, 1)
	require.Equal(t, "token-other", list[0].Token)
}

func TestRedeemAllAbandonsPastDeadline(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"message":"joined"}`))
	}))

	kv := f.kv
	sessions, err := session.NewStore(kv)
	require.NoError(t, err)
	api, err := apiclient.New(f.server.URL, sessions)
	require.NoError(t, err)
	manager, err := invites.NewManager(api, f.pending, f.tokens, kv,
		invites.WithRedeemAllTimeout(20*time.Millisecond))
	require.NoError(t, err)

	expiry := time.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, f.pending.Store("token-a", "1", "Alpha", "Alice", expiry, nil))
	require.NoError(t, f.pending.Store("token-b", "2", "Beta", "Bob", expiry, nil))

	require.Error(t, manager.RedeemAll(context.Background(), "7", "pat@example.com"))

	// Nothing was consumed; every entry stays pending for a later attempt.
	require.Len(t, f.pending.List(), 2)
}

func TestGenerateTokenRecordsLocalFallback(t *testing.T) {
	f := newManagerFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/groups/42/generate-invite-token", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		_, _ = w.Write([]byte(`{"message":"ok","inviteToken":"fresh-token"}`))
	}))

	token, err := f.manager.GenerateToken(context.Background(), 42, "Preppers", "9", "Alice")
	require.NoError(t, err)
	require.Equal(t, "fresh-token", token)

	record, ok := f.tokens.Lookup("fresh-token")
	require.True(t, ok)
	require.Equal(t, "42", record.GroupID)
	require.Equal(t, "Alice", record.InviterName)
	require.False(t, record.Used())
	require.Greater(t, record.ExpiresAt, time.Now().UnixMilli())
}

func TestInviteURL(t *testing.T) {
	require.Equal(t,
		"https://app.example.com/invite/abc%2F123",
		invites.InviteURL("https://app.example.com/", "abc/123"))
}

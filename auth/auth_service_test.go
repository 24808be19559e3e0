package auth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/prepstock/go-prepstock-client/apiclient"
	"github.com/prepstock/go-prepstock-client/auth"
	"github.com/prepstock/go-prepstock-client/session"
	"github.com/prepstock/go-prepstock-client/storage/memkv"
)

const gateKey = "just_registered"

type authFixture struct {
	service  *auth.Service
	sessions *session.Store
	kv       *memkv.Store
}

func newAuthFixture(t *testing.T, handler http.Handler) *authFixture {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	kv := memkv.New()
	sessions, err := session.NewStore(kv)
	require.NoError(t, err)
	api, err := apiclient.New(server.URL, sessions)
	require.NoError(t, err)
	service, err := auth.NewService(api, sessions, kv)
	require.NoError(t, err)

	return &authFixture{service: service, sessions: sessions, kv: kv}
}

func loginResponse() []byte {
	raw, _ := json.Marshal(map[string]any{
		"id":            7,
		"username":      "pat",
		"email":         "pat@example.com",
		"access_token":  "access-token",
		"refresh_token": "refresh-token",
	})
	return raw
}

func TestLoginPersistsSessionAndLiftsGate(t *testing.T) {
	f := newAuthFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/login", r.URL.Path)
		var creds map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&creds))
		require.Equal(t, "pat@example.com", creds["email"])
		_, _ = w.Write(loginResponse())
	}))
	require.NoError(t, f.kv.Set(gateKey, "true"))

	sess, err := f.service.Login(context.Background(), "pat@example.com", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "pat", sess.Username)

	saved := f.sessions.Load()
	require.NotNil(t, saved)
	require.Equal(t, "access-token", saved.AccessToken)
	require.Equal(t, "refresh-token", saved.RefreshToken)

	_, gateSet := f.kv.Get(gateKey)
	require.False(t, gateSet)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newAuthFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := f.service.Login(context.Background(), "pat@example.com", "wrong")
	require.ErrorIs(t, err, auth.InvalidCredentialsErr)
	require.Nil(t, f.sessions.Load())
}

func TestLoginReportsUnactivatedAccount(t *testing.T) {
	f := newAuthFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := f.service.Login(context.Background(), "pat@example.com", "hunter2")
	require.ErrorIs(t, err, auth.AccountNotActivatedErr)
	require.Nil(t, f.sessions.Load())
}

func TestRegisterSetsGateBeforeCalling(t *testing.T) {
	var gateWasSet atomic.Bool
	var f *authFixture
	f = newAuthFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := f.kv.Get(gateKey)
		gateWasSet.Store(ok)
		w.WriteHeader(http.StatusCreated)
	}))

	require.NoError(t, f.service.Register(context.Background(), auth.RegisterRequest{
		Username: "pat",
		Email:    "pat@example.com",
		Password: "hunter2",
	}))

	require.True(t, gateWasSet.Load())
	_, stillSet := f.kv.Get(gateKey)
	require.True(t, stillSet)
}

func TestRegisterFailureIsReported(t *testing.T) {
	f := newAuthFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	err := f.service.Register(context.Background(), auth.RegisterRequest{Email: "taken@example.com"})
	require.ErrorIs(t, err, auth.RegistrationFailedErr)
}

func TestActivateLiftsGate(t *testing.T) {
	f := newAuthFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/activate-account/activation-token", r.URL.Path)
	}))
	require.NoError(t, f.kv.Set(gateKey, "true"))

	require.NoError(t, f.service.Activate(context.Background(), "activation-token"))

	_, gateSet := f.kv.Get(gateKey)
	require.False(t, gateSet)
}

func TestLogoutClearsSessionEvenWhenServerFails(t *testing.T) {
	var logoutBearer atomic.Value
	f := newAuthFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logoutBearer.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	require.NoError(t, f.sessions.Save(&session.Session{
		ID:           7,
		AccessToken:  "access-token",
		RefreshToken: "refresh-token",
	}))

	f.service.Logout(context.Background())

	require.Nil(t, f.sessions.Load())
	require.Equal(t, "Bearer refresh-token", logoutBearer.Load())
}

func TestDeleteAccountRequiresLogin(t *testing.T) {
	f := newAuthFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	err := f.service.DeleteAccount(context.Background())
	require.ErrorIs(t, err, auth.NotLoggedInErr)
}

func TestDeleteAccountDestroysSession(t *testing.T) {
	f := newAuthFixture(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/user", r.URL.Path)
	}))
	require.NoError(t, f.sessions.Save(&session.Session{ID: 7, AccessToken: "access-token"}))

	require.NoError(t, f.service.DeleteAccount(context.Background()))
	require.Nil(t, f.sessions.Load())
}

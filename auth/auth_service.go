// Package auth implements the explicit login, registration, logout, and
// account-deletion flows. Together with the secure request client's refresh
// path, these are the only writers of the persisted session.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prepstock/go-prepstock-client/apiclient"
	"github.com/prepstock/go-prepstock-client/invites"
	"github.com/prepstock/go-prepstock-client/session"
	"github.com/prepstock/go-prepstock-client/storage"
)

const (
	loginPath          = "/login"
	registerPath       = "/register"
	logoutPath         = "/logout"
	forgotPasswordPath = "/forgot-password"
	userPath           = "/user"
)

const defaultTimeout = 10 * time.Second

// Service drives the authentication flows. Login and registration are
// unauthenticated and use a plain HTTP client; account deletion goes through
// the secure request client.
type Service struct {
	baseURL    string
	httpClient *http.Client
	api        *apiclient.Client
	sessions   *session.Store
	kv         storage.KV
	logger     zerolog.Logger
}

type ServiceOption func(*Service)

func WithHTTPClient(hc *http.Client) ServiceOption {
	return func(s *Service) {
		s.httpClient = hc
	}
}

func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(api *apiclient.Client, sessions *session.Store, kv storage.KV, options ...ServiceOption) (*Service, error) {
	if api == nil {
		return nil, errors.New("[auth.NewService] api client is required")
	}
	if sessions == nil {
		return nil, errors.New("[auth.NewService] session store is required")
	}
	if kv == nil {
		return nil, errors.New("[auth.NewService] kv is required")
	}

	service := &Service{
		baseURL:    api.BaseURL(),
		httpClient: &http.Client{Timeout: defaultTimeout},
		api:        api,
		sessions:   sessions,
		kv:         kv,
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(service)
	}
	return service, nil
}

// Login authenticates against the backend and persists the returned session.
// A successful login also lifts the registration gate: the account is
// provisioned, so pending invites may be processed again.
func (s *Service) Login(ctx context.Context, email, password string) (*session.Session, error) {
	var sess session.Session
	status, err := s.postJSON(ctx, loginPath, map[string]string{
		"email":    email,
		"password": password,
	}, &sess)
	if err != nil {
		return nil, errors.Wrap(err, "[Service.Login] post")
	}
	switch status {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return nil, errors.Wrapf(InvalidCredentialsErr, "[Service.Login] status %d", status)
	case http.StatusForbidden:
		// The account exists but has not been activated yet.
		return nil, errors.Wrapf(AccountNotActivatedErr, "[Service.Login] status %d", status)
	default:
		return nil, errors.Errorf("[Service.Login] unexpected status %d", status)
	}
	if sess.AccessToken == "" {
		return nil, errors.New("[Service.Login] no access token in login response")
	}

	if err := s.sessions.Save(&sess); err != nil {
		return nil, errors.Wrap(err, "[Service.Login] persist session")
	}
	invites.ClearRegistrationGate(s.kv)
	s.logger.Info().Str("username", sess.Username).Msg("logged in")
	return &sess, nil
}

// RegisterRequest carries a new account registration.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Persons  int    `json:"persons,omitempty"`
}

// Register creates a new account. The registration gate is set before the
// call so invite processing stays paused until the account has been
// activated or the user logs in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) error {
	if err := invites.MarkRegistrationInProgress(s.kv); err != nil {
		s.logger.Warn().Err(err).Msg("auth: setting registration gate failed")
	}

	status, err := s.postJSON(ctx, registerPath, req, nil)
	if err != nil {
		return errors.Wrap(err, "[Service.Register] post")
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return errors.Wrapf(RegistrationFailedErr, "[Service.Register] status %d", status)
	}
	return nil
}

// Activate confirms an account via an activation token and lifts the
// registration gate.
func (s *Service) Activate(ctx context.Context, token string) error {
	status, err := s.postJSON(ctx, "/activate-account/"+url.PathEscape(token), nil, nil)
	if err != nil {
		return errors.Wrap(err, "[Service.Activate] post")
	}
	if status != http.StatusOK {
		return errors.Errorf("[Service.Activate] unexpected status %d", status)
	}
	invites.ClearRegistrationGate(s.kv)
	return nil
}

// ForgotPassword requests a password-reset email.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	status, err := s.postJSON(ctx, forgotPasswordPath, map[string]string{"email": email}, nil)
	if err != nil {
		return errors.Wrap(err, "[Service.ForgotPassword] post")
	}
	if status != http.StatusOK {
		return errors.Errorf("[Service.ForgotPassword] unexpected status %d", status)
	}
	return nil
}

// Logout revokes the refresh token server-side (best effort) and clears the
// persisted session either way.
func (s *Service) Logout(ctx context.Context) {
	sess := s.sessions.Load()
	if sess != nil && sess.RefreshToken != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+logoutPath, nil)
		if err == nil {
			req.Header.Set("Authorization", "Bearer "+sess.RefreshToken)
			if resp, err := s.httpClient.Do(req); err != nil {
				s.logger.Warn().Err(err).Msg("auth: server-side logout failed")
			} else {
				_ = resp.Body.Close()
			}
		}
	}
	s.sessions.Clear()
	s.logger.Info().Msg("logged out")
}

// DeleteAccount removes the account server-side, then destroys the session.
func (s *Service) DeleteAccount(ctx context.Context) error {
	if !s.sessions.Load().LoggedIn() {
		return errors.Wrap(NotLoggedInErr, "[Service.DeleteAccount]")
	}
	if _, err := s.api.Do(ctx, http.MethodDelete, userPath, nil); err != nil {
		return errors.Wrap(err, "[Service.DeleteAccount] delete")
	}
	s.sessions.Clear()
	return nil
}

// postJSON issues an unauthenticated POST and decodes a 2xx body into out.
func (s *Service) postJSON(ctx context.Context, path string, body, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}

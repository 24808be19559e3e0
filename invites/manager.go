package invites

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prepstock/go-prepstock-client/apiclient"
	"github.com/prepstock/go-prepstock-client/internal/obs"
	"github.com/prepstock/go-prepstock-client/storage"
)

// Invite tokens generated by this client are shared with a 7-day validity,
// matching the backend's own expiry window.
const tokenValidity = 7 * 24 * time.Hour

const (
	defaultValidateTimeout  = 10 * time.Second
	defaultRedeemAllTimeout = 15 * time.Second
)

var (
	// ErrInviteInvalid means the token does not resolve to a live invitation;
	// the caller must present an error state and must not redeem.
	ErrInviteInvalid = errors.New("invite invalid or expired")

	// ErrInviteGone means the token no longer existed at redemption time
	// (raced or expired between validate and redeem). Terminal.
	ErrInviteGone = errors.New("invite no longer exists")

	// ErrInviteRejected covers every other redemption rejection.
	ErrInviteRejected = errors.New("invite redemption rejected")
)

// Manager validates invite tokens and resolves them into group membership.
// Validation goes through plain unauthenticated HTTP so it works for
// visitors who have not logged in; redemption goes through the secure
// request client.
type Manager struct {
	pending          *PendingStore
	tokens           *TokenStore
	api              *apiclient.Client
	httpClient       *http.Client
	baseURL          string
	kv               storage.KV
	nowTime          func() time.Time
	redeemAllTimeout time.Duration
	logger           zerolog.Logger
}

type ManagerOption func(*Manager)

func WithManagerNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

func WithValidateHTTPClient(hc *http.Client) ManagerOption {
	return func(m *Manager) {
		m.httpClient = hc
	}
}

func WithRedeemAllTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.redeemAllTimeout = d
	}
}

func WithManagerLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

func NewManager(api *apiclient.Client, pending *PendingStore, tokens *TokenStore, kv storage.KV, options ...ManagerOption) (*Manager, error) {
	if api == nil {
		return nil, errors.New("[invites.NewManager] api client is required")
	}
	if pending == nil {
		return nil, errors.New("[invites.NewManager] pending store is required")
	}
	if tokens == nil {
		return nil, errors.New("[invites.NewManager] token store is required")
	}
	if kv == nil {
		return nil, errors.New("[invites.NewManager] kv is required")
	}

	manager := &Manager{
		pending:          pending,
		tokens:           tokens,
		api:              api,
		httpClient:       &http.Client{Timeout: defaultValidateTimeout},
		baseURL:          api.BaseURL(),
		kv:               kv,
		nowTime:          time.Now,
		redeemAllTimeout: defaultRedeemAllTimeout,
		logger:           log.Logger,
	}
	for _, opt := range options {
		opt(manager)
	}
	return manager, nil
}

// Pending exposes the pending invite store.
func (m *Manager) Pending() *PendingStore {
	return m.pending
}

// Validation is the resolved state of an invite token.
type Validation struct {
	GroupID     string
	GroupName   string
	InviterID   string
	InviterName string
	ExpiresAt   int64 // unix milliseconds
	CreatedAt   int64
}

type validationResponse struct {
	Valid       bool   `json:"valid"`
	GroupID     flexID `json:"groupId"`
	GroupName   string `json:"groupName"`
	InviterID   flexID `json:"inviterId"`
	InviterName string `json:"inviterName"`
	ExpiresAt   int64  `json:"expiresAt"`
	CreatedAt   int64  `json:"createdAt"`
}

// Validate confirms an invite token is live. It is read-only, requires no
// authentication, and is safe to call before login. When the backend is
// unreachable it falls back to the local inviter-side token record, which
// only exists on the device that generated the invite.
func (m *Manager) Validate(ctx context.Context, token string) (*Validation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+validateInvitationPath(token), nil)
	if err != nil {
		return nil, errors.Wrap(err, "[Manager.Validate] new request")
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		m.logger.Warn().Err(err).Msg("invite validation unreachable, trying local fallback")
		return m.validateLocally(token)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		var v validationResponse
		if err := decodeBody(resp, &v); err != nil {
			return nil, errors.Wrap(err, "[Manager.Validate] decode")
		}
		if !v.Valid {
			return nil, errors.Wrap(ErrInviteInvalid, "[Manager.Validate] backend reports invalid")
		}
		// Expiry is checked client-side as well, with wall-clock time.
		if v.ExpiresAt <= m.nowTime().UnixMilli() {
			return nil, errors.Wrap(ErrInviteInvalid, "[Manager.Validate] expired")
		}
		return &Validation{
			GroupID:     v.GroupID.String(),
			GroupName:   v.GroupName,
			InviterID:   v.InviterID.String(),
			InviterName: v.InviterName,
			ExpiresAt:   v.ExpiresAt,
			CreatedAt:   v.CreatedAt,
		}, nil

	case resp.StatusCode >= http.StatusInternalServerError:
		m.logger.Warn().Int("status", resp.StatusCode).Msg("invite validation degraded, trying local fallback")
		return m.validateLocally(token)

	default:
		return nil, errors.Wrapf(ErrInviteInvalid, "[Manager.Validate] status %d", resp.StatusCode)
	}
}

func (m *Manager) validateLocally(token string) (*Validation, error) {
	record, ok := m.tokens.Lookup(token)
	if !ok || record.Used() || record.Expired(m.nowTime()) {
		return nil, errors.Wrap(ErrInviteInvalid, "[Manager.Validate] no usable local record")
	}
	return &Validation{
		GroupID:     record.GroupID,
		GroupName:   record.GroupName,
		InviterID:   record.InviterID,
		InviterName: record.InviterName,
		ExpiresAt:   record.ExpiresAt,
		CreatedAt:   record.CreatedAt,
	}, nil
}

// Redeem resolves a validated token into group membership. A 200 and a 409
// ("already a member") are both success; either way the pending entry is
// consumed. A 404 is terminal: the token is gone and retrying is pointless.
// Every other rejection removes the entry unless it was stored persistent.
// Transport failures leave the entry pending for a future attempt.
func (m *Manager) Redeem(ctx context.Context, token, userID string) (bool, error) {
	entry, hasEntry := m.pending.Get(token)

	_, err := m.api.Do(ctx, http.MethodPost, joinInvitationPath(token), nil)
	if err == nil {
		return true, m.finishRedeem(token, userID, "joined")
	}

	statusErr, ok := apiclient.AsStatusError(err)
	if !ok {
		obs.InviteRedemptionsTotal.WithLabelValues("network_error").Inc()
		return false, errors.Wrap(err, "[Manager.Redeem] transport failure, invite retained")
	}

	switch statusErr.Status {
	case http.StatusConflict:
		// Already a member.
		return true, m.finishRedeem(token, userID, "already_member")

	case http.StatusNotFound:
		obs.InviteRedemptionsTotal.WithLabelValues("gone").Inc()
		m.removePending(token)
		return false, errors.Wrap(ErrInviteGone, "[Manager.Redeem] token not found")

	default:
		obs.InviteRedemptionsTotal.WithLabelValues("rejected").Inc()
		if !hasEntry || !entry.Persistent {
			m.removePending(token)
		}
		return false, errors.Wrapf(ErrInviteRejected, "[Manager.Redeem] status %d", statusErr.Status)
	}
}

func (m *Manager) finishRedeem(token, userID, outcome string) error {
	obs.InviteRedemptionsTotal.WithLabelValues(outcome).Inc()
	m.removePending(token)
	if err := m.tokens.MarkUsed(token, userID); err != nil {
		m.logger.Warn().Err(err).Msg("invites: marking local token used failed")
	}
	return nil
}

func (m *Manager) removePending(token string) {
	if err := m.pending.Remove(token); err != nil {
		m.logger.Warn().Err(err).Msg("invites: removing pending invite failed")
	}
}

// RedeemAll redeems every pending invite, independently: one failed entry
// never aborts the rest. It is intended to run once shortly after
// authentication, is skipped while a registration flow is in progress, and
// gives up past its outer bound without corrupting the store: unprocessed
// entries stay pending for a future attempt.
func (m *Manager) RedeemAll(ctx context.Context, userID, userEmail string) error {
	if registrationInProgress(m.kv) {
		m.logger.Info().Msg("pending invites skipped, registration in progress")
		return nil
	}

	pending := m.pending.List()
	if len(pending) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.redeemAllTimeout)
	defer cancel()

	for _, invite := range pending {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, "[Manager.RedeemAll] abandoned, remaining invites stay pending")
		}
		if invite.Email != "" && userEmail != "" && !strings.EqualFold(invite.Email, userEmail) {
			m.logger.Info().
				Str("group", invite.GroupName).
				Msg("pending invite skipped, issued to a different address")
			continue
		}
		if _, err := m.Redeem(ctx, invite.Token, userID); err != nil {
			m.logger.Warn().
				Err(err).
				Str("group", invite.GroupName).
				Msg("pending invite redemption failed")
		}
	}
	return nil
}

// GenerateToken asks the backend for a fresh invite token for groupID and
// records it locally so validation can fall back to the record when the
// backend is unreachable.
func (m *Manager) GenerateToken(ctx context.Context, groupID int64, groupName, inviterID, inviterName string) (string, error) {
	var out struct {
		Message     string `json:"message"`
		InviteToken string `json:"inviteToken"`
	}
	path := fmt.Sprintf("/groups/%d/generate-invite-token", groupID)
	if err := m.api.DoJSON(ctx, http.MethodPost, path, nil, &out); err != nil {
		return "", errors.Wrap(err, "[Manager.GenerateToken] backend call")
	}
	if out.InviteToken == "" {
		return "", errors.New("[Manager.GenerateToken] no token in response")
	}

	now := m.nowTime()
	record := InviteToken{
		ID:          uuid.New().String(),
		Token:       out.InviteToken,
		GroupID:     GroupIDString(groupID),
		GroupName:   groupName,
		InviterID:   inviterID,
		InviterName: inviterName,
		CreatedAt:   now.UnixMilli(),
		ExpiresAt:   now.Add(tokenValidity).UnixMilli(),
	}
	if err := m.tokens.Add(record); err != nil {
		// The backend token is still good; only the offline fallback is lost.
		m.logger.Warn().Err(err).Msg("invites: storing local token record failed")
	}
	return out.InviteToken, nil
}

// InviteURL builds the shareable invitation link.
func InviteURL(appBaseURL, token string) string {
	return strings.TrimRight(appBaseURL, "/") + "/invite/" + url.PathEscape(token)
}

func decodeBody(resp *http.Response, out any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

func validateInvitationPath(token string) string {
	return "/groups/validate-invitation/" + url.PathEscape(token)
}

func joinInvitationPath(token string) string {
	return "/groups/join-invitation/" + url.PathEscape(token)
}

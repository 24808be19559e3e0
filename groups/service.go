package groups

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prepstock/go-prepstock-client/apiclient"
	"github.com/prepstock/go-prepstock-client/imagecache"
	"github.com/prepstock/go-prepstock-client/invites"
)

const groupsPath = "/groups"

// Service issues the group API calls through the secure request client and
// keeps the avatar cache coherent with what the backend returns.
type Service struct {
	api     *apiclient.Client
	images  *imagecache.Cache
	invites *invites.Manager
	logger  zerolog.Logger
}

type ServiceOption func(*Service)

func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(api *apiclient.Client, images *imagecache.Cache, inviteManager *invites.Manager, options ...ServiceOption) (*Service, error) {
	if api == nil {
		return nil, errors.New("[groups.NewService] api client is required")
	}
	if images == nil {
		return nil, errors.New("[groups.NewService] image cache is required")
	}
	if inviteManager == nil {
		return nil, errors.New("[groups.NewService] invite manager is required")
	}

	service := &Service{
		api:     api,
		images:  images,
		invites: inviteManager,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(service)
	}
	return service, nil
}

// List returns the caller's groups. Avatars are served from the local cache
// when a fresh copy exists; otherwise the backend's copy is cached for next
// time.
func (s *Service) List(ctx context.Context) ([]Group, error) {
	var groups []Group
	if err := s.api.DoJSON(ctx, http.MethodGet, groupsPath, nil, &groups); err != nil {
		return nil, errors.Wrap(err, "[Service.List] get groups")
	}

	for i := range groups {
		if groups[i].Image == "" {
			continue
		}
		if cached, ok := s.images.Get(groups[i].ID); ok {
			groups[i].Image = cached
		} else {
			s.images.Put(groups[i].ID, groups[i].Image)
		}
	}
	return groups, nil
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (*Group, error) {
	var group Group
	if err := s.api.DoJSON(ctx, http.MethodPost, groupsPath, req, &group); err != nil {
		return nil, errors.Wrap(err, "[Service.Create] post group")
	}
	if group.Image != "" {
		s.images.Put(group.ID, group.Image)
	}
	return &group, nil
}

func (s *Service) Update(ctx context.Context, groupID int64, req CreateRequest) (*Group, error) {
	var group Group
	if err := s.api.DoJSON(ctx, http.MethodPut, groupPath(groupID), req, &group); err != nil {
		return nil, errors.Wrap(err, "[Service.Update] put group")
	}
	if group.Image != "" {
		s.images.Put(group.ID, group.Image)
	} else {
		s.images.Remove(groupID)
	}
	return &group, nil
}

// Delete removes the group and its cached avatar.
func (s *Service) Delete(ctx context.Context, groupID int64) error {
	if _, err := s.api.Do(ctx, http.MethodDelete, groupPath(groupID), nil); err != nil {
		return errors.Wrap(err, "[Service.Delete] delete group")
	}
	s.images.Remove(groupID)
	return nil
}

func (s *Service) Members(ctx context.Context, groupID int64) ([]Member, error) {
	var members []Member
	if err := s.api.DoJSON(ctx, http.MethodGet, groupPath(groupID)+"/members", nil, &members); err != nil {
		return nil, errors.Wrap(err, "[Service.Members] get members")
	}
	return members, nil
}

// Invite invites a user by email and returns the invite token the backend
// issued for them.
func (s *Service) Invite(ctx context.Context, groupID int64, req InviteRequest) (string, error) {
	var out struct {
		Message     string `json:"message"`
		InviteToken string `json:"inviteToken"`
	}
	if err := s.api.DoJSON(ctx, http.MethodPost, groupPath(groupID)+"/invite", req, &out); err != nil {
		return "", errors.Wrap(err, "[Service.Invite] post invite")
	}
	return out.InviteToken, nil
}

// GenerateInviteToken returns a fresh shareable token for the group,
// recording it locally for degraded offline validation.
func (s *Service) GenerateInviteToken(ctx context.Context, group Group, inviterID, inviterName string) (string, error) {
	token, err := s.invites.GenerateToken(ctx, group.ID, group.Name, inviterID, inviterName)
	if err != nil {
		return "", errors.Wrap(err, "[Service.GenerateInviteToken]")
	}
	return token, nil
}

// Invitations lists the group's server-side pending invitations
// (group-admin only).
func (s *Service) Invitations(ctx context.Context, groupID int64) ([]Invitation, error) {
	var out struct {
		Invitations []Invitation `json:"invitations"`
	}
	if err := s.api.DoJSON(ctx, http.MethodGet, groupPath(groupID)+"/invitations", nil, &out); err != nil {
		return nil, errors.Wrap(err, "[Service.Invitations] get invitations")
	}
	return out.Invitations, nil
}

// RevokeInvitation withdraws a server-side pending invitation.
func (s *Service) RevokeInvitation(ctx context.Context, groupID int64, token string) error {
	path := groupPath(groupID) + "/invitations/" + url.PathEscape(token) + "/revoke"
	if _, err := s.api.Do(ctx, http.MethodPost, path, nil); err != nil {
		return errors.Wrap(err, "[Service.RevokeInvitation] post revoke")
	}
	return nil
}

// JoinByToken redeems an invite token for the current user, reporting
// whether a membership resulted.
func (s *Service) JoinByToken(ctx context.Context, token, userID string) (bool, error) {
	joined, err := s.invites.Redeem(ctx, token, userID)
	if err != nil {
		return false, errors.Wrap(err, "[Service.JoinByToken]")
	}
	return joined, nil
}

// JoinByCode joins a group via its share code.
func (s *Service) JoinByCode(ctx context.Context, code string) (*Group, error) {
	var out struct {
		Message string `json:"message"`
		Group   Group  `json:"group"`
	}
	if err := s.api.DoJSON(ctx, http.MethodPost, groupsPath+"/join/"+url.PathEscape(code), nil, &out); err != nil {
		return nil, errors.Wrap(err, "[Service.JoinByCode] post join")
	}
	return &out.Group, nil
}

func (s *Service) Leave(ctx context.Context, groupID int64) error {
	if _, err := s.api.Do(ctx, http.MethodPost, groupPath(groupID)+"/leave", nil); err != nil {
		return errors.Wrap(err, "[Service.Leave] post leave")
	}
	return nil
}

// RemoveUser removes a member from the group (group-admin only).
func (s *Service) RemoveUser(ctx context.Context, groupID, userID int64) error {
	path := fmt.Sprintf("%s/remove/%d", groupPath(groupID), userID)
	if _, err := s.api.Do(ctx, http.MethodPost, path, nil); err != nil {
		return errors.Wrap(err, "[Service.RemoveUser] post remove")
	}
	return nil
}

func groupPath(groupID int64) string {
	return fmt.Sprintf("%s/%d", groupsPath, groupID)
}

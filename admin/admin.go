// Package admin covers the administrative surface: server-side validation
// of admin status and user management. Validation fails closed; the
// client-held admin flag is advisory and never grants access on its own.
package admin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prepstock/go-prepstock-client/apiclient"
	"github.com/prepstock/go-prepstock-client/internal/utils"
)

const (
	validateAdminPath = "/auth/validate-admin"
	adminUsersPath    = "/admin/users"
)

var ValidationFailedErr = errors.New("admin validation failed")

// User is an account as the admin dashboard sees it.
type User struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	IsAdmin   bool   `json:"isAdmin,omitempty"`
	IsManager bool   `json:"isManager,omitempty"`
	Locked    bool   `json:"locked,omitempty"`
	Persons   int    `json:"persons,omitempty"`
}

// Validation is the backend's verdict on the current session's privileges.
type Validation struct {
	IsValid bool  `json:"isValid"`
	IsAdmin bool  `json:"isAdmin"`
	User    *User `json:"user,omitempty"`
}

type Service struct {
	api    *apiclient.Client
	logger zerolog.Logger
}

type ServiceOption func(*Service)

func WithLogger(logger zerolog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(api *apiclient.Client, options ...ServiceOption) (*Service, error) {
	if api == nil {
		return nil, errors.New("[admin.NewService] api client is required")
	}
	service := &Service{api: api, logger: log.Logger}
	for _, opt := range options {
		opt(service)
	}
	return service, nil
}

// Validate asks the backend whether the current session really holds admin
// privileges. Any failure, whether transport, status, or an explicit
// denial, yields a non-admin result: access is denied by default, never
// granted provisionally.
func (s *Service) Validate(ctx context.Context) (*Validation, error) {
	var v Validation
	if err := s.api.DoJSON(ctx, http.MethodGet, validateAdminPath, nil, &v); err != nil {
		s.logger.Warn().Err(err).Msg("admin validation failed, denying access")
		return &Validation{}, errors.Wrap(ValidationFailedErr, "[Service.Validate]")
	}
	if !v.IsValid {
		return &Validation{}, errors.Wrap(ValidationFailedErr, "[Service.Validate] session not valid")
	}
	return &v, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := s.api.DoJSON(ctx, http.MethodGet, adminUsersPath, nil, &users); err != nil {
		return nil, errors.Wrap(err, "[Service.ListUsers] get users")
	}
	return users, nil
}

func (s *Service) DeleteUser(ctx context.Context, userID int64) error {
	if _, err := s.api.Do(ctx, http.MethodDelete, userPath(userID), nil); err != nil {
		return errors.Wrap(err, "[Service.DeleteUser] delete user")
	}
	return nil
}

func (s *Service) SetAdmin(ctx context.Context, userID int64, isAdmin bool) error {
	return s.patchUser(ctx, userID, map[string]*bool{"isAdmin": utils.Ptr(isAdmin)})
}

func (s *Service) SetManager(ctx context.Context, userID int64, isManager bool) error {
	return s.patchUser(ctx, userID, map[string]*bool{"isManager": utils.Ptr(isManager)})
}

func (s *Service) SetLocked(ctx context.Context, userID int64, locked bool) error {
	return s.patchUser(ctx, userID, map[string]*bool{"locked": utils.Ptr(locked)})
}

func (s *Service) UpdateEmail(ctx context.Context, userID int64, email string) error {
	if _, err := s.api.Do(ctx, http.MethodPatch, userPath(userID), map[string]string{"email": email}); err != nil {
		return errors.Wrap(err, "[Service.UpdateEmail] patch user")
	}
	return nil
}

func (s *Service) patchUser(ctx context.Context, userID int64, body any) error {
	if _, err := s.api.Do(ctx, http.MethodPatch, userPath(userID), body); err != nil {
		return errors.Wrap(err, "[Service.patchUser] patch user")
	}
	return nil
}

func userPath(userID int64) string {
	return fmt.Sprintf("%s/%d", adminUsersPath, userID)
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/example/teetime-scheduler/internal/internaltypes"
	"github.com/example/teetime-scheduler/internal/metrics"
)

// Service is the identity and session guard.
type Service struct {
	Store   Store
	Codec   *Codec
	Log     *slog.Logger
	Metrics metrics.Recorder
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

// Authenticate checks a username/password pair and returns fresh evidence.
// It never reveals which of the two was wrong.
func (s *Service) Authenticate(ctx context.Context, username, password string) (Principal, string, error) {
	u, err := s.Store.UserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if !errors.Is(err, internaltypes.ErrNotFound) {
			return Principal{}, "", fmt.Errorf("load user: %w", err)
		}
		burnCompare(password)
		return Principal{}, "", s.rejectLogin(username)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return Principal{}, "", s.rejectLogin(username)
	}

	evidence, err := s.Codec.Encode(u)
	if err != nil {
		return Principal{}, "", fmt.Errorf("encode session: %w", err)
	}
	s.logger().Info("login", slog.Int64("user_id", u.ID), slog.Bool("must_change_password", u.MustChangePassword))
	return u.Principal(), evidence, nil
}

func (s *Service) rejectLogin(username string) error {
	metrics.Or(s.Metrics).LoginFailed()
	s.logger().Warn("login rejected", slog.String("username", username))
	return internaltypes.ErrInvalidCredentials
}

// CurrentUser resolves evidence against the live user row. A deleted user or
// a session minted before the last password change is unauthenticated.
func (s *Service) CurrentUser(ctx context.Context, evidence string) (Principal, error) {
	u, err := s.resolve(ctx, evidence)
	if err != nil {
		return Principal{}, err
	}
	return u.Principal(), nil
}

// Require is the pre-check in front of every capability other than
// CurrentUser, ChangePassword and logout.
func (s *Service) Require(ctx context.Context, evidence string) (Principal, error) {
	p, err := s.CurrentUser(ctx, evidence)
	if err != nil {
		return Principal{}, err
	}
	if p.MustChangePassword {
		return p, internaltypes.ErrPasswordChangeRequired
	}
	return p, nil
}

// ChangePassword replaces the caller's password, clears the rotation flag and
// invalidates all previously issued evidence. The returned evidence replaces it.
func (s *Service) ChangePassword(ctx context.Context, evidence, newPassword string) (string, error) {
	u, err := s.resolve(ctx, evidence)
	if err != nil {
		return "", err
	}
	if err := checkPasswordPolicy(newPassword); err != nil {
		return "", err
	}
	hash, err := HashPassword(newPassword)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	u, err = s.Store.UpdatePassword(ctx, u.ID, hash, false)
	if err != nil {
		return "", fmt.Errorf("update password: %w", err)
	}
	s.logger().Info("password changed", slog.Int64("user_id", u.ID))
	return s.Codec.Encode(u)
}

func (s *Service) resolve(ctx context.Context, evidence string) (User, error) {
	v, err := s.Codec.decode(evidence)
	if err != nil {
		return User{}, err
	}
	u, err := s.Store.UserByID(ctx, v.UID)
	if errors.Is(err, internaltypes.ErrNotFound) {
		return User{}, internaltypes.ErrUnauthenticated
	}
	if err != nil {
		return User{}, fmt.Errorf("load user: %w", err)
	}
	if u.SessionVersion != v.Ver {
		return User{}, internaltypes.ErrUnauthenticated
	}
	return u, nil
}

func checkPasswordPolicy(pw string) error {
	if utf8.RuneCountInString(pw) < MinPasswordLength {
		return internaltypes.ErrWeakPassword
	}
	if len(pw) > maxPasswordBytes {
		return internaltypes.Invalid("password", "must be at most %d bytes", maxPasswordBytes)
	}
	return nil
}

// CreateUser provisions an account. Administrative callers only.
func (s *Service) CreateUser(ctx context.Context, username, password string, staff, mustChange bool) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, internaltypes.Invalid("username", "required")
	}
	if err := checkPasswordPolicy(password); err != nil {
		return User{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return User{}, err
	}
	u, err := s.Store.CreateUser(ctx, User{
		Username:           username,
		PasswordHash:       hash,
		IsStaff:            staff,
		MustChangePassword: mustChange,
		SessionVersion:     1,
	})
	if err != nil {
		return User{}, err
	}
	s.logger().Info("user created", slog.Int64("user_id", u.ID), slog.Bool("staff", staff))
	return u, nil
}

// ResetPassword sets a temporary password and forces rotation on next login.
func (s *Service) ResetPassword(ctx context.Context, username, temporary string) error {
	u, err := s.Store.UserByUsername(ctx, username)
	if err != nil {
		return err
	}
	if err := checkPasswordPolicy(temporary); err != nil {
		return err
	}
	hash, err := HashPassword(temporary)
	if err != nil {
		return err
	}
	if _, err := s.Store.UpdatePassword(ctx, u.ID, hash, true); err != nil {
		return err
	}
	s.logger().Info("password reset", slog.Int64("user_id", u.ID))
	return nil
}

func (s *Service) SetStaff(ctx context.Context, username string, staff bool) error {
	u, err := s.Store.UserByUsername(ctx, username)
	if err != nil {
		return err
	}
	return s.Store.SetStaff(ctx, u.ID, staff)
}

// Lookup finds a user by name, for staff acting on another user's behalf.
func (s *Service) Lookup(ctx context.Context, username string) (User, error) {
	return s.Store.UserByUsername(ctx, strings.TrimSpace(username))
}

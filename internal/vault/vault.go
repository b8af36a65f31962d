// Package vault stores the per-user, per-course logins the dispatcher replays
// against course booking sites. Secrets are encrypted at rest and only the
// dispatcher ever sees them in plaintext.
package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/catalog"
	"github.com/example/teetime-scheduler/internal/internaltypes"
)

// Record is the stored row. SecretEnc is Cipher.Seal output.
type Record struct {
	UserID     int64
	CourseID   int64
	CourseName string
	Login      string
	SecretEnc  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// View is the caller-facing shape; it never carries the secret.
type View struct {
	CourseID   int64     `json:"course_id"`
	CourseName string    `json:"course_name"`
	Login      string    `json:"login"`
	HasSecret  bool      `json:"has_secret"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Credential is the decrypted form handed to the dispatcher.
type Credential struct {
	UserID   int64
	CourseID int64
	Login    string
	Secret   string
}

type Store interface {
	ListCredentials(ctx context.Context, userID int64) ([]Record, error)
	GetCredential(ctx context.Context, userID, courseID int64) (Record, error)
	// PutCredential inserts the row or replaces login and secret in place.
	PutCredential(ctx context.Context, r Record) (Record, error)
	// UpdateCredentialLogin changes only the login; ErrNotFound when absent.
	UpdateCredentialLogin(ctx context.Context, userID, courseID int64, login string, at time.Time) (Record, error)
}

type Courses interface {
	Get(ctx context.Context, id int64) (catalog.Course, error)
}

type Vault struct {
	Store   Store
	Courses Courses
	Cipher  *Cipher
	Now     func() time.Time
	Log     *slog.Logger
}

func (v *Vault) logger() *slog.Logger {
	if v.Log == nil {
		return slog.Default()
	}
	return v.Log
}

func (v *Vault) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

// List returns the caller's own credentials. Staff get no wider view here.
func (v *Vault) List(ctx context.Context, p auth.Principal) ([]View, error) {
	rs, err := v.Store.ListCredentials(ctx, p.UserID)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	out := make([]View, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.view())
	}
	return out, nil
}

// Upsert creates or updates the caller's credential for a course. A nil or
// empty secret keeps whatever is stored; on create a secret is required.
func (v *Vault) Upsert(ctx context.Context, p auth.Principal, courseID int64, login string, secret *string) (View, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return View{}, internaltypes.Invalid("login", "required")
	}
	course, err := v.Courses.Get(ctx, courseID)
	if errors.Is(err, internaltypes.ErrNotFound) {
		return View{}, internaltypes.Invalid("course_id", "unknown course %d", courseID)
	}
	if err != nil {
		return View{}, err
	}

	now := v.now()
	var r Record
	if secret == nil || *secret == "" {
		r, err = v.Store.UpdateCredentialLogin(ctx, p.UserID, courseID, login, now)
		if errors.Is(err, internaltypes.ErrNotFound) {
			return View{}, internaltypes.Invalid("secret", "required when adding a new credential")
		}
	} else {
		var sealed string
		if sealed, err = v.Cipher.Seal(*secret); err != nil {
			return View{}, fmt.Errorf("seal secret: %w", err)
		}
		r, err = v.Store.PutCredential(ctx, Record{
			UserID:    p.UserID,
			CourseID:  courseID,
			Login:     login,
			SecretEnc: sealed,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	if err != nil {
		return View{}, fmt.Errorf("store credential: %w", err)
	}
	r.CourseName = course.Name

	v.logger().Info("credential saved",
		slog.Int64("user_id", p.UserID),
		slog.Int64("course_id", courseID),
		slog.Bool("secret_changed", secret != nil && *secret != ""),
	)
	return r.view(), nil
}

// Has reports whether the user holds a credential for the course.
func (v *Vault) Has(ctx context.Context, userID, courseID int64) (bool, error) {
	_, err := v.Store.GetCredential(ctx, userID, courseID)
	if errors.Is(err, internaltypes.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Resolve decrypts the credential for execution. Dispatcher use only.
func (v *Vault) Resolve(ctx context.Context, userID, courseID int64) (Credential, error) {
	r, err := v.Store.GetCredential(ctx, userID, courseID)
	if errors.Is(err, internaltypes.ErrNotFound) {
		return Credential{}, internaltypes.ErrMissingCredential
	}
	if err != nil {
		return Credential{}, err
	}
	secret, err := v.Cipher.Open(r.SecretEnc)
	if err != nil {
		return Credential{}, fmt.Errorf("open secret for course %d: %w", courseID, err)
	}
	return Credential{UserID: userID, CourseID: courseID, Login: r.Login, Secret: secret}, nil
}

func (r Record) view() View {
	return View{
		CourseID:   r.CourseID,
		CourseName: r.CourseName,
		Login:      r.Login,
		HasSecret:  r.SecretEnc != "",
		UpdatedAt:  r.UpdatedAt,
	}
}

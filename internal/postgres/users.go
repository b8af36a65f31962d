// Package postgres implements the repositories on PostgreSQL through the pgx pool in internal/db.
package postgres

import (
	"context"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/db"
	"github.com/example/teetime-scheduler/internal/internaltypes"
)

type Store struct{ db *db.DB }

func NewStore(d *db.DB) *Store { return &Store{db: d} }

func (s *Store) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

const userColumns = `id, username, password_bcrypt, is_staff, must_change_password, session_version, created_at`

func scanUser(row db.Row) (auth.User, error) {
	var u auth.User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.IsStaff, &u.MustChangePassword, &u.SessionVersion, &u.CreatedAt)
	if err != nil {
		return auth.User{}, db.WrapNotFound(err)
	}
	return u, nil
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	created, err := scanUser(s.db.QueryRow(ctx, `
INSERT INTO users (username, password_bcrypt, is_staff, must_change_password, session_version)
VALUES ($1,$2,$3,$4,$5)
RETURNING `+userColumns,
		u.Username, u.PasswordHash, u.IsStaff, u.MustChangePassword, max(u.SessionVersion, 1)))
	if db.IsUniqueViolation(err) {
		return auth.User{}, internaltypes.Invalid("username", "%q is already taken", u.Username)
	}
	return created, err
}

func (s *Store) UserByID(ctx context.Context, id int64) (auth.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id))
}

func (s *Store) UserByUsername(ctx context.Context, username string) (auth.User, error) {
	return scanUser(s.db.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username=$1`, username))
}

func (s *Store) UpdatePassword(ctx context.Context, id int64, hash string, mustChange bool) (auth.User, error) {
	return scanUser(s.db.QueryRow(ctx, `
UPDATE users
SET password_bcrypt=$2, must_change_password=$3, session_version=session_version+1
WHERE id=$1
RETURNING `+userColumns, id, hash, mustChange))
}

func (s *Store) SetStaff(ctx context.Context, id int64, staff bool) error {
	n, err := s.db.Exec(ctx, `UPDATE users SET is_staff=$2 WHERE id=$1`, id, staff)
	if err != nil {
		return db.WrapNotFound(err)
	}
	if n == 0 {
		return internaltypes.ErrNotFound
	}
	return nil
}

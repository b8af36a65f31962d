package postgres

import (
	"context"
	"time"

	"github.com/example/teetime-scheduler/internal/db"
	"github.com/example/teetime-scheduler/internal/internaltypes"
	"github.com/example/teetime-scheduler/internal/vault"
)

const credentialSelect = `
SELECT cr.user_id, cr.course_id, c.name, cr.login, cr.secret_enc, cr.created_at, cr.updated_at
FROM credentials cr
JOIN courses c ON c.id = cr.course_id`

func scanCredential(row db.Row) (vault.Record, error) {
	var r vault.Record
	if err := row.Scan(&r.UserID, &r.CourseID, &r.CourseName, &r.Login, &r.SecretEnc, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return vault.Record{}, db.WrapNotFound(err)
	}
	return r, nil
}

func (s *Store) ListCredentials(ctx context.Context, userID int64) ([]vault.Record, error) {
	rows, err := s.db.Query(ctx, credentialSelect+` WHERE cr.user_id=$1 ORDER BY c.name ASC, cr.course_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []vault.Record
	for rows.Next() {
		r, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) GetCredential(ctx context.Context, userID, courseID int64) (vault.Record, error) {
	return scanCredential(s.db.QueryRow(ctx, credentialSelect+` WHERE cr.user_id=$1 AND cr.course_id=$2`, userID, courseID))
}

func (s *Store) PutCredential(ctx context.Context, r vault.Record) (vault.Record, error) {
	_, err := s.db.Exec(ctx, `
INSERT INTO credentials (user_id, course_id, login, secret_enc, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (user_id, course_id)
DO UPDATE SET login=EXCLUDED.login, secret_enc=EXCLUDED.secret_enc, updated_at=EXCLUDED.updated_at`,
		r.UserID, r.CourseID, r.Login, r.SecretEnc, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return vault.Record{}, db.WrapNotFound(err)
	}
	return s.GetCredential(ctx, r.UserID, r.CourseID)
}

func (s *Store) UpdateCredentialLogin(ctx context.Context, userID, courseID int64, login string, at time.Time) (vault.Record, error) {
	n, err := s.db.Exec(ctx, `UPDATE credentials SET login=$3, updated_at=$4 WHERE user_id=$1 AND course_id=$2`,
		userID, courseID, login, at)
	if err != nil {
		return vault.Record{}, db.WrapNotFound(err)
	}
	if n == 0 {
		return vault.Record{}, internaltypes.ErrNotFound
	}
	return s.GetCredential(ctx, userID, courseID)
}

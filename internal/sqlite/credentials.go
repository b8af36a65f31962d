package sqlite

import (
	"context"
	"time"

	"github.com/example/teetime-scheduler/internal/internaltypes"
	"github.com/example/teetime-scheduler/internal/vault"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CredentialModel is a credentials row; SecretEnc is vault ciphertext.
type CredentialModel struct {
	UserID    int64     `gorm:"primaryKey;autoIncrement:false"`
	CourseID  int64     `gorm:"primaryKey;autoIncrement:false"`
	Login     string    `gorm:"not null"`
	SecretEnc string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

func (CredentialModel) TableName() string { return "credentials" }

type credentialRow struct {
	CredentialModel
	CourseName string
}

func (r credentialRow) record() vault.Record {
	return vault.Record{
		UserID:     r.UserID,
		CourseID:   r.CourseID,
		CourseName: r.CourseName,
		Login:      r.Login,
		SecretEnc:  r.SecretEnc,
		CreatedAt:  r.CreatedAt.UTC(),
		UpdatedAt:  r.UpdatedAt.UTC(),
	}
}

func (s *Store) credentials(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("credentials").
		Select("credentials.*, courses.name AS course_name").
		Joins("JOIN courses ON courses.id = credentials.course_id")
}

func (s *Store) ListCredentials(ctx context.Context, userID int64) ([]vault.Record, error) {
	var rows []credentialRow
	err := s.credentials(ctx).
		Where("credentials.user_id = ?", userID).
		Order("courses.name ASC, credentials.course_id ASC").
		Scan(&rows).Error
	if err != nil {
		return nil, wrap(err)
	}
	out := make([]vault.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}

func (s *Store) GetCredential(ctx context.Context, userID, courseID int64) (vault.Record, error) {
	var row credentialRow
	err := s.credentials(ctx).
		Where("credentials.user_id = ? AND credentials.course_id = ?", userID, courseID).
		Take(&row).Error
	if err != nil {
		return vault.Record{}, wrap(err)
	}
	return row.record(), nil
}

func (s *Store) PutCredential(ctx context.Context, r vault.Record) (vault.Record, error) {
	m := CredentialModel{
		UserID:    r.UserID,
		CourseID:  r.CourseID,
		Login:     r.Login,
		SecretEnc: r.SecretEnc,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}, {Name: "course_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"login", "secret_enc", "updated_at"}),
	}).Create(&m).Error
	if err != nil {
		return vault.Record{}, wrap(err)
	}
	return s.GetCredential(ctx, r.UserID, r.CourseID)
}

func (s *Store) UpdateCredentialLogin(ctx context.Context, userID, courseID int64, login string, at time.Time) (vault.Record, error) {
	res := s.db.WithContext(ctx).Model(&CredentialModel{}).
		Where("user_id = ? AND course_id = ?", userID, courseID).
		Updates(map[string]any{"login": login, "updated_at": at})
	if res.Error != nil {
		return vault.Record{}, wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return vault.Record{}, internaltypes.ErrNotFound
	}
	return s.GetCredential(ctx, userID, courseID)
}

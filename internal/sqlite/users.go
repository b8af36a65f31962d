package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/internaltypes"
	"gorm.io/gorm"
)

type userModel struct {
	ID                 int64  `gorm:"primaryKey"`
	Username           string `gorm:"uniqueIndex;not null"`
	PasswordBcrypt     string `gorm:"not null"`
	IsStaff            bool   `gorm:"not null"`
	MustChangePassword bool   `gorm:"not null"`
	SessionVersion     int    `gorm:"not null"`
	CreatedAt          time.Time
}

func (userModel) TableName() string { return "users" }

func (m userModel) user() auth.User {
	return auth.User{
		ID:                 m.ID,
		Username:           m.Username,
		PasswordHash:       m.PasswordBcrypt,
		IsStaff:            m.IsStaff,
		MustChangePassword: m.MustChangePassword,
		SessionVersion:     m.SessionVersion,
		CreatedAt:          m.CreatedAt.UTC(),
	}
}

func (s *Store) CreateUser(ctx context.Context, u auth.User) (auth.User, error) {
	m := userModel{
		Username:           u.Username,
		PasswordBcrypt:     u.PasswordHash,
		IsStaff:            u.IsStaff,
		MustChangePassword: u.MustChangePassword,
		SessionVersion:     max(u.SessionVersion, 1),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return auth.User{}, internaltypes.Invalid("username", "%q is already taken", u.Username)
		}
		return auth.User{}, wrap(err)
	}
	return m.user(), nil
}

func (s *Store) UserByID(ctx context.Context, id int64) (auth.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).First(&m, id).Error; err != nil {
		return auth.User{}, wrap(err)
	}
	return m.user(), nil
}

func (s *Store) UserByUsername(ctx context.Context, username string) (auth.User, error) {
	var m userModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&m).Error; err != nil {
		return auth.User{}, wrap(err)
	}
	return m.user(), nil
}

func (s *Store) UpdatePassword(ctx context.Context, id int64, hash string, mustChange bool) (auth.User, error) {
	res := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", id).Updates(map[string]any{
		"password_bcrypt":      hash,
		"must_change_password": mustChange,
		"session_version":      gorm.Expr("session_version + 1"),
	})
	if res.Error != nil {
		return auth.User{}, wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return auth.User{}, internaltypes.ErrNotFound
	}
	return s.UserByID(ctx, id)
}

func (s *Store) SetStaff(ctx context.Context, id int64, staff bool) error {
	res := s.db.WithContext(ctx).Model(&userModel{}).Where("id = ?", id).Update("is_staff", staff)
	if res.Error != nil {
		return wrap(res.Error)
	}
	if res.RowsAffected == 0 {
		return internaltypes.ErrNotFound
	}
	return nil
}

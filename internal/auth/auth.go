package auth

import (
	"context"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is counted in characters, not bytes.
const MinPasswordLength = 6

// bcrypt ignores input past 72 bytes, so longer passwords are refused outright.
const maxPasswordBytes = 72

// BcryptCost is a variable so tests can drop it to bcrypt.MinCost.
var BcryptCost = bcrypt.DefaultCost

type User struct {
	ID                 int64
	Username           string
	PasswordHash       string
	IsStaff            bool
	MustChangePassword bool
	SessionVersion     int
	CreatedAt          time.Time
}

// Principal is the caller identity every capability runs as.
type Principal struct {
	UserID             int64  `json:"-"`
	Username           string `json:"username"`
	IsStaff            bool   `json:"is_staff"`
	MustChangePassword bool   `json:"must_change_password"`
}

func (u User) Principal() Principal {
	return Principal{
		UserID:             u.ID,
		Username:           u.Username,
		IsStaff:            u.IsStaff,
		MustChangePassword: u.MustChangePassword,
	}
}

// Store persists users. Lookups return internaltypes.ErrNotFound for unknown rows.
type Store interface {
	CreateUser(ctx context.Context, u User) (User, error)
	UserByID(ctx context.Context, id int64) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	// UpdatePassword stores a new hash, sets the rotation flag and bumps
	// session_version in one write, returning the updated row.
	UpdatePassword(ctx context.Context, id int64, hash string, mustChange bool) (User, error)
	SetStaff(ctx context.Context, id int64, staff bool) error
}

func HashPassword(pw string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pw), BcryptCost)
	return string(b), err
}

func CheckPassword(hash, pw string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
	return err == nil
}

var (
	dummyOnce sync.Once
	dummyHash string
)

// burnCompare spends the same bcrypt work as a real check so unknown usernames
// answer in the same time as wrong passwords.
func burnCompare(pw string) {
	dummyOnce.Do(func() {
		dummyHash, _ = HashPassword("teesched-not-a-real-password")
	})
	_ = CheckPassword(dummyHash, pw)
}

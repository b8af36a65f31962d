package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/internaltypes"
	"github.com/example/teetime-scheduler/internal/sqlite"
	"github.com/gorilla/securecookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	auth.BcryptCost = bcrypt.MinCost
	os.Exit(m.Run())
}

func newService(t *testing.T) *auth.Service {
	t.Helper()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	codec := auth.NewCodec(securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32), time.Hour)
	return &auth.Service{Store: store, Codec: codec}
}

func TestAuthenticate(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	_, err := s.CreateUser(ctx, "golfer", "golf123", false, false)
	require.NoError(t, err)

	p, evidence, err := s.Authenticate(ctx, "golfer", "golf123")
	require.NoError(t, err)
	assert.Equal(t, "golfer", p.Username)
	assert.False(t, p.IsStaff)
	assert.NotEmpty(t, evidence)

	// wrong password and unknown user look the same
	_, _, errPw := s.Authenticate(ctx, "golfer", "nope")
	_, _, errUser := s.Authenticate(ctx, "ghost", "golf123")
	assert.ErrorIs(t, errPw, internaltypes.ErrInvalidCredentials)
	assert.ErrorIs(t, errUser, internaltypes.ErrInvalidCredentials)
	assert.Equal(t, errPw.Error(), errUser.Error())
}

func TestCurrentUser(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	_, err := s.CreateUser(ctx, "admin", "admin123", true, false)
	require.NoError(t, err)
	_, evidence, err := s.Authenticate(ctx, "admin", "admin123")
	require.NoError(t, err)

	p, err := s.CurrentUser(ctx, evidence)
	require.NoError(t, err)
	assert.Equal(t, auth.Principal{UserID: p.UserID, Username: "admin", IsStaff: true}, p)

	for _, bad := range []string{"", "garbage", evidence[:len(evidence)-4]} {
		_, err := s.CurrentUser(ctx, bad)
		assert.ErrorIs(t, err, internaltypes.ErrUnauthenticated, "evidence %q", bad)
	}

	// evidence from a different key pair is rejected
	other := newService(t)
	_, err = other.CreateUser(ctx, "admin", "admin123", true, false)
	require.NoError(t, err)
	_, foreign, err := other.Authenticate(ctx, "admin", "admin123")
	require.NoError(t, err)
	_, err = s.CurrentUser(ctx, foreign)
	assert.ErrorIs(t, err, internaltypes.ErrUnauthenticated)
}

func TestChangePassword(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	_, err := s.CreateUser(ctx, "golfer", "golf123", false, true)
	require.NoError(t, err)
	_, old, err := s.Authenticate(ctx, "golfer", "golf123")
	require.NoError(t, err)

	_, err = s.ChangePassword(ctx, old, "abcde")
	assert.ErrorIs(t, err, internaltypes.ErrWeakPassword)
	_, err = s.ChangePassword(ctx, old, strings.Repeat("x", 73))
	assert.True(t, internaltypes.IsValidation(err))

	fresh, err := s.ChangePassword(ctx, old, "abcdef")
	require.NoError(t, err)

	_, err = s.CurrentUser(ctx, old)
	assert.ErrorIs(t, err, internaltypes.ErrUnauthenticated, "old evidence dies with the old password")

	p, err := s.Require(ctx, fresh)
	require.NoError(t, err)
	assert.False(t, p.MustChangePassword)

	_, _, err = s.Authenticate(ctx, "golfer", "golf123")
	assert.ErrorIs(t, err, internaltypes.ErrInvalidCredentials)
	_, _, err = s.Authenticate(ctx, "golfer", "abcdef")
	assert.NoError(t, err)
}

func TestRequire_PasswordRotation(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	_, err := s.CreateUser(ctx, "golfer", "golf123", false, true)
	require.NoError(t, err)
	_, evidence, err := s.Authenticate(ctx, "golfer", "golf123")
	require.NoError(t, err)

	p, err := s.Require(ctx, evidence)
	assert.ErrorIs(t, err, internaltypes.ErrPasswordChangeRequired)
	assert.Equal(t, "golfer", p.Username)

	// the profile stays readable so the client can learn the flag
	p, err = s.CurrentUser(ctx, evidence)
	require.NoError(t, err)
	assert.True(t, p.MustChangePassword)

	_, err = s.Require(ctx, "")
	assert.ErrorIs(t, err, internaltypes.ErrUnauthenticated)
}

func TestResetPassword(t *testing.T) {
	ctx := context.Background()
	s := newService(t)
	_, err := s.CreateUser(ctx, "golfer", "golf123", false, false)
	require.NoError(t, err)
	_, before, err := s.Authenticate(ctx, "golfer", "golf123")
	require.NoError(t, err)

	require.NoError(t, s.ResetPassword(ctx, "golfer", "temp1234"))

	_, err = s.CurrentUser(ctx, before)
	assert.ErrorIs(t, err, internaltypes.ErrUnauthenticated)

	_, after, err := s.Authenticate(ctx, "golfer", "temp1234")
	require.NoError(t, err)
	_, err = s.Require(ctx, after)
	assert.ErrorIs(t, err, internaltypes.ErrPasswordChangeRequired)

	assert.ErrorIs(t, s.ResetPassword(ctx, "ghost", "temp1234"), internaltypes.ErrNotFound)
}

func TestCreateUser(t *testing.T) {
	ctx := context.Background()
	s := newService(t)

	_, err := s.CreateUser(ctx, " ", "golf123", false, false)
	assert.True(t, internaltypes.IsValidation(err))
	_, err = s.CreateUser(ctx, "golfer", "12345", false, false)
	assert.ErrorIs(t, err, internaltypes.ErrWeakPassword)

	u, err := s.CreateUser(ctx, "golfer", "123456", false, false)
	require.NoError(t, err)
	assert.NotEqual(t, "123456", u.PasswordHash)

	require.NoError(t, s.SetStaff(ctx, "golfer", true))
	got, err := s.Lookup(ctx, "golfer")
	require.NoError(t, err)
	assert.True(t, got.IsStaff)
}

func TestEvidenceFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, auth.EvidenceFromRequest(r))

	r.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "from-cookie"})
	assert.Equal(t, "from-cookie", auth.EvidenceFromRequest(r))

	r.Header.Set("Authorization", "Bearer from-header")
	assert.Equal(t, "from-header", auth.EvidenceFromRequest(r))
}

func TestCodec_Cookies(t *testing.T) {
	codec := auth.NewCodec(securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32), 2*time.Hour)
	r := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)

	w := httptest.NewRecorder()
	codec.SetCookie(w, r, "evidence")
	ck := w.Result().Cookies()
	require.Len(t, ck, 1)
	assert.Equal(t, auth.CookieName, ck[0].Name)
	assert.Equal(t, "evidence", ck[0].Value)
	assert.True(t, ck[0].HttpOnly)
	assert.Equal(t, 7200, ck[0].MaxAge)

	w = httptest.NewRecorder()
	codec.ClearCookie(w)
	ck = w.Result().Cookies()
	require.Len(t, ck, 1)
	assert.Equal(t, -1, ck[0].MaxAge)
}

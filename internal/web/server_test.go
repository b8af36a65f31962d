package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/booking"
	"github.com/example/teetime-scheduler/internal/catalog"
	"github.com/example/teetime-scheduler/internal/sqlite"
	"github.com/example/teetime-scheduler/internal/vault"
	"github.com/example/teetime-scheduler/internal/web"
	"github.com/gorilla/securecookie"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestMain(m *testing.M) {
	auth.BcryptCost = bcrypt.MinCost
	os.Exit(m.Run())
}

type harness struct {
	t      *testing.T
	h      http.Handler
	auth   *auth.Service
	course catalog.Course
}

func newHarness(t *testing.T, mutate ...func(*web.Server)) *harness {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	authSvc := &auth.Service{
		Store: store,
		Codec: auth.NewCodec(securecookie.GenerateRandomKey(32), securecookie.GenerateRandomKey(32), time.Hour),
	}
	courses := catalog.New(store, time.Minute)
	cipher, err := vault.NewCipher(make([]byte, 32))
	require.NoError(t, err)
	v := &vault.Vault{Store: store, Courses: courses, Cipher: cipher}

	course, err := courses.Create(ctx, catalog.Course{Name: "Cypress Point (Demo)", LogicType: catalog.LogicSimulate})
	require.NoError(t, err)
	_, err = authSvc.CreateUser(ctx, "alice", "alice123", false, false)
	require.NoError(t, err)
	_, err = authSvc.CreateUser(ctx, "bob", "bob1234", false, false)
	require.NoError(t, err)
	_, err = authSvc.CreateUser(ctx, "admin", "admin123", true, false)
	require.NoError(t, err)
	_, err = authSvc.CreateUser(ctx, "golfer", "golf123", false, true)
	require.NoError(t, err)

	srv := &web.Server{
		Auth:     authSvc,
		Courses:  courses,
		Vault:    v,
		Bookings: &booking.Service{Store: store, Courses: courses, Credentials: v, Users: authSvc},
		Store:    store,
	}
	for _, m := range mutate {
		m(srv)
	}
	return &harness{t: t, h: srv.Routes(), auth: authSvc, course: course}
}

func (h *harness) do(method, path, token string, body any) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.h.ServeHTTP(w, req)
	return w
}

func (h *harness) login(user, pw string) string {
	h.t.Helper()
	w := h.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": user, "password": pw})
	require.Equal(h.t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(h.t, json.Unmarshal(w.Body.Bytes(), &out))
	require.NotEmpty(h.t, out.Token)
	return out.Token
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var e struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Category string `json:"category"`
		Action   string `json:"action"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &e), w.Body.String())
	assert.NotEmpty(t, e.Message)
	assert.NotEmpty(t, e.Action)
	return e.Code
}

func (h *harness) requestBody() map[string]any {
	return map[string]any{
		"course_id":      h.course.ID,
		"desired_date":   "2025-08-01",
		"earliest_time":  "07:00",
		"latest_time":    "11:00",
		"players":        4,
		"execution_time": time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
	}
}

func TestLogin(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "alice123"})
	require.Equal(t, http.StatusOK, w.Code)
	var cookie *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == auth.CookieName {
			cookie = c
		}
	}
	require.NotNil(t, cookie, "session cookie set")

	// the cookie alone is enough evidence
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.AddCookie(cookie)
	me := httptest.NewRecorder()
	h.h.ServeHTTP(me, req)
	require.Equal(t, http.StatusOK, me.Code)
	assert.JSONEq(t, `{"username":"alice","is_staff":false,"must_change_password":false}`, me.Body.String())

	w = h.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, w))

	w = h.do(http.MethodPost, "/api/auth/login", "", map[string]string{"username": "nobody", "password": "alice123"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_CREDENTIALS", errorCode(t, w))
}

func TestUnauthenticated(t *testing.T) {
	h := newHarness(t)
	for _, path := range []string{"/api/requests", "/api/credentials", "/api/dashboard", "/api/courses", "/api/auth/me"} {
		w := h.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
		assert.Equal(t, "UNAUTHENTICATED", errorCode(t, w), path)
	}
	w := h.do(http.MethodGet, "/api/requests", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPasswordRotation(t *testing.T) {
	h := newHarness(t)
	token := h.login("golfer", "golf123")

	w := h.do(http.MethodGet, "/api/requests", token, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "PASSWORD_CHANGE_REQUIRED", errorCode(t, w))

	w = h.do(http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"must_change_password":true`)

	w = h.do(http.MethodPost, "/api/auth/password", token, map[string]string{"new_password": "12345"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "WEAK_PASSWORD", errorCode(t, w))

	w = h.do(http.MethodPost, "/api/auth/password", token, map[string]string{"new_password": "123456"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var out struct {
		User  auth.Principal `json:"user"`
		Token string         `json:"token"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.False(t, out.User.MustChangePassword)

	w = h.do(http.MethodGet, "/api/requests", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "old evidence no longer works")

	w = h.do(http.MethodGet, "/api/requests", out.Token, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodPost, "/api/auth/password", "", map[string]string{"new_password": "123456"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequestLifecycle(t *testing.T) {
	h := newHarness(t)
	alice := h.login("alice", "alice123")
	bob := h.login("bob", "bob1234")
	admin := h.login("admin", "admin123")

	w := h.do(http.MethodPost, "/api/requests", alice, h.requestBody())
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "MISSING_CREDENTIAL", errorCode(t, w))

	credPath := "/api/credentials/" + strconv.FormatInt(h.course.ID, 10)
	w = h.do(http.MethodPut, credPath, alice, map[string]string{"login": "alice@example.com"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "secret required on first save")

	w = h.do(http.MethodPut, credPath, alice, map[string]string{"login": "alice@example.com", "secret": "pw"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotContains(t, w.Body.String(), `"pw"`)
	assert.Contains(t, w.Body.String(), `"has_secret":true`)

	bad := h.requestBody()
	bad["earliest_time"], bad["latest_time"] = "11:00", "07:00"
	w = h.do(http.MethodPost, "/api/requests", alice, bad)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "VALIDATION", errorCode(t, w))

	bad = h.requestBody()
	bad["execution_time"] = "tomorrow"
	w = h.do(http.MethodPost, "/api/requests", alice, bad)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.do(http.MethodPost, "/api/requests", alice, h.requestBody())
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Equal(t, "PENDING", created["status"])
	assert.Equal(t, "07:00:00", created["earliest_time"])
	assert.Equal(t, "2025-08-01", created["desired_date"])
	assert.NotContains(t, created, "owner")
	id := int64(created["id"].(float64))
	reqPath := "/api/requests/" + strconv.FormatInt(id, 10)
	assert.Equal(t, reqPath, w.Header().Get("Location"))

	w = h.do(http.MethodGet, reqPath, alice, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = h.do(http.MethodGet, reqPath, bob, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
	w = h.do(http.MethodGet, "/api/requests/abc", alice, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = h.do(http.MethodGet, "/api/requests", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = h.do(http.MethodGet, "/api/requests", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var all []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &all))
	require.Len(t, all, 1)
	assert.Equal(t, "alice", all[0]["owner"])

	w = h.do(http.MethodGet, "/api/dashboard", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var sum booking.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 1, sum.Pending)
	require.NotNil(t, sum.NextRequestID)
	assert.Equal(t, id, *sum.NextRequestID)

	w = h.do(http.MethodGet, "/api/dashboard", bob, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"next_execution":null`)

	w = h.do(http.MethodPost, reqPath+"/cancel", alice, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "cancel is off by default")
	assert.Equal(t, "FORBIDDEN", errorCode(t, w))

	w = h.do(http.MethodGet, "/api/credentials", alice, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alice@example.com")
	w = h.do(http.MethodGet, "/api/credentials", admin, nil)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestCancel(t *testing.T) {
	h := newHarness(t, func(s *web.Server) { s.Bookings.AllowCancel = true })
	alice := h.login("alice", "alice123")

	w := h.do(http.MethodPut, "/api/credentials/"+strconv.FormatInt(h.course.ID, 10), alice,
		map[string]string{"login": "alice@example.com", "secret": "pw"})
	require.Equal(t, http.StatusOK, w.Code)
	w = h.do(http.MethodPost, "/api/requests", alice, h.requestBody())
	require.Equal(t, http.StatusCreated, w.Code)
	var created struct {
		ID int64 `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	path := "/api/requests/" + strconv.FormatInt(created.ID, 10) + "/cancel"

	w = h.do(http.MethodPost, path, alice, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"status":"FAILED"`)
	assert.Contains(t, w.Body.String(), "cancelled by alice")

	w = h.do(http.MethodPost, path, alice, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "INVALID_TRANSITION", errorCode(t, w))
}

func TestLoginRateLimit(t *testing.T) {
	rl := web.NewPerMinuteLimiter(3)
	t.Cleanup(rl.Stop)
	h := newHarness(t, func(s *web.Server) { s.LoginLimiter = rl })

	body := map[string]string{"username": "alice", "password": "wrong"}
	for i := 0; i < 3; i++ {
		w := h.do(http.MethodPost, "/api/auth/login", "", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	}
	w := h.do(http.MethodPost, "/api/auth/login", "", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))
	assert.Equal(t, "20", w.Header().Get("Retry-After"))
	assert.Equal(t, 1, rl.Len())
}

func TestHealthAndRequestID(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok\n", w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "7b0f3c5e-9a43-4d1e-8c5d-0f5b7c7b9f11")
	rec := httptest.NewRecorder()
	h.h.ServeHTTP(rec, req)
	assert.Equal(t, "7b0f3c5e-9a43-4d1e-8c5d-0f5b7c7b9f11", rec.Header().Get("X-Request-ID"))

	w = h.do(http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", errorCode(t, w))
}

func TestLogout(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/api/auth/logout", "", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	require.Len(t, w.Result().Cookies(), 1)
	assert.Equal(t, -1, w.Result().Cookies()[0].MaxAge)
}

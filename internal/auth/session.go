package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/example/teetime-scheduler/internal/internaltypes"
	"github.com/gorilla/securecookie"
)

const CookieName = "teesched_session"

// sessionValue is what the evidence carries. The live user row stays
// authoritative: ver must match session_version, staff is informational.
type sessionValue struct {
	UID   int64 `json:"uid"`
	Ver   int   `json:"ver"`
	Staff bool  `json:"staff"`
}

// Codec turns a user into signed+encrypted evidence and back.
type Codec struct {
	sc     *securecookie.SecureCookie
	maxAge time.Duration
}

func NewCodec(hashKey, blockKey []byte, maxAge time.Duration) *Codec {
	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	sc.MaxAge(int(maxAge.Seconds()))
	return &Codec{sc: sc, maxAge: maxAge}
}

func (c *Codec) Encode(u User) (string, error) {
	return c.sc.Encode(CookieName, sessionValue{UID: u.ID, Ver: u.SessionVersion, Staff: u.IsStaff})
}

func (c *Codec) decode(evidence string) (sessionValue, error) {
	var v sessionValue
	if evidence == "" {
		return v, internaltypes.ErrUnauthenticated
	}
	if err := c.sc.Decode(CookieName, evidence, &v); err != nil || v.UID <= 0 {
		return sessionValue{}, internaltypes.ErrUnauthenticated
	}
	return v, nil
}

// SetCookie writes evidence as the session cookie.
func (c *Codec) SetCookie(w http.ResponseWriter, r *http.Request, evidence string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    evidence,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(c.maxAge.Seconds()),
	})
}

func (c *Codec) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})
}

// EvidenceFromRequest reads a bearer token first, then the session cookie.
func EvidenceFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if tok, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(tok)
		}
	}
	if ck, err := r.Cookie(CookieName); err == nil {
		return ck.Value
	}
	return ""
}

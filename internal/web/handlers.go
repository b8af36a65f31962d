package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/booking"
	"github.com/example/teetime-scheduler/internal/internaltypes"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return internaltypes.Invalid("", "request body is empty")
		}
		return internaltypes.Invalid("", "malformed JSON body: %v", err)
	}
	return nil
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, internaltypes.Invalid(name, "must be a positive integer")
	}
	return id, nil
}

// --- auth ---

type loginBody struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type sessionResponse struct {
	User  auth.Principal `json:"user"`
	Token string         `json:"token"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var in loginBody
	if err := decodeBody(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	p, evidence, err := s.Auth.Authenticate(r.Context(), in.Username, in.Password)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if ri := infoFrom(r.Context()); ri != nil {
		ri.userID = p.UserID
	}
	s.Auth.Codec.SetCookie(w, r, evidence)
	writeJSON(w, http.StatusOK, sessionResponse{User: p, Token: evidence})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Auth.Codec.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	p, err := s.Auth.CurrentUser(r.Context(), auth.EvidenceFromRequest(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type passwordBody struct {
	NewPassword string `json:"new_password"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	evidence := auth.EvidenceFromRequest(r)
	// resolve first so an anonymous caller gets 401 rather than a body error
	if _, err := s.Auth.CurrentUser(r.Context(), evidence); err != nil {
		s.writeError(w, r, err)
		return
	}
	var in passwordBody
	if err := decodeBody(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	fresh, err := s.Auth.ChangePassword(r.Context(), evidence, in.NewPassword)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p, err := s.Auth.CurrentUser(r.Context(), fresh)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.Auth.Codec.SetCookie(w, r, fresh)
	writeJSON(w, http.StatusOK, sessionResponse{User: p, Token: fresh})
}

// --- courses ---

func (s *Server) handleListCourses(w http.ResponseWriter, r *http.Request) {
	cs, err := s.Courses.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// --- credentials ---

type credentialBody struct {
	Login  string  `json:"login"`
	Secret *string `json:"secret"`
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	vs, err := s.Vault.List(r.Context(), principalFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

func (s *Server) handleUpsertCredential(w http.ResponseWriter, r *http.Request) {
	courseID, err := pathID(r, "courseID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in credentialBody
	if err := decodeBody(w, r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	v, err := s.Vault.Upsert(r.Context(), principalFrom(r.Context()), courseID, in.Login, in.Secret)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// --- booking requests ---

type requestView struct {
	ID            int64      `json:"id"`
	Owner         string     `json:"owner,omitempty"`
	CourseID      int64      `json:"course_id"`
	CourseName    string     `json:"course_name"`
	DesiredDate   string     `json:"desired_date"`
	EarliestTime  string     `json:"earliest_time"`
	LatestTime    string     `json:"latest_time"`
	Players       int        `json:"players"`
	ExecutionTime time.Time  `json:"execution_time"`
	Status        string     `json:"status"`
	ResultLog     string     `json:"result_log"`
	StartedAt     *time.Time `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	CreatedAt     time.Time  `json:"created_at"`
}

// viewOf shows the owner only to staff, whose listings mix users.
func viewOf(p auth.Principal, r booking.Request) requestView {
	v := requestView{
		ID:            r.ID,
		CourseID:      r.CourseID,
		CourseName:    r.CourseName,
		DesiredDate:   r.DesiredDate.Format(booking.DateLayout),
		EarliestTime:  r.EarliestTime.String(),
		LatestTime:    r.LatestTime.String(),
		Players:       r.Players,
		ExecutionTime: r.ExecutionTime,
		Status:        string(r.Status),
		ResultLog:     r.ResultLog,
		StartedAt:     r.StartedAt,
		FinishedAt:    r.FinishedAt,
		CreatedAt:     r.CreatedAt,
	}
	if p.IsStaff {
		v.Owner = r.OwnerUsername
	}
	return v
}

type createRequestBody struct {
	CourseID      int64  `json:"course_id"`
	DesiredDate   string `json:"desired_date"`
	EarliestTime  string `json:"earliest_time"`
	LatestTime    string `json:"latest_time"`
	Players       int    `json:"players"`
	ExecutionTime string `json:"execution_time"`
	OnBehalfOf    string `json:"on_behalf_of,omitempty"`
}

func (b createRequestBody) input() (booking.CreateInput, error) {
	in := booking.CreateInput{CourseID: b.CourseID, Players: b.Players, OnBehalfOf: b.OnBehalfOf}
	var err error
	if in.DesiredDate, err = time.Parse(booking.DateLayout, strings.TrimSpace(b.DesiredDate)); err != nil {
		return in, internaltypes.Invalid("desired_date", "want YYYY-MM-DD, got %q", b.DesiredDate)
	}
	if in.EarliestTime, err = booking.ParseClock(strings.TrimSpace(b.EarliestTime)); err != nil {
		return in, internaltypes.Invalid("earliest_time", "want HH:MM or HH:MM:SS, got %q", b.EarliestTime)
	}
	if in.LatestTime, err = booking.ParseClock(strings.TrimSpace(b.LatestTime)); err != nil {
		return in, internaltypes.Invalid("latest_time", "want HH:MM or HH:MM:SS, got %q", b.LatestTime)
	}
	if in.ExecutionTime, err = time.Parse(time.RFC3339, strings.TrimSpace(b.ExecutionTime)); err != nil {
		return in, internaltypes.Invalid("execution_time", "want an RFC 3339 instant with offset, got %q", b.ExecutionTime)
	}
	return in, nil
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := decodeBody(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	in, err := body.input()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p := principalFrom(r.Context())
	req, err := s.Bookings.Create(r.Context(), p, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/requests/"+strconv.FormatInt(req.ID, 10))
	writeJSON(w, http.StatusCreated, viewOf(p, req))
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	p := principalFrom(r.Context())
	rs, err := s.Bookings.List(r.Context(), p)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]requestView, 0, len(rs))
	for _, req := range rs {
		out = append(out, viewOf(p, req))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p := principalFrom(r.Context())
	req, err := s.Bookings.Get(r.Context(), p, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p, req))
}

func (s *Server) handleCancelRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	p := principalFrom(r.Context())
	req, err := s.Bookings.Cancel(r.Context(), p, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger().Info("request cancelled via api", slog.Int64("booking_id", id), slog.String("request_id", requestIDFrom(r.Context())))
	writeJSON(w, http.StatusOK, viewOf(p, req))
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := s.Bookings.Summary(r.Context(), principalFrom(r.Context()))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

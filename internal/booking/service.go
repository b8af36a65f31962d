package booking

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
	"github.com/example/teetime-scheduler/internal/metrics"
)

type Courses interface {
	Get(ctx context.Context, id int64) (catalog.Course, error)
}

type Credentials interface {
	Has(ctx context.Context, userID, courseID int64) (bool, error)
}

type Directory interface {
	Lookup(ctx context.Context, username string) (auth.User, error)
}

// Service owns the booking request lifecycle.
type Service struct {
	Store       Store
	Courses     Courses
	Credentials Credentials
	Users       Directory

	// Wake, when set, is called after a request is stored so a local
	// dispatcher can re-plan its next firing.
	Wake        func()
	AllowCancel bool

	Now     func() time.Time
	Log     *slog.Logger
	Metrics metrics.Recorder
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Service) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

type CreateInput struct {
	CourseID      int64
	DesiredDate   time.Time
	EarliestTime  Clock
	LatestTime    Clock
	Players       int
	ExecutionTime time.Time
	// OnBehalfOf is a username; staff only.
	OnBehalfOf string
}

// Validate covers the checks that need no storage.
func (in CreateInput) Validate(now time.Time) error {
	if in.Players < 1 || in.Players > 4 {
		return internaltypes.Invalid("players", "must be between 1 and 4, got %d", in.Players)
	}
	if !in.EarliestTime.Valid() {
		return internaltypes.Invalid("earliest_time", "not a time of day")
	}
	if !in.LatestTime.Valid() {
		return internaltypes.Invalid("latest_time", "not a time of day")
	}
	if in.EarliestTime > in.LatestTime {
		return internaltypes.Invalid("earliest_time", "%s is after latest_time %s", in.EarliestTime, in.LatestTime)
	}
	if in.DesiredDate.IsZero() {
		return internaltypes.Invalid("desired_date", "required")
	}
	if in.ExecutionTime.IsZero() {
		return internaltypes.Invalid("execution_time", "required")
	}
	if !NormalizeExecutionTime(in.ExecutionTime).After(now.Truncate(time.Second)) {
		return internaltypes.Invalid("execution_time", "must be in the future")
	}
	return nil
}

// Create stores a new PENDING request owned by the caller, or by OnBehalfOf
// when the caller is staff.
func (s *Service) Create(ctx context.Context, p auth.Principal, in CreateInput) (Request, error) {
	now := s.now()
	if err := in.Validate(now); err != nil {
		return Request{}, err
	}

	course, err := s.Courses.Get(ctx, in.CourseID)
	if errors.Is(err, internaltypes.ErrNotFound) {
		return Request{}, internaltypes.Invalid("course_id", "unknown course %d", in.CourseID)
	}
	if err != nil {
		return Request{}, err
	}

	owner := p.UserID
	ownerName := p.Username
	if name := strings.TrimSpace(in.OnBehalfOf); name != "" && name != p.Username {
		if !p.IsStaff {
			return Request{}, internaltypes.Invalid("on_behalf_of", "only staff may create requests for other users")
		}
		u, err := s.Users.Lookup(ctx, name)
		if errors.Is(err, internaltypes.ErrNotFound) {
			return Request{}, internaltypes.Invalid("on_behalf_of", "unknown user %q", name)
		}
		if err != nil {
			return Request{}, err
		}
		owner, ownerName = u.ID, u.Username
	}

	ok, err := s.Credentials.Has(ctx, owner, course.ID)
	if err != nil {
		return Request{}, fmt.Errorf("check credential: %w", err)
	}
	if !ok {
		return Request{}, internaltypes.ErrMissingCredential
	}

	r, err := s.Store.InsertRequest(ctx, Request{
		UserID:        owner,
		CourseID:      course.ID,
		DesiredDate:   NormalizeDate(in.DesiredDate),
		EarliestTime:  in.EarliestTime,
		LatestTime:    in.LatestTime,
		Players:       in.Players,
		ExecutionTime: NormalizeExecutionTime(in.ExecutionTime),
		Status:        StatusPending,
		CreatedAt:     now,
	})
	if err != nil {
		return Request{}, fmt.Errorf("insert request: %w", err)
	}
	r.OwnerUsername = ownerName
	r.CourseName = course.Name

	metrics.Or(s.Metrics).RequestCreated()
	s.logger().Info("booking request created",
		slog.Int64("booking_id", r.ID),
		slog.Int64("user_id", owner),
		slog.Int64("course_id", course.ID),
		slog.Time("execution_time", r.ExecutionTime),
	)
	if s.Wake != nil {
		s.Wake()
	}
	return r, nil
}

// List returns the caller's requests newest first; staff see everyone's.
func (s *Service) List(ctx context.Context, p auth.Principal) ([]Request, error) {
	f := Filter{UserID: p.UserID}
	if p.IsStaff {
		f.UserID = 0
	}
	rs, err := s.Store.ListRequests(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return rs, nil
}

// Get applies the same visibility as List. Requests the caller may not see
// are reported as not found.
func (s *Service) Get(ctx context.Context, p auth.Principal, id int64) (Request, error) {
	r, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if !p.IsStaff && r.UserID != p.UserID {
		return Request{}, internaltypes.ErrNotFound
	}
	return r, nil
}

func (s *Service) Summary(ctx context.Context, p auth.Principal) (Summary, error) {
	rs, err := s.List(ctx, p)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(rs), nil
}

// UpdateStatus moves a request to a new status if the state machine allows it
// from the status it currently has. Dispatcher use only.
func (s *Service) UpdateStatus(ctx context.Context, id int64, to Status, log string) error {
	cur, err := s.Store.GetRequest(ctx, id)
	if err != nil {
		return err
	}
	if !cur.Status.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", internaltypes.ErrInvalidTransition, cur.Status, to)
	}
	ok, err := s.Store.TransitionRequest(ctx, Transition{ID: id, From: cur.Status, To: to, Log: log, At: s.now()})
	if err != nil {
		return fmt.Errorf("transition request %d: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("%w: request %d is no longer %s", internaltypes.ErrInvalidTransition, id, cur.Status)
	}
	return nil
}

// Claim is the single-fire gate: PENDING -> RUNNING succeeds for exactly one caller.
func (s *Service) Claim(ctx context.Context, id int64, claimedBy, note string) (bool, error) {
	return s.Store.TransitionRequest(ctx, Transition{
		ID:        id,
		From:      StatusPending,
		To:        StatusRunning,
		Log:       note,
		ClaimedBy: claimedBy,
		At:        s.now(),
	})
}

// Finish records the outcome of a RUNNING request.
func (s *Service) Finish(ctx context.Context, id int64, to Status, log string) (bool, error) {
	if !StatusRunning.CanTransition(to) {
		return false, fmt.Errorf("%w: RUNNING -> %s", internaltypes.ErrInvalidTransition, to)
	}
	return s.Store.TransitionRequest(ctx, Transition{ID: id, From: StatusRunning, To: to, Log: log, At: s.now()})
}

func (s *Service) Due(ctx context.Context, now time.Time, limit int) ([]Request, error) {
	return s.Store.DueRequests(ctx, now, limit)
}

func (s *Service) Stale(ctx context.Context, cutoff time.Time, limit int) ([]Request, error) {
	return s.Store.StaleRequests(ctx, cutoff, limit)
}

func (s *Service) NextPending(ctx context.Context) (*time.Time, error) {
	return s.Store.NextPendingAt(ctx)
}

// Cancel fails a PENDING request before it fires. It goes through the same
// claim as the dispatcher, so a request that is already executing cannot be
// cancelled.
func (s *Service) Cancel(ctx context.Context, p auth.Principal, id int64) (Request, error) {
	if !s.AllowCancel {
		return Request{}, internaltypes.ErrForbidden
	}
	r, err := s.Get(ctx, p, id)
	if err != nil {
		return Request{}, err
	}
	if r.Status != StatusPending {
		return Request{}, fmt.Errorf("%w: request %d is %s", internaltypes.ErrInvalidTransition, id, r.Status)
	}
	won, err := s.Claim(ctx, id, "cancel:"+p.Username, "cancelling")
	if err != nil {
		return Request{}, err
	}
	if !won {
		return Request{}, fmt.Errorf("%w: request %d was already picked up", internaltypes.ErrInvalidTransition, id)
	}
	if _, err := s.Finish(ctx, id, StatusFailed, "cancelled by "+p.Username); err != nil {
		return Request{}, err
	}
	s.logger().Info("booking request cancelled", slog.Int64("booking_id", id), slog.Int64("user_id", p.UserID))
	return s.Get(ctx, p, id)
}

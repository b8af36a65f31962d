package booking

import (
	"context"
	"time"
)

// DateLayout is the wire and display form of DesiredDate.
const DateLayout = "2006-01-02"

// Request is one scheduled booking attempt. ExecutionTime is fixed at creation;
// only the dispatcher (and cancel, when enabled) moves Status forward.
type Request struct {
	ID       int64
	UserID   int64
	CourseID int64

	// Filled by list/get queries for display.
	OwnerUsername string
	CourseName    string

	DesiredDate   time.Time // calendar date, midnight UTC
	EarliestTime  Clock
	LatestTime    Clock
	Players       int
	ExecutionTime time.Time

	Status     Status
	ResultLog  string
	ClaimedBy  string
	StartedAt  *time.Time
	FinishedAt *time.Time
	CreatedAt  time.Time
}

// Transition is a compare-and-set on status. At stamps started_at when moving
// to RUNNING and finished_at when moving to a terminal status.
type Transition struct {
	ID        int64
	From      Status
	To        Status
	Log       string
	ClaimedBy string
	At        time.Time
}

// Filter scopes listings. UserID 0 means every user.
type Filter struct {
	UserID int64
}

type Store interface {
	InsertRequest(ctx context.Context, r Request) (Request, error)
	GetRequest(ctx context.Context, id int64) (Request, error)
	// ListRequests orders by created_at DESC, id DESC.
	ListRequests(ctx context.Context, f Filter) ([]Request, error)
	// TransitionRequest applies t only while the row is still in t.From and
	// reports whether it did.
	TransitionRequest(ctx context.Context, t Transition) (bool, error)
	// DueRequests returns PENDING rows with execution_time <= now, oldest
	// execution_time first, ties on ascending id.
	DueRequests(ctx context.Context, now time.Time, limit int) ([]Request, error)
	// StaleRequests returns RUNNING rows claimed before cutoff.
	StaleRequests(ctx context.Context, cutoff time.Time, limit int) ([]Request, error)
	// NextPendingAt is the earliest PENDING execution_time, or nil.
	NextPendingAt(ctx context.Context) (*time.Time, error)
}

// NormalizeExecutionTime drops sub-second precision and pins the instant to UTC.
func NormalizeExecutionTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// NormalizeDate keeps only the calendar date.
func NormalizeDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

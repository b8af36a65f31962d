package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/example/teetime-scheduler/internal/booking"
	"github.com/example/teetime-scheduler/internal/db"
	"github.com/jackc/pgx/v5/pgtype"
)

const requestSelect = `
SELECT r.id, r.user_id, r.course_id, u.username, COALESCE(c.name, ''),
       r.desired_date, r.earliest_time, r.latest_time, r.players, r.execution_time,
       r.status, r.result_log, r.claimed_by, r.started_at, r.finished_at, r.created_at
FROM booking_requests r
JOIN users u ON u.id = r.user_id
LEFT JOIN courses c ON c.id = r.course_id`

func clockParam(c booking.Clock) pgtype.Time {
	return pgtype.Time{Microseconds: int64(c.Duration() / time.Microsecond), Valid: true}
}

func scanRequest(row db.Row) (booking.Request, error) {
	var (
		r                 booking.Request
		earliest, latest  pgtype.Time
		status            string
		started, finished *time.Time
	)
	err := row.Scan(
		&r.ID, &r.UserID, &r.CourseID, &r.OwnerUsername, &r.CourseName,
		&r.DesiredDate, &earliest, &latest, &r.Players, &r.ExecutionTime,
		&status, &r.ResultLog, &r.ClaimedBy, &started, &finished, &r.CreatedAt,
	)
	if err != nil {
		return booking.Request{}, db.WrapNotFound(err)
	}
	r.EarliestTime = booking.Clock(earliest.Microseconds / int64(time.Second/time.Microsecond))
	r.LatestTime = booking.Clock(latest.Microseconds / int64(time.Second/time.Microsecond))
	r.Status = booking.Status(status)
	r.ExecutionTime = r.ExecutionTime.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	r.DesiredDate = booking.NormalizeDate(r.DesiredDate)
	if started != nil {
		t := started.UTC()
		r.StartedAt = &t
	}
	if finished != nil {
		t := finished.UTC()
		r.FinishedAt = &t
	}
	return r, nil
}

func (s *Store) queryRequests(ctx context.Context, sql string, args ...any) ([]booking.Request, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []booking.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) InsertRequest(ctx context.Context, r booking.Request) (booking.Request, error) {
	var id int64
	err := s.db.QueryRow(ctx, `
INSERT INTO booking_requests
  (user_id, course_id, desired_date, earliest_time, latest_time, players, execution_time, status, result_log, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id`,
		r.UserID, r.CourseID, r.DesiredDate, clockParam(r.EarliestTime), clockParam(r.LatestTime),
		r.Players, r.ExecutionTime, string(r.Status), r.ResultLog, r.CreatedAt,
	).Scan(&id)
	if err != nil {
		return booking.Request{}, db.WrapNotFound(err)
	}
	return s.GetRequest(ctx, id)
}

func (s *Store) GetRequest(ctx context.Context, id int64) (booking.Request, error) {
	return scanRequest(s.db.QueryRow(ctx, requestSelect+` WHERE r.id=$1`, id))
}

func (s *Store) ListRequests(ctx context.Context, f booking.Filter) ([]booking.Request, error) {
	if f.UserID != 0 {
		return s.queryRequests(ctx, requestSelect+` WHERE r.user_id=$1 ORDER BY r.created_at DESC, r.id DESC`, f.UserID)
	}
	return s.queryRequests(ctx, requestSelect+` ORDER BY r.created_at DESC, r.id DESC`)
}

// TransitionRequest is a single conditional UPDATE; the status predicate makes
// it the claim for PENDING -> RUNNING across any number of dispatchers.
func (s *Store) TransitionRequest(ctx context.Context, t booking.Transition) (bool, error) {
	var (
		n   int64
		err error
	)
	switch {
	case t.To == booking.StatusRunning:
		n, err = s.db.Exec(ctx, `
UPDATE booking_requests
SET status=$3, result_log=$4, claimed_by=$5, started_at=$6
WHERE id=$1 AND status=$2`, t.ID, string(t.From), string(t.To), t.Log, t.ClaimedBy, t.At)
	case t.To.Terminal():
		n, err = s.db.Exec(ctx, `
UPDATE booking_requests
SET status=$3, result_log=$4, finished_at=$5
WHERE id=$1 AND status=$2`, t.ID, string(t.From), string(t.To), t.Log, t.At)
	default:
		return false, fmt.Errorf("no transition into %s", t.To)
	}
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) DueRequests(ctx context.Context, now time.Time, limit int) ([]booking.Request, error) {
	return s.queryRequests(ctx, requestSelect+`
WHERE r.status='PENDING' AND r.execution_time <= $1
ORDER BY r.execution_time ASC, r.id ASC
LIMIT $2`, now, limit)
}

func (s *Store) StaleRequests(ctx context.Context, cutoff time.Time, limit int) ([]booking.Request, error) {
	return s.queryRequests(ctx, requestSelect+`
WHERE r.status='RUNNING' AND r.started_at < $1
ORDER BY r.started_at ASC, r.id ASC
LIMIT $2`, cutoff, limit)
}

func (s *Store) NextPendingAt(ctx context.Context) (*time.Time, error) {
	var next *time.Time
	if err := s.db.QueryRow(ctx, `SELECT MIN(execution_time) FROM booking_requests WHERE status='PENDING'`).Scan(&next); err != nil {
		return nil, db.WrapNotFound(err)
	}
	if next != nil {
		t := next.UTC()
		next = &t
	}
	return next, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/teetime-scheduler/internal/booking"
	"gorm.io/gorm"
)

// RequestModel is a booking_requests row. Instants are stored as integers so
// SQLite compares and orders them numerically: execution_time in unix
// seconds, the rest in microseconds.
type RequestModel struct {
	ID            int64  `gorm:"primaryKey"`
	UserID        int64  `gorm:"not null;index:idx_requests_user"`
	CourseID      int64  `gorm:"not null"`
	DesiredDate   string `gorm:"not null"`
	EarliestTime  int    `gorm:"not null"`
	LatestTime    int    `gorm:"not null"`
	Players       int    `gorm:"not null"`
	ExecutionTime int64  `gorm:"not null;index:idx_requests_due,priority:2"`
	Status        string `gorm:"not null;index:idx_requests_due,priority:1"`
	ResultLog     string `gorm:"not null"`
	ClaimedBy     string `gorm:"not null"`
	StartedAt     *int64
	FinishedAt    *int64
	CreatedAt     int64 `gorm:"not null;autoCreateTime:false"`
}

func (RequestModel) TableName() string { return "booking_requests" }

type requestRow struct {
	RequestModel
	OwnerUsername string
	CourseName    string
}

func timePtr(us *int64) *time.Time {
	if us == nil {
		return nil
	}
	t := time.UnixMicro(*us).UTC()
	return &t
}

func (r requestRow) request() (booking.Request, error) {
	date, err := time.Parse(booking.DateLayout, r.DesiredDate)
	if err != nil {
		return booking.Request{}, fmt.Errorf("booking request %d: desired_date %q: %w", r.ID, r.DesiredDate, err)
	}
	return booking.Request{
		ID:            r.ID,
		UserID:        r.UserID,
		CourseID:      r.CourseID,
		OwnerUsername: r.OwnerUsername,
		CourseName:    r.CourseName,
		DesiredDate:   date,
		EarliestTime:  booking.Clock(r.EarliestTime),
		LatestTime:    booking.Clock(r.LatestTime),
		Players:       r.Players,
		ExecutionTime: time.Unix(r.ExecutionTime, 0).UTC(),
		Status:        booking.Status(r.Status),
		ResultLog:     r.ResultLog,
		ClaimedBy:     r.ClaimedBy,
		StartedAt:     timePtr(r.StartedAt),
		FinishedAt:    timePtr(r.FinishedAt),
		CreatedAt:     time.UnixMicro(r.CreatedAt).UTC(),
	}, nil
}

func (s *Store) requests(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).
		Table("booking_requests AS r").
		Select("r.*, u.username AS owner_username, c.name AS course_name").
		Joins("JOIN users u ON u.id = r.user_id").
		Joins("LEFT JOIN courses c ON c.id = r.course_id")
}

func (s *Store) scanRequests(q *gorm.DB) ([]booking.Request, error) {
	var rows []requestRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, wrap(err)
	}
	out := make([]booking.Request, 0, len(rows))
	for _, r := range rows {
		req, err := r.request()
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (s *Store) InsertRequest(ctx context.Context, r booking.Request) (booking.Request, error) {
	m := RequestModel{
		UserID:        r.UserID,
		CourseID:      r.CourseID,
		DesiredDate:   r.DesiredDate.Format(booking.DateLayout),
		EarliestTime:  int(r.EarliestTime),
		LatestTime:    int(r.LatestTime),
		Players:       r.Players,
		ExecutionTime: r.ExecutionTime.Unix(),
		Status:        string(r.Status),
		ResultLog:     r.ResultLog,
		CreatedAt:     r.CreatedAt.UnixMicro(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return booking.Request{}, wrap(err)
	}
	return requestRow{RequestModel: m}.request()
}

func (s *Store) GetRequest(ctx context.Context, id int64) (booking.Request, error) {
	var row requestRow
	if err := s.requests(ctx).Where("r.id = ?", id).Take(&row).Error; err != nil {
		return booking.Request{}, wrap(err)
	}
	return row.request()
}

func (s *Store) ListRequests(ctx context.Context, f booking.Filter) ([]booking.Request, error) {
	q := s.requests(ctx)
	if f.UserID != 0 {
		q = q.Where("r.user_id = ?", f.UserID)
	}
	return s.scanRequests(q.Order("r.created_at DESC, r.id DESC"))
}

func (s *Store) TransitionRequest(ctx context.Context, t booking.Transition) (bool, error) {
	at := t.At.UnixMicro()
	set := map[string]any{"status": string(t.To), "result_log": t.Log}
	switch {
	case t.To == booking.StatusRunning:
		set["started_at"] = at
		set["claimed_by"] = t.ClaimedBy
	case t.To.Terminal():
		set["finished_at"] = at
	}
	res := s.db.WithContext(ctx).Model(&RequestModel{}).
		Where("id = ? AND status = ?", t.ID, string(t.From)).
		Updates(set)
	if res.Error != nil {
		return false, wrap(res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) DueRequests(ctx context.Context, now time.Time, limit int) ([]booking.Request, error) {
	return s.scanRequests(s.requests(ctx).
		Where("r.status = ? AND r.execution_time <= ?", string(booking.StatusPending), now.Unix()).
		Order("r.execution_time ASC, r.id ASC").
		Limit(limit))
}

func (s *Store) StaleRequests(ctx context.Context, cutoff time.Time, limit int) ([]booking.Request, error) {
	return s.scanRequests(s.requests(ctx).
		Where("r.status = ? AND r.started_at < ?", string(booking.StatusRunning), cutoff.UnixMicro()).
		Order("r.started_at ASC, r.id ASC").
		Limit(limit))
}

func (s *Store) NextPendingAt(ctx context.Context) (*time.Time, error) {
	var next sql.NullInt64
	err := s.db.WithContext(ctx).Model(&RequestModel{}).
		Select("MIN(execution_time)").
		Where("status = ?", string(booking.StatusPending)).
		Row().Scan(&next)
	if err != nil {
		return nil, wrap(err)
	}
	if !next.Valid {
		return nil, nil
	}
	t := time.Unix(next.Int64, 0).UTC()
	return &t, nil
}

package executor

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/example/teetime-scheduler/internal/booking"
)

type Slot struct {
	Start booking.Clock
	Open  bool
}

// ChooseSlot returns the earliest open slot whose start falls inside
// [earliest, latest]. Slots need not be sorted.
func ChooseSlot(slots []Slot, earliest, latest booking.Clock) (Slot, bool) {
	var (
		best  Slot
		found bool
	)
	for _, s := range slots {
		if !s.Open || s.Start < earliest || s.Start > latest {
			continue
		}
		if !found || s.Start < best.Start {
			best, found = s, true
		}
	}
	return best, found
}

// Simulator is a deterministic stand-in for a course booking site. Each day
// has a tee sheet from First to Last every Interval; Taken decides which
// slots are already gone.
type Simulator struct {
	First    booking.Clock
	Last     booking.Clock
	Interval time.Duration
	// Delay stands in for the time a real site takes to respond.
	Delay time.Duration
	Taken func(courseID int64, date time.Time, start booking.Clock) bool
}

func NewSimulator() *Simulator {
	return &Simulator{
		First:    booking.NewClock(6, 0, 0),
		Last:     booking.NewClock(18, 0, 0),
		Interval: 8 * time.Minute,
		Taken:    hashedTaken,
	}
}

// hashedTaken marks roughly a third of the sheet as booked, the same third
// every time for a given course and date.
func hashedTaken(courseID int64, date time.Time, start booking.Clock) bool {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d/%s/%d", courseID, date.Format(booking.DateLayout), int(start))
	return h.Sum32()%3 == 0
}

// TeeSheet lists every slot for the job's course and date.
func (s *Simulator) TeeSheet(courseID int64, date time.Time) []Slot {
	step := booking.Clock(s.Interval / time.Second)
	if step <= 0 {
		step = booking.Clock(10 * 60)
	}
	var out []Slot
	for c := s.First; c <= s.Last; c += step {
		open := true
		if s.Taken != nil {
			open = !s.Taken(courseID, date, c)
		}
		out = append(out, Slot{Start: c, Open: open})
	}
	return out
}

func (s *Simulator) Attempt(ctx context.Context, job Job) (Result, error) {
	if s.Delay > 0 {
		t := time.NewTimer(s.Delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	req := job.Request
	date := req.DesiredDate.Format(booking.DateLayout)
	slot, ok := ChooseSlot(s.TeeSheet(job.Course.ID, req.DesiredDate), req.EarliestTime, req.LatestTime)
	if !ok {
		return Result{
			Succeeded: false,
			Log: fmt.Sprintf("no slots available between %s and %s on %s at %s",
				req.EarliestTime.HHMM(), req.LatestTime.HHMM(), date, job.Course.Name),
		}, nil
	}
	return Result{
		Succeeded: true,
		Log: fmt.Sprintf("booked slot %s for %d players on %s at %s as %s",
			slot.Start.HHMM(), req.Players, date, job.Course.Name, job.Login),
	}, nil
}

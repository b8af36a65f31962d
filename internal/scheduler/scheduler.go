package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/example/teetime-scheduler/internal/booking"
	"github.com/example/teetime-scheduler/internal/catalog"
	"github.com/example/teetime-scheduler/internal/executor"
	"github.com/example/teetime-scheduler/internal/internaltypes"
	"github.com/example/teetime-scheduler/internal/metrics"
	"github.com/example/teetime-scheduler/internal/vault"
	"github.com/google/uuid"
)

// MissingCredentialLog is the result_log for a request whose owner removed,
// or never stored, the course login before it fired.
const MissingCredentialLog = "Missing credentials. Please configure them on the Credentials page."

const (
	// ShutdownLog marks an attempt cut short by the dispatcher stopping. The
	// course site may still have taken the booking.
	ShutdownLog = "dispatcher shut down mid-attempt; the booking may or may not have gone through, check the course site"

	NoSuccessDetailLog = "booked (no detail from executor)"
	NoFailureDetailLog = "executor reported failure without detail"
)

type Requests interface {
	Due(ctx context.Context, now time.Time, limit int) ([]booking.Request, error)
	Stale(ctx context.Context, cutoff time.Time, limit int) ([]booking.Request, error)
	NextPending(ctx context.Context) (*time.Time, error)
	Claim(ctx context.Context, id int64, claimedBy, note string) (bool, error)
	Finish(ctx context.Context, id int64, to booking.Status, log string) (bool, error)
}

type Credentials interface {
	Resolve(ctx context.Context, userID, courseID int64) (vault.Credential, error)
}

type Courses interface {
	Get(ctx context.Context, id int64) (catalog.Course, error)
}

// Dispatcher fires PENDING requests once their execution_time arrives. Any
// number of dispatchers may run against the same store: the PENDING -> RUNNING
// claim is the only gate, so each request executes at most once.
type Dispatcher struct {
	Requests    Requests
	Credentials Credentials
	Courses     Courses
	Executor    executor.Executor

	Interval    time.Duration
	Batch       int
	RunTimeout  time.Duration
	MaxLateness time.Duration // 0 = no bound

	InstanceID string
	Now        func() time.Time
	Log        *slog.Logger
	Metrics    metrics.Recorder

	initOnce sync.Once
	wake     chan struct{}
	wg       sync.WaitGroup
}

func (d *Dispatcher) init() {
	d.initOnce.Do(func() {
		d.wake = make(chan struct{}, 1)
		if d.InstanceID == "" {
			d.InstanceID = uuid.NewString()
		}
		if d.Interval <= 0 {
			d.Interval = time.Second
		}
		if d.Batch <= 0 {
			d.Batch = 50
		}
		if d.RunTimeout <= 0 {
			d.RunTimeout = 10 * time.Minute
		}
		if d.Log == nil {
			d.Log = slog.Default()
		}
		d.Log = d.Log.With(slog.String("component", "dispatcher"), slog.String("instance", d.InstanceID))
		d.Metrics = metrics.Or(d.Metrics)
	})
}

func (d *Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

// Wake asks a running loop to re-plan now, e.g. after a request was created.
func (d *Dispatcher) Wake() {
	d.init()
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run loops until ctx is cancelled, then waits for in-flight executions.
// Between passes it sleeps until the next PENDING execution_time or Interval,
// whichever is sooner.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.init()
	d.Log.Info("dispatcher started",
		slog.Duration("interval", d.Interval),
		slog.Duration("run_timeout", d.RunTimeout),
		slog.Duration("max_lateness", d.MaxLateness),
	)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			d.Log.Info("dispatcher stopped")
			return ctx.Err()
		case <-timer.C:
		case <-d.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.Log.Error("dispatch pass failed", slog.Any("error", err))
		}
		timer.Reset(d.untilNext(ctx))
	}
}

func (d *Dispatcher) untilNext(ctx context.Context) time.Duration {
	wait := d.Interval
	next, err := d.Requests.NextPending(ctx)
	if err != nil || next == nil {
		return wait
	}
	if until := next.Sub(d.now()); until < wait {
		wait = max(until, 0)
	}
	return wait
}

// RunOnce makes a single pass: fail timed-out RUNNING requests, then claim
// and start every due PENDING request in execution_time order. It returns
// how many requests this pass claimed. Executions continue in the
// background; Wait blocks until they finish.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	d.init()
	now := d.now()

	if err := d.reap(ctx, now); err != nil {
		d.Log.Error("reap stale requests", slog.Any("error", err))
	}

	due, err := d.Requests.Due(ctx, now, d.Batch)
	if err != nil {
		return 0, fmt.Errorf("due requests: %w", err)
	}

	claimed := 0
	for _, r := range due {
		if ctx.Err() != nil {
			break
		}
		lag := now.Sub(r.ExecutionTime)
		note := fmt.Sprintf("dispatched at %s by %s", now.Format(time.RFC3339), d.InstanceID)
		won, err := d.Requests.Claim(ctx, r.ID, d.InstanceID, note)
		if err != nil {
			d.Log.Error("claim request", slog.Int64("booking_id", r.ID), slog.Any("error", err))
			continue
		}
		if !won {
			// another dispatcher or a cancel got there first
			continue
		}
		claimed++
		d.Metrics.RequestClaimed(lag)

		if d.MaxLateness > 0 && lag > d.MaxLateness {
			msg := fmt.Sprintf("not attempted: fired %s after execution_time, beyond the %s lateness bound",
				lag.Round(time.Second), d.MaxLateness)
			d.Log.Warn("request too late", slog.Int64("booking_id", r.ID), slog.Duration("lag", lag))
			d.finish(ctx, r.ID, booking.StatusFailed, msg, now)
			continue
		}

		d.Log.Info("request claimed", slog.Int64("booking_id", r.ID), slog.Duration("lag", lag))
		d.wg.Add(1)
		go func(r booking.Request) {
			defer d.wg.Done()
			d.execute(ctx, r)
		}(r)
	}
	return claimed, nil
}

// Wait blocks until every execution started by RunOnce has recorded its outcome.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) reap(ctx context.Context, now time.Time) error {
	stale, err := d.Requests.Stale(ctx, now.Add(-d.RunTimeout), d.Batch)
	if err != nil {
		return err
	}
	for _, r := range stale {
		msg := fmt.Sprintf("dispatch timeout: still RUNNING %s after it was claimed by %s",
			d.RunTimeout, r.ClaimedBy)
		ok, err := d.Requests.Finish(ctx, r.ID, booking.StatusFailed, msg)
		if err != nil {
			d.Log.Error("fail stale request", slog.Int64("booking_id", r.ID), slog.Any("error", err))
			continue
		}
		if ok {
			d.Metrics.DispatchTimeout()
			d.Log.Warn("request timed out", slog.Int64("booking_id", r.ID), slog.String("claimed_by", r.ClaimedBy))
		}
	}
	return nil
}

func (d *Dispatcher) execute(ctx context.Context, r booking.Request) {
	started := d.now()
	runCtx, cancel := context.WithTimeout(ctx, d.RunTimeout)
	defer cancel()

	status, msg := d.attempt(runCtx, r)
	d.finish(ctx, r.ID, status, msg, started)
}

// attempt never returns an error: every failure becomes a FAILED outcome with
// a log the owner can read.
func (d *Dispatcher) attempt(ctx context.Context, r booking.Request) (status booking.Status, msg string) {
	defer func() {
		if p := recover(); p != nil {
			d.Log.Error("executor panic", slog.Int64("booking_id", r.ID), slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
			status, msg = booking.StatusFailed, fmt.Sprintf("Error: executor panic: %v", p)
		}
	}()

	course, err := d.Courses.Get(ctx, r.CourseID)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return booking.StatusFailed, ShutdownLog
	}
	if err != nil {
		return booking.StatusFailed, fmt.Sprintf("Error: load course %d: %v", r.CourseID, err)
	}

	cred, err := d.Credentials.Resolve(ctx, r.UserID, r.CourseID)
	if errors.Is(err, internaltypes.ErrMissingCredential) {
		return booking.StatusFailed, MissingCredentialLog
	}
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return booking.StatusFailed, ShutdownLog
	}
	if err != nil {
		return booking.StatusFailed, fmt.Sprintf("Error: load credential: %v", err)
	}

	res, err := d.Executor.Attempt(ctx, executor.Job{
		Request: r,
		Course:  course,
		Login:   cred.Login,
		Secret:  cred.Secret,
	})
	switch {
	case err == nil && res.Succeeded:
		// a result in hand stands even if it arrived after the deadline
		if res.Log == "" {
			return booking.StatusSuccess, NoSuccessDetailLog
		}
		return booking.StatusSuccess, res.Log
	case err == nil:
		if res.Log == "" {
			return booking.StatusFailed, NoFailureDetailLog
		}
		return booking.StatusFailed, res.Log
	case errors.Is(err, context.DeadlineExceeded):
		d.Metrics.DispatchTimeout()
		return booking.StatusFailed, fmt.Sprintf("dispatch timeout: no result within %s", d.RunTimeout)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		return booking.StatusFailed, ShutdownLog
	default:
		return booking.StatusFailed, fmt.Sprintf("Error: %v", err)
	}
}

func (d *Dispatcher) finish(ctx context.Context, id int64, status booking.Status, msg string, started time.Time) {
	// Record the outcome even when shutdown cancelled ctx mid-run.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	ok, err := d.Requests.Finish(wctx, id, status, msg)
	if err != nil {
		d.Log.Error("record outcome", slog.Int64("booking_id", id), slog.Any("error", err))
		return
	}
	if !ok {
		// the reaper already failed it
		d.Log.Warn("outcome discarded, request no longer RUNNING", slog.Int64("booking_id", id), slog.String("status", string(status)))
		return
	}
	d.Metrics.RequestFinished(string(status), d.now().Sub(started))
	d.Log.Info("request finished", slog.Int64("booking_id", id), slog.String("status", string(status)))
}

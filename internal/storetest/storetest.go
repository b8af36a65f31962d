// Package storetest is the behaviour every storage backend must share. Backends
// call Run from their own tests with a constructor for an empty store.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/teetime-scheduler/internal/auth"
	"github.com/example/teetime-scheduler/internal/booking"
	"github.com/example/teetime-scheduler/internal/catalog"
	"github.com/example/teetime-scheduler/internal/internaltypes"
	"github.com/example/teetime-scheduler/internal/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Store interface {
	auth.Store
	catalog.Store
	vault.Store
	booking.Store
}

var base = time.Date(2025, 7, 25, 8, 0, 0, 0, time.UTC)

func Run(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Courses", func(t *testing.T) { testCourses(t, newStore(t)) })
	t.Run("Credentials", func(t *testing.T) { testCredentials(t, newStore(t)) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore(t)) })
	t.Run("RequestListing", func(t *testing.T) { testRequestListing(t, newStore(t)) })
	t.Run("Transitions", func(t *testing.T) { testTransitions(t, newStore(t)) })
	t.Run("ConcurrentClaim", func(t *testing.T) { testConcurrentClaim(t, newStore(t)) })
	t.Run("DueAndStale", func(t *testing.T) { testDueAndStale(t, newStore(t)) })
}

func seed(t *testing.T, s Store) (auth.User, auth.User, catalog.Course) {
	t.Helper()
	ctx := context.Background()
	alice, err := s.CreateUser(ctx, auth.User{Username: "alice", PasswordHash: "h1", SessionVersion: 1})
	require.NoError(t, err)
	bob, err := s.CreateUser(ctx, auth.User{Username: "bob", PasswordHash: "h2", SessionVersion: 1})
	require.NoError(t, err)
	course, err := s.CreateCourse(ctx, catalog.Course{Name: "Cypress Point (Demo)", LogicType: catalog.LogicSimulate})
	require.NoError(t, err)
	return alice, bob, course
}

func newRequest(userID, courseID int64, exec, created time.Time) booking.Request {
	return booking.Request{
		UserID:        userID,
		CourseID:      courseID,
		DesiredDate:   time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
		EarliestTime:  booking.NewClock(8, 0, 0),
		LatestTime:    booking.NewClock(10, 30, 0),
		Players:       4,
		ExecutionTime: exec,
		Status:        booking.StatusPending,
		CreatedAt:     created,
	}
}

func testUsers(t *testing.T, s Store) {
	ctx := context.Background()
	u, err := s.CreateUser(ctx, auth.User{Username: "golfer", PasswordHash: "hash", MustChangePassword: true, SessionVersion: 1})
	require.NoError(t, err)
	assert.NotZero(t, u.ID)
	assert.True(t, u.MustChangePassword)
	assert.Equal(t, 1, u.SessionVersion)

	_, err = s.CreateUser(ctx, auth.User{Username: "golfer", PasswordHash: "x"})
	assert.True(t, internaltypes.IsValidation(err), "duplicate username: %v", err)

	byName, err := s.UserByUsername(ctx, "golfer")
	require.NoError(t, err)
	assert.Equal(t, u.ID, byName.ID)

	_, err = s.UserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, internaltypes.ErrNotFound)
	_, err = s.UserByID(ctx, u.ID+1000)
	assert.ErrorIs(t, err, internaltypes.ErrNotFound)

	updated, err := s.UpdatePassword(ctx, u.ID, "hash2", false)
	require.NoError(t, err)
	assert.Equal(t, "hash2", updated.PasswordHash)
	assert.False(t, updated.MustChangePassword)
	assert.Equal(t, 2, updated.SessionVersion)

	require.NoError(t, s.SetStaff(ctx, u.ID, true))
	staff, err := s.UserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.True(t, staff.IsStaff)
	assert.ErrorIs(t, s.SetStaff(ctx, u.ID+1000, true), internaltypes.ErrNotFound)
}

func testCourses(t *testing.T, s Store) {
	ctx := context.Background()
	b, err := s.CreateCourse(ctx, catalog.Course{Name: "Schenectady Muni", LogicType: catalog.LogicSchenectady})
	require.NoError(t, err)
	a, err := s.CreateCourse(ctx, catalog.Course{Name: "Albany Muni", ProviderURL: "https://foreupsoftware.com/x", LogicType: catalog.LogicForeUp})
	require.NoError(t, err)

	cs, err := s.ListCourses(ctx)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, a.ID, cs[0].ID)
	assert.Equal(t, b.ID, cs[1].ID)

	got, err := s.GetCourse(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://foreupsoftware.com/x", got.ProviderURL)

	_, err = s.GetCourse(ctx, a.ID+b.ID+100)
	assert.ErrorIs(t, err, internaltypes.ErrNotFound)
}

func testCredentials(t *testing.T, s Store) {
	ctx := context.Background()
	alice, bob, course := seed(t, s)

	_, err := s.GetCredential(ctx, alice.ID, course.ID)
	assert.ErrorIs(t, err, internaltypes.ErrNotFound)
	_, err = s.UpdateCredentialLogin(ctx, alice.ID, course.ID, "a@x", base)
	assert.ErrorIs(t, err, internaltypes.ErrNotFound)

	r, err := s.PutCredential(ctx, vault.Record{UserID: alice.ID, CourseID: course.ID, Login: "a@x", SecretEnc: "enc1", CreatedAt: base, UpdatedAt: base})
	require.NoError(t, err)
	assert.Equal(t, "Cypress Point (Demo)", r.CourseName)

	later := base.Add(time.Hour)
	r, err = s.PutCredential(ctx, vault.Record{UserID: alice.ID, CourseID: course.ID, Login: "a2@x", SecretEnc: "enc2", CreatedAt: later, UpdatedAt: later})
	require.NoError(t, err)
	assert.Equal(t, "a2@x", r.Login)
	assert.Equal(t, "enc2", r.SecretEnc)
	assert.True(t, r.CreatedAt.Equal(base), "created_at survives replace")

	r, err = s.UpdateCredentialLogin(ctx, alice.ID, course.ID, "a3@x", later)
	require.NoError(t, err)
	assert.Equal(t, "a3@x", r.Login)
	assert.Equal(t, "enc2", r.SecretEnc)

	list, err := s.ListCredentials(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)

	list, err = s.ListCredentials(ctx, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

// Every column must survive a write and come back through each read path.
func testRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	alice, _, course := seed(t, s)

	want := booking.Request{
		UserID:        alice.ID,
		CourseID:      course.ID,
		DesiredDate:   time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC),
		EarliestTime:  booking.NewClock(7, 15, 30),
		LatestTime:    booking.NewClock(9, 45, 0),
		Players:       3,
		ExecutionTime: base.Add(90 * time.Second),
		Status:        booking.StatusPending,
		CreatedAt:     base.Add(-time.Hour),
	}
	ins, err := s.InsertRequest(ctx, want)
	require.NoError(t, err)
	require.NotZero(t, ins.ID)

	check := func(t *testing.T, got booking.Request) {
		t.Helper()
		assert.Equal(t, ins.ID, got.ID)
		assert.Equal(t, alice.ID, got.UserID)
		assert.Equal(t, course.ID, got.CourseID)
		assert.Equal(t, "alice", got.OwnerUsername)
		assert.Equal(t, course.Name, got.CourseName)
		assert.Equal(t, "2025-08-02", got.DesiredDate.Format(booking.DateLayout))
		assert.Equal(t, want.EarliestTime, got.EarliestTime)
		assert.Equal(t, want.LatestTime, got.LatestTime)
		assert.Equal(t, 3, got.Players)
		assert.True(t, got.ExecutionTime.Equal(want.ExecutionTime), "execution_time %s", got.ExecutionTime)
		assert.Equal(t, booking.StatusPending, got.Status)
		assert.Empty(t, got.ResultLog)
		assert.Empty(t, got.ClaimedBy)
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.FinishedAt)
		assert.True(t, got.CreatedAt.Equal(want.CreatedAt), "created_at %s", got.CreatedAt)
	}

	got, err := s.GetRequest(ctx, ins.ID)
	require.NoError(t, err)
	check(t, got)

	due, err := s.DueRequests(ctx, want.ExecutionTime, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	check(t, due[0])

	listed, err := s.ListRequests(ctx, booking.Filter{UserID: alice.ID})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	check(t, listed[0])

	at := want.ExecutionTime.Add(time.Second)
	ok, err := s.TransitionRequest(ctx, booking.Transition{ID: ins.ID, From: booking.StatusPending, To: booking.StatusRunning, Log: "dispatched", ClaimedBy: "node-a", At: at})
	require.NoError(t, err)
	require.True(t, ok)

	stale, err := s.StaleRequests(ctx, at.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, ins.ID, stale[0].ID)
	assert.Equal(t, booking.StatusRunning, stale[0].Status)
	assert.Equal(t, "dispatched", stale[0].ResultLog)
	assert.Equal(t, "node-a", stale[0].ClaimedBy)
	require.NotNil(t, stale[0].StartedAt)
	assert.True(t, stale[0].StartedAt.Equal(at))

	enc := "nonce+ciphertext"
	_, err = s.PutCredential(ctx, vault.Record{UserID: alice.ID, CourseID: course.ID, Login: "alice@example.com", SecretEnc: enc, CreatedAt: base, UpdatedAt: base})
	require.NoError(t, err)

	cred, err := s.GetCredential(ctx, alice.ID, course.ID)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, cred.UserID)
	assert.Equal(t, course.ID, cred.CourseID)
	assert.Equal(t, course.Name, cred.CourseName)
	assert.Equal(t, "alice@example.com", cred.Login)
	assert.Equal(t, enc, cred.SecretEnc)
	assert.True(t, cred.CreatedAt.Equal(base))
	assert.True(t, cred.UpdatedAt.Equal(base))

	creds, err := s.ListCredentials(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "alice@example.com", creds[0].Login)
	assert.Equal(t, enc, creds[0].SecretEnc)
}

func testRequestListing(t *testing.T, s Store) {
	ctx := context.Background()
	alice, bob, course := seed(t, s)

	r1, err := s.InsertRequest(ctx, newRequest(alice.ID, course.ID, base.Add(time.Hour), base))
	require.NoError(t, err)
	// same created_at: the higher id lists first
	r2, err := s.InsertRequest(ctx, newRequest(alice.ID, course.ID, base.Add(2*time.Hour), base))
	require.NoError(t, err)
	r3, err := s.InsertRequest(ctx, newRequest(bob.ID, course.ID, base.Add(time.Hour), base.Add(time.Minute)))
	require.NoError(t, err)
	assert.Less(t, r1.ID, r2.ID)

	got, err := s.GetRequest(ctx, r1.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.OwnerUsername)
	assert.Equal(t, course.Name, got.CourseName)
	assert.Equal(t, booking.NewClock(8, 0, 0), got.EarliestTime)
	assert.Equal(t, booking.NewClock(10, 30, 0), got.LatestTime)
	assert.Equal(t, "2025-08-01", got.DesiredDate.Format(booking.DateLayout))
	assert.True(t, got.ExecutionTime.Equal(base.Add(time.Hour)))
	assert.Equal(t, booking.StatusPending, got.Status)
	assert.Nil(t, got.StartedAt)

	_, err = s.GetRequest(ctx, r3.ID+100)
	assert.ErrorIs(t, err, internaltypes.ErrNotFound)

	mine, err := s.ListRequests(ctx, booking.Filter{UserID: alice.ID})
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, []int64{r2.ID, r1.ID}, []int64{mine[0].ID, mine[1].ID})

	all, err := s.ListRequests(ctx, booking.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, r3.ID, all[0].ID)
	assert.Equal(t, "bob", all[0].OwnerUsername)
}

func testTransitions(t *testing.T, s Store) {
	ctx := context.Background()
	alice, _, course := seed(t, s)
	r, err := s.InsertRequest(ctx, newRequest(alice.ID, course.ID, base, base.Add(-time.Hour)))
	require.NoError(t, err)

	// wrong expected status does nothing
	ok, err := s.TransitionRequest(ctx, booking.Transition{ID: r.ID, From: booking.StatusRunning, To: booking.StatusSuccess, At: base})
	require.NoError(t, err)
	assert.False(t, ok)

	claimAt := base.Add(2 * time.Second)
	ok, err = s.TransitionRequest(ctx, booking.Transition{ID: r.ID, From: booking.StatusPending, To: booking.StatusRunning, Log: "running", ClaimedBy: "node-a", At: claimAt})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusRunning, got.Status)
	assert.Equal(t, "node-a", got.ClaimedBy)
	require.NotNil(t, got.StartedAt)
	assert.True(t, got.StartedAt.Equal(claimAt))
	assert.True(t, got.ExecutionTime.Equal(base), "execution_time untouched")

	ok, err = s.TransitionRequest(ctx, booking.Transition{ID: r.ID, From: booking.StatusRunning, To: booking.StatusFailed, Log: "no slots available", At: claimAt.Add(time.Second)})
	require.NoError(t, err)
	assert.True(t, ok)

	got, err = s.GetRequest(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusFailed, got.Status)
	assert.Equal(t, "no slots available", got.ResultLog)
	require.NotNil(t, got.FinishedAt)

	ok, err = s.TransitionRequest(ctx, booking.Transition{ID: r.ID, From: booking.StatusRunning, To: booking.StatusSuccess, At: base})
	require.NoError(t, err)
	assert.False(t, ok, "terminal rows never move")
}

func testConcurrentClaim(t *testing.T, s Store) {
	ctx := context.Background()
	alice, _, course := seed(t, s)
	r, err := s.InsertRequest(ctx, newRequest(alice.ID, course.ID, base, base.Add(-time.Hour)))
	require.NoError(t, err)

	var (
		wins atomic.Int32
		wg   sync.WaitGroup
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TransitionRequest(ctx, booking.Transition{
				ID: r.ID, From: booking.StatusPending, To: booking.StatusRunning,
				ClaimedBy: string(rune('a' + i)), At: base,
			})
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func testDueAndStale(t *testing.T, s Store) {
	ctx := context.Background()
	alice, bob, course := seed(t, s)

	next, err := s.NextPendingAt(ctx)
	require.NoError(t, err)
	assert.Nil(t, next)

	late, err := s.InsertRequest(ctx, newRequest(bob.ID, course.ID, base.Add(5*time.Second), base))
	require.NoError(t, err)
	early, err := s.InsertRequest(ctx, newRequest(alice.ID, course.ID, base.Add(5*time.Second), base))
	require.NoError(t, err)
	first, err := s.InsertRequest(ctx, newRequest(alice.ID, course.ID, base, base))
	require.NoError(t, err)
	_, err = s.InsertRequest(ctx, newRequest(alice.ID, course.ID, base.Add(time.Hour), base))
	require.NoError(t, err)

	due, err := s.DueRequests(ctx, base.Add(5*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, due, 3)
	assert.Equal(t, []int64{first.ID, late.ID, early.ID}, []int64{due[0].ID, due[1].ID, due[2].ID})

	limited, err := s.DueRequests(ctx, base.Add(5*time.Second), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	next, err = s.NextPendingAt(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.True(t, next.Equal(base))

	ok, err := s.TransitionRequest(ctx, booking.Transition{ID: first.ID, From: booking.StatusPending, To: booking.StatusRunning, ClaimedBy: "n", At: base})
	require.NoError(t, err)
	require.True(t, ok)

	stale, err := s.StaleRequests(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, first.ID, stale[0].ID)

	stale, err = s.StaleRequests(ctx, base, 10)
	require.NoError(t, err)
	assert.Empty(t, stale)
}

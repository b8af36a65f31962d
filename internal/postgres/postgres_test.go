package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/example/teetime-scheduler/internal/db"
	"github.com/example/teetime-scheduler/internal/migrate"
	"github.com/example/teetime-scheduler/internal/postgres"
	"github.com/example/teetime-scheduler/internal/storetest"
	"github.com/stretchr/testify/require"
)

func TestStore_ImplementsBackend(t *testing.T) {
	var _ storetest.Store = (*postgres.Store)(nil)
}

// TestStore runs against a scratch database named by TEST_DATABASE_URL. The
// tables are truncated before each subtest.
func TestStore(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, migrate.Up(url))

	ctx := context.Background()
	d, err := db.Open(ctx, url)
	require.NoError(t, err)
	t.Cleanup(d.Close)

	storetest.Run(t, func(t *testing.T) storetest.Store {
		_, err := d.Exec(ctx, `TRUNCATE booking_requests, credentials, courses, users RESTART IDENTITY CASCADE`)
		require.NoError(t, err)
		return postgres.NewStore(d)
	})
}

// ABOUTME: Tests for attempt recording, failure counters, and retention sweeps
// ABOUTME: Metrics asserted through a private Prometheus registry

package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/passkey-auth/internal/store"
)

func newTestRecorder(t *testing.T, opts Options) (*Recorder, *store.SQLiteStore) {
	t.Helper()
	db, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cache := store.NewMemoryCache(time.Hour)
	t.Cleanup(cache.Close)

	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}
	return New(cache, db, opts), db
}

func TestRecordAttempt_FailureCounter(t *testing.T) {
	rec, _ := newTestRecorder(t, Options{})
	ctx := context.Background()

	assert.Equal(t, 0, rec.FailureCount(ctx, "user-1"))

	for i := 0; i < 3; i++ {
		rec.RecordAttempt(ctx, Attempt{
			UserID:  "user-1",
			Success: false,
			Err:     errors.New("verification failed"),
		})
	}
	rec.RecordAttempt(ctx, Attempt{UserID: "user-1", Success: true})
	rec.RecordAttempt(ctx, Attempt{UserID: "user-2", Success: false})

	assert.Equal(t, 3, rec.FailureCount(ctx, "user-1"), "successes must not bump the counter")
	assert.Equal(t, 1, rec.FailureCount(ctx, "user-2"))
}

func TestRecordAttempt_FailureCounterExpires(t *testing.T) {
	rec, _ := newTestRecorder(t, Options{FailureTTL: time.Millisecond})
	ctx := context.Background()

	rec.RecordAttempt(ctx, Attempt{UserID: "user-1", Success: false})
	time.Sleep(5 * time.Millisecond)

	assert.Equal(t, 0, rec.FailureCount(ctx, "user-1"), "counter must expire with its TTL")
}

func TestRecordAttempt_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, _ := newTestRecorder(t, Options{Registerer: reg})
	ctx := context.Background()

	rec.RecordAttempt(ctx, Attempt{UserID: "user-1", Success: true, Duration: 40 * time.Millisecond})
	rec.RecordAttempt(ctx, Attempt{UserID: "user-1", Success: false})

	assert.Equal(t, 1.0, testutil.ToFloat64(rec.attempts.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.attempts.WithLabelValues("failure")))
}

func TestCacheFallback_Metric(t *testing.T) {
	rec, _ := newTestRecorder(t, Options{})

	rec.CacheFallback("get", errors.New("connection refused"))
	rec.CacheFallback("set", errors.New("connection refused"))

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.cacheFallbacks))
}

func TestRecordAttempt_WritesAuditRow(t *testing.T) {
	rec, db := newTestRecorder(t, Options{})
	ctx := context.Background()

	rec.RecordAttempt(ctx, Attempt{
		UserID:       "user-1",
		CredentialID: "cred-1",
		RemoteAddr:   "203.0.113.7",
		Success:      false,
		Err:          errors.New("verification failed"),
	})

	n, err := db.CountRecentFailures(ctx, "user-1", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCleanup_RetentionSweep(t *testing.T) {
	rec, db := newTestRecorder(t, Options{Retention: time.Hour})
	ctx := context.Background()

	require.NoError(t, db.RecordAuthAttempt(ctx, &store.AuthAttempt{
		UserID:    "user-1",
		Success:   false,
		CreatedAt: time.Now().Add(-2 * time.Hour),
	}))
	require.NoError(t, db.RecordAuthAttempt(ctx, &store.AuthAttempt{
		UserID:  "user-1",
		Success: false,
	}))

	rec.Cleanup(ctx)

	n, err := db.CountRecentFailures(ctx, "user-1", time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only the aged row is swept")
}

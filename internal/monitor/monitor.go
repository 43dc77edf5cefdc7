// ABOUTME: Security event recording for authentication attempts
// ABOUTME: Structured logs, rolling failure counters, Prometheus metrics, audit retention

package monitor

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/2389/passkey-auth/internal/store"
)

// Defaults applied when Options fields are zero.
const (
	DefaultSlowThreshold = 2 * time.Second
	DefaultFailureTTL    = 15 * time.Minute
	DefaultRetention     = 30 * 24 * time.Hour
)

// AuditStore is the durable sink for attempt rows.
type AuditStore interface {
	RecordAuthAttempt(ctx context.Context, attempt *store.AuthAttempt) error
	DeleteAuthAttemptsBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Attempt is one authentication attempt outcome.
type Attempt struct {
	UserID       string
	CredentialID string
	RemoteAddr   string
	Success      bool
	Duration     time.Duration
	Err          error
}

// Options configures a Recorder.
type Options struct {
	// SlowThreshold is the duration past which an attempt gets its own
	// degradation event.
	SlowThreshold time.Duration
	// FailureTTL is the rolling window of the per-identity failure counter.
	FailureTTL time.Duration
	// Retention is how long audit rows are kept.
	Retention time.Duration
	// Registerer receives the Prometheus collectors; nil uses the default
	// registerer.
	Registerer prometheus.Registerer
}

// Recorder emits one structured security event per authentication attempt
// and maintains the supporting signals: a TTL-backed per-identity failure
// counter (input for a future lockout policy), Prometheus counters and a
// latency histogram, and durable audit rows swept by retention.
//
// Recording is never required for protocol correctness; sink failures are
// logged and swallowed.
type Recorder struct {
	logger *slog.Logger
	cache  store.KV
	audit  AuditStore

	slowThreshold time.Duration
	failureTTL    time.Duration
	retention     time.Duration

	attempts       *prometheus.CounterVec
	duration       prometheus.Histogram
	cacheFallbacks prometheus.Counter
}

// New creates a Recorder. cache holds the rolling failure counters; audit
// may be nil to disable durable attempt rows.
func New(cache store.KV, audit AuditStore, opts Options) *Recorder {
	if opts.SlowThreshold <= 0 {
		opts.SlowThreshold = DefaultSlowThreshold
	}
	if opts.FailureTTL <= 0 {
		opts.FailureTTL = DefaultFailureTTL
	}
	if opts.Retention <= 0 {
		opts.Retention = DefaultRetention
	}
	reg := opts.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		logger:        slog.Default().With("component", "monitor"),
		cache:         cache,
		audit:         audit,
		slowThreshold: opts.SlowThreshold,
		failureTTL:    opts.FailureTTL,
		retention:     opts.Retention,
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "passkey_auth_attempts_total",
			Help: "Authentication attempts by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "passkey_auth_duration_seconds",
			Help:    "Authentication ceremony duration.",
			Buckets: prometheus.DefBuckets,
		}),
		cacheFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "passkey_cache_fallbacks_total",
			Help: "Cache-tier failures that fell back to the durable tier.",
		}),
	}
}

// RecordAttempt emits the security event for one attempt and updates the
// derived signals.
func (r *Recorder) RecordAttempt(ctx context.Context, a Attempt) {
	outcome := "success"
	errMsg := ""
	if !a.Success {
		outcome = "failure"
		if a.Err != nil {
			errMsg = a.Err.Error()
		}
	}

	r.logger.Info("authentication attempt",
		"user_id", a.UserID,
		"credential_id", a.CredentialID,
		"remote_addr", a.RemoteAddr,
		"outcome", outcome,
		"duration_ms", a.Duration.Milliseconds(),
		"error", errMsg,
	)

	r.attempts.WithLabelValues(outcome).Inc()
	r.duration.Observe(a.Duration.Seconds())

	if a.Duration > r.slowThreshold {
		// Distinct event: latency like this means backend degradation or abuse.
		r.logger.Warn("slow authentication attempt",
			"user_id", a.UserID,
			"remote_addr", a.RemoteAddr,
			"duration_ms", a.Duration.Milliseconds(),
			"threshold_ms", r.slowThreshold.Milliseconds(),
		)
	}

	if !a.Success && a.UserID != "" {
		r.bumpFailureCounter(ctx, a.UserID)
	}

	if r.audit != nil {
		err := r.audit.RecordAuthAttempt(ctx, &store.AuthAttempt{
			UserID:       a.UserID,
			CredentialID: a.CredentialID,
			RemoteAddr:   a.RemoteAddr,
			Success:      a.Success,
			Duration:     a.Duration,
			Error:        errMsg,
		})
		if err != nil {
			r.logger.Warn("audit write failed", "error", err)
		}
	}
}

// FailureCount returns the rolling failure count for an identity, zero when
// the counter is cold or the cache is unavailable.
func (r *Recorder) FailureCount(ctx context.Context, userID string) int {
	data, err := r.cache.Get(ctx, failureKey(userID))
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return 0
	}
	return n
}

// CacheFallback counts a soft cache-tier failure. Wire it to
// store.Tiered.OnCacheError so outages are distinguishable from ordinary
// misses in the metrics even though both fall back identically.
func (r *Recorder) CacheFallback(op string, err error) {
	r.cacheFallbacks.Inc()
	r.logger.Warn("cache tier fallback", "op", op, "error", err)
}

// Cleanup removes expired failure counters (handled by the cache's own TTL
// sweep) and audit rows past retention.
func (r *Recorder) Cleanup(ctx context.Context) {
	if sweeper, ok := r.cache.(store.Sweeper); ok {
		if _, err := sweeper.DeleteExpired(ctx); err != nil {
			r.logger.Warn("failure counter sweep failed", "error", err)
		}
	}
	if r.audit != nil {
		n, err := r.audit.DeleteAuthAttemptsBefore(ctx, time.Now().Add(-r.retention))
		if err != nil {
			r.logger.Warn("audit retention sweep failed", "error", err)
			return
		}
		if n > 0 {
			r.logger.Info("swept aged audit entries", "count", n)
		}
	}
}

// RunCleanup sweeps on the given interval until ctx is cancelled.
func (r *Recorder) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Cleanup(ctx)
		}
	}
}

func (r *Recorder) bumpFailureCounter(ctx context.Context, userID string) {
	key := failureKey(userID)
	n := 0
	if data, err := r.cache.Get(ctx, key); err == nil {
		n, _ = strconv.Atoi(string(data))
	}
	n++
	if err := r.cache.Set(ctx, key, []byte(strconv.Itoa(n)), r.failureTTL); err != nil {
		r.logger.Warn("failure counter update failed", "error", err)
	}
}

func failureKey(userID string) string {
	return "webauthn:authfail:" + userID
}

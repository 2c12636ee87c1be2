// Package retention sweeps abandoned form sessions on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// SessionSweeper deletes incomplete sessions idle since before.
type SessionSweeper interface {
	DeleteStaleSessions(ctx context.Context, before time.Time) (int64, error)
}

// CodeSweeper is implemented by stores that also keep email verification
// codes. Unused codes older than CodeRetention are removed on each sweep.
type CodeSweeper interface {
	DeleteExpiredVerifications(ctx context.Context, before time.Time) (int64, error)
}

// CodeRetention is how long unused verification codes are kept.
const CodeRetention = 24 * time.Hour

// Recorder observes finished sweeps.
type Recorder func(deleted int64, err error)

// Worker deletes incomplete sessions whose last activity is older than
// the retention period. Completed sessions are never touched.
type Worker struct {
	store     SessionSweeper
	retention time.Duration
	schedule  cron.Schedule
	spec      string
	logger    *slog.Logger
	record    Recorder
	now       func() time.Time
	cron      *cron.Cron
}

// Option configures a Worker.
type Option func(*Worker)

// WithRecorder sets the sweep recorder.
func WithRecorder(r Recorder) Option {
	return func(w *Worker) { w.record = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// NewWorker validates schedule (standard cron syntax or descriptors such
// as "@hourly") and returns an idle worker.
func NewWorker(store SessionSweeper, retention time.Duration, schedule string, opts ...Option) (*Worker, error) {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return nil, fmt.Errorf("parse retention schedule %q: %w", schedule, err)
	}
	w := &Worker{
		store:     store,
		retention: retention,
		schedule:  sched,
		spec:      schedule,
		logger:    slog.Default(),
		record:    func(int64, error) {},
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Enabled reports whether sessions expire at all.
func (w *Worker) Enabled() bool {
	return w.retention > 0
}

// Start schedules sweeps until Stop is called or ctx is done. Overlapping
// runs are skipped.
func (w *Worker) Start(ctx context.Context) {
	if !w.Enabled() {
		w.logger.Info("Session retention disabled")
		return
	}

	logger := cronLogger{w.logger}
	w.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	w.cron.Schedule(w.schedule, cron.FuncJob(func() {
		if _, err := w.Sweep(ctx); err != nil {
			w.logger.Error("Session retention sweep failed", "error", err)
		}
	}))
	w.cron.Start()
	w.logger.Info("Session retention worker started",
		"schedule", w.spec,
		"retention", w.retention,
		"next_run", w.schedule.Next(w.now()))

	go func() {
		<-ctx.Done()
		w.Stop()
	}()
}

// Stop halts scheduling and waits for a running sweep to finish.
func (w *Worker) Stop() {
	if w.cron == nil {
		return
	}
	<-w.cron.Stop().Done()
}

// Sweep deletes stale sessions once and returns how many were removed.
func (w *Worker) Sweep(ctx context.Context) (int64, error) {
	if !w.Enabled() {
		return 0, nil
	}
	cutoff := w.now().Add(-w.retention)
	deleted, err := w.store.DeleteStaleSessions(ctx, cutoff)
	w.record(deleted, err)
	if err != nil {
		return 0, fmt.Errorf("delete sessions idle since %s: %w", cutoff.Format(time.RFC3339), err)
	}
	if deleted > 0 {
		w.logger.Info("Stale form sessions deleted", "count", deleted, "cutoff", cutoff)
	}
	w.sweepCodes(ctx)
	return deleted, nil
}

func (w *Worker) sweepCodes(ctx context.Context) {
	cs, ok := w.store.(CodeSweeper)
	if !ok {
		return
	}
	n, err := cs.DeleteExpiredVerifications(ctx, w.now().Add(-CodeRetention))
	if err != nil {
		w.logger.Warn("Verification code sweep failed", "error", err)
		return
	}
	if n > 0 {
		w.logger.Info("Expired verification codes deleted", "count", n)
	}
}

// cronLogger adapts slog to the cron.Logger interface.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}

package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type (
	TimeoutProcessor interface {
		ProcessTimeouts(ctx context.Context, timeoutMinutes int) (int, error)
	}

	ClaimReleaser interface {
		ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error)
	}

	TokenCleaner interface {
		CleanupTokens(ctx context.Context) (int, error)
	}

	MaintenanceConfig struct {
		TimeoutSpec         string
		TimeoutMinutes      int
		StaleClaimSpec      string
		StaleClaimAfter     time.Duration
		CallbackCleanupSpec string
		JobTimeout          time.Duration
	}

	// Maintenance runs the periodic jobs that resolve reviews nobody will resolve otherwise.
	Maintenance struct {
		cron *cron.Cron
		log  *slog.Logger
	}

	cronLogger struct {
		log *slog.Logger
	}
)

const defaultJobTimeout = time.Minute

func NewMaintenance(conf MaintenanceConfig, reaper TimeoutProcessor, claims ClaimReleaser, tokens TokenCleaner, log *slog.Logger) (*Maintenance, error) {
	if conf.JobTimeout <= 0 {
		conf.JobTimeout = defaultJobTimeout
	}

	cl := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	_, err := c.AddFunc(conf.TimeoutSpec, job(conf.JobTimeout, log, "process timeouts", func(ctx context.Context) (int, error) {
		return reaper.ProcessTimeouts(ctx, conf.TimeoutMinutes)
	}))
	if err != nil {
		return nil, fmt.Errorf("add timeouts job: %w", err)
	}

	_, err = c.AddFunc(conf.StaleClaimSpec, job(conf.JobTimeout, log, "release stale claims", func(ctx context.Context) (int, error) {
		return claims.ReleaseStale(ctx, conf.StaleClaimAfter)
	}))
	if err != nil {
		return nil, fmt.Errorf("add stale claims job: %w", err)
	}

	_, err = c.AddFunc(conf.CallbackCleanupSpec, job(conf.JobTimeout, log, "cleanup callback tokens", tokens.CleanupTokens))
	if err != nil {
		return nil, fmt.Errorf("add callback cleanup job: %w", err)
	}

	return &Maintenance{cron: c, log: log}, nil
}

// Run starts the jobs and blocks until ctx is done and running jobs have finished.
func (m *Maintenance) Run(ctx context.Context) {
	m.log.InfoContext(ctx, "maintenance schedule started", "jobs", len(m.cron.Entries()))
	m.cron.Start()

	<-ctx.Done()
	<-m.cron.Stop().Done()
	m.log.InfoContext(ctx, "maintenance schedule stopped")
}

func job(timeout time.Duration, log *slog.Logger, name string, run func(ctx context.Context) (int, error)) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		n, err := run(ctx)
		if err != nil {
			log.ErrorContext(ctx, "maintenance job failed", "job", name, "error", err)
			return
		}
		log.DebugContext(ctx, "maintenance job finished", "job", name, "affected", n)
	}
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}

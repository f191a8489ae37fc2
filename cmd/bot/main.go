package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"golang.org/x/time/rate"

	"github.com/Roma7-7-7/spaced-review-bot/internal/config"
	sqlrepo "github.com/Roma7-7-7/spaced-review-bot/internal/dal/sql"
	"github.com/Roma7-7-7/spaced-review-bot/internal/delivery"
	"github.com/Roma7-7-7/spaced-review-bot/internal/retry"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
	"github.com/Roma7-7-7/spaced-review-bot/internal/schedule"
	"github.com/Roma7-7-7/spaced-review-bot/internal/telegram"
	"github.com/Roma7-7-7/spaced-review-bot/pkg/cache"
)

var (
	// Version is set via -ldflags at build time
	Version = "dev" //nolint:gochecknoglobals // must be global to be replaced at build time
	// BuildTime is set via -ldflags at build time
	BuildTime = "unknown" //nolint:gochecknoglobals // must be global to be replaced at build time
)

const (
	exitCodeOK int = iota
	exitCodeConfigParse
	exitCodeDBConnect
	exitCodeDBMigrate
	exitCodeBotCreate
	exitCodeScheduleCreate
)

func main() {
	os.Exit(run(context.Background()))
}

func run(ctx context.Context) int {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigs := make(chan os.Signal, 1)
	go func() {
		<-sigs
		cancel()
	}()
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	conf, err := config.GetBot(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to get config", "error", err) //nolint:sloglint // app logger is not configured yet
		return exitCodeConfigParse
	}

	log := mustLogger(conf.Dev)
	log.InfoContext(ctx, "starting bot",
		"version", Version,
		"build_time", BuildTime,
		"config", loggableConfig(conf),
	)
	defer log.InfoContext(ctx, "bot is stopped")

	db, err := sqlrepo.Open(ctx, conf.DB.Type, conf.DB.URL)
	if err != nil {
		log.ErrorContext(ctx, "create database connection", "error", err)
		return exitCodeDBConnect
	}
	defer db.Close()

	if err = sqlrepo.Migrate(ctx, db, conf.DB.Type, log); err != nil {
		log.ErrorContext(ctx, "migrate database", "error", err)
		return exitCodeDBMigrate
	}
	repo := sqlrepo.NewRepository(db, conf.DB.Type, log)

	api, err := telegram.NewAPI(conf.TelegramToken)
	if err != nil {
		log.ErrorContext(ctx, "failed to create bot", "error", err)
		return exitCodeBotCreate
	}

	defaults := conf.Profile.Defaults()
	retrier := retry.New(conf.Retry.Config(), log.With("component", "retry"))
	tokens := cache.NewInMemory[review.Key]()
	limiter := rate.NewLimiter(rate.Limit(conf.Delivery.SendRateLimit), 1)
	channel := telegram.NewChannel(api, limiter, tokens, repo, conf.Delivery.CallbackTTL, log.With("component", "channel"))

	claims := delivery.NewClaimCoordinator(repo, log.With("component", "claims"))
	executor := delivery.NewExecutor(claims, channel, retrier, log.With("component", "executor"))
	selector := delivery.NewSelector(repo, repo, defaults, log.With("component", "selector"))
	responses := delivery.NewResponseProcessor(repo, log.With("component", "responses"))
	reaper := delivery.NewReaper(repo, log.With("component", "reaper"))

	scheduler := schedule.NewDeliveryScheduler(schedule.DeliveryConfig{
		Interval:    conf.Delivery.Interval,
		Concurrency: conf.Delivery.Concurrency,
		UserTimeout: conf.Delivery.UserTimeout,
		Defaults:    defaults,
	}, repo, selector, executor, log.With("component", "delivery_schedule"))

	maintenance, err := schedule.NewMaintenance(schedule.MaintenanceConfig{
		TimeoutSpec:         conf.Maintenance.TimeoutSpec,
		TimeoutMinutes:      conf.Maintenance.TimeoutMinutes,
		StaleClaimSpec:      conf.Maintenance.StaleClaimSpec,
		StaleClaimAfter:     conf.Maintenance.StaleClaimAfter,
		CallbackCleanupSpec: conf.Maintenance.CallbackCleanupSpec,
		JobTimeout:          conf.Maintenance.JobTimeout,
	}, reaper, claims, channel, log.With("component", "maintenance"))
	if err != nil {
		log.ErrorContext(ctx, "failed to create maintenance schedule", "error", err)
		return exitCodeScheduleCreate
	}

	bot := telegram.NewBot(api, channel, responses, repo, retrier, defaults, log,
		telegram.Recover(log), telegram.LogErrors(log), telegram.AllowedChats(conf.AllowedChatIDs))

	var wg sync.WaitGroup
	wg.Go(func() { scheduler.Start(ctx) })
	wg.Go(func() { maintenance.Run(ctx) })
	go func() {
		<-ctx.Done()
		bot.Stop()
	}()

	log.InfoContext(ctx, "starting bot polling")
	bot.Start()
	cancel()
	wg.Wait()

	return exitCodeOK
}

func mustLogger(dev bool) *slog.Logger {
	var handler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	if dev {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}
	return slog.New(handler)
}

func loggableConfig(conf *config.Bot) map[string]any {
	return map[string]any{
		"dev":              conf.Dev,
		"allowed-chat-ids": conf.AllowedChatIDs,
		"db-type":          conf.DB.Type,
		"delivery": map[string]any{
			"interval":        conf.Delivery.Interval.String(),
			"concurrency":     conf.Delivery.Concurrency,
			"user-timeout":    conf.Delivery.UserTimeout.String(),
			"send-rate-limit": conf.Delivery.SendRateLimit,
		},
		"maintenance": map[string]any{
			"timeout-spec":      conf.Maintenance.TimeoutSpec,
			"timeout-minutes":   conf.Maintenance.TimeoutMinutes,
			"stale-claim-spec":  conf.Maintenance.StaleClaimSpec,
			"stale-claim-after": conf.Maintenance.StaleClaimAfter.String(),
			"callback-cleanup":  conf.Maintenance.CallbackCleanupSpec,
		},
		"profile-defaults": conf.Profile,
	}
}

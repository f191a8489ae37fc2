package config

import (
	"context"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

type (
	Delivery struct {
		Interval      time.Duration `envconfig:"INTERVAL" default:"1m"`
		Concurrency   int           `envconfig:"CONCURRENCY" default:"8"`
		UserTimeout   time.Duration `envconfig:"USER_TIMEOUT" default:"30s"`
		SendRateLimit float64       `envconfig:"SEND_RATE_LIMIT" default:"25"`
		CallbackTTL   time.Duration `envconfig:"CALLBACK_TTL" default:"48h"`
	}

	Maintenance struct {
		TimeoutSpec         string        `envconfig:"TIMEOUT_SPEC" default:"*/5 * * * *"`
		TimeoutMinutes      int           `envconfig:"TIMEOUT_MINUTES" default:"1440"`
		StaleClaimSpec      string        `envconfig:"STALE_CLAIM_SPEC" default:"*/10 * * * *"`
		StaleClaimAfter     time.Duration `envconfig:"STALE_CLAIM_AFTER" default:"10m"`
		CallbackCleanupSpec string        `envconfig:"CALLBACK_CLEANUP_SPEC" default:"0 * * * *"`
		JobTimeout          time.Duration `envconfig:"JOB_TIMEOUT" default:"1m"`
	}

	Bot struct {
		Dev            bool    `default:"false"`
		TelegramToken  string  `envconfig:"TELEGRAM_TOKEN"`
		AllowedChatIDs []int64 `envconfig:"ALLOWED_CHAT_IDS"`
		DB             DB
		Retry          Retry
		Delivery       Delivery
		Maintenance    Maintenance
		Profile        Profile
	}
)

func GetBot(ctx context.Context) (*Bot, error) {
	return getBot(ctx, FetchAWSParams)
}

func getBot(ctx context.Context, fetch ParamsFetcher) (*Bot, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	res := &Bot{}
	if err := envconfig.Process("BOT", res); err != nil {
		return nil, fmt.Errorf("parse bot environment: %w", err)
	}

	if !res.Dev {
		if err := setBotProdConfig(ctx, res, fetch); err != nil {
			return nil, fmt.Errorf("set bot prod config: %w", err)
		}
	}

	return validateBot(res)
}

func validateBot(conf *Bot) (*Bot, error) {
	errs := make([]string, 0, 10) //nolint:mnd // 10 is a reasonable default value
	if conf.TelegramToken == "" {
		errs = append(errs, "telegram token is required")
	}
	errs = append(errs, validateDB(conf.DB)...)
	if err := conf.Retry.Config().Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("invalid retry: %s", err))
	}
	if conf.Delivery.Interval <= 0 {
		errs = append(errs, "delivery interval must be positive")
	}
	if conf.Delivery.Concurrency <= 0 {
		errs = append(errs, fmt.Sprintf("delivery concurrency %d must be positive", conf.Delivery.Concurrency))
	}
	if conf.Delivery.SendRateLimit <= 0 {
		errs = append(errs, "send rate limit must be positive")
	}
	if conf.Delivery.CallbackTTL <= 0 {
		errs = append(errs, "callback ttl must be positive")
	}
	for _, spec := range []string{conf.Maintenance.TimeoutSpec, conf.Maintenance.StaleClaimSpec, conf.Maintenance.CallbackCleanupSpec} {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Sprintf("invalid cron spec %q: %s", spec, err))
		}
	}
	if conf.Maintenance.TimeoutMinutes <= 0 {
		errs = append(errs, fmt.Sprintf("timeout minutes %d must be positive", conf.Maintenance.TimeoutMinutes))
	}
	if conf.Maintenance.StaleClaimAfter <= 0 {
		errs = append(errs, "stale claim after must be positive")
	}
	errs = append(errs, validateProfile(conf.Profile)...)

	if err := joinErrors(errs); err != nil {
		return nil, err
	}
	return conf, nil
}

func setBotProdConfig(ctx context.Context, target *Bot, fetch ParamsFetcher) error {
	parameters, err := fetch(ctx,
		ssmPrefix+"telegram-token",
		ssmPrefix+"allowed-chat-ids",
		ssmPrefix+"db-url",
	)
	if err != nil {
		return fmt.Errorf("get parameters: %w", err)
	}

	for name, value := range parameters {
		switch name {
		case ssmPrefix + "telegram-token":
			target.TelegramToken = value
		case ssmPrefix + "allowed-chat-ids":
			target.AllowedChatIDs, err = parseChatIDs(value)
			if err != nil {
				return err
			}
		case ssmPrefix + "db-url":
			target.DB.URL = value
		}
	}

	return nil
}

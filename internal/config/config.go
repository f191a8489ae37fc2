package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/delivery"
	"github.com/Roma7-7-7/spaced-review-bot/internal/retry"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

const (
	DefaultAWSRegion = "eu-central-1"

	ssmPrefix = "/spaced-review-bot/prod/"
)

type (
	DB struct {
		Type dal.DBType `envconfig:"TYPE" default:"sqlite"`
		URL  string     `envconfig:"URL"`
	}

	Retry struct {
		MaxRetries        int           `envconfig:"MAX_RETRIES" default:"3"`
		BaseDelay         time.Duration `envconfig:"BASE_DELAY" default:"500ms"`
		MaxDelay          time.Duration `envconfig:"MAX_DELAY" default:"30s"`
		BackoffMultiplier float64       `envconfig:"BACKOFF_MULTIPLIER" default:"2"`
	}

	// Profile holds the delivery preferences of users who never configured their own.
	Profile struct {
		Timezone    string `envconfig:"TIMEZONE" default:"UTC"`
		WindowStart string `envconfig:"WINDOW_START" default:"09:00"`
		WindowEnd   string `envconfig:"WINDOW_END" default:"21:00"`
		DailyLimit  int    `envconfig:"DAILY_LIMIT" default:"20"`
	}
)

func (r Retry) Config() retry.Config {
	return retry.Config{
		MaxRetries:        r.MaxRetries,
		BaseDelay:         r.BaseDelay,
		MaxDelay:          r.MaxDelay,
		BackoffMultiplier: r.BackoffMultiplier,
	}
}

func (p Profile) Defaults() delivery.Defaults {
	return delivery.Defaults{
		Timezone:    p.Timezone,
		WindowStart: p.WindowStart,
		WindowEnd:   p.WindowEnd,
		DailyLimit:  p.DailyLimit,
	}
}

// loadDotEnv populates the environment from an optional .env file. Existing variables win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func validateDB(db DB) []string {
	errs := make([]string, 0, 2) //nolint:mnd // at most two db errors
	switch db.Type {
	case dal.DBTypeSQLite, dal.DBTypePostgres:
	default:
		errs = append(errs, fmt.Sprintf("unsupported db type %q", db.Type))
	}
	if db.URL == "" {
		errs = append(errs, "db url is required")
	}
	return errs
}

func validateProfile(p Profile) []string {
	errs := make([]string, 0, 3) //nolint:mnd // one per checked field
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("invalid timezone: %s", err))
	}
	if _, err := review.ParseClock(p.WindowStart); err != nil {
		errs = append(errs, fmt.Sprintf("invalid window start: %s", err))
	}
	if _, err := review.ParseClock(p.WindowEnd); err != nil {
		errs = append(errs, fmt.Sprintf("invalid window end: %s", err))
	}
	return errs
}

func joinErrors(errs []string) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid config: %s", strings.Join(errs, ", "))
}

func parseChatIDs(chatIDsStr string) ([]int64, error) {
	if chatIDsStr == "" {
		return nil, nil
	}

	chatIDStrings := strings.Split(chatIDsStr, ",")
	chatIDs := make([]int64, 0, len(chatIDStrings))
	for _, chatIDString := range chatIDStrings {
		chatID, err := strconv.ParseInt(strings.TrimSpace(chatIDString), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse chat IDs: invalid chat ID %s: %w", chatIDString, err)
		}
		chatIDs = append(chatIDs, chatID)
	}

	return chatIDs, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	sqlrepo "github.com/Roma7-7-7/spaced-review-bot/internal/dal/sql"
	"github.com/Roma7-7-7/spaced-review-bot/internal/data"
)

const (
	exitCodeOK int = iota
	exitCodeInvalidArgs
	exitCodeDBConnect
	exitCodeDBMigrate
	exitCodeOpenSource
	exitCodeImport
)

func main() {
	var (
		source  = flag.String("source", "", "source file with word: text[: description] lines")
		dbType  = flag.String("db-type", string(dal.DBTypeSQLite), "database type: sqlite or postgres")
		dbURL   = flag.String("db-url", "", "database URL")
		userID  = flag.String("user-id", "", "user to enroll words for")
		timeout = flag.Duration("timeout", time.Minute, "import timeout")
	)
	flag.Parse()

	os.Exit(run(*source, dal.DBType(*dbType), *dbURL, *userID, *timeout))
}

func run(source string, dbType dal.DBType, dbURL, userID string, timeout time.Duration) int {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if err := validate(source, dbType, dbURL, userID); err != nil {
		log.ErrorContext(ctx, "invalid arguments", "error", err)
		flag.Usage()
		return exitCodeInvalidArgs
	}

	db, err := sqlrepo.Open(ctx, dbType, dbURL)
	if err != nil {
		log.ErrorContext(ctx, "failed to connect to database", "error", err)
		return exitCodeDBConnect
	}
	defer db.Close()

	if err = sqlrepo.Migrate(ctx, db, dbType, log); err != nil {
		log.ErrorContext(ctx, "failed to migrate database", "error", err)
		return exitCodeDBMigrate
	}

	f, err := os.Open(source)
	if err != nil {
		log.ErrorContext(ctx, "failed to open source file", "error", err)
		return exitCodeOpenSource
	}

	lines := make(chan data.Line)
	parseErr := make(chan error, 1)
	go func() {
		parseErr <- data.Parse(ctx, f, lines)
	}()

	stats, err := data.Import(ctx, sqlrepo.NewRepository(db, dbType, log), userID, lines, time.Now)
	if err != nil {
		cancel()
		for range lines { //nolint:revive // drain until the parser stops
		}
		log.ErrorContext(ctx, "failed to import words", "error", err, "imported", stats.Words)
		return exitCodeImport
	}

	if err = <-parseErr; err != nil {
		var perr *data.ParsingError
		if !errors.As(err, &perr) {
			log.ErrorContext(ctx, "failed to parse source file", "error", err)
			return exitCodeImport
		}
		log.WarnContext(ctx, "skipped invalid lines", "lines", perr.InvalidLines)
	}

	log.InfoContext(ctx, "done", "words", stats.Words, "enrolled", stats.Enrolled)
	return exitCodeOK
}

func validate(source string, dbType dal.DBType, dbURL, userID string) error {
	if source == "" {
		return errors.New("source file is required")
	}
	if dbType != dal.DBTypeSQLite && dbType != dal.DBTypePostgres {
		return errors.New("db type must be sqlite or postgres")
	}
	if dbURL == "" {
		return errors.New("database URL is required")
	}
	if userID == "" {
		return errors.New("user ID is required")
	}
	return nil
}

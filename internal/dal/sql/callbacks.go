package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
)

func (r *Repository) InsertCallbackToken(ctx context.Context, token dal.CallbackToken) error {
	if token.Token == "" {
		return errors.New("token is required")
	}
	if token.ExpiresAt.IsZero() {
		return errors.New("expires at is required")
	}

	if _, err := r.exec(ctx, r.queries.InsertCallbackTokenQuery(token)); err != nil {
		return fmt.Errorf("insert callback token: %w", err)
	}
	return nil
}

func (r *Repository) FindCallbackToken(ctx context.Context, token string, now time.Time) (*dal.CallbackToken, error) {
	row, err := r.queryRow(ctx, r.queries.FindCallbackTokenQuery(token, now))
	if err != nil {
		return nil, err
	}

	var (
		res       dal.CallbackToken
		expiresAt int64
	)
	if err = row.Scan(&res.Token, &res.Key.UserID, &res.Key.WordID, &expiresAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dal.ErrNotFound
		}
		return nil, fmt.Errorf("find callback token: %w", err)
	}
	res.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return &res, nil
}

func (r *Repository) DeleteCallbackToken(ctx context.Context, token string) error {
	if _, err := r.exec(ctx, r.queries.DeleteCallbackTokenQuery(token)); err != nil {
		return fmt.Errorf("delete callback token: %w", err)
	}
	return nil
}

func (r *Repository) DeleteExpiredCallbackTokens(ctx context.Context, now time.Time) (int, error) {
	affected, err := r.exec(ctx, r.queries.DeleteExpiredCallbackTokensQuery(now))
	if err != nil {
		return 0, fmt.Errorf("delete expired callback tokens: %w", err)
	}
	return int(affected), nil
}

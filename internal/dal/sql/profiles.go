package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

func (r *Repository) FindProfile(ctx context.Context, userID string) (*review.Profile, error) {
	row, err := r.queryRow(ctx, r.queries.FindProfileQuery(userID))
	if err != nil {
		return nil, err
	}

	var p review.Profile
	if err := row.Scan(&p.UserID, &p.Timezone, &p.WindowStart, &p.WindowEnd, &p.DailyLimit, &p.Paused); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dal.ErrNotFound
		}
		return nil, fmt.Errorf("find profile: %w", err)
	}
	return &p, nil
}

func (r *Repository) UpsertProfile(ctx context.Context, profile review.Profile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("validate profile: %w", err)
	}

	if _, err := r.exec(ctx, r.queries.UpsertProfileQuery(profile, r.now())); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *Repository) SetPaused(ctx context.Context, userID string, paused bool) error {
	affected, err := r.exec(ctx, r.queries.SetPausedQuery(userID, paused, r.now()))
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	if affected == 0 {
		return dal.ErrNotFound
	}
	return nil
}

package sql

import (
	"context"
	"fmt"
	"time"

	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

func (r *Repository) FindEvents(ctx context.Context, userID string, limit uint64) ([]review.Event, error) {
	rows, err := r.query(ctx, r.queries.FindEventsQuery(userID, limit))
	if err != nil {
		return nil, fmt.Errorf("find events: %w", err)
	}
	defer rows.Close()

	res := make([]review.Event, 0)
	for rows.Next() {
		var (
			event              review.Event
			difficulty, source string
			reviewedAt         int64
		)
		if err := rows.Scan(&event.UserID, &event.WordID, &difficulty, &reviewedAt, &source, &event.MessageID); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Difficulty = review.Difficulty(difficulty)
		event.Source = review.Source(source)
		event.ReviewedAt = time.UnixMilli(reviewedAt).UTC()
		res = append(res, event)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate events: %w", rows.Err())
	}
	return res, nil
}

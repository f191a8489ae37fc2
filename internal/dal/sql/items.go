package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

type scanner interface {
	Scan(dest ...any) error
}

func (r *Repository) CreateItem(ctx context.Context, item review.Item) (bool, error) {
	if err := item.Validate(); err != nil {
		return false, fmt.Errorf("validate item: %w", err)
	}

	affected, err := r.exec(ctx, r.queries.InsertItemQuery(item, r.now()))
	if err != nil {
		return false, fmt.Errorf("insert item: %w", err)
	}
	return affected == 1, nil
}

func (r *Repository) FindItem(ctx context.Context, key review.Key) (*review.Item, error) {
	row, err := r.queryRow(ctx, r.queries.FindItemQuery(key))
	if err != nil {
		return nil, err
	}

	item, err := hydrateItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dal.ErrItemNotFound
		}
		return nil, fmt.Errorf("find item: %w", err)
	}
	return item, nil
}

func (r *Repository) FindDueItems(ctx context.Context, userID string, now time.Time, limit uint64) ([]review.Item, error) {
	items, err := r.findItems(ctx, r.queries.FindDueItemsQuery(userID, now, limit))
	if err != nil {
		return nil, fmt.Errorf("find due items: %w", err)
	}
	return items, nil
}

func (r *Repository) FindUsersWithDueItems(ctx context.Context, now time.Time) ([]string, error) {
	rows, err := r.query(ctx, r.queries.FindUsersWithDueItemsQuery(now))
	if err != nil {
		return nil, fmt.Errorf("find users with due items: %w", err)
	}
	defer rows.Close()

	res := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		res = append(res, userID)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate users: %w", rows.Err())
	}
	return res, nil
}

func (r *Repository) CountDueItems(ctx context.Context, userID string, now time.Time) (int, error) {
	row, err := r.queryRow(ctx, r.queries.CountDueItemsQuery(userID, now))
	if err != nil {
		return 0, err
	}

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count due items: %w", err)
	}
	return count, nil
}

func (r *Repository) CountDailyDeliveries(ctx context.Context, userID string, since time.Time) (int, error) {
	row, err := r.queryRow(ctx, r.queries.CountDailyDeliveriesQuery(userID, since))
	if err != nil {
		return 0, err
	}

	var resolved, inFlight int
	if err := row.Scan(&resolved, &inFlight); err != nil {
		return 0, fmt.Errorf("count daily deliveries: %w", err)
	}
	return resolved + inFlight, nil
}

func (r *Repository) PromoteScheduled(ctx context.Context, userID string, now time.Time) (int, error) {
	affected, err := r.exec(ctx, r.queries.PromoteScheduledQuery(userID, now))
	if err != nil {
		return 0, fmt.Errorf("promote scheduled items: %w", err)
	}
	return int(affected), nil
}

func (r *Repository) ClaimItem(ctx context.Context, key review.Key, token string, now time.Time) (bool, error) {
	affected, err := r.exec(ctx, r.queries.ClaimItemQuery(key, token, now))
	if err != nil {
		return false, fmt.Errorf("claim item: %w", err)
	}
	return affected == 1, nil
}

func (r *Repository) ConfirmDelivery(ctx context.Context, key review.Key, token, messageID string, now time.Time) (bool, error) {
	if messageID == "" {
		return false, errors.New("message id is required")
	}

	affected, err := r.exec(ctx, r.queries.ConfirmDeliveryQuery(key, token, messageID, now))
	if err != nil {
		return false, fmt.Errorf("confirm delivery: %w", err)
	}
	return affected == 1, nil
}

func (r *Repository) ReleaseClaim(ctx context.Context, key review.Key, token string) (bool, error) {
	affected, err := r.exec(ctx, r.queries.ReleaseClaimQuery(key, token, r.now()))
	if err != nil {
		return false, fmt.Errorf("release claim: %w", err)
	}
	return affected == 1, nil
}

func (r *Repository) ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int, error) {
	affected, err := r.exec(ctx, r.queries.ReleaseStaleClaimsQuery(claimedBefore, r.now()))
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return int(affected), nil
}

// ApplyRating reads the item, computes the new schedule and writes it back together with the event.
// The write is conditional on the values that were read, so a concurrent resolution makes it a no-op.
func (r *Repository) ApplyRating(ctx context.Context, rating review.Rating) (bool, error) {
	return r.resolve(ctx, rating.Key, func(item review.Item) (review.Item, review.Event, error) {
		next, err := item.Rate(rating.MessageID, rating.Difficulty, rating.At)
		return next, rating.Event(), err
	})
}

func (r *Repository) FindTimedOut(ctx context.Context, sentBefore time.Time, limit uint64) ([]review.Item, error) {
	items, err := r.findItems(ctx, r.queries.FindTimedOutQuery(sentBefore, limit))
	if err != nil {
		return nil, fmt.Errorf("find timed out items: %w", err)
	}
	return items, nil
}

func (r *Repository) ExpireItem(ctx context.Context, key review.Key, messageID string, sentBefore, now time.Time) (bool, error) {
	return r.resolve(ctx, key, func(item review.Item) (review.Item, review.Event, error) {
		next, err := item.Expire(messageID, sentBefore, now)
		return next, review.TimeoutEvent(key, messageID, now), err
	})
}

func (r *Repository) resolve(ctx context.Context, key review.Key, apply func(item review.Item) (review.Item, review.Event, error)) (bool, error) {
	applied := false
	err := r.inTx(ctx, func(txRepo *Repository) error {
		item, err := txRepo.FindItem(ctx, key)
		if err != nil {
			if review.IsLostRace(err) {
				return nil
			}
			return err
		}

		next, event, err := apply(*item)
		if err != nil {
			if review.IsLostRace(err) {
				return nil
			}
			return err
		}

		affected, err := txRepo.exec(ctx, txRepo.queries.ResolveItemQuery(*item, next, r.now()))
		if err != nil {
			return fmt.Errorf("update item: %w", err)
		}
		if affected != 1 {
			return nil
		}

		if _, err = txRepo.exec(ctx, txRepo.queries.InsertEventQuery(event)); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *Repository) findItems(ctx context.Context, query squirrel.Sqlizer) ([]review.Item, error) {
	rows, err := r.query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make([]review.Item, 0)
	for rows.Next() {
		item, err := hydrateItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		res = append(res, *item)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate items: %w", rows.Err())
	}
	return res, nil
}

func hydrateItem(row scanner) (*review.Item, error) {
	var (
		item                    review.Item
		state                   string
		nextReviewAt            int64
		messageID               sql.NullString
		lastClaimedAt, lastSent sql.NullInt64
	)
	err := row.Scan(&item.UserID, &item.WordID, &state, &nextReviewAt, &item.IntervalMinutes, &item.ReviewCount,
		&messageID, &lastClaimedAt, &lastSent)
	if err != nil {
		return nil, err
	}

	if item.State, err = review.ParseState(state); err != nil {
		return nil, err
	}
	item.NextReviewAt = time.UnixMilli(nextReviewAt).UTC()
	item.LastMessageID = messageID.String
	item.LastClaimedAt = fromMillis(lastClaimedAt)
	item.LastSentAt = fromMillis(lastSent)
	return &item, nil
}

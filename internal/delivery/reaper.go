package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
)

const reapBatchSize = 100

// Reaper returns unanswered reviews to due with a shortened interval.
type Reaper struct {
	repo dal.ReviewItemsRepository
	now  func() time.Time
	log  *slog.Logger
}

func NewReaper(repo dal.ReviewItemsRepository, log *slog.Logger, opts ...Option) *Reaper {
	o := newOptions(opts)
	return &Reaper{repo: repo, now: o.now, log: log}
}

// ProcessTimeouts expires reviews sent more than timeoutMinutes ago and returns how many were expired.
// Items answered concurrently are skipped.
func (r *Reaper) ProcessTimeouts(ctx context.Context, timeoutMinutes int) (int, error) {
	if timeoutMinutes <= 0 {
		return 0, fmt.Errorf("timeout must be positive, got %d", timeoutMinutes)
	}

	now := r.now()
	cutoff := now.Add(-time.Duration(timeoutMinutes) * time.Minute)
	expired := 0
	for {
		items, err := r.repo.FindTimedOut(ctx, cutoff, reapBatchSize)
		if err != nil {
			return expired, fmt.Errorf("find timed out items: %w", err)
		}

		batchExpired := 0
		for _, item := range items {
			ok, err := r.repo.ExpireItem(ctx, item.Key(), item.LastMessageID, cutoff, now)
			if err != nil {
				return expired, fmt.Errorf("expire item: %w", err)
			}
			if !ok {
				r.log.DebugContext(ctx, "timeout skipped", "user_id", item.UserID, "word_id", item.WordID)
				continue
			}
			batchExpired++
		}
		expired += batchExpired

		// a batch with no progress means the rest were resolved concurrently
		if len(items) < reapBatchSize || batchExpired == 0 {
			break
		}
	}

	if expired > 0 {
		r.log.InfoContext(ctx, "reviews timed out", "count", expired)
	}
	return expired, nil
}

package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

// ClaimCoordinator hands out exclusive send rights for due items. A claim is identified by a
// token that must be presented to confirm or release it.
type ClaimCoordinator struct {
	repo dal.ReviewItemsRepository
	now  func() time.Time
	log  *slog.Logger
}

func NewClaimCoordinator(repo dal.ReviewItemsRepository, log *slog.Logger, opts ...Option) *ClaimCoordinator {
	o := newOptions(opts)
	return &ClaimCoordinator{repo: repo, now: o.now, log: log}
}

// Claim returns a token and true when the caller won the item. Losing is not an error.
func (c *ClaimCoordinator) Claim(ctx context.Context, key review.Key) (string, bool, error) {
	token := uuid.NewString()
	ok, err := c.repo.ClaimItem(ctx, key, token, c.now())
	if err != nil {
		return "", false, fmt.Errorf("claim item: %w", err)
	}
	if !ok {
		c.log.DebugContext(ctx, "claim lost", "user_id", key.UserID, "word_id", key.WordID)
		return "", false, nil
	}
	return token, true, nil
}

func (c *ClaimCoordinator) Confirm(ctx context.Context, key review.Key, token, messageID string) (bool, error) {
	ok, err := c.repo.ConfirmDelivery(ctx, key, token, messageID, c.now())
	if err != nil {
		return false, fmt.Errorf("confirm delivery: %w", err)
	}
	return ok, nil
}

func (c *ClaimCoordinator) Release(ctx context.Context, key review.Key, token string) (bool, error) {
	ok, err := c.repo.ReleaseClaim(ctx, key, token)
	if err != nil {
		return false, fmt.Errorf("release claim: %w", err)
	}
	return ok, nil
}

// ReleaseStale returns items claimed longer than olderThan ago to due.
func (c *ClaimCoordinator) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	released, err := c.repo.ReleaseStaleClaims(ctx, c.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	if released > 0 {
		c.log.InfoContext(ctx, "stale claims released", "count", released)
	}
	return released, nil
}

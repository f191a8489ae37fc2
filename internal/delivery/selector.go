package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

// Selector picks the items that may be delivered to a user right now.
type Selector struct {
	items    dal.ReviewItemsRepository
	profiles ProfileSource
	defaults Defaults
	now      func() time.Time
	log      *slog.Logger
}

func NewSelector(items dal.ReviewItemsRepository, profiles ProfileSource, defaults Defaults, log *slog.Logger, opts ...Option) *Selector {
	o := newOptions(opts)
	return &Selector{items: items, profiles: profiles, defaults: defaults, now: o.now, log: log}
}

// GetUserDueReviews promotes scheduled items that came due and returns due items that pass the
// pause, window and daily limit filters. A failing profile, window or limit lookup does not block delivery.
func (s *Selector) GetUserDueReviews(ctx context.Context, userID string) ([]review.Item, error) {
	now := s.now()

	promoted, err := s.items.PromoteScheduled(ctx, userID, now)
	if err != nil {
		return nil, fmt.Errorf("promote scheduled items: %w", err)
	}
	if promoted > 0 {
		s.log.DebugContext(ctx, "scheduled items promoted", "user_id", userID, "count", promoted)
	}

	limit, deliver := s.allowance(ctx, userID, now)
	if !deliver {
		return []review.Item{}, nil
	}

	items, err := s.items.FindDueItems(ctx, userID, now, limit)
	if err != nil {
		return nil, fmt.Errorf("find due items: %w", err)
	}
	return items, nil
}

// allowance returns how many items may still be sent today (0 for unlimited) and whether any may be sent at all.
func (s *Selector) allowance(ctx context.Context, userID string, now time.Time) (uint64, bool) {
	profile, err := s.profile(ctx, userID)
	if err != nil {
		s.failOpen(ctx, userID, "profile", err)
		return 0, true
	}
	if profile.Paused {
		return 0, false
	}

	in, err := profile.InWindow(now)
	if err != nil {
		s.failOpen(ctx, userID, "window", err)
	} else if !in {
		return 0, false
	}

	if profile.DailyLimit <= 0 {
		return 0, true
	}

	loc, err := profile.Location()
	if err != nil {
		s.failOpen(ctx, userID, "daily limit", err)
		return 0, true
	}
	count, err := s.items.CountDailyDeliveries(ctx, userID, review.StartOfDay(now, loc))
	if err != nil {
		s.failOpen(ctx, userID, "daily limit", err)
		return 0, true
	}
	if count >= profile.DailyLimit {
		return 0, false
	}
	return uint64(profile.DailyLimit - count), true
}

func (s *Selector) profile(ctx context.Context, userID string) (review.Profile, error) {
	p, err := s.profiles.FindProfile(ctx, userID)
	if err != nil {
		if errors.Is(err, dal.ErrNotFound) {
			return s.defaults.Profile(userID), nil
		}
		return review.Profile{}, err
	}
	return *p, nil
}

func (s *Selector) failOpen(ctx context.Context, userID, check string, err error) {
	s.log.WarnContext(ctx, "delivery check skipped", "user_id", userID, "check", check,
		"error", fmt.Errorf("%w: %w", review.ErrUpstreamUnavailable, err))
}

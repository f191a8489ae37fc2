package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/delivery"
	"github.com/Roma7-7-7/spaced-review-bot/internal/retry"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

type (
	Selector interface {
		GetUserDueReviews(ctx context.Context, userID string) ([]review.Item, error)
	}

	Deliverer interface {
		DeliverReview(ctx context.Context, userID, wordID string, content review.Content) (delivery.Result, error)
	}

	Store interface {
		FindUsersWithDueItems(ctx context.Context, now time.Time) ([]string, error)
		FindWordContent(ctx context.Context, wordID string) (*review.Content, error)
		dal.ProfilesRepository
	}

	DeliveryConfig struct {
		Interval    time.Duration
		Concurrency int
		UserTimeout time.Duration
		Defaults    delivery.Defaults
	}

	// DeliveryScheduler periodically delivers due reviews. Users are processed concurrently,
	// items of one user sequentially.
	DeliveryScheduler struct {
		conf      DeliveryConfig
		store     Store
		selector  Selector
		deliverer Deliverer
		now       func() time.Time
		log       *slog.Logger
	}
)

func NewDeliveryScheduler(conf DeliveryConfig, store Store, selector Selector, deliverer Deliverer, log *slog.Logger) *DeliveryScheduler {
	if conf.Concurrency <= 0 {
		conf.Concurrency = 1
	}
	return &DeliveryScheduler{
		conf:      conf,
		store:     store,
		selector:  selector,
		deliverer: deliverer,
		now:       time.Now,
		log:       log,
	}
}

func (s *DeliveryScheduler) Start(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "panic", "error", r)
		}
	}()

	s.log.InfoContext(ctx, "delivery schedule started", "interval", s.conf.Interval)
	defer s.log.InfoContext(ctx, "delivery schedule stopped")
	runIn := time.After(time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		case <-runIn:
			runIn = time.After(s.conf.Interval)

			s.log.DebugContext(ctx, "delivery execution started")
			delivered, err := s.RunOnce(ctx)
			if err != nil {
				s.log.ErrorContext(ctx, "delivery execution failed", "error", err)
			}
			s.log.DebugContext(ctx, "delivery execution finished", "delivered", delivered)
		}
	}
}

// RunOnce delivers due reviews to every user that has any and returns the number sent.
// A failure for one user does not stop the others.
func (s *DeliveryScheduler) RunOnce(ctx context.Context) (int, error) {
	users, err := s.store.FindUsersWithDueItems(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("find users with due items: %w", err)
	}

	eg := &errgroup.Group{}
	eg.SetLimit(s.conf.Concurrency)
	delivered := make([]int, len(users))
	for i, userID := range users {
		eg.Go(func() error {
			userCtx, cancel := s.userContext(ctx)
			defer cancel()

			n, err := s.deliverUser(userCtx, userID)
			delivered[i] = n
			if err != nil {
				s.log.ErrorContext(ctx, "failed to deliver reviews", "error", err, "user_id", userID)
			}
			return nil
		})
	}
	_ = eg.Wait()

	total := 0
	for _, n := range delivered {
		total += n
	}
	return total, nil
}

func (s *DeliveryScheduler) deliverUser(ctx context.Context, userID string) (int, error) {
	items, err := s.selector.GetUserDueReviews(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("get due reviews: %w", err)
	}

	delivered := 0
	for _, item := range items {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		content, err := s.content(ctx, item.WordID)
		if err != nil {
			return delivered, err
		}

		res, err := s.deliverer.DeliverReview(ctx, userID, item.WordID, content)
		if err != nil {
			if retry.IsRecipientUnreachable(err) {
				s.pause(ctx, userID, err)
				return delivered, nil
			}
			if errors.Is(err, retry.ErrChannelPermanent) {
				s.log.WarnContext(ctx, "review rejected by channel, skipping", "user_id", userID, "word_id", item.WordID, "error", err)
				continue
			}
			return delivered, fmt.Errorf("deliver review %s: %w", item.WordID, err)
		}
		if res.Success {
			delivered++
		}
	}
	return delivered, nil
}

func (s *DeliveryScheduler) content(ctx context.Context, wordID string) (review.Content, error) {
	c, err := s.store.FindWordContent(ctx, wordID)
	if err != nil {
		if errors.Is(err, dal.ErrNotFound) {
			s.log.DebugContext(ctx, "word content not found", "word_id", wordID)
			return review.Content{WordID: wordID, Text: wordID}, nil
		}
		return review.Content{}, fmt.Errorf("find word content: %w", err)
	}
	return *c, nil
}

// pause stops deliveries to a user the channel refuses to reach.
func (s *DeliveryScheduler) pause(ctx context.Context, userID string, cause error) {
	s.log.WarnContext(ctx, "channel rejected user, pausing deliveries", "user_id", userID, "error", cause)

	if err := delivery.SetPaused(ctx, s.store, s.conf.Defaults, userID, true); err != nil {
		s.log.ErrorContext(ctx, "failed to pause user", "error", err, "user_id", userID)
	}
}

func (s *DeliveryScheduler) userContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.conf.UserTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.conf.UserTimeout)
}

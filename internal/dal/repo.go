package dal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrItemNotFound matches both ErrNotFound and review.ErrItemNotFound.
	ErrItemNotFound = fmt.Errorf("%w: %w", ErrNotFound, review.ErrItemNotFound)
)

type (
	// CallbackToken maps a rating button token to the item it rates.
	CallbackToken struct {
		Token     string
		Key       review.Key
		ExpiresAt time.Time
	}

	// ReviewItemsRepository guards every item mutation behind a conditional update.
	// Methods returning bool report whether the precondition held and the change was applied.
	ReviewItemsRepository interface {
		CreateItem(ctx context.Context, item review.Item) (bool, error)
		FindItem(ctx context.Context, key review.Key) (*review.Item, error)
		FindDueItems(ctx context.Context, userID string, now time.Time, limit uint64) ([]review.Item, error)
		FindUsersWithDueItems(ctx context.Context, now time.Time) ([]string, error)
		CountDueItems(ctx context.Context, userID string, now time.Time) (int, error)
		CountDailyDeliveries(ctx context.Context, userID string, since time.Time) (int, error)
		PromoteScheduled(ctx context.Context, userID string, now time.Time) (int, error)

		ClaimItem(ctx context.Context, key review.Key, token string, now time.Time) (bool, error)
		ConfirmDelivery(ctx context.Context, key review.Key, token, messageID string, now time.Time) (bool, error)
		ReleaseClaim(ctx context.Context, key review.Key, token string) (bool, error)
		ReleaseStaleClaims(ctx context.Context, claimedBefore time.Time) (int, error)

		ApplyRating(ctx context.Context, rating review.Rating) (bool, error)
		FindTimedOut(ctx context.Context, sentBefore time.Time, limit uint64) ([]review.Item, error)
		ExpireItem(ctx context.Context, key review.Key, messageID string, sentBefore, now time.Time) (bool, error)
	}

	ReviewEventsRepository interface {
		FindEvents(ctx context.Context, userID string, limit uint64) ([]review.Event, error)
	}

	ProfilesRepository interface {
		FindProfile(ctx context.Context, userID string) (*review.Profile, error)
		UpsertProfile(ctx context.Context, profile review.Profile) error
		SetPaused(ctx context.Context, userID string, paused bool) error
	}

	WordsRepository interface {
		FindWordContent(ctx context.Context, wordID string) (*review.Content, error)
		UpsertWord(ctx context.Context, content review.Content) error
	}

	CallbackTokensRepository interface {
		InsertCallbackToken(ctx context.Context, token CallbackToken) error
		FindCallbackToken(ctx context.Context, token string, now time.Time) (*CallbackToken, error)
		DeleteCallbackToken(ctx context.Context, token string) error
		DeleteExpiredCallbackTokens(ctx context.Context, now time.Time) (int, error)
	}

	Repository interface {
		Transact(ctx context.Context, txFunc func(r Repository) error) error
		ReviewItemsRepository
		ReviewEventsRepository
		ProfilesRepository
		WordsRepository
		CallbackTokensRepository
	}
)

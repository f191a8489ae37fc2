package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Roma7-7-7/spaced-review-bot/internal/retry"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

type (
	Result struct {
		Success   bool
		MessageID string
	}

	// Executor sends a single review: claim, send with retries, then confirm or roll back.
	Executor struct {
		claims  *ClaimCoordinator
		channel Channel
		retrier *retry.Retrier
		log     *slog.Logger
	}
)

func NewExecutor(claims *ClaimCoordinator, channel Channel, retrier *retry.Retrier, log *slog.Logger) *Executor {
	return &Executor{claims: claims, channel: channel, retrier: retrier, log: log}
}

// DeliverReview returns an unsuccessful result without error when another worker holds the item.
// A send failure is returned only after the item is back in due.
func (e *Executor) DeliverReview(ctx context.Context, userID, wordID string, content review.Content) (Result, error) {
	key := review.Key{UserID: userID, WordID: wordID}

	token, ok, err := e.claims.Claim(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, nil
	}

	messageID, err := retry.Execute(ctx, e.retrier, func(ctx context.Context) (string, error) {
		return e.channel.Send(ctx, userID, content)
	})
	// the send outcome must be recorded even if the caller gave up
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		rErr := e.retrier.Do(ctx, func(ctx context.Context) error {
			_, err := e.claims.Release(ctx, key, token)
			return err
		})
		if rErr != nil {
			e.log.ErrorContext(ctx, "failed to roll back claim", "error", rErr, "user_id", userID, "word_id", wordID)
		}
		return Result{}, fmt.Errorf("send review: %w", err)
	}

	var confirmed bool
	err = e.retrier.Do(ctx, func(ctx context.Context) error {
		var cErr error
		confirmed, cErr = e.claims.Confirm(ctx, key, token, messageID)
		return cErr
	})
	if err != nil {
		e.log.ErrorContext(ctx, "review sent but delivery not recorded",
			"error", err, "user_id", userID, "word_id", wordID, "message_id", messageID)
		return Result{MessageID: messageID}, fmt.Errorf("record delivery: %w", err)
	}
	if !confirmed {
		e.log.WarnContext(ctx, "claim lost before confirmation", "user_id", userID, "word_id", wordID, "message_id", messageID)
		return Result{MessageID: messageID}, nil
	}

	e.log.DebugContext(ctx, "review delivered", "user_id", userID, "word_id", wordID, "message_id", messageID)
	return Result{Success: true, MessageID: messageID}, nil
}

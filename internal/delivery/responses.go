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

type ResponseProcessor struct {
	repo dal.ReviewItemsRepository
	now  func() time.Time
	log  *slog.Logger
}

func NewResponseProcessor(repo dal.ReviewItemsRepository, log *slog.Logger, opts ...Option) *ResponseProcessor {
	o := newOptions(opts)
	return &ResponseProcessor{repo: repo, now: o.now, log: log}
}

// ProcessRating applies a rating received through the channel. It returns false when the item is
// missing, not waiting for a response or waiting on a different message.
func (p *ResponseProcessor) ProcessRating(ctx context.Context, userID, wordID, messageID string, difficulty review.Difficulty) (bool, error) {
	return p.apply(ctx, userID, wordID, messageID, difficulty, review.SourceChannel)
}

// ProcessManualRating applies a rating entered outside the channel, for the message currently awaited.
func (p *ResponseProcessor) ProcessManualRating(ctx context.Context, userID, wordID string, difficulty review.Difficulty) (bool, error) {
	item, err := p.repo.FindItem(ctx, review.Key{UserID: userID, WordID: wordID})
	if err != nil {
		if errors.Is(err, dal.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("find item: %w", err)
	}
	if item.State != review.StateAwaitingResponse {
		return false, nil
	}
	return p.apply(ctx, userID, wordID, item.LastMessageID, difficulty, review.SourceManual)
}

func (p *ResponseProcessor) apply(ctx context.Context, userID, wordID, messageID string, difficulty review.Difficulty, source review.Source) (bool, error) {
	if !difficulty.Valid() {
		return false, fmt.Errorf("%w: %q", review.ErrUnknownDifficulty, difficulty)
	}

	ok, err := p.repo.ApplyRating(ctx, review.Rating{
		Key:        review.Key{UserID: userID, WordID: wordID},
		MessageID:  messageID,
		Difficulty: difficulty,
		Source:     source,
		At:         p.now(),
	})
	if err != nil {
		return false, fmt.Errorf("apply rating: %w", err)
	}
	if !ok {
		p.log.DebugContext(ctx, "rating ignored", "user_id", userID, "word_id", wordID, "message_id", messageID)
		return false, nil
	}

	p.log.InfoContext(ctx, "rating applied", "user_id", userID, "word_id", wordID, "difficulty", difficulty, "source", source)
	return true, nil
}

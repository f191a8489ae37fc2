package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tb "gopkg.in/telebot.v3"

	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

type callbackData struct {
	Action           string
	TargetIdentifier string
}

// HandleCallback applies a rating button press. Presses on stale or already answered prompts
// are acknowledged without changing anything.
func (b *Bot) HandleCallback(c tb.Context) error {
	ctx, cancel := processCtx()
	defer cancel()

	cb := c.Callback()
	data, err := parseCallbackData(cb.Data)
	if err != nil {
		b.log.ErrorContext(ctx, "failed to parse callback data", "error", err)
		return b.acknowledge(ctx, cb, somethingWentWrongMsg)
	}

	raw, ok := strings.CutPrefix(data.Action, callbackRate)
	if !ok {
		b.log.WarnContext(ctx, "unknown callback action", "action", data.Action)
		return b.acknowledge(ctx, cb, somethingWentWrongMsg)
	}
	difficulty, err := review.ParseDifficulty(raw)
	if err != nil {
		b.log.WarnContext(ctx, "unknown difficulty", "error", err)
		return b.acknowledge(ctx, cb, somethingWentWrongMsg)
	}

	key, found, err := b.channel.Resolve(ctx, data.TargetIdentifier)
	if err != nil {
		b.log.ErrorContext(ctx, "failed to resolve callback token", "error", err)
		return b.acknowledge(ctx, cb, somethingWentWrongMsg)
	}
	if !found {
		b.log.DebugContext(ctx, "callback token not found", "token", data.TargetIdentifier)
		return b.acknowledge(ctx, cb, "too much time passed")
	}
	if key.UserID != userID(c) || cb.Message == nil {
		b.log.WarnContext(ctx, "callback does not match review", "user_id", userID(c), "expected_user_id", key.UserID)
		return b.acknowledge(ctx, cb, somethingWentWrongMsg)
	}

	applied, err := b.ratings.ProcessRating(ctx, key.UserID, key.WordID, strconv.Itoa(cb.Message.ID), difficulty)
	if err != nil {
		b.log.ErrorContext(ctx, "failed to process rating", "error", err, "user_id", key.UserID, "word_id", key.WordID)
		return b.acknowledge(ctx, cb, somethingWentWrongMsg)
	}
	if !applied {
		return b.acknowledge(ctx, cb, "this review is already closed")
	}

	if err = b.channel.Forget(ctx, data.TargetIdentifier); err != nil {
		b.log.WarnContext(ctx, "failed to forget callback token", "error", err)
	}
	err = b.retrier.Do(ctx, func(ctx context.Context) error {
		return b.channel.ClearKeyboard(ctx, cb.Message)
	})
	if err != nil {
		b.log.WarnContext(ctx, "failed to clear rating keyboard", "error", err, "user_id", key.UserID)
	}

	return b.acknowledge(ctx, cb, fmt.Sprintf("saved: %s", difficulty))
}

func (b *Bot) acknowledge(ctx context.Context, cb *tb.Callback, text string) error {
	err := b.retrier.Do(ctx, func(ctx context.Context) error {
		return b.channel.Acknowledge(ctx, cb, text)
	})
	if err != nil {
		return fmt.Errorf("acknowledge callback: %w", err)
	}
	return nil
}

func parseCallbackData(val string) (callbackData, error) {
	val = strings.TrimSpace(val)
	action, target, ok := strings.Cut(val, ":")
	if !ok || action == "" || target == "" {
		return callbackData{}, fmt.Errorf("invalid callback data: %s", val)
	}
	return callbackData{
		Action:           action,
		TargetIdentifier: target,
	}, nil
}

package review

import (
	"errors"
	"fmt"
	"time"
)

// Claim moves a due item to sending and records the claim token as the pending message handle.
func (i Item) Claim(token string, now time.Time) (Item, error) {
	if token == "" {
		return i, errors.New("claim token is required")
	}
	if err := claimStep.check(i.State); err != nil {
		return i, err
	}

	i.State = StateSending
	i.LastMessageID = token
	i.LastClaimedAt = now
	return i, nil
}

// MarkSent replaces the claim token with the handle returned by the channel.
func (i Item) MarkSent(token, messageID string, now time.Time) (Item, error) {
	if messageID == "" {
		return i, errors.New("message id is required")
	}
	if err := sendStep.check(i.State); err != nil {
		return i, err
	}
	if i.LastMessageID != token {
		return i, ErrMessageIDMismatch
	}

	i.State = StateAwaitingResponse
	i.LastMessageID = messageID
	i.LastSentAt = now
	return i, nil
}

// Release rolls a failed send back to due.
func (i Item) Release(token string) (Item, error) {
	if err := releaseStep.check(i.State); err != nil {
		return i, err
	}
	if i.LastMessageID != token {
		return i, ErrMessageIDMismatch
	}

	i.State = StateDue
	i.LastMessageID = ""
	i.LastClaimedAt = time.Time{}
	return i, nil
}

// Rate applies a difficulty rating received for the message the item is waiting on.
func (i Item) Rate(messageID string, d Difficulty, now time.Time) (Item, error) {
	if !d.Valid() {
		return i, fmt.Errorf("%w: %q", ErrUnknownDifficulty, d)
	}
	if err := rateStep.check(i.State); err != nil {
		return i, err
	}
	if i.LastMessageID != messageID {
		return i, ErrMessageIDMismatch
	}

	i.State = StateScheduled
	i.ReviewCount++
	i.IntervalMinutes = CalculateInterval(d, i.ReviewCount)
	i.NextReviewAt = now.Add(time.Duration(i.IntervalMinutes) * time.Minute)
	i.LastMessageID = ""
	return i, nil
}

// Expire returns an unanswered item to due with a halved interval.
// The item must have been sent before cutoff.
func (i Item) Expire(messageID string, cutoff, now time.Time) (Item, error) {
	if err := expireStep.check(i.State); err != nil {
		return i, err
	}
	if i.LastMessageID != messageID {
		return i, ErrMessageIDMismatch
	}
	if !i.LastSentAt.Before(cutoff) {
		return i, fmt.Errorf("%w: sent at %s is not before %s", ErrInvalidState, i.LastSentAt.Format(time.RFC3339), cutoff.Format(time.RFC3339))
	}

	i.State = StateDue
	i.IntervalMinutes = PenaltyInterval(i.IntervalMinutes)
	i.NextReviewAt = now
	i.LastMessageID = ""
	i.LastClaimedAt = time.Time{}
	return i, nil
}

// Promote makes a scheduled item due once its review time has come.
func (i Item) Promote(now time.Time) (Item, error) {
	if err := promoteStep.check(i.State); err != nil {
		return i, err
	}
	if i.NextReviewAt.After(now) {
		return i, fmt.Errorf("%w: next review at %s", ErrInvalidState, i.NextReviewAt.Format(time.RFC3339))
	}

	i.State = StateDue
	return i, nil
}

// Event builds the log record for an applied rating.
func (r Rating) Event() Event {
	return Event{
		UserID:     r.UserID,
		WordID:     r.WordID,
		Difficulty: r.Difficulty,
		ReviewedAt: r.At,
		Source:     r.Source,
		MessageID:  r.MessageID,
	}
}

func TimeoutEvent(key Key, messageID string, at time.Time) Event {
	return Event{
		UserID:     key.UserID,
		WordID:     key.WordID,
		ReviewedAt: at,
		Source:     SourceTimeout,
		MessageID:  messageID,
	}
}

func (i Item) Validate() error {
	if i.UserID == "" || i.WordID == "" {
		return errors.New("user id and word id are required")
	}
	if !i.State.Valid() {
		return fmt.Errorf("unknown state %q", i.State)
	}
	if i.IntervalMinutes < MinIntervalMinutes {
		return fmt.Errorf("interval %d is less than %d minutes", i.IntervalMinutes, MinIntervalMinutes)
	}
	if i.ReviewCount < 0 {
		return fmt.Errorf("review count %d is negative", i.ReviewCount)
	}
	if i.State.HoldsMessage() != (i.LastMessageID != "") {
		return fmt.Errorf("message id presence does not match state %s", i.State)
	}
	return nil
}

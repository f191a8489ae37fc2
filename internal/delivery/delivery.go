// Package delivery moves review items through their delivery lifecycle: selection, claim, send,
// response and timeout.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

type (
	// Channel sends review prompts and returns an opaque message handle.
	Channel interface {
		Send(ctx context.Context, userID string, content review.Content) (string, error)
	}

	// ProfileSource resolves delivery preferences.
	ProfileSource interface {
		FindProfile(ctx context.Context, userID string) (*review.Profile, error)
	}

	// Defaults apply to users without a stored profile.
	Defaults struct {
		Timezone    string
		WindowStart string
		WindowEnd   string
		DailyLimit  int
	}

	Option func(*options)

	options struct {
		now func() time.Time
	}
)

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func (d Defaults) Profile(userID string) review.Profile {
	return review.Profile{
		UserID:      userID,
		Timezone:    d.Timezone,
		WindowStart: d.WindowStart,
		WindowEnd:   d.WindowEnd,
		DailyLimit:  d.DailyLimit,
	}
}

func newOptions(opts []Option) options {
	res := options{now: time.Now}
	for _, opt := range opts {
		opt(&res)
	}
	return res
}

// SetPaused pauses or resumes deliveries, creating a default profile for users without one.
func SetPaused(ctx context.Context, profiles dal.ProfilesRepository, defaults Defaults, userID string, paused bool) error {
	err := profiles.SetPaused(ctx, userID, paused)
	if errors.Is(err, dal.ErrNotFound) {
		p := defaults.Profile(userID)
		p.Paused = paused
		err = profiles.UpsertProfile(ctx, p)
	}
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}

// EnsureProfile stores the default profile for a user without one.
func EnsureProfile(ctx context.Context, profiles dal.ProfilesRepository, defaults Defaults, userID string) error {
	_, err := profiles.FindProfile(ctx, userID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, dal.ErrNotFound) {
		return fmt.Errorf("find profile: %w", err)
	}
	if err = profiles.UpsertProfile(ctx, defaults.Profile(userID)); err != nil {
		return fmt.Errorf("create profile: %w", err)
	}
	return nil
}

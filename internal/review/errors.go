package review

import (
	"errors"
	"fmt"
)

var (
	// ErrItemNotFound, ErrInvalidState and ErrMessageIDMismatch describe lost races and stale callbacks.
	// Operations surface them as a false result rather than a failure.
	ErrItemNotFound      = errors.New("review item not found")
	ErrInvalidState      = errors.New("review item is not in expected state")
	ErrMessageIDMismatch = fmt.Errorf("%w: message id mismatch", ErrInvalidState)
	ErrInvalidTransition = fmt.Errorf("%w: transition is not allowed", ErrInvalidState)

	// ErrUpstreamUnavailable marks a failed profile, window or limit lookup. The selector fails open on it.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	ErrUnknownDifficulty = errors.New("unknown difficulty")
	ErrInvalidClock      = errors.New("invalid clock value")
)

// IsLostRace reports whether err is an expected outcome of concurrent or duplicate processing.
func IsLostRace(err error) bool {
	return errors.Is(err, ErrItemNotFound) || errors.Is(err, ErrInvalidState)
}

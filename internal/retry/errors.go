package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	ErrChannelRetryable = errors.New("channel retryable failure")
	ErrChannelPermanent = errors.New("channel permanent failure")
	// ErrRecipientUnreachable is a permanent failure caused by the recipient rather than the message.
	ErrRecipientUnreachable = fmt.Errorf("%w: recipient unreachable", ErrChannelPermanent)
)

//nolint:gochecknoglobals // failures after which no message reaches the recipient
var recipientPatterns = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"chat not found",
	"bot was kicked",
	"bot can't initiate conversation",
}

//nolint:gochecknoglobals // fixed list of recipient and message failures that never recover
var permanentPatterns = []string{
	"bot was blocked by the user",
	"user is deactivated",
	"chat not found",
	"bot was kicked",
	"bot can't initiate conversation",
	"message to edit not found",
	"message can't be edited",
	"message is not modified",
	"query is too old",
	"query id is invalid",
}

// ChannelError is a failed call to the remote channel API.
// StatusCode is 0 when no response was received.
type ChannelError struct {
	StatusCode  int
	Description string
	RetryAfter  time.Duration
	Err         error
}

func (e *ChannelError) Error() string {
	if e.StatusCode == 0 {
		if e.Err != nil {
			return fmt.Sprintf("channel: %s: %v", e.Description, e.Err)
		}
		return "channel: " + e.Description
	}
	return fmt.Sprintf("channel: %s (%d)", e.Description, e.StatusCode)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

type Class int

const (
	ClassRetryable Class = iota
	ClassPermanent
)

func (c Class) String() string {
	return [...]string{"retryable", "permanent"}[c]
}

// Classify decides whether a failed channel call may be retried.
// 429 and 5xx responses, network failures and timeouts are retryable; other 4xx and
// known permanent descriptions are not. 409 is terminal.
func Classify(err error) Class {
	if errors.Is(err, ErrChannelPermanent) || errors.Is(err, context.Canceled) {
		return ClassPermanent
	}
	if matchesPermanent(err.Error()) {
		return ClassPermanent
	}

	var chErr *ChannelError
	if errors.As(err, &chErr) && chErr.StatusCode != 0 {
		switch {
		case chErr.StatusCode == http.StatusTooManyRequests:
			return ClassRetryable
		case chErr.StatusCode >= 500:
			return ClassRetryable
		case chErr.StatusCode >= 400:
			return ClassPermanent
		}
		return ClassRetryable
	}

	// no response received: network failure or timeout
	return ClassRetryable
}

// RetryAfter extracts the channel supplied rate limit hint.
func RetryAfter(err error) (time.Duration, bool) {
	var chErr *ChannelError
	if errors.As(err, &chErr) && chErr.RetryAfter > 0 {
		return chErr.RetryAfter, true
	}
	return 0, false
}

// IsRecipientUnreachable reports whether err means no further message can reach the recipient,
// as opposed to a single message being rejected.
func IsRecipientUnreachable(err error) bool {
	if errors.Is(err, ErrRecipientUnreachable) {
		return true
	}
	var chErr *ChannelError
	if errors.As(err, &chErr) && chErr.StatusCode == http.StatusForbidden {
		return true
	}
	return matchesAny(err.Error(), recipientPatterns)
}

func matchesPermanent(msg string) bool {
	return matchesAny(msg, permanentPatterns)
}

func matchesAny(msg string, patterns []string) bool {
	msg = strings.ToLower(msg)
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

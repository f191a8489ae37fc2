package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	tb "gopkg.in/telebot.v3"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/retry"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
	"github.com/Roma7-7-7/spaced-review-bot/pkg/cache"
)

const (
	callbackRate = "callback#rate#"

	defaultTokenTTL = 48 * time.Hour
)

// matches the "telegram: <description> (<code>)" errors telebot returns for unmapped API failures
var statusCodeSuffix = regexp.MustCompile(`\((\d{3})\)$`)

type (
	API interface {
		Send(to tb.Recipient, what interface{}, opts ...interface{}) (*tb.Message, error)
		EditReplyMarkup(msg tb.Editable, markup *tb.ReplyMarkup) (*tb.Message, error)
		Respond(c *tb.Callback, resp ...*tb.CallbackResponse) error
	}

	// Channel delivers review prompts as Telegram messages with rating buttons.
	// Buttons carry a short token resolved back to the review item. Tokens are persisted so
	// prompts stay answerable across restarts; the in-memory cache serves repeated lookups.
	Channel struct {
		api      API
		limiter  *rate.Limiter
		tokens   *cache.InMemory[review.Key]
		store    dal.CallbackTokensRepository
		tokenTTL time.Duration
		now      func() time.Time
		log      *slog.Logger
	}
)

func NewChannel(api API, limiter *rate.Limiter, tokens *cache.InMemory[review.Key], store dal.CallbackTokensRepository, tokenTTL time.Duration, log *slog.Logger) *Channel {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &Channel{
		api:      api,
		limiter:  limiter,
		tokens:   tokens,
		store:    store,
		tokenTTL: tokenTTL,
		now:      time.Now,
		log:      log,
	}
}

// Send posts the review prompt to the user's chat and returns the Telegram message id.
func (c *Channel) Send(ctx context.Context, userID string, content review.Content) (string, error) {
	chatID, err := strconv.ParseInt(userID, 10, 64)
	if err != nil {
		return "", fmt.Errorf("%w: invalid chat id %q", retry.ErrRecipientUnreachable, userID)
	}
	if err = c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("wait for rate limiter: %w", err)
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	key := review.Key{UserID: userID, WordID: content.WordID}
	err = c.store.InsertCallbackToken(ctx, dal.CallbackToken{Token: token, Key: key, ExpiresAt: c.now().Add(c.tokenTTL)})
	if err != nil {
		return "", fmt.Errorf("store callback token: %w", err)
	}
	c.tokens.Set(token, key, c.tokenTTL)

	msg, err := c.api.Send(tb.ChatID(chatID), renderReview(content), tb.ModeMarkdownV2, ratingMarkup(token))
	if err != nil {
		if fErr := c.Forget(context.WithoutCancel(ctx), token); fErr != nil {
			c.log.WarnContext(ctx, "failed to forget callback token", "error", fErr)
		}
		return "", channelError(err)
	}
	return strconv.Itoa(msg.ID), nil
}

// ClearKeyboard removes the rating buttons from an answered prompt.
func (c *Channel) ClearKeyboard(ctx context.Context, msg tb.Editable) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limiter: %w", err)
	}
	if _, err := c.api.EditReplyMarkup(msg, nil); err != nil && !errors.Is(err, tb.ErrTrueResult) {
		return channelError(err)
	}
	return nil
}

// Acknowledge answers a button press so the client stops showing progress.
func (c *Channel) Acknowledge(ctx context.Context, cb *tb.Callback, text string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait for rate limiter: %w", err)
	}
	if err := c.api.Respond(cb, &tb.CallbackResponse{Text: text}); err != nil {
		return channelError(err)
	}
	return nil
}

// Resolve maps a button token to its review item. Expired and unknown tokens are not found.
func (c *Channel) Resolve(ctx context.Context, token string) (review.Key, bool, error) {
	if key, ok := c.tokens.Get(token); ok {
		return key, true, nil
	}

	stored, err := c.store.FindCallbackToken(ctx, token, c.now())
	if errors.Is(err, dal.ErrNotFound) {
		return review.Key{}, false, nil
	}
	if err != nil {
		return review.Key{}, false, fmt.Errorf("find callback token: %w", err)
	}

	c.tokens.Set(token, stored.Key, stored.ExpiresAt.Sub(c.now()))
	return stored.Key, true, nil
}

func (c *Channel) Forget(ctx context.Context, token string) error {
	c.tokens.Delete(token)
	if err := c.store.DeleteCallbackToken(ctx, token); err != nil {
		return fmt.Errorf("delete callback token: %w", err)
	}
	return nil
}

// CleanupTokens drops expired tokens from the cache and the store.
func (c *Channel) CleanupTokens(ctx context.Context) (int, error) {
	c.tokens.Evict()
	n, err := c.store.DeleteExpiredCallbackTokens(ctx, c.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup callback tokens: %w", err)
	}
	return n, nil
}

func channelError(err error) error {
	var flood tb.FloodError
	if errors.As(err, &flood) {
		return &retry.ChannelError{
			StatusCode:  http.StatusTooManyRequests,
			Description: flood.Error(),
			RetryAfter:  time.Duration(flood.RetryAfter) * time.Second,
			Err:         err,
		}
	}

	var tbErr *tb.Error
	if errors.As(err, &tbErr) {
		return &retry.ChannelError{StatusCode: tbErr.Code, Description: tbErr.Description, Err: err}
	}

	if m := statusCodeSuffix.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return &retry.ChannelError{StatusCode: code, Description: err.Error(), Err: err}
	}
	return &retry.ChannelError{Description: "request failed", Err: err}
}

func ratingMarkup(token string) *tb.ReplyMarkup {
	labels := map[review.Difficulty]string{
		review.DifficultyHard:   "😣 Hard",
		review.DifficultyNormal: "🙂 Normal",
		review.DifficultyGood:   "😀 Good",
		review.DifficultyEasy:   "😎 Easy",
	}

	row := make([]tb.InlineButton, 0, len(labels))
	for _, d := range review.Difficulties() {
		row = append(row, tb.InlineButton{
			Text: labels[d],
			Data: fmt.Sprintf("%s%s:%s", callbackRate, d, token),
		})
	}
	return &tb.ReplyMarkup{InlineKeyboard: [][]tb.InlineButton{row}}
}

func renderReview(content review.Content) string {
	text := content.Text
	if text == "" {
		text = content.WordID
	}
	msg := fmt.Sprintf("*%s*", escapeMarkdown(text))
	if content.Description != "" {
		msg += fmt.Sprintf("\n||%s||", escapeMarkdown(content.Description))
	}
	return msg
}

//nolint:gochecknoglobals // MarkdownV2 reserved characters
var markdownEscaper = strings.NewReplacer(
	"\\", "\\\\", "_", "\\_", "*", "\\*", "[", "\\[", "]", "\\]", "(", "\\(", ")", "\\)",
	"~", "\\~", "`", "\\`", ">", "\\>", "#", "\\#", "+", "\\+", "-", "\\-", "=", "\\=",
	"|", "\\|", "{", "\\{", "}", "\\}", ".", "\\.", "!", "\\!",
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(strings.TrimSpace(s))
}

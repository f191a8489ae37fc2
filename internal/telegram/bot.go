package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	tb "gopkg.in/telebot.v3"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/delivery"
	"github.com/Roma7-7-7/spaced-review-bot/internal/retry"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

const (
	commandStart  = "/start"
	commandDue    = "/due"
	commandPause  = "/pause"
	commandResume = "/resume"

	somethingWentWrongMsg = "something went wrong"

	processTimeout = 10 * time.Second
)

type (
	RatingProcessor interface {
		ProcessRating(ctx context.Context, userID, wordID, messageID string, difficulty review.Difficulty) (bool, error)
	}

	Store interface {
		CountDueItems(ctx context.Context, userID string, now time.Time) (int, error)
		dal.ProfilesRepository
	}

	Bot struct {
		bot      *tb.Bot
		channel  *Channel
		ratings  RatingProcessor
		store    Store
		retrier  *retry.Retrier
		defaults delivery.Defaults

		middlewares []tb.MiddlewareFunc

		log *slog.Logger
	}
)

// NewAPI creates a long polling Telegram client.
func NewAPI(token string) (*tb.Bot, error) {
	b, err := tb.NewBot(tb.Settings{
		Token: token,
		Poller: &tb.LongPoller{
			Timeout: 1 * time.Minute,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return b, nil
}

func NewBot(bot *tb.Bot, channel *Channel, ratings RatingProcessor, store Store, retrier *retry.Retrier, defaults delivery.Defaults, log *slog.Logger, middlewares ...tb.MiddlewareFunc) *Bot {
	return &Bot{
		bot:         bot,
		channel:     channel,
		ratings:     ratings,
		store:       store,
		retrier:     retrier,
		defaults:    defaults,
		middlewares: middlewares,
		log:         log,
	}
}

// Start registers handlers and polls for updates until Stop is called.
func (b *Bot) Start() {
	b.bot.Handle(commandStart, b.HandleStart, b.middlewares...)
	b.bot.Handle(commandDue, b.HandleDue, b.middlewares...)
	b.bot.Handle(commandPause, b.HandlePause, b.middlewares...)
	b.bot.Handle(commandResume, b.HandleResume, b.middlewares...)
	b.bot.Handle(tb.OnCallback, b.HandleCallback, b.middlewares...)

	b.bot.Start()
}

func (b *Bot) Stop() {
	b.bot.Stop()
}

func (b *Bot) HandleStart(m tb.Context) error {
	ctx, cancel := processCtx()
	defer cancel()

	if err := delivery.EnsureProfile(ctx, b.store, b.defaults, userID(m)); err != nil {
		b.log.ErrorContext(ctx, "failed to create profile", "error", err, "user_id", userID(m))
		return m.Reply(somethingWentWrongMsg)
	}

	return m.Reply(fmt.Sprintf("Hello! I will send you words to review between %s and %s (%s). "+
		"Rate each one with the buttons below it. Use /due to see how many reviews are waiting, /pause and /resume to control deliveries.",
		b.defaults.WindowStart, b.defaults.WindowEnd, b.defaults.Timezone))
}

func (b *Bot) HandleDue(m tb.Context) error {
	ctx, cancel := processCtx()
	defer cancel()

	count, err := b.store.CountDueItems(ctx, userID(m), time.Now())
	if err != nil {
		b.log.ErrorContext(ctx, "failed to count due items", "error", err, "user_id", userID(m))
		return m.Reply("failed to count due reviews")
	}

	if count == 0 {
		return m.Reply("no reviews due")
	}
	return m.Reply(fmt.Sprintf("reviews due: %d", count))
}

func (b *Bot) HandlePause(m tb.Context) error {
	return b.setPaused(m, true, "deliveries paused, use /resume to continue")
}

func (b *Bot) HandleResume(m tb.Context) error {
	return b.setPaused(m, false, "deliveries resumed")
}

func (b *Bot) setPaused(m tb.Context, paused bool, reply string) error {
	ctx, cancel := processCtx()
	defer cancel()

	if err := delivery.SetPaused(ctx, b.store, b.defaults, userID(m), paused); err != nil {
		b.log.ErrorContext(ctx, "failed to update profile", "error", err, "user_id", userID(m), "paused", paused)
		return m.Reply(somethingWentWrongMsg)
	}
	return m.Reply(reply)
}

func userID(c tb.Context) string {
	return strconv.FormatInt(chatID(c), 10)
}

func processCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), processTimeout)
}

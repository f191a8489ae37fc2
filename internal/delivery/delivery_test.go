package delivery_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal/memory"
	"github.com/Roma7-7-7/spaced-review-bot/internal/delivery"
	"github.com/Roma7-7-7/spaced-review-bot/internal/retry"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

// 13:00 in Europe/Berlin
//
//nolint:gochecknoglobals // fixed clock for tests
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeChannel struct {
	mx    sync.Mutex
	sent  []review.Content
	fails []error
	seq   int
}

func (c *fakeChannel) Send(_ context.Context, _ string, content review.Content) (string, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	if len(c.fails) > 0 {
		err := c.fails[0]
		c.fails = c.fails[1:]
		return "", err
	}
	c.seq++
	c.sent = append(c.sent, content)
	return fmt.Sprintf("msg-%d", c.seq), nil
}

func (c *fakeChannel) sentCount() int {
	c.mx.Lock()
	defer c.mx.Unlock()
	return len(c.sent)
}

type failingProfiles struct{}

func (failingProfiles) FindProfile(context.Context, string) (*review.Profile, error) {
	return nil, errors.New("connection refused")
}

type clock struct {
	mx  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mx.Lock()
	defer c.mx.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mx.Lock()
	defer c.mx.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRetrier() *retry.Retrier {
	return retry.New(retry.DefaultConfig(), discardLogger(), retry.WithSleep(func(context.Context, time.Duration) error {
		return nil
	}))
}

func defaults() delivery.Defaults {
	return delivery.Defaults{Timezone: "UTC", WindowStart: "00:00", WindowEnd: "23:59"}
}

type env struct {
	repo     *memory.Repository
	channel  *fakeChannel
	clock    *clock
	selector *delivery.Selector
	executor *delivery.Executor
	claims   *delivery.ClaimCoordinator
	rater    *delivery.ResponseProcessor
	reaper   *delivery.Reaper
}

func newEnv() *env {
	repo := memory.NewRepository()
	c := &clock{now: testNow}
	log := discardLogger()
	ch := &fakeChannel{}
	claims := delivery.NewClaimCoordinator(repo, log, delivery.WithClock(c.Now))
	return &env{
		repo:     repo,
		channel:  ch,
		clock:    c,
		claims:   claims,
		selector: delivery.NewSelector(repo, repo, defaults(), log, delivery.WithClock(c.Now)),
		executor: delivery.NewExecutor(claims, ch, testRetrier(), log),
		rater:    delivery.NewResponseProcessor(repo, log, delivery.WithClock(c.Now)),
		reaper:   delivery.NewReaper(repo, log, delivery.WithClock(c.Now)),
	}
}

func (e *env) enroll(t *testing.T, userID string, wordIDs ...string) {
	t.Helper()
	for _, wordID := range wordIDs {
		_, err := e.repo.CreateItem(context.Background(), review.NewItem(userID, wordID, e.clock.Now()))
		require.NoError(t, err)
	}
}

func TestEndToEndDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv()
	e.enroll(t, "u1", "w1")

	items, err := e.selector.GetUserDueReviews(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)

	res, err := e.executor.DeliverReview(ctx, "u1", "w1", review.Content{WordID: "w1", Text: "serendipity"})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "msg-1", res.MessageID)

	item, err := e.repo.FindItem(ctx, review.Key{UserID: "u1", WordID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, review.StateAwaitingResponse, item.State)
	assert.Equal(t, "msg-1", item.LastMessageID)
	assert.Equal(t, testNow, item.LastSentAt)

	e.clock.Advance(time.Minute)
	ok, err := e.rater.ProcessRating(ctx, "u1", "w1", res.MessageID, review.DifficultyGood)
	require.NoError(t, err)
	assert.True(t, ok)

	item, err = e.repo.FindItem(ctx, review.Key{UserID: "u1", WordID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, review.StateScheduled, item.State)
	assert.Equal(t, 1, item.ReviewCount)
	assert.Equal(t, 4320, item.IntervalMinutes)
	assert.Equal(t, testNow.Add(time.Minute+4320*time.Minute), item.NextReviewAt)
	assert.Empty(t, item.LastMessageID)

	events := e.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, review.DifficultyGood, events[0].Difficulty)
	assert.Equal(t, review.SourceChannel, events[0].Source)

	items, err = e.selector.GetUserDueReviews(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, items)

	e.clock.Advance(4320 * time.Minute)
	items, err = e.selector.GetUserDueReviews(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1, "scheduled item is promoted lazily")
	assert.Equal(t, review.StateDue, items[0].State)
}

func TestProcessRatingIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv()
	e.enroll(t, "u1", "w1")

	res, err := e.executor.DeliverReview(ctx, "u1", "w1", review.Content{WordID: "w1"})
	require.NoError(t, err)

	ok, err := e.rater.ProcessRating(ctx, "u1", "w1", "stale-message", review.DifficultyEasy)
	require.NoError(t, err)
	assert.False(t, ok, "mismatched message id")

	ok, err = e.rater.ProcessRating(ctx, "u1", "missing", res.MessageID, review.DifficultyEasy)
	require.NoError(t, err)
	assert.False(t, ok, "unknown item")

	ok, err = e.rater.ProcessRating(ctx, "u1", "w1", res.MessageID, review.DifficultyEasy)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.rater.ProcessRating(ctx, "u1", "w1", res.MessageID, review.DifficultyEasy)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate")

	_, err = e.rater.ProcessRating(ctx, "u1", "w1", res.MessageID, review.Difficulty("again"))
	require.ErrorIs(t, err, review.ErrUnknownDifficulty)

	assert.Len(t, e.repo.Events(), 1)
}

func TestProcessManualRating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv()
	e.enroll(t, "u1", "w1")

	ok, err := e.rater.ProcessManualRating(ctx, "u1", "w1", review.DifficultyHard)
	require.NoError(t, err)
	assert.False(t, ok, "item is not awaiting a response")

	_, err = e.executor.DeliverReview(ctx, "u1", "w1", review.Content{WordID: "w1"})
	require.NoError(t, err)

	ok, err = e.rater.ProcessManualRating(ctx, "u1", "w1", review.DifficultyHard)
	require.NoError(t, err)
	assert.True(t, ok)

	events := e.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, review.SourceManual, events[0].Source)
}

func TestConcurrentDeliverySendsOnce(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv()
	e.enroll(t, "u1", "w1")

	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.executor.DeliverReview(ctx, "u1", "w1", review.Content{WordID: "w1"})
			assert.NoError(t, err)
			if res.Success {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
	assert.Equal(t, 1, e.channel.sentCount())
}

func TestDeliverReviewRollsBackOnFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv()
	e.enroll(t, "u1", "w1")
	e.channel.fails = []error{&retry.ChannelError{StatusCode: 403, Description: "Forbidden: bot was blocked by the user"}}

	res, err := e.executor.DeliverReview(ctx, "u1", "w1", review.Content{WordID: "w1"})
	require.ErrorIs(t, err, retry.ErrChannelPermanent)
	assert.False(t, res.Success)

	item, err := e.repo.FindItem(ctx, review.Key{UserID: "u1", WordID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, review.StateDue, item.State)
	assert.Empty(t, item.LastMessageID)
	assert.True(t, item.LastClaimedAt.IsZero())
}

func TestDeliverReviewRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv()
	e.enroll(t, "u1", "w1")
	e.channel.fails = []error{
		&retry.ChannelError{StatusCode: 502, Description: "Bad Gateway"},
		&retry.ChannelError{StatusCode: 429, Description: "Too Many Requests", RetryAfter: time.Second},
	}

	res, err := e.executor.DeliverReview(ctx, "u1", "w1", review.Content{WordID: "w1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, e.channel.sentCount())
}

// flakyConfirms fails the first n delivery confirmations.
type flakyConfirms struct {
	*memory.Repository
	failures atomic.Int32
	calls    atomic.Int32
}

func (r *flakyConfirms) ConfirmDelivery(ctx context.Context, key review.Key, token, messageID string, at time.Time) (bool, error) {
	r.calls.Add(1)
	if r.failures.Add(-1) >= 0 {
		return false, errors.New("database is locked")
	}
	return r.Repository.ConfirmDelivery(ctx, key, token, messageID, at)
}

func TestDeliverReviewRetriesConfirmation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		failures  int32
		success   bool
		wantState review.State
	}{
		{name: "transient", failures: 2, success: true, wantState: review.StateAwaitingResponse},
		{name: "persistent", failures: 100, success: false, wantState: review.StateSending},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			log := discardLogger()
			repo := &flakyConfirms{Repository: memory.NewRepository()}
			repo.failures.Store(tt.failures)
			ch := &fakeChannel{}
			executor := delivery.NewExecutor(delivery.NewClaimCoordinator(repo, log), ch, testRetrier(), log)

			_, err := repo.CreateItem(ctx, review.NewItem("u1", "w1", testNow))
			require.NoError(t, err)

			res, err := executor.DeliverReview(ctx, "u1", "w1", review.Content{WordID: "w1"})
			assert.Equal(t, tt.success, res.Success)
			assert.Equal(t, "msg-1", res.MessageID)
			if tt.success {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Equal(t, int32(retry.DefaultConfig().MaxRetries+1), repo.calls.Load())
			}
			assert.Equal(t, 1, ch.sentCount())

			item, err := repo.FindItem(ctx, review.Key{UserID: "u1", WordID: "w1"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantState, item.State)
			if tt.success {
				assert.Equal(t, "msg-1", item.LastMessageID)
			}
		})
	}
}

func TestDeliverReviewWithoutClaimHasNoEffect(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv()

	res, err := e.executor.DeliverReview(ctx, "u1", "missing", review.Content{WordID: "missing"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 0, e.channel.sentCount())
}

func TestTimeoutEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv()
	e.clock.Advance(-25 * time.Hour)
	e.enroll(t, "u1", "w1", "w2")

	_, err := e.executor.DeliverReview(ctx, "u1", "w1", review.Content{WordID: "w1"})
	require.NoError(t, err)
	e.clock.Advance(24*time.Hour + 30*time.Minute)
	_, err = e.executor.DeliverReview(ctx, "u1", "w2", review.Content{WordID: "w2"})
	require.NoError(t, err)
	e.clock.Advance(30 * time.Minute)

	expired, err := e.reaper.ProcessTimeouts(ctx, 1440)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	item, err := e.repo.FindItem(ctx, review.Key{UserID: "u1", WordID: "w1"})
	require.NoError(t, err)
	assert.Equal(t, review.StateDue, item.State)
	assert.Equal(t, 720, item.IntervalMinutes)
	assert.Equal(t, 0, item.ReviewCount)
	assert.Empty(t, item.LastMessageID)

	item, err = e.repo.FindItem(ctx, review.Key{UserID: "u1", WordID: "w2"})
	require.NoError(t, err)
	assert.Equal(t, review.StateAwaitingResponse, item.State)

	events := e.repo.Events()
	require.Len(t, events, 1)
	assert.Equal(t, review.SourceTimeout, events[0].Source)
	assert.Empty(t, events[0].Difficulty)

	expired, err = e.reaper.ProcessTimeouts(ctx, 1440)
	require.NoError(t, err)
	assert.Equal(t, 0, expired)

	_, err = e.reaper.ProcessTimeouts(ctx, 0)
	require.Error(t, err)
}

func TestReleaseStaleClaims(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := newEnv()
	e.enroll(t, "u1", "w1")

	_, ok, err := e.claims.Claim(ctx, review.Key{UserID: "u1", WordID: "w1"})
	require.NoError(t, err)
	require.True(t, ok)

	released, err := e.claims.ReleaseStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 0, released)

	e.clock.Advance(11 * time.Minute)
	released, err = e.claims.ReleaseStale(ctx, 10*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	items, err := e.selector.GetUserDueReviews(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

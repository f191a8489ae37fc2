package sql_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	dalsql "github.com/Roma7-7-7/spaced-review-bot/internal/dal/sql"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

//nolint:gochecknoglobals // fixed clock for tests
var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) *dalsql.Repository {
	t.Helper()

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := dalsql.Open(ctx, dal.DBTypeSQLite, filepath.Join(t.TempDir(), "reviews.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, dalsql.Migrate(ctx, db, dal.DBTypeSQLite, log))
	return dalsql.NewRepository(db, dal.DBTypeSQLite, log, dalsql.WithClock(func() time.Time { return testNow }))
}

func deliver(t *testing.T, repo *dalsql.Repository, key review.Key, messageID string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	token := uuid.NewString()

	ok, err := repo.ClaimItem(ctx, key, token, at)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ConfirmDelivery(ctx, key, token, messageID, at)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRepository_CreateAndFindItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	item := review.NewItem("u1", "w1", testNow)
	created, err := repo.CreateItem(ctx, item)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.CreateItem(ctx, item)
	require.NoError(t, err)
	assert.False(t, created, "second enrollment must be a no-op")

	found, err := repo.FindItem(ctx, item.Key())
	require.NoError(t, err)
	assert.Equal(t, item, *found)

	missing := review.Key{UserID: "u1", WordID: "missing"}
	_, err = repo.FindItem(ctx, missing)
	require.ErrorIs(t, err, dal.ErrNotFound)
	require.ErrorIs(t, err, review.ErrItemNotFound)

	ok, err := repo.ApplyRating(ctx, review.Rating{Key: missing, MessageID: "M", Difficulty: review.DifficultyGood, Source: review.SourceManual, At: testNow})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_FindDueItems(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	for i, wordID := range []string{"w3", "w1", "w2"} {
		_, err := repo.CreateItem(ctx, review.NewItem("u1", wordID, testNow.Add(-time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	_, err := repo.CreateItem(ctx, review.NewItem("u1", "future", testNow.Add(time.Hour)))
	require.NoError(t, err)
	_, err = repo.CreateItem(ctx, review.NewItem("u2", "w1", testNow))
	require.NoError(t, err)

	items, err := repo.FindDueItems(ctx, "u1", testNow, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "w2", items[0].WordID)
	assert.Equal(t, "w1", items[1].WordID)
	assert.Equal(t, "w3", items[2].WordID)

	items, err = repo.FindDueItems(ctx, "u1", testNow, 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	users, err := repo.FindUsersWithDueItems(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, users)

	count, err := repo.CountDueItems(ctx, "u1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestRepository_ConcurrentClaim(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	item := review.NewItem("u1", "w1", testNow)
	_, err := repo.CreateItem(ctx, item)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ClaimItem(ctx, item.Key(), uuid.NewString(), testNow)
			assert.NoError(t, err)
			if ok {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())

	found, err := repo.FindItem(ctx, item.Key())
	require.NoError(t, err)
	assert.Equal(t, review.StateSending, found.State)
	assert.NotEmpty(t, found.LastMessageID)
}

func TestRepository_ClaimFencing(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	item := review.NewItem("u1", "w1", testNow)
	_, err := repo.CreateItem(ctx, item)
	require.NoError(t, err)

	ok, err := repo.ClaimItem(ctx, item.Key(), "token-1", testNow)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.ConfirmDelivery(ctx, item.Key(), "token-2", "42", testNow)
	require.NoError(t, err)
	assert.False(t, ok, "foreign token must not confirm")

	ok, err = repo.ReleaseClaim(ctx, item.Key(), "token-2")
	require.NoError(t, err)
	assert.False(t, ok, "foreign token must not release")

	ok, err = repo.ReleaseClaim(ctx, item.Key(), "token-1")
	require.NoError(t, err)
	assert.True(t, ok)

	found, err := repo.FindItem(ctx, item.Key())
	require.NoError(t, err)
	assert.Equal(t, review.StateDue, found.State)
	assert.Empty(t, found.LastMessageID)
	assert.True(t, found.LastClaimedAt.IsZero())
}

func TestRepository_ApplyRating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	item := review.NewItem("u1", "w1", testNow)
	_, err := repo.CreateItem(ctx, item)
	require.NoError(t, err)
	deliver(t, repo, item.Key(), "M", testNow)

	rating := review.Rating{
		Key:        item.Key(),
		MessageID:  "M",
		Difficulty: review.DifficultyGood,
		Source:     review.SourceChannel,
		At:         testNow.Add(time.Minute),
	}

	ok, err := repo.ApplyRating(ctx, review.Rating{Key: rating.Key, MessageID: "other", Difficulty: review.DifficultyGood, Source: review.SourceChannel, At: rating.At})
	require.NoError(t, err)
	assert.False(t, ok, "stale message must be ignored")

	ok, err = repo.ApplyRating(ctx, rating)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ApplyRating(ctx, rating)
	require.NoError(t, err)
	assert.False(t, ok, "duplicate rating must be ignored")

	found, err := repo.FindItem(ctx, item.Key())
	require.NoError(t, err)
	assert.Equal(t, review.StateScheduled, found.State)
	assert.Equal(t, 1, found.ReviewCount)
	assert.Equal(t, 4320, found.IntervalMinutes)
	assert.Equal(t, rating.At.Add(4320*time.Minute), found.NextReviewAt)
	assert.Empty(t, found.LastMessageID)

	events, err := repo.FindEvents(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, review.DifficultyGood, events[0].Difficulty)
	assert.Equal(t, review.SourceChannel, events[0].Source)
	assert.Equal(t, "M", events[0].MessageID)
	assert.Equal(t, rating.At, events[0].ReviewedAt)
}

func TestRepository_ConcurrentRatings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	item := review.NewItem("u1", "w1", testNow)
	_, err := repo.CreateItem(ctx, item)
	require.NoError(t, err)
	deliver(t, repo, item.Key(), "M", testNow)

	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	for _, d := range review.Difficulties() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.ApplyRating(ctx, review.Rating{Key: item.Key(), MessageID: "M", Difficulty: d, Source: review.SourceChannel, At: testNow})
			assert.NoError(t, err)
			if ok {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	events, err := repo.FindEvents(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRepository_ExpireItem(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	sentAt := testNow.Add(-25 * time.Hour)
	item := review.NewItem("u1", "w1", sentAt)
	_, err := repo.CreateItem(ctx, item)
	require.NoError(t, err)
	deliver(t, repo, item.Key(), "M", sentAt)

	cutoff := testNow.Add(-24 * time.Hour)
	timedOut, err := repo.FindTimedOut(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, timedOut, 1)

	ok, err := repo.ExpireItem(ctx, item.Key(), "M", cutoff, testNow)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.ExpireItem(ctx, item.Key(), "M", cutoff, testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	found, err := repo.FindItem(ctx, item.Key())
	require.NoError(t, err)
	assert.Equal(t, review.StateDue, found.State)
	assert.Equal(t, 720, found.IntervalMinutes)
	assert.Equal(t, testNow, found.NextReviewAt)
	assert.Equal(t, 0, found.ReviewCount)

	events, err := repo.FindEvents(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, review.SourceTimeout, events[0].Source)
	assert.Empty(t, events[0].Difficulty)
}

func TestRepository_ConcurrentExpireAndRating(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	sentAt := testNow.Add(-25 * time.Hour)
	item := review.NewItem("u1", "w1", sentAt)
	_, err := repo.CreateItem(ctx, item)
	require.NoError(t, err)
	deliver(t, repo, item.Key(), "M", sentAt)

	var (
		wg      sync.WaitGroup
		applied atomic.Int32
	)
	wg.Go(func() {
		ok, err := repo.ExpireItem(ctx, item.Key(), "M", testNow.Add(-24*time.Hour), testNow)
		assert.NoError(t, err)
		if ok {
			applied.Add(1)
		}
	})
	wg.Go(func() {
		ok, err := repo.ApplyRating(ctx, review.Rating{Key: item.Key(), MessageID: "M", Difficulty: review.DifficultyGood, Source: review.SourceChannel, At: testNow})
		assert.NoError(t, err)
		if ok {
			applied.Add(1)
		}
	})
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	events, err := repo.FindEvents(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	found, err := repo.FindItem(ctx, item.Key())
	require.NoError(t, err)
	assert.Contains(t, []review.State{review.StateScheduled, review.StateDue}, found.State)
	assert.Empty(t, found.LastMessageID)
}

func TestRepository_ExpireSkipsRecentlySent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	item := review.NewItem("u1", "w1", testNow)
	_, err := repo.CreateItem(ctx, item)
	require.NoError(t, err)
	deliver(t, repo, item.Key(), "M", testNow.Add(-time.Hour))

	cutoff := testNow.Add(-24 * time.Hour)
	ok, err := repo.ExpireItem(ctx, item.Key(), "M", cutoff, testNow)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRepository_PromoteScheduled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	item := review.NewItem("u1", "w1", testNow.Add(-2*time.Hour))
	_, err := repo.CreateItem(ctx, item)
	require.NoError(t, err)
	deliver(t, repo, item.Key(), "M", testNow.Add(-2*time.Hour))

	ok, err := repo.ApplyRating(ctx, review.Rating{Key: item.Key(), MessageID: "M", Difficulty: review.DifficultyHard, Source: review.SourceManual, At: testNow.Add(-time.Hour)})
	require.NoError(t, err)
	require.True(t, ok)

	promoted, err := repo.PromoteScheduled(ctx, "u1", testNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, promoted)

	promoted, err = repo.PromoteScheduled(ctx, "u1", testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, promoted)

	items, err := repo.FindDueItems(ctx, "u1", testNow, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 10, items[0].IntervalMinutes)
}

func TestRepository_ReleaseStaleClaims(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	stale := review.NewItem("u1", "stale", testNow)
	fresh := review.NewItem("u1", "fresh", testNow)
	for _, item := range []review.Item{stale, fresh} {
		_, err := repo.CreateItem(ctx, item)
		require.NoError(t, err)
	}

	_, err := repo.ClaimItem(ctx, stale.Key(), "t1", testNow.Add(-time.Hour))
	require.NoError(t, err)
	_, err = repo.ClaimItem(ctx, fresh.Key(), "t2", testNow)
	require.NoError(t, err)

	released, err := repo.ReleaseStaleClaims(ctx, testNow.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, released)

	found, err := repo.FindItem(ctx, stale.Key())
	require.NoError(t, err)
	assert.Equal(t, review.StateDue, found.State)

	found, err = repo.FindItem(ctx, fresh.Key())
	require.NoError(t, err)
	assert.Equal(t, review.StateSending, found.State)
}

func TestRepository_CountDailyDeliveries(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	for _, wordID := range []string{"w1", "w2", "w3"} {
		_, err := repo.CreateItem(ctx, review.NewItem("u1", wordID, testNow.Add(-time.Hour)))
		require.NoError(t, err)
	}

	deliver(t, repo, review.Key{UserID: "u1", WordID: "w1"}, "M1", testNow.Add(-time.Hour))
	ok, err := repo.ApplyRating(ctx, review.Rating{Key: review.Key{UserID: "u1", WordID: "w1"}, MessageID: "M1", Difficulty: review.DifficultyEasy, Source: review.SourceChannel, At: testNow})
	require.NoError(t, err)
	require.True(t, ok)
	deliver(t, repo, review.Key{UserID: "u1", WordID: "w2"}, "M2", testNow)

	count, err := repo.CountDailyDeliveries(ctx, "u1", testNow.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = repo.CountDailyDeliveries(ctx, "u1", testNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count, "in-flight reviews count regardless of the day start")
}

func TestRepository_Profiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.FindProfile(ctx, "u1")
	require.ErrorIs(t, err, dal.ErrNotFound)
	require.ErrorIs(t, repo.SetPaused(ctx, "u1", true), dal.ErrNotFound)

	profile := review.Profile{UserID: "u1", Timezone: "Europe/Berlin", WindowStart: "09:00", WindowEnd: "21:00", DailyLimit: 20}
	require.NoError(t, repo.UpsertProfile(ctx, profile))

	profile.DailyLimit = 5
	require.NoError(t, repo.UpsertProfile(ctx, profile))
	require.NoError(t, repo.SetPaused(ctx, "u1", true))

	found, err := repo.FindProfile(ctx, "u1")
	require.NoError(t, err)
	profile.Paused = true
	assert.Equal(t, profile, *found)

	require.Error(t, repo.UpsertProfile(ctx, review.Profile{UserID: "u2", Timezone: "Mars/Base", WindowStart: "09:00", WindowEnd: "21:00"}))
}

func TestRepository_Words(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	require.NoError(t, repo.UpsertWord(ctx, review.Content{WordID: "w1", Text: "serendipity"}))
	require.NoError(t, repo.UpsertWord(ctx, review.Content{WordID: "w1", Text: "serendipity", Description: "a happy accident"}))

	found, err := repo.FindWordContent(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, review.Content{WordID: "w1", Text: "serendipity", Description: "a happy accident"}, *found)

	_, err = repo.FindWordContent(ctx, "w2")
	require.ErrorIs(t, err, dal.ErrNotFound)
}

func TestRepository_TransactRollsBack(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)

	errBoom := assert.AnError
	err := repo.Transact(ctx, func(r dal.Repository) error {
		if _, err := r.CreateItem(ctx, review.NewItem("u1", "w1", testNow)); err != nil {
			return err
		}
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	_, err = repo.FindItem(ctx, review.Key{UserID: "u1", WordID: "w1"})
	require.ErrorIs(t, err, dal.ErrNotFound)
}

func TestRepository_CallbackTokens(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := newTestRepository(t)
	key := review.Key{UserID: "u1", WordID: "w1"}

	require.NoError(t, repo.InsertCallbackToken(ctx, dal.CallbackToken{Token: "live", Key: key, ExpiresAt: testNow.Add(time.Hour)}))
	require.NoError(t, repo.InsertCallbackToken(ctx, dal.CallbackToken{Token: "old", Key: key, ExpiresAt: testNow.Add(-time.Minute)}))
	require.Error(t, repo.InsertCallbackToken(ctx, dal.CallbackToken{Token: "live", Key: key, ExpiresAt: testNow.Add(time.Hour)}))

	found, err := repo.FindCallbackToken(ctx, "live", testNow)
	require.NoError(t, err)
	assert.Equal(t, key, found.Key)
	assert.Equal(t, testNow.Add(time.Hour), found.ExpiresAt)

	_, err = repo.FindCallbackToken(ctx, "old", testNow)
	require.ErrorIs(t, err, dal.ErrNotFound)

	removed, err := repo.DeleteExpiredCallbackTokens(ctx, testNow)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	require.NoError(t, repo.DeleteCallbackToken(ctx, "live"))
	_, err = repo.FindCallbackToken(ctx, "live", testNow)
	require.ErrorIs(t, err, dal.ErrNotFound)
}

package dal

import (
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

const (
	DBTypeSQLite   DBType = "sqlite"
	DBTypePostgres DBType = "postgres"

	tableItems    = "review_items"
	tableEvents   = "review_events"
	tableProfiles = "delivery_profiles"
	tableWords    = "words"
	tableTokens   = "callback_tokens"
)

type DBType string

//nolint:gochecknoglobals // column list shared by item queries
var ItemColumns = []string{
	"user_id", "word_id", "state", "next_review_at", "interval_minutes", "review_count",
	"last_message_id", "last_claimed_at", "last_sent_at",
}

// Queries builds SQL for the configured dialect. Timestamps are stored as unix milliseconds.
type Queries struct {
	qb     squirrel.StatementBuilderType
	dbType DBType
}

func NewQueries(dbType DBType) *Queries {
	qb := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question)
	if dbType == DBTypePostgres {
		qb = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
	}
	return &Queries{qb: qb, dbType: dbType}
}

func (q *Queries) Clone() *Queries {
	return &Queries{qb: q.qb, dbType: q.dbType}
}

func (q *Queries) DBType() DBType {
	return q.dbType
}

func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

func NullableMillis(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func NullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// InsertItemQuery enrolls an item; an existing (user, word) pair is left untouched.
func (q *Queries) InsertItemQuery(item review.Item, now time.Time) squirrel.Sqlizer {
	return q.qb.Insert(tableItems).
		Columns("user_id", "word_id", "state", "next_review_at", "interval_minutes", "review_count", "created_at", "updated_at").
		Values(item.UserID, item.WordID, string(item.State), Millis(item.NextReviewAt), item.IntervalMinutes, item.ReviewCount, Millis(now), Millis(now)).
		Suffix("ON CONFLICT (user_id, word_id) DO NOTHING")
}

func (q *Queries) FindItemQuery(key review.Key) squirrel.Sqlizer {
	return q.qb.Select(ItemColumns...).
		From(tableItems).
		Where(squirrel.Eq{"user_id": key.UserID, "word_id": key.WordID})
}

func (q *Queries) FindDueItemsQuery(userID string, now time.Time, limit uint64) squirrel.Sqlizer {
	query := q.qb.Select(ItemColumns...).
		From(tableItems).
		Where(squirrel.Eq{"user_id": userID, "state": string(review.StateDue), "active": true}).
		Where(squirrel.LtOrEq{"next_review_at": Millis(now)}).
		OrderBy("next_review_at", "word_id")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return query
}

func (q *Queries) FindUsersWithDueItemsQuery(now time.Time) squirrel.Sqlizer {
	return q.qb.Select("DISTINCT user_id").
		From(tableItems).
		Where(squirrel.Eq{"state": []string{string(review.StateDue), string(review.StateScheduled)}, "active": true}).
		Where(squirrel.LtOrEq{"next_review_at": Millis(now)}).
		OrderBy("user_id")
}

func (q *Queries) CountDueItemsQuery(userID string, now time.Time) squirrel.Sqlizer {
	return q.qb.Select("COUNT(*)").
		From(tableItems).
		Where(squirrel.Eq{
			"user_id": userID,
			"state":   []string{string(review.StateDue), string(review.StateScheduled)},
			"active":  true,
		}).
		Where(squirrel.LtOrEq{"next_review_at": Millis(now)})
}

// CountDailyDeliveriesQuery counts reviews resolved since the given instant plus reviews still in flight.
// Subqueries keep "?" placeholders; the outer builder rewrites them for the dialect.
func (q *Queries) CountDailyDeliveriesQuery(userID string, since time.Time) squirrel.Sqlizer {
	resolved := squirrel.Select("COUNT(*)").
		From(tableEvents).
		Where(squirrel.Eq{"user_id": userID}).
		Where(squirrel.GtOrEq{"reviewed_at": Millis(since)})
	inFlight := squirrel.Select("COUNT(*)").
		From(tableItems).
		Where(squirrel.Eq{
			"user_id": userID,
			"state":   []string{string(review.StateSending), string(review.StateAwaitingResponse)},
		})

	return q.qb.Select().
		Column(squirrel.Alias(resolved, "resolved")).
		Column(squirrel.Alias(inFlight, "in_flight"))
}

func (q *Queries) PromoteScheduledQuery(userID string, now time.Time) squirrel.Sqlizer {
	return q.qb.Update(tableItems).
		Set("state", string(review.StateDue)).
		Set("updated_at", Millis(now)).
		Where(squirrel.Eq{"user_id": userID, "state": string(review.StateScheduled)}).
		Where(squirrel.LtOrEq{"next_review_at": Millis(now)})
}

// ClaimItemQuery is the compare-and-set due -> sending.
func (q *Queries) ClaimItemQuery(key review.Key, token string, now time.Time) squirrel.Sqlizer {
	return q.qb.Update(tableItems).
		Set("state", string(review.StateSending)).
		Set("last_message_id", token).
		Set("last_claimed_at", Millis(now)).
		Set("updated_at", Millis(now)).
		Where(squirrel.Eq{
			"user_id": key.UserID,
			"word_id": key.WordID,
			"state":   string(review.StateDue),
			"active":  true,
		})
}

func (q *Queries) ConfirmDeliveryQuery(key review.Key, token, messageID string, now time.Time) squirrel.Sqlizer {
	return q.qb.Update(tableItems).
		Set("state", string(review.StateAwaitingResponse)).
		Set("last_message_id", messageID).
		Set("last_sent_at", Millis(now)).
		Set("updated_at", Millis(now)).
		Where(squirrel.Eq{
			"user_id":         key.UserID,
			"word_id":         key.WordID,
			"state":           string(review.StateSending),
			"last_message_id": token,
		})
}

func (q *Queries) ReleaseClaimQuery(key review.Key, token string, now time.Time) squirrel.Sqlizer {
	return q.qb.Update(tableItems).
		Set("state", string(review.StateDue)).
		Set("last_message_id", nil).
		Set("last_claimed_at", nil).
		Set("updated_at", Millis(now)).
		Where(squirrel.Eq{
			"user_id":         key.UserID,
			"word_id":         key.WordID,
			"state":           string(review.StateSending),
			"last_message_id": token,
		})
}

func (q *Queries) ReleaseStaleClaimsQuery(claimedBefore, now time.Time) squirrel.Sqlizer {
	return q.qb.Update(tableItems).
		Set("state", string(review.StateDue)).
		Set("last_message_id", nil).
		Set("last_claimed_at", nil).
		Set("updated_at", Millis(now)).
		Where(squirrel.Eq{"state": string(review.StateSending)}).
		Where(squirrel.Lt{"last_claimed_at": Millis(claimedBefore)})
}

// ResolveItemQuery writes the result of a rating or a timeout. It only applies while the item still
// waits on messageID with the interval and count the new values were computed from.
func (q *Queries) ResolveItemQuery(prev, next review.Item, now time.Time) squirrel.Sqlizer {
	return q.qb.Update(tableItems).
		Set("state", string(next.State)).
		Set("next_review_at", Millis(next.NextReviewAt)).
		Set("interval_minutes", next.IntervalMinutes).
		Set("review_count", next.ReviewCount).
		Set("last_message_id", NullableString(next.LastMessageID)).
		Set("last_claimed_at", NullableMillis(next.LastClaimedAt)).
		Set("updated_at", Millis(now)).
		Where(squirrel.Eq{
			"user_id":          prev.UserID,
			"word_id":          prev.WordID,
			"state":            string(review.StateAwaitingResponse),
			"last_message_id":  prev.LastMessageID,
			"interval_minutes": prev.IntervalMinutes,
			"review_count":     prev.ReviewCount,
		})
}

func (q *Queries) FindTimedOutQuery(sentBefore time.Time, limit uint64) squirrel.Sqlizer {
	query := q.qb.Select(ItemColumns...).
		From(tableItems).
		Where(squirrel.Eq{"state": string(review.StateAwaitingResponse)}).
		Where(squirrel.Lt{"last_sent_at": Millis(sentBefore)}).
		OrderBy("last_sent_at")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return query
}

func (q *Queries) InsertEventQuery(event review.Event) squirrel.Sqlizer {
	return q.qb.Insert(tableEvents).
		Columns("user_id", "word_id", "difficulty", "reviewed_at", "source", "message_id").
		Values(event.UserID, event.WordID, NullableString(string(event.Difficulty)), Millis(event.ReviewedAt), string(event.Source), event.MessageID)
}

func (q *Queries) FindEventsQuery(userID string, limit uint64) squirrel.Sqlizer {
	query := q.qb.Select("user_id", "word_id", "COALESCE(difficulty, '')", "reviewed_at", "source", "message_id").
		From(tableEvents).
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("reviewed_at DESC", "id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return query
}

func (q *Queries) FindProfileQuery(userID string) squirrel.Sqlizer {
	return q.qb.Select("user_id", "timezone", "window_start", "window_end", "daily_limit", "paused").
		From(tableProfiles).
		Where(squirrel.Eq{"user_id": userID})
}

func (q *Queries) UpsertProfileQuery(p review.Profile, now time.Time) squirrel.Sqlizer {
	return q.qb.Insert(tableProfiles).
		Columns("user_id", "timezone", "window_start", "window_end", "daily_limit", "paused", "updated_at").
		Values(p.UserID, p.Timezone, p.WindowStart, p.WindowEnd, p.DailyLimit, p.Paused, Millis(now)).
		Suffix(`ON CONFLICT (user_id) DO UPDATE SET
			timezone = EXCLUDED.timezone,
			window_start = EXCLUDED.window_start,
			window_end = EXCLUDED.window_end,
			daily_limit = EXCLUDED.daily_limit,
			paused = EXCLUDED.paused,
			updated_at = EXCLUDED.updated_at`)
}

func (q *Queries) SetPausedQuery(userID string, paused bool, now time.Time) squirrel.Sqlizer {
	return q.qb.Update(tableProfiles).
		Set("paused", paused).
		Set("updated_at", Millis(now)).
		Where(squirrel.Eq{"user_id": userID})
}

func (q *Queries) FindWordContentQuery(wordID string) squirrel.Sqlizer {
	return q.qb.Select("word_id", "text", "COALESCE(description, '')").
		From(tableWords).
		Where(squirrel.Eq{"word_id": wordID})
}

func (q *Queries) UpsertWordQuery(content review.Content) squirrel.Sqlizer {
	return q.qb.Insert(tableWords).
		Columns("word_id", "text", "description").
		Values(content.WordID, content.Text, content.Description).
		Suffix("ON CONFLICT (word_id) DO UPDATE SET text = EXCLUDED.text, description = EXCLUDED.description")
}

func (q *Queries) InsertCallbackTokenQuery(token CallbackToken) squirrel.Sqlizer {
	return q.qb.Insert(tableTokens).
		Columns("token", "user_id", "word_id", "expires_at").
		Values(token.Token, token.Key.UserID, token.Key.WordID, Millis(token.ExpiresAt))
}

// FindCallbackTokenQuery ignores expired tokens that cleanup has not removed yet.
func (q *Queries) FindCallbackTokenQuery(token string, now time.Time) squirrel.Sqlizer {
	return q.qb.Select("token", "user_id", "word_id", "expires_at").
		From(tableTokens).
		Where(squirrel.Eq{"token": token}).
		Where(squirrel.Gt{"expires_at": Millis(now)})
}

func (q *Queries) DeleteCallbackTokenQuery(token string) squirrel.Sqlizer {
	return q.qb.Delete(tableTokens).
		Where(squirrel.Eq{"token": token})
}

func (q *Queries) DeleteExpiredCallbackTokensQuery(now time.Time) squirrel.Sqlizer {
	return q.qb.Delete(tableTokens).
		Where(squirrel.LtOrEq{"expires_at": Millis(now)})
}

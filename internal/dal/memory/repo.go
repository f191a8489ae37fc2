package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

// Repository keeps all state in process. A single mutex makes every conditional update indivisible.
type Repository struct {
	items    map[review.Key]*entry
	events   []review.Event
	profiles map[string]review.Profile
	words    map[string]review.Content
	tokens   map[string]dal.CallbackToken

	mx sync.Mutex
}

type entry struct {
	item   review.Item
	active bool
}

var _ dal.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		items:    make(map[review.Key]*entry),
		profiles: make(map[string]review.Profile),
		words:    make(map[string]review.Content),
		tokens:   make(map[string]dal.CallbackToken),
	}
}

// Transact runs txFunc against the same repository. Each call is atomic on its own;
// there is no rollback of earlier calls.
func (r *Repository) Transact(_ context.Context, txFunc func(r dal.Repository) error) error {
	return txFunc(r)
}

func (r *Repository) CreateItem(_ context.Context, item review.Item) (bool, error) {
	if err := item.Validate(); err != nil {
		return false, fmt.Errorf("validate item: %w", err)
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.items[item.Key()]; ok {
		return false, nil
	}
	r.items[item.Key()] = &entry{item: item, active: true}
	return true, nil
}

func (r *Repository) FindItem(_ context.Context, key review.Key) (*review.Item, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	e, ok := r.items[key]
	if !ok {
		return nil, dal.ErrItemNotFound
	}
	item := e.item
	return &item, nil
}

func (r *Repository) FindDueItems(_ context.Context, userID string, now time.Time, limit uint64) ([]review.Item, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	res := r.filter(func(e *entry) bool {
		return e.active && e.item.UserID == userID && e.item.State == review.StateDue && !e.item.NextReviewAt.After(now)
	})
	sort.Slice(res, func(i, j int) bool {
		if res[i].NextReviewAt.Equal(res[j].NextReviewAt) {
			return res[i].WordID < res[j].WordID
		}
		return res[i].NextReviewAt.Before(res[j].NextReviewAt)
	})
	if limit > 0 && uint64(len(res)) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *Repository) FindUsersWithDueItems(_ context.Context, now time.Time) ([]string, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	users := make([]string, 0)
	for _, e := range r.items {
		if e.active && isDueOrPromotable(e.item, now) && !slices.Contains(users, e.item.UserID) {
			users = append(users, e.item.UserID)
		}
	}
	slices.Sort(users)
	return users, nil
}

func (r *Repository) CountDueItems(_ context.Context, userID string, now time.Time) (int, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	return len(r.filter(func(e *entry) bool {
		return e.active && e.item.UserID == userID && isDueOrPromotable(e.item, now)
	})), nil
}

func (r *Repository) CountDailyDeliveries(_ context.Context, userID string, since time.Time) (int, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	count := 0
	for _, ev := range r.events {
		if ev.UserID == userID && !ev.ReviewedAt.Before(since) {
			count++
		}
	}
	count += len(r.filter(func(e *entry) bool {
		return e.item.UserID == userID && e.item.State.HoldsMessage()
	}))
	return count, nil
}

func (r *Repository) PromoteScheduled(_ context.Context, userID string, now time.Time) (int, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	promoted := 0
	for _, e := range r.items {
		if e.item.UserID != userID || e.item.State != review.StateScheduled {
			continue
		}
		next, err := e.item.Promote(now)
		if err != nil {
			continue
		}
		e.item = next
		promoted++
	}
	return promoted, nil
}

func (r *Repository) ClaimItem(_ context.Context, key review.Key, token string, now time.Time) (bool, error) {
	return r.update(key, true, func(item review.Item) (review.Item, error) {
		return item.Claim(token, now)
	})
}

func (r *Repository) ConfirmDelivery(_ context.Context, key review.Key, token, messageID string, now time.Time) (bool, error) {
	return r.update(key, false, func(item review.Item) (review.Item, error) {
		return item.MarkSent(token, messageID, now)
	})
}

func (r *Repository) ReleaseClaim(_ context.Context, key review.Key, token string) (bool, error) {
	return r.update(key, false, func(item review.Item) (review.Item, error) {
		return item.Release(token)
	})
}

func (r *Repository) ReleaseStaleClaims(_ context.Context, claimedBefore time.Time) (int, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	released := 0
	for _, e := range r.items {
		if e.item.State != review.StateSending || !e.item.LastClaimedAt.Before(claimedBefore) {
			continue
		}
		next, err := e.item.Release(e.item.LastMessageID)
		if err != nil {
			continue
		}
		e.item = next
		released++
	}
	return released, nil
}

func (r *Repository) ApplyRating(_ context.Context, rating review.Rating) (bool, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	e, ok := r.items[rating.Key]
	if !ok {
		return false, nil
	}
	next, err := e.item.Rate(rating.MessageID, rating.Difficulty, rating.At)
	if err != nil {
		if review.IsLostRace(err) {
			return false, nil
		}
		return false, fmt.Errorf("rate item: %w", err)
	}

	e.item = next
	r.events = append(r.events, rating.Event())
	return true, nil
}

func (r *Repository) FindTimedOut(_ context.Context, sentBefore time.Time, limit uint64) ([]review.Item, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	res := r.filter(func(e *entry) bool {
		return e.item.State == review.StateAwaitingResponse && e.item.LastSentAt.Before(sentBefore)
	})
	sort.Slice(res, func(i, j int) bool {
		return res[i].LastSentAt.Before(res[j].LastSentAt)
	})
	if limit > 0 && uint64(len(res)) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (r *Repository) ExpireItem(_ context.Context, key review.Key, messageID string, sentBefore, now time.Time) (bool, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	e, ok := r.items[key]
	if !ok {
		return false, nil
	}
	next, err := e.item.Expire(messageID, sentBefore, now)
	if err != nil {
		if review.IsLostRace(err) {
			return false, nil
		}
		return false, fmt.Errorf("expire item: %w", err)
	}

	e.item = next
	r.events = append(r.events, review.TimeoutEvent(key, messageID, now))
	return true, nil
}

func (r *Repository) FindEvents(_ context.Context, userID string, limit uint64) ([]review.Event, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	res := make([]review.Event, 0)
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].UserID != userID {
			continue
		}
		res = append(res, r.events[i])
		if limit > 0 && uint64(len(res)) == limit {
			break
		}
	}
	return res, nil
}

func (r *Repository) FindProfile(_ context.Context, userID string) (*review.Profile, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	p, ok := r.profiles[userID]
	if !ok {
		return nil, dal.ErrNotFound
	}
	return &p, nil
}

func (r *Repository) UpsertProfile(_ context.Context, profile review.Profile) error {
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("validate profile: %w", err)
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	r.profiles[profile.UserID] = profile
	return nil
}

func (r *Repository) SetPaused(_ context.Context, userID string, paused bool) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	p, ok := r.profiles[userID]
	if !ok {
		return dal.ErrNotFound
	}
	p.Paused = paused
	r.profiles[userID] = p
	return nil
}

func (r *Repository) FindWordContent(_ context.Context, wordID string) (*review.Content, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	c, ok := r.words[wordID]
	if !ok {
		return nil, dal.ErrNotFound
	}
	return &c, nil
}

func (r *Repository) UpsertWord(_ context.Context, content review.Content) error {
	if content.WordID == "" {
		return errors.New("word id is required")
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	r.words[content.WordID] = content
	return nil
}

func (r *Repository) InsertCallbackToken(_ context.Context, token dal.CallbackToken) error {
	if token.Token == "" {
		return errors.New("token is required")
	}

	r.mx.Lock()
	defer r.mx.Unlock()

	if _, ok := r.tokens[token.Token]; ok {
		return fmt.Errorf("insert callback token: duplicate token %q", token.Token)
	}
	r.tokens[token.Token] = token
	return nil
}

func (r *Repository) FindCallbackToken(_ context.Context, token string, now time.Time) (*dal.CallbackToken, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	t, ok := r.tokens[token]
	if !ok || !t.ExpiresAt.After(now) {
		return nil, dal.ErrNotFound
	}
	return &t, nil
}

func (r *Repository) DeleteCallbackToken(_ context.Context, token string) error {
	r.mx.Lock()
	defer r.mx.Unlock()

	delete(r.tokens, token)
	return nil
}

func (r *Repository) DeleteExpiredCallbackTokens(_ context.Context, now time.Time) (int, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	n := 0
	for k, t := range r.tokens {
		if !t.ExpiresAt.After(now) {
			delete(r.tokens, k)
			n++
		}
	}
	return n, nil
}

// Deactivate hides an item from selection, as word removal does.
func (r *Repository) Deactivate(key review.Key) {
	r.mx.Lock()
	defer r.mx.Unlock()

	if e, ok := r.items[key]; ok {
		e.active = false
	}
}

// Events returns a copy of the event log.
func (r *Repository) Events() []review.Event {
	r.mx.Lock()
	defer r.mx.Unlock()
	return slices.Clone(r.events)
}

// Put stores item as is, bypassing transitions. Intended for seeding.
func (r *Repository) Put(item review.Item) {
	r.mx.Lock()
	defer r.mx.Unlock()
	r.items[item.Key()] = &entry{item: item, active: true}
}

func (r *Repository) update(key review.Key, activeOnly bool, fn func(item review.Item) (review.Item, error)) (bool, error) {
	r.mx.Lock()
	defer r.mx.Unlock()

	e, ok := r.items[key]
	if !ok || (activeOnly && !e.active) {
		return false, nil
	}
	next, err := fn(e.item)
	if err != nil {
		if review.IsLostRace(err) {
			return false, nil
		}
		return false, err
	}
	e.item = next
	return true, nil
}

func (r *Repository) filter(keep func(e *entry) bool) []review.Item {
	res := make([]review.Item, 0)
	for _, e := range r.items {
		if keep(e) {
			res = append(res, e.item)
		}
	}
	return res
}

func isDueOrPromotable(item review.Item, now time.Time) bool {
	return (item.State == review.StateDue || item.State == review.StateScheduled) && !item.NextReviewAt.After(now)
}

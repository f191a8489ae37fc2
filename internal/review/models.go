package review

import (
	"time"
)

const (
	SourceChannel Source = "channel"
	SourceTimeout Source = "timeout"
	SourceManual  Source = "manual"
)

type (
	Source string

	Key struct {
		UserID string
		WordID string
	}

	// Item is the scheduling record of one (user, word) pair.
	// LastMessageID holds the claim token while sending and the channel message handle while awaiting response.
	Item struct {
		UserID          string
		WordID          string
		State           State
		NextReviewAt    time.Time
		IntervalMinutes int
		ReviewCount     int
		LastMessageID   string
		LastClaimedAt   time.Time
		LastSentAt      time.Time
	}

	Event struct {
		UserID     string
		WordID     string
		Difficulty Difficulty // empty for timeout events
		ReviewedAt time.Time
		Source     Source
		MessageID  string
	}

	Rating struct {
		Key
		MessageID  string
		Difficulty Difficulty
		Source     Source
		At         time.Time
	}

	Content struct {
		WordID      string
		Text        string
		Description string
	}
)

func NewItem(userID, wordID string, now time.Time) Item {
	return Item{
		UserID:          userID,
		WordID:          wordID,
		State:           StateDue,
		NextReviewAt:    now,
		IntervalMinutes: DefaultIntervalMinutes,
	}
}

func (i Item) Key() Key {
	return Key{UserID: i.UserID, WordID: i.WordID}
}

func (s Source) Valid() bool {
	switch s {
	case SourceChannel, SourceTimeout, SourceManual:
		return true
	}
	return false
}

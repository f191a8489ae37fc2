package review

import (
	"fmt"
	"strings"
)

const (
	DifficultyHard   Difficulty = "hard"
	DifficultyNormal Difficulty = "normal"
	DifficultyGood   Difficulty = "good"
	DifficultyEasy   Difficulty = "easy"

	MinIntervalMinutes     = 10
	DefaultIntervalMinutes = 1440
)

type Difficulty string

//nolint:gochecknoglobals // base intervals table
var baseIntervals = map[Difficulty]int{
	DifficultyHard:   10,
	DifficultyNormal: 1440,
	DifficultyGood:   4320,
	DifficultyEasy:   10080,
}

func Difficulties() []Difficulty {
	return []Difficulty{DifficultyHard, DifficultyNormal, DifficultyGood, DifficultyEasy}
}

func ParseDifficulty(val string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(val)))
	if _, ok := baseIntervals[d]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownDifficulty, val)
	}
	return d, nil
}

func (d Difficulty) Valid() bool {
	_, ok := baseIntervals[d]
	return ok
}

// CalculateInterval returns max(10, base[d] * max(1, reviewCount)) minutes.
// Unknown difficulties have no base and fall back to the floor.
func CalculateInterval(d Difficulty, reviewCount int) int {
	return max(MinIntervalMinutes, baseIntervals[d]*max(1, reviewCount))
}

// PenaltyInterval halves the prior interval for a review that was never answered.
func PenaltyInterval(prior int) int {
	return max(MinIntervalMinutes, prior/2) //nolint:mnd // 0.5x penalty
}

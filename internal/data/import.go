// Package data enrolls review items from plain text word lists.
package data

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

type (
	// Line is one "word: text[: description]" entry.
	Line struct {
		WordID      string
		Text        string
		Description string
	}

	ParsingError struct {
		InvalidLines []int
	}

	Stats struct {
		Words    int
		Enrolled int
	}
)

func (e *ParsingError) Error() string {
	return fmt.Sprintf("parsing error: invalidLines=%v", e.InvalidLines)
}

// Parse streams valid lines to out and closes it. Invalid lines are reported together once input is exhausted.
func Parse(ctx context.Context, in io.ReadCloser, out chan<- Line) error {
	defer close(out)
	defer in.Close()

	scanner := bufio.NewScanner(in)
	invalidLines := make([]int, 0, 10) //nolint:mnd // 10 is the expected capacity
	linNum := 0
	for scanner.Scan() {
		linNum++
		line, ok := parseLine(scanner.Text())
		if !ok {
			if strings.TrimSpace(scanner.Text()) != "" {
				invalidLines = append(invalidLines, linNum)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- line:
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan file: %w", err)
	}
	if len(invalidLines) > 0 {
		return &ParsingError{InvalidLines: invalidLines}
	}

	return nil
}

func parseLine(raw string) (Line, bool) {
	parts := strings.SplitN(raw, ":", 3) //nolint:mnd // word, text, description
	if len(parts) < 2 {                  //nolint:mnd // word and text are required
		return Line{}, false
	}

	res := Line{
		WordID: strings.ToLower(strings.TrimSpace(parts[0])),
		Text:   strings.TrimSpace(parts[1]),
	}
	if len(parts) == 3 { //nolint:mnd // 3 is the expected length
		res.Description = strings.TrimSpace(parts[2])
	}
	if res.WordID == "" || res.Text == "" {
		return Line{}, false
	}
	return res, true
}

// Import stores word content and enrolls a due item per line for the user.
// Words already enrolled keep their schedule; only their content is updated.
func Import(ctx context.Context, repo dal.Repository, userID string, lines <-chan Line, now func() time.Time) (Stats, error) {
	var stats Stats
	for line := range lines {
		err := repo.Transact(ctx, func(r dal.Repository) error {
			content := review.Content{WordID: line.WordID, Text: line.Text, Description: line.Description}
			if err := r.UpsertWord(ctx, content); err != nil {
				return fmt.Errorf("upsert word %q: %w", line.WordID, err)
			}
			created, err := r.CreateItem(ctx, review.NewItem(userID, line.WordID, now()))
			if err != nil {
				return fmt.Errorf("create item %q: %w", line.WordID, err)
			}
			stats.Words++
			if created {
				stats.Enrolled++
			}
			return nil
		})
		if err != nil {
			return stats, err
		}
	}
	return stats, nil
}

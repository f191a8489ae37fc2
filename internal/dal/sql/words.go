package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Roma7-7-7/spaced-review-bot/internal/dal"
	"github.com/Roma7-7-7/spaced-review-bot/internal/review"
)

func (r *Repository) FindWordContent(ctx context.Context, wordID string) (*review.Content, error) {
	row, err := r.queryRow(ctx, r.queries.FindWordContentQuery(wordID))
	if err != nil {
		return nil, err
	}

	var c review.Content
	if err := row.Scan(&c.WordID, &c.Text, &c.Description); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, dal.ErrNotFound
		}
		return nil, fmt.Errorf("find word: %w", err)
	}
	return &c, nil
}

func (r *Repository) UpsertWord(ctx context.Context, content review.Content) error {
	if content.WordID == "" {
		return errors.New("word id is required")
	}

	if _, err := r.exec(ctx, r.queries.UpsertWordQuery(content)); err != nil {
		return fmt.Errorf("upsert word: %w", err)
	}
	return nil
}

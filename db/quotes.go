package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrQuoteNotFound = errors.New("quote not found")

type Quote struct {
	ID       int64
	Channel  string
	Username string
	AddedBy  string
	AddedAt  time.Time
	Text     string
}

// String renders a quote the way it is shown in chat.
func (q Quote) String() string {
	return fmt.Sprintf("#%d [%s] <%s> %s", q.ID, q.AddedAt.Format(time.DateTime), q.Username, q.Text)
}

// fuzzPrefix is how much of a username a fuzzy search compares.
const fuzzPrefix = 5

func (db *DB) AddQuote(ctx context.Context, channel, username, addedBy, text string) (*Quote, error) {
	now := time.Now().UTC().Truncate(time.Second)
	res, err := db.ExecContext(ctx, `
		INSERT INTO quotes (channel, username, added_by, added_at, text)
		VALUES (?, ?, ?, ?, ?)
	`, channel, username, addedBy, now, text)
	if err != nil {
		return nil, fmt.Errorf("insert quote: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert quote: %w", err)
	}

	return &Quote{
		ID:       id,
		Channel:  channel,
		Username: username,
		AddedBy:  addedBy,
		AddedAt:  now,
		Text:     text,
	}, nil
}

func (db *DB) GetQuote(ctx context.Context, id int64) (*Quote, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, channel, username, added_by, added_at, text
		FROM quotes WHERE id = ?
	`, id)

	var q Quote
	err := row.Scan(&q.ID, &q.Channel, &q.Username, &q.AddedBy, &q.AddedAt, &q.Text)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: #%d", ErrQuoteNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// FindQuotes lists a channel's quotes, newest first. A username narrows the
// search; with fuzz only its first few characters must match. A limit of
// zero means no limit.
func (db *DB) FindQuotes(ctx context.Context, channel, username string, fuzz bool, limit int) ([]Quote, error) {
	query := `
		SELECT id, channel, username, added_by, added_at, text
		FROM quotes WHERE channel = ?`
	args := []any{channel}

	if username != "" {
		pattern := username
		if fuzz {
			runes := []rune(username)
			if len(runes) > fuzzPrefix {
				runes = runes[:fuzzPrefix]
			}
			pattern = string(runes) + "%"
		}
		query += ` AND username LIKE ?`
		args = append(args, pattern)
	}
	query += ` ORDER BY id DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []Quote
	for rows.Next() {
		var q Quote
		if err := rows.Scan(&q.ID, &q.Channel, &q.Username, &q.AddedBy, &q.AddedAt, &q.Text); err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

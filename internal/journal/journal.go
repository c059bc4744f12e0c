// Package journal keeps a local sqlite record of everything the mirror has
// published. It is advisory: the downstream store remains the source of
// truth for the sync watermark.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

const timeLayout = time.RFC3339

// Journal is the publish journal.
type Journal struct {
	db *sql.DB
}

// Record is one published item.
type Record struct {
	ID              int64
	Identity        string
	ItemID          string
	ItemURL         string
	PostedAt        time.Time
	PublishedAt     time.Time
	Attachments     int
	AttachmentBytes int64
}

// RecordInput is the data recorded after a successful publish.
type RecordInput struct {
	Identity        string
	ItemID          string
	ItemURL         string
	PostedAt        time.Time
	PublishedAt     time.Time
	Attachments     int
	AttachmentBytes int64
}

// Open opens (creating if necessary) the journal database at path.
func Open(path string) (*Journal, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Journal{db: db}, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Add records one published item. Re-recording the same (identity, item)
// pair updates the row in place.
func (j *Journal) Add(ctx context.Context, in RecordInput) error {
	if j == nil || j.db == nil {
		return errors.New("journal is not initialized")
	}
	if strings.TrimSpace(in.Identity) == "" {
		return errors.New("identity is required")
	}
	if strings.TrimSpace(in.ItemID) == "" {
		return errors.New("item id is required")
	}
	if in.PostedAt.IsZero() || in.PublishedAt.IsZero() {
		return errors.New("posted_at and published_at are required")
	}

	_, err := j.db.ExecContext(ctx, `
		INSERT INTO published (
			identity, item_id, item_url, posted_at, published_at, attachments, attachment_bytes
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity, item_id) DO UPDATE SET
			item_url = excluded.item_url,
			posted_at = excluded.posted_at,
			published_at = excluded.published_at,
			attachments = excluded.attachments,
			attachment_bytes = excluded.attachment_bytes
	`,
		in.Identity,
		in.ItemID,
		in.ItemURL,
		in.PostedAt.UTC().Format(timeLayout),
		in.PublishedAt.UTC().Format(timeLayout),
		in.Attachments,
		in.AttachmentBytes,
	)
	if err != nil {
		return fmt.Errorf("insert journal record: %w", err)
	}
	return nil
}

// Recent returns the most recently published records, newest first. An empty
// identity returns records for all identities.
func (j *Journal) Recent(ctx context.Context, identity string, limit int) ([]Record, error) {
	if j == nil || j.db == nil {
		return nil, errors.New("journal is not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, identity, item_id, item_url, posted_at, published_at, attachments, attachment_bytes
		FROM published
	`
	args := []any{}
	if identity != "" {
		query += " WHERE identity = ?"
		args = append(args, identity)
	}
	query += " ORDER BY published_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var (
			r                     Record
			postedAt, publishedAt string
		)
		if err := rows.Scan(&r.ID, &r.Identity, &r.ItemID, &r.ItemURL,
			&postedAt, &publishedAt, &r.Attachments, &r.AttachmentBytes); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		if r.PostedAt, err = time.Parse(timeLayout, postedAt); err != nil {
			return nil, fmt.Errorf("parse posted_at %q: %w", postedAt, err)
		}
		if r.PublishedAt, err = time.Parse(timeLayout, publishedAt); err != nil {
			return nil, fmt.Errorf("parse published_at %q: %w", publishedAt, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return records, nil
}

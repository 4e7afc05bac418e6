package media

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/parley-agent/parley/internal/fetch"
)

// Store persists ingested media. Safe for concurrent use.
type Store struct {
	db      *sql.DB
	fetcher *fetch.Fetcher
}

// NewStore creates a media store on the given database connection,
// using fetcher for downloads. The schema is created automatically.
func NewStore(db *sql.DB, fetcher *fetch.Fetcher) (*Store, error) {
	s := &Store{db: db, fetcher: fetcher}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate media schema: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS media_items (
		id             TEXT PRIMARY KEY,
		url            TEXT NOT NULL,
		title          TEXT,
		media_type     TEXT NOT NULL,
		content_type   TEXT,
		size_bytes     INTEGER NOT NULL DEFAULT 0,
		extracted_text TEXT,
		session_id     TEXT,
		created_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_media_session ON media_items(session_id);
	CREATE INDEX IF NOT EXISTS idx_media_created ON media_items(created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Ingest downloads rawURL, extracts its readable text, and persists
// the result. sessionID may be empty for session-less ingestion.
func (s *Store) Ingest(ctx context.Context, rawURL, sessionID string) (*Item, error) {
	result, err := s.fetcher.Fetch(ctx, rawURL, 0)
	if err != nil {
		return nil, fmt.Errorf("ingest media: %w", err)
	}
	if result.StatusCode >= 400 {
		return nil, fmt.Errorf("ingest media: upstream returned status %d", result.StatusCode)
	}

	item := &Item{
		ID:            uuid.NewString(),
		URL:           result.URL,
		Title:         result.Title,
		MediaType:     classify(result.URL, result.ContentType),
		ContentType:   result.ContentType,
		SizeBytes:     int64(result.Length),
		ExtractedText: result.Content,
		SessionID:     sessionID,
		CreatedAt:     time.Now(),
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO media_items
			(id, url, title, media_type, content_type, size_bytes, extracted_text, session_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.URL, item.Title, string(item.MediaType), item.ContentType,
		item.SizeBytes, item.ExtractedText, item.SessionID,
		item.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("insert media item: %w", err)
	}
	return item, nil
}

// Get returns one media item by ID.
func (s *Store) Get(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, url, title, media_type, content_type, size_bytes, extracted_text, session_id, created_at
		 FROM media_items WHERE id = ?`, id)
	return scanItem(row)
}

// List returns the most recent media items, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Item, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, title, media_type, content_type, size_bytes, extracted_text, session_id, created_at
		 FROM media_items ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list media items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// DeleteOlderThan removes items created before cutoff and reports how
// many were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM media_items WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("delete old media: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var item Item
	var mediaType, createdAt string
	var title, contentType, extracted, sessionID sql.NullString

	err := row.Scan(&item.ID, &item.URL, &title, &mediaType, &contentType,
		&item.SizeBytes, &extracted, &sessionID, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("media item not found")
	}
	if err != nil {
		return nil, fmt.Errorf("scan media item: %w", err)
	}

	item.Title = title.String
	item.MediaType = Type(mediaType)
	item.ContentType = contentType.String
	item.ExtractedText = extracted.String
	item.SessionID = sessionID.String
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &item, nil
}

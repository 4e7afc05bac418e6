package media

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/parley-agent/parley/internal/fetch"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := NewStore(db, fetch.New(0))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><head><title>Article</title></head><body><p>The article body.</p></body></html>`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIngestAndGet(t *testing.T) {
	s := testStore(t)
	srv := testServer(t)
	ctx := context.Background()

	item, err := s.Ingest(ctx, srv.URL, "sess-1")
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if item.Title != "Article" {
		t.Errorf("unexpected title: %q", item.Title)
	}
	if item.MediaType != TypeDocument {
		t.Errorf("expected document type, got %s", item.MediaType)
	}
	if !strings.Contains(item.ExtractedText, "The article body.") {
		t.Errorf("expected extracted text, got %q", item.ExtractedText)
	}

	got, err := s.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.URL != item.URL || got.SessionID != "sess-1" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
}

func TestIngestRejectsUpstreamErrors(t *testing.T) {
	s := testStore(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	if _, err := s.Ingest(context.Background(), srv.URL, ""); err == nil {
		t.Fatal("expected error for 404 upstream")
	}
}

func TestListNewestFirst(t *testing.T) {
	s := testStore(t)
	srv := testServer(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.Ingest(ctx, srv.URL, ""); err != nil {
			t.Fatalf("ingest: %v", err)
		}
	}

	items, err := s.List(ctx, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 2 {
		t.Errorf("expected 2 items, got %d", len(items))
	}
}

func TestDeleteOlderThan(t *testing.T) {
	s := testStore(t)
	srv := testServer(t)
	ctx := context.Background()

	if _, err := s.Ingest(ctx, srv.URL, ""); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	n, err := s.DeleteOlderThan(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 deletion, got %d", n)
	}

	if items, _ := s.List(ctx, 10); len(items) != 0 {
		t.Errorf("expected empty store, got %d items", len(items))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		url, contentType string
		want             Type
	}{
		{"https://example.com/photo.jpg", "image/jpeg", TypeImage},
		{"https://example.com/song.mp3", "", TypeAudio},
		{"https://example.com/clip.webm", "", TypeVideo},
		{"https://example.com/page", "text/html", TypeDocument},
		{"https://example.com/blob", "application/octet-stream", TypeDocument},
	}
	for _, tt := range tests {
		if got := classify(tt.url, tt.contentType); got != tt.want {
			t.Errorf("classify(%q, %q) = %s, want %s", tt.url, tt.contentType, got, tt.want)
		}
	}
}

// Package media ingests remote documents and pages for use in
// conversations: it downloads a URL, classifies it, extracts readable
// text, and persists the metadata plus extracted content in SQLite.
package media

import (
	"net/url"
	"path"
	"strings"
	"time"
)

// Type classifies ingested media.
type Type string

const (
	TypeDocument Type = "document"
	TypeImage    Type = "image"
	TypeAudio    Type = "audio"
	TypeVideo    Type = "video"
)

// Item is one ingested media entry.
type Item struct {
	ID            string    `json:"id"`
	URL           string    `json:"url"`
	Title         string    `json:"title,omitempty"`
	MediaType     Type      `json:"media_type"`
	ContentType   string    `json:"content_type,omitempty"`
	SizeBytes     int64     `json:"size_bytes"`
	ExtractedText string    `json:"extracted_text,omitempty"`
	SessionID     string    `json:"session_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// classify maps a content type and URL to a media type. Anything
// unrecognized is treated as a document.
func classify(rawURL, contentType string) Type {
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	switch {
	case strings.HasPrefix(ct, "image/"):
		return TypeImage
	case strings.HasPrefix(ct, "audio/"):
		return TypeAudio
	case strings.HasPrefix(ct, "video/"):
		return TypeVideo
	case ct != "" && ct != "application/octet-stream":
		return TypeDocument
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return TypeDocument
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return TypeImage
	case ".mp3", ".wav", ".ogg":
		return TypeAudio
	case ".mp4", ".mpeg", ".webm":
		return TypeVideo
	default:
		return TypeDocument
	}
}

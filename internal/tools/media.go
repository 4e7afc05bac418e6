package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/parley-agent/parley/internal/media"
)

// maxMediaObservation caps the extracted text returned to the model so
// a large page cannot blow out the context window.
const maxMediaObservation = 8000

// RegisterMediaTools adds the media extraction tool backed by the
// media store.
func RegisterMediaTools(r *Registry, store *media.Store) error {
	extract := &Tool{
		Name:        "extract_media_content",
		Description: "Download a URL (web page, article, or document), extract its readable text content, and store it for later reference. Returns the extracted text.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"url": map[string]any{
					"type":        "string",
					"description": "The URL to download and extract content from.",
				},
			},
			"required": []string{"url"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			rawURL, _ := args["url"].(string)
			if strings.TrimSpace(rawURL) == "" {
				return "", fmt.Errorf("url must not be empty")
			}

			item, err := store.Ingest(ctx, rawURL, SessionIDFrom(ctx))
			if err != nil {
				return "", fmt.Errorf("ingest %s: %w", rawURL, err)
			}

			var b strings.Builder
			if item.Title != "" {
				fmt.Fprintf(&b, "Title: %s\n", item.Title)
			}
			fmt.Fprintf(&b, "Type: %s (%s, %d bytes)\n\n", item.MediaType, item.ContentType, item.SizeBytes)

			text := item.ExtractedText
			if text == "" {
				b.WriteString("No readable text could be extracted from this URL.")
				return b.String(), nil
			}
			if len(text) > maxMediaObservation {
				text = text[:maxMediaObservation] + "\n[content truncated]"
			}
			b.WriteString(text)
			return b.String(), nil
		},
	}
	return r.Register(extract)
}

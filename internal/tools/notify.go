package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parley-agent/parley/internal/notify"
)

// RegisterNotifyTools adds the push notification tool backed by the
// MQTT publisher.
func RegisterNotifyTools(r *Registry, pub *notify.Publisher) error {
	send := &Tool{
		Name:        "send_notification",
		Description: "Send a push notification to the user's devices. Use for reminders or alerts the user should see outside this conversation.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"title": map[string]any{
					"type":        "string",
					"description": "Short notification title.",
				},
				"message": map[string]any{
					"type":        "string",
					"description": "Notification body text.",
				},
				"priority": map[string]any{
					"type":        "string",
					"description": "One of low, normal, high. Defaults to normal.",
				},
			},
			"required": []string{"title", "message"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			title, _ := args["title"].(string)
			message, _ := args["message"].(string)
			priority, _ := args["priority"].(string)
			switch priority {
			case "", "low", "normal", "high":
			default:
				return "", fmt.Errorf("priority must be low, normal, or high")
			}
			if priority == "" {
				priority = "normal"
			}
			if strings.TrimSpace(title) == "" || strings.TrimSpace(message) == "" {
				return "", fmt.Errorf("title and message must not be empty")
			}

			err := pub.Publish(ctx, notify.Notification{
				Title:     title,
				Message:   message,
				Priority:  priority,
				SessionID: SessionIDFrom(ctx),
				Timestamp: time.Now().UTC(),
			})
			if err != nil {
				return "", fmt.Errorf("publish notification: %w", err)
			}
			return fmt.Sprintf("Notification sent: %s", title), nil
		},
	}
	return r.Register(send)
}

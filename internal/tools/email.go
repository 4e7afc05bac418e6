package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/parley-agent/parley/internal/mail"
)

// RegisterEmailTools adds the outbound email tool. Recipients are
// checked against the configured allowlist before any message is
// composed or sent.
func RegisterEmailTools(r *Registry, cfg mail.Config) error {
	send := &Tool{
		Name:        "send_email",
		Description: "Send an email on the user's behalf. The body may use markdown formatting.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"to": map[string]any{
					"type":        "string",
					"description": "Recipient email address. Separate multiple addresses with commas.",
				},
				"subject": map[string]any{
					"type":        "string",
					"description": "Message subject line.",
				},
				"body": map[string]any{
					"type":        "string",
					"description": "Message body in markdown.",
				},
			},
			"required": []string{"to", "subject", "body"},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			toRaw, _ := args["to"].(string)
			subject, _ := args["subject"].(string)
			body, _ := args["body"].(string)

			var recipients []string
			for _, addr := range strings.Split(toRaw, ",") {
				addr = strings.TrimSpace(addr)
				if addr == "" {
					continue
				}
				if !cfg.RecipientAllowed(addr) {
					return "", fmt.Errorf("recipient %s is not on the allowed list", addr)
				}
				recipients = append(recipients, addr)
			}
			if len(recipients) == 0 {
				return "", fmt.Errorf("no valid recipients in %q", toRaw)
			}

			msg, err := mail.Compose(mail.ComposeOptions{
				From:    cfg.From,
				To:      recipients,
				Subject: subject,
				Body:    body,
			})
			if err != nil {
				return "", fmt.Errorf("compose message: %w", err)
			}
			if err := mail.Send(ctx, cfg, cfg.From, recipients, msg); err != nil {
				return "", fmt.Errorf("send message: %w", err)
			}
			return fmt.Sprintf("Email sent to %s", strings.Join(recipients, ", ")), nil
		},
	}
	return r.Register(send)
}

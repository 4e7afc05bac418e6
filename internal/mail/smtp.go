package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	netmail "net/mail"
	"net/smtp"
	"strings"
	"time"
)

const dialTimeout = 30 * time.Second

// Config holds the SMTP connection settings for outbound mail.
type Config struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// StartTLS upgrades a plain connection via STARTTLS instead of
	// using implicit TLS. Implicit TLS (port 465) is the default.
	StartTLS bool `yaml:"starttls"`

	// From is the sender address used on all outbound messages.
	From string `yaml:"from"`

	// AllowedRecipients restricts who the agent may email. Empty
	// means any recipient is accepted.
	AllowedRecipients []string `yaml:"allowed_recipients"`
}

// Enabled reports whether outbound mail is configured.
func (c Config) Enabled() bool {
	return c.Host != "" && c.From != ""
}

// RecipientAllowed reports whether addr passes the allowlist. Matching
// is case-insensitive on the bare address.
func (c Config) RecipientAllowed(addr string) bool {
	if len(c.AllowedRecipients) == 0 {
		return true
	}
	for _, allowed := range c.AllowedRecipients {
		if strings.EqualFold(strings.TrimSpace(allowed), strings.TrimSpace(addr)) {
			return true
		}
	}
	return false
}

// Send connects to the configured SMTP server, authenticates, and
// delivers msg to the given recipients. Display names in from and to
// are stripped for the envelope.
func Send(ctx context.Context, cfg Config, from string, to []string, msg []byte) error {
	envFrom, err := bareAddress(from)
	if err != nil {
		return fmt.Errorf("sender address: %w", err)
	}
	envTo := make([]string, 0, len(to))
	for _, rcpt := range to {
		bare, err := bareAddress(rcpt)
		if err != nil {
			return fmt.Errorf("recipient address: %w", err)
		}
		envTo = append(envTo, bare)
	}

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	timeout := dialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: timeout}

	var client *smtp.Client
	if cfg.StartTLS {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		client, err = smtp.NewClient(conn, cfg.Host)
		if err != nil {
			conn.Close()
			return fmt.Errorf("smtp handshake: %w", err)
		}
		if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
			client.Close()
			return fmt.Errorf("starttls: %w", err)
		}
	} else {
		conn, err := tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: cfg.Host})
		if err != nil {
			return fmt.Errorf("dial %s: %w", addr, err)
		}
		var cerr error
		client, cerr = smtp.NewClient(conn, cfg.Host)
		if cerr != nil {
			conn.Close()
			return fmt.Errorf("smtp handshake: %w", cerr)
		}
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("ehlo: %w", err)
	}

	if cfg.Username != "" {
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(envFrom); err != nil {
		return fmt.Errorf("mail from %s: %w", envFrom, err)
	}
	for _, rcpt := range envTo {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}

	return client.Quit()
}

func bareAddress(s string) (string, error) {
	parsed, err := netmail.ParseAddress(s)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", s, err)
	}
	return parsed.Address, nil
}

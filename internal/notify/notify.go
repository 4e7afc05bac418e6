// Package notify publishes user notifications over MQTT. It backs the
// send_notification tool: the agent hands it a title and message, and
// downstream consumers (dashboards, phones, automation hubs) subscribe
// to the topic tree.
package notify

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// Config configures the MQTT connection.
type Config struct {
	Broker      string // e.g. mqtt://host:1883 or mqtts://host:8883
	Username    string
	Password    string
	TopicPrefix string // defaults to "parley"
}

// Notification is the payload published for each notification.
type Notification struct {
	Title     string    `json:"title,omitempty"`
	Message   string    `json:"message"`
	Priority  string    `json:"priority,omitempty"` // "low", "normal", "high"
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"ts"`
}

// Publisher manages the MQTT connection and publishes notifications.
type Publisher struct {
	cfg    Config
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection.
func New(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "parley"
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger.With("component", "notify"),
	}
}

func (p *Publisher) availabilityTopic() string {
	return p.cfg.TopicPrefix + "/status"
}

func (p *Publisher) notificationTopic() string {
	return p.cfg.TopicPrefix + "/notifications"
}

// Start connects to the MQTT broker. autopaho reconnects in the
// background on connection loss; publishing while disconnected queues
// until the connection returns or the context expires.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			_, err := cm.Publish(ctx, &paho.Publish{
				Topic:   p.availabilityTopic(),
				Payload: []byte("online"),
				QoS:     1,
				Retain:  true,
			})
			if err != nil {
				p.logger.Warn("mqtt availability publish failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: "parley-notify",
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm

	connCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}
	return nil
}

// Publish sends one notification. It fails if Start has not been
// called or the broker stays unreachable for the context's lifetime.
func (p *Publisher) Publish(ctx context.Context, n Notification) error {
	if p.cm == nil {
		return fmt.Errorf("notify: publisher not started")
	}
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	_, err = p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.notificationTopic(),
		Payload: payload,
		QoS:     1,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}

	p.logger.Debug("notification published", "topic", p.notificationTopic(), "bytes", len(payload))
	return nil
}

// Stop publishes an offline availability message and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	_, err := p.cm.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte("offline"),
		QoS:     1,
		Retain:  true,
	})
	if err != nil {
		p.logger.Warn("mqtt offline publish failed", "error", err)
	}
	return p.cm.Disconnect(ctx)
}

package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"tpv-fleet/internal/channel"
)

const publishQoS = 1

// Publisher delivers command messages to terminals over MQTT. Each terminal
// subscribes to its own topic under venues/{venue}/terminals/{terminal}.
type Publisher struct {
	client  paho.Client
	logger  *log.Logger
	timeout time.Duration
}

// Option configures the publisher.
type Option func(*Publisher)

// WithPublishTimeout overrides the per-publish wait timeout.
func WithPublishTimeout(timeout time.Duration) Option {
	return func(p *Publisher) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// NewPublisher builds an MQTT publisher. Connect must be called before use.
func NewPublisher(brokerURL, clientID string, logger *log.Logger, opts ...Option) (*Publisher, error) {
	if brokerURL == "" {
		return nil, errors.New("mqtt: broker url required")
	}
	pub := &Publisher{logger: logger, timeout: 10 * time.Second}
	for _, opt := range opts {
		opt(pub)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(brokerURL).
		SetClientID(clientID).
		SetOrderMatters(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	clientOpts.OnConnect = func(paho.Client) {
		pub.logf("mqtt connected: %s", brokerURL)
	}
	clientOpts.OnConnectionLost = func(_ paho.Client, err error) {
		pub.logf("mqtt connection lost: %v", err)
	}

	pub.client = paho.NewClient(clientOpts)
	return pub, nil
}

// Connect blocks until the broker connection is established, retrying with
// backoff until ctx is cancelled.
func (p *Publisher) Connect(ctx context.Context) error {
	backoff := time.Second
	for {
		token := p.client.Connect()
		if token.Wait() && token.Error() == nil {
			return nil
		}
		p.logf("mqtt connect error: %v; retrying in %s", token.Error(), backoff)
		select {
		case <-time.After(backoff):
			if backoff < 30*time.Second {
				backoff *= 2
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p != nil && p.client != nil {
		p.client.Disconnect(250)
	}
}

type message struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	SentAt    time.Time       `json:"sent_at"`
}

// Publish sends one message to the target topic. At-most-once from the
// platform's point of view: a returned error means the broker did not take it.
func (p *Publisher) Publish(ctx context.Context, target channel.Target, eventType string, payload []byte) error {
	if p == nil || p.client == nil {
		return errors.New("mqtt: publisher not initialized")
	}
	body, err := json.Marshal(message{EventType: eventType, Payload: payload, SentAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	token := p.client.Publish(target.Topic(), publishQoS, false, body)
	select {
	case <-token.Done():
		return token.Error()
	case <-time.After(p.timeout):
		return errors.New("mqtt: publish timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

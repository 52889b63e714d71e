// Package messaging publishes identity events to RabbitMQ: audit entries
// that could not be persisted and password reset notifications.
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"github.com/anamul94/DietGuard/internal/identity/domain"
)

const (
	DefaultExchange = "identity"

	RouteAuditDeadLetter = "audit.dead_letter"
	RoutePasswordReset   = "notify.password_reset"
)

// Channel is the subset of *amqp.Channel the publisher needs.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher sends JSON messages to a direct exchange. It is safe for
// concurrent use; publishes are serialized because an amqp channel is not.
type Publisher struct {
	mu       sync.Mutex
	ch       Channel
	exchange string
	closer   func() error
}

func NewPublisher(ch Channel, exchange string) *Publisher {
	if exchange == "" {
		exchange = DefaultExchange
	}
	return &Publisher{ch: ch, exchange: exchange}
}

// Dial connects to the broker, declares the exchange and its queues and
// returns a ready publisher that owns the connection.
func Dial(url, exchange string, retries int, delay time.Duration) (*Publisher, error) {
	const op = "messaging.Dial"

	conn, err := Connect(url, retries, delay)
	if err != nil {
		return nil, err
	}
	if exchange == "" {
		exchange = DefaultExchange
	}
	ch, err := SetupChannel(conn, exchange)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	p := NewPublisher(ch, exchange)
	p.closer = func() error {
		_ = ch.Close()
		return conn.Close()
	}
	return p, nil
}

func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}

// Publish marshals message as JSON and sends it with persistent delivery.
func (p *Publisher) Publish(ctx context.Context, routingKey string, message any) error {
	const op = "messaging.Publish"

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish(
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AuditDeadLetter is the message body for an audit entry the store refused.
type AuditDeadLetter struct {
	ID         string            `json:"id"`
	OccurredAt time.Time         `json:"occurred_at"`
	Kind       string            `json:"kind"`
	ActorID    string            `json:"actor_id,omitempty"`
	Outcome    string            `json:"outcome"`
	IP         string            `json:"ip,omitempty"`
	UserAgent  string            `json:"user_agent,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Cause      string            `json:"cause"`
}

// EscalateAudit routes an unpersisted audit entry to the dead-letter queue.
func (p *Publisher) EscalateAudit(ctx context.Context, e domain.AuditEntry, cause error) error {
	msg := AuditDeadLetter{
		ID:         e.ID,
		OccurredAt: e.OccurredAt,
		Kind:       string(e.Kind),
		Outcome:    string(e.Outcome),
		IP:         e.IP,
		UserAgent:  e.UserAgent,
		Reason:     e.Reason,
		RequestID:  e.RequestID,
		Metadata:   e.Extra,
	}
	if e.ActorID != nil {
		msg.ActorID = *e.ActorID
	}
	if cause != nil {
		msg.Cause = cause.Error()
	}
	return p.Publish(ctx, RouteAuditDeadLetter, msg)
}

// PasswordResetMessage asks the mailer to deliver a reset link.
type PasswordResetMessage struct {
	AccountID string    `json:"account_id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name,omitempty"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (p *Publisher) NotifyPasswordReset(ctx context.Context, a domain.Account, token string, expiresAt time.Time) error {
	return p.Publish(ctx, RoutePasswordReset, PasswordResetMessage{
		AccountID: a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
	})
}

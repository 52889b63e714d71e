package messaging

import (
	"fmt"
	"time"

	"github.com/streadway/amqp"
)

// Queues bound to the exchange by SetupChannel, keyed by routing key.
var Queues = map[string]string{
	RouteAuditDeadLetter: "identity.audit.dead_letter",
	RoutePasswordReset:   "identity.password_reset",
}

// Connect dials the broker, retrying while it comes up.
func Connect(url string, retries int, delay time.Duration) (*amqp.Connection, error) {
	const op = "messaging.Connect"
	if retries < 1 {
		retries = 1
	}

	var err error
	for i := 0; i < retries; i++ {
		var conn *amqp.Connection
		conn, err = amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		if i < retries-1 {
			time.Sleep(delay)
		}
	}
	return nil, fmt.Errorf("%s: %w", op, err)
}

// SetupChannel opens a channel and declares a durable direct exchange with
// one durable queue per route.
func SetupChannel(conn *amqp.Connection, exchange string) (*amqp.Channel, error) {
	const op = "messaging.SetupChannel"

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := ch.ExchangeDeclare(exchange, "direct", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("%s: declare exchange %s: %w", op, exchange, err)
	}
	for key, queue := range Queues {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: declare queue %s: %w", op, queue, err)
		}
		if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
			_ = ch.Close()
			return nil, fmt.Errorf("%s: bind queue %s to %s: %w", op, queue, key, err)
		}
	}
	return ch, nil
}

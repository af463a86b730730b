/**
 * @description
 * This package publishes ledger events to a RabbitMQ topic exchange so
 * downstream consumers (analytics, email receipts) can react to balance
 * changes without coupling to the database. Publishing is best-effort: a
 * broker outage never affects an already-committed balance mutation.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The AMQP 0.9.1 client.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// EventProducer is responsible for publishing events to a RabbitMQ exchange.
type EventProducer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Publisher is the interface implemented by types that can publish events.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
	Close()
}

// EventProducerFallback is a no-op publisher used when RabbitMQ is not
// configured or unreachable at startup. Events are logged instead of sent.
type EventProducerFallback struct{}

func (p *EventProducerFallback) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	log.Printf("[MQ-FALLBACK] Would publish to exchange='%s' routingKey='%s' body=%v", exchange, routingKey, body)
	return nil
}
func (p *EventProducerFallback) Close() {}

// sanitizeAMQPURL tolerates quoted or prefixed values coming out of
// copy-pasted environment configuration.
func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewEventProducer connects to RabbitMQ and opens a publishing channel.
// The dial is bounded so a missing broker cannot hang startup.
func NewEventProducer(amqpURL string) (*EventProducer, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &EventProducer{conn: conn, channel: ch}, nil
}

// ensureExchange declares the durable topic exchange on the current channel.
func (p *EventProducer) ensureExchange(exchange string) error {
	return p.channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

// reopenChannel replaces a channel the broker has closed. AMQP channels die
// on protocol errors; the connection usually survives.
func (p *EventProducer) reopenChannel() error {
	if p.conn == nil {
		return errors.New("no amqp connection")
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	p.channel = ch
	return nil
}

// Publish sends a JSON message to a topic exchange with a routing key,
// retrying once on a dead channel.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		log.Printf("Error marshalling event body: %v", err)
		return err
	}

	if err := p.ensureExchange(exchange); err != nil {
		log.Printf("Failed to declare exchange '%s': %v. Reopening channel...", exchange, err)
		if err := p.reopenChannel(); err != nil {
			return err
		}
		if err := p.ensureExchange(exchange); err != nil {
			return err
		}
	}

	publish := func() error {
		return p.channel.PublishWithContext(ctx,
			exchange,
			routingKey,
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType: "application/json",
				Timestamp:   time.Now(),
				Body:        jsonBody,
			},
		)
	}

	if err := publish(); err != nil {
		log.Printf("Failed to publish to exchange '%s': %v. Retrying once...", exchange, err)
		if reopenErr := p.reopenChannel(); reopenErr != nil {
			return err
		}
		if declErr := p.ensureExchange(exchange); declErr != nil {
			return err
		}
		return publish()
	}
	return nil
}

// Close closes the RabbitMQ connection and channel.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

package ingest

import (
	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Publisher hands accepted events off to RabbitMQ for downstream consumers
// (classification, alerting — not this service's business). Publishing is
// optional: with no URL configured every call is a no-op.
type Publisher struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	queue   string
	enabled bool
}

// NewPublisher connects to RabbitMQ at url. An empty url disables
// publishing; a connection failure also degrades to disabled rather than
// blocking ingestion.
func NewPublisher(url, queue string) *Publisher {
	if queue == "" {
		queue = "chat_events"
	}
	p := &Publisher{queue: queue}

	if url == "" {
		log.Info().Msg("RABBITMQ_URL is not set, event publishing disabled")
		return p
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		log.Error().Err(err).Msg("Could not connect to RabbitMQ, event publishing disabled")
		return p
	}
	channel, err := conn.Channel()
	if err != nil {
		log.Error().Err(err).Msg("Could not open RabbitMQ channel, event publishing disabled")
		_ = conn.Close()
		return p
	}

	p.conn = conn
	p.channel = channel
	p.enabled = true
	log.Info().Str("queue", queue).Msg("RabbitMQ connection established")
	return p
}

// Publish sends one accepted-event payload. Errors are logged, never
// propagated: the event is already durably stored, the queue is a best-effort
// hand-off.
func (p *Publisher) Publish(data []byte) {
	if !p.enabled {
		return
	}

	_, err := p.channel.QueueDeclare(
		p.queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		log.Error().Err(err).Str("queue", p.queue).Msg("Could not declare RabbitMQ queue")
		return
	}

	err = p.channel.Publish(
		"",      // exchange (default)
		p.queue, // routing key = queue
		false,   // mandatory
		false,   // immediate
		amqp091.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
	if err != nil {
		log.Error().Err(err).Str("queue", p.queue).Msg("Could not publish to RabbitMQ")
		return
	}
	log.Debug().Str("queue", p.queue).Msg("Published event to RabbitMQ")
}

// Close releases the connection.
func (p *Publisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

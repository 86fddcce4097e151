package events

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/clipstream/vod-api/log"
	"github.com/clipstream/vod-api/metrics"
)

const publishTimeout = 3 * time.Second

// AMQPPublisher publishes events to a durable topic exchange. A dropped
// connection is re-dialled once per publish attempt; beyond that the event is
// counted as lost and the error returned for the caller to log.
type AMQPPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	url      string
	exchange string
}

func NewAMQPPublisher(amqpURL, exchange string) (*AMQPPublisher, error) {
	redacted := amqpURL
	if parsed, err := url.Parse(amqpURL); err == nil {
		redacted = parsed.Redacted()
	}
	log.LogNoVideoID("creating AMQP producer", "url", redacted, "exchange", exchange)

	p := &AMQPPublisher{url: amqpURL, exchange: exchange}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AMQPPublisher) connect() error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("error dialling AMQP: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("error opening AMQP channel: %w", err)
	}
	if err := channel.ExchangeDeclare(p.exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return fmt.Errorf("error declaring exchange %s: %w", p.exchange, err)
	}
	p.conn, p.channel = conn, channel
	return nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, topic string, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error marshalling event: %w", err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	start := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()

	err = p.publishLocked(publishCtx, topic, body, event.Timestamp)
	if err != nil {
		// the channel may have died since the last publish; re-dial once
		metrics.Metrics.EventBusPublisher.RetryCount.WithLabelValues(p.exchange).Inc()
		if rerr := p.connect(); rerr == nil {
			err = p.publishLocked(publishCtx, topic, body, event.Timestamp)
		}
	}
	if err != nil {
		metrics.Metrics.EventBusPublisher.FailureCount.WithLabelValues(topic).Inc()
		return fmt.Errorf("error publishing %s to %s: %w", event.EventType, topic, err)
	}
	metrics.Metrics.EventBusPublisher.RequestDuration.WithLabelValues(topic).Observe(time.Since(start).Seconds())
	return nil
}

func (p *AMQPPublisher) publishLocked(ctx context.Context, topic string, body []byte, timestamp int64) error {
	return p.channel.PublishWithContext(ctx, p.exchange, topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Unix(timestamp, 0).UTC(),
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

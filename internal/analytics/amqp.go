package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
)

// AMQPDriver publishes events to a RabbitMQ exchange so downstream
// consumers (warehousing, stream processing) can fan the data out further.
// The channel is created lazily and rebuilt after connection loss.
type AMQPDriver struct {
	url        string
	exchange   string
	routingKey string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPDriver creates the RabbitMQ driver. The broker URL is required;
// unlike the HTTP sinks there is no meaningful degraded mode without it.
func NewAMQPDriver(cfg Config) (Driver, error) {
	if cfg.AMQPURL == "" {
		return nil, fmt.Errorf("AB_AMQP_URL is required for the amqp analytics driver")
	}

	return &AMQPDriver{
		url:        cfg.AMQPURL,
		exchange:   cfg.AMQPExchange,
		routingKey: cfg.AMQPRoutingKey,
	}, nil
}

func (d *AMQPDriver) Name() string { return "amqp" }

// channel returns a live channel, dialing and declaring the exchange on
// first use or after a dropped connection.
func (d *AMQPDriver) channel() (*amqp.Channel, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.conn != nil && !d.conn.IsClosed() && d.ch != nil {
		return d.ch, nil
	}

	conn, err := amqp.Dial(d.url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(d.exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", d.exchange, err)
	}

	d.conn = conn
	d.ch = ch
	return ch, nil
}

func (d *AMQPDriver) publish(event Event) error {
	ch, err := d.channel()
	if err != nil {
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	return ch.Publish(d.exchange, d.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

func (d *AMQPDriver) TrackExperiment(ctx context.Context, experiment, variant, instanceID string) error {
	return d.publish(Event{
		Type:       EventTypeExperiment,
		Instance:   instanceID,
		Experiment: experiment,
		Variant:    variant,
		Timestamp:  time.Now(),
	})
}

func (d *AMQPDriver) TrackGoal(ctx context.Context, goal, instanceID string, value interface{}) error {
	return d.publish(Event{
		Type:      EventTypeGoal,
		Instance:  instanceID,
		Goal:      goal,
		Value:     value,
		Timestamp: time.Now(),
	})
}

// SendBatch publishes one message per event, preserving order.
func (d *AMQPDriver) SendBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		if err := d.publish(event); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the broker connection.
func (d *AMQPDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch != nil {
		d.ch.Close()
		d.ch = nil
	}
	if d.conn != nil {
		err := d.conn.Close()
		d.conn = nil
		return err
	}
	return nil
}

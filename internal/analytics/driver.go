// Package analytics fans exposure and goal events out to a pluggable sink.
//
// A concrete driver is resolved once at construction time through a factory
// registry; unknown driver names fail fast at startup. The Manager wrapping
// the driver isolates every driver failure from the caller: analytics must
// never abort the business transaction that triggered it.
package analytics

import (
	"context"
	"fmt"
	"time"

	"ab-gateway/internal/common/registry"
)

// Event kinds carried in Event.Type.
const (
	EventTypeExperiment = "experiment"
	EventTypeGoal       = "goal"
)

// Event is one exposure or goal record in a mixed batch.
type Event struct {
	Type       string      `json:"type"`
	Instance   string      `json:"instance"`
	Experiment string      `json:"experiment,omitempty"`
	Variant    string      `json:"variant,omitempty"`
	Goal       string      `json:"goal,omitempty"`
	Value      interface{} `json:"value,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// Driver is the capability set every analytics sink implements.
// Drivers without native batch support degrade SendBatch to one call per
// event, preserving event order.
type Driver interface {
	Name() string
	TrackExperiment(ctx context.Context, experiment, variant, instanceID string) error
	TrackGoal(ctx context.Context, goal, instanceID string, value interface{}) error
	SendBatch(ctx context.Context, events []Event) error
}

// Config carries the settings for every bundled driver. Only the section
// for the selected driver is read.
type Config struct {
	Driver  string
	Timeout time.Duration

	// Google Analytics 4
	GA4MeasurementID string
	GA4APISecret     string

	// Plausible
	PlausibleDomain string
	PlausibleAPIKey string

	// Outbound webhook sink
	WebhookURL    string
	WebhookSecret string

	// RabbitMQ sink
	AMQPURL        string
	AMQPExchange   string
	AMQPRoutingKey string
}

// DriverFactory creates a concrete driver from configuration.
type DriverFactory interface {
	GetType() string
	Create(cfg Config) (Driver, error)
}

var drivers = registry.New[DriverFactory]()

// RegisterDriver adds a driver factory to the registry. Applications embed
// custom sinks by registering a factory before constructing the Manager.
func RegisterDriver(factory DriverFactory) {
	drivers.Register(factory.GetType(), factory)
}

// driverFunc adapts a plain constructor to DriverFactory.
type driverFunc struct {
	name   string
	create func(cfg Config) (Driver, error)
}

func (f driverFunc) GetType() string                  { return f.name }
func (f driverFunc) Create(cfg Config) (Driver, error) { return f.create(cfg) }

func init() {
	RegisterDriver(driverFunc{"none", func(Config) (Driver, error) { return &NoneDriver{}, nil }})
	RegisterDriver(driverFunc{"log", func(Config) (Driver, error) { return &LogDriver{}, nil }})
	RegisterDriver(driverFunc{"google", func(cfg Config) (Driver, error) { return NewGA4Driver(cfg), nil }})
	RegisterDriver(driverFunc{"plausible", func(cfg Config) (Driver, error) { return NewPlausibleDriver(cfg), nil }})
	RegisterDriver(driverFunc{"webhook", func(cfg Config) (Driver, error) { return NewWebhookDriver(cfg), nil }})
	RegisterDriver(driverFunc{"amqp", NewAMQPDriver})
}

func newDriver(cfg Config) (Driver, error) {
	factory, err := drivers.Get(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unknown analytics driver: %s", cfg.Driver)
	}
	return factory.Create(cfg)
}

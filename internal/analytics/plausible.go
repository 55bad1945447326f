package analytics

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

const plausibleEndpoint = "https://plausible.io/api/event"

// PlausibleDriver sends events to Plausible Analytics. Plausible has no
// native batch API, so SendBatch degrades to one call per event in order.
type PlausibleDriver struct {
	domain string
	apiKey string
	client *http.Client
}

type plausiblePayload struct {
	Domain string                 `json:"domain"`
	Name   string                 `json:"name"`
	URL    string                 `json:"url"`
	Props  map[string]interface{} `json:"props,omitempty"`
}

// NewPlausibleDriver creates the Plausible driver.
func NewPlausibleDriver(cfg Config) *PlausibleDriver {
	return &PlausibleDriver{
		domain: cfg.PlausibleDomain,
		apiKey: cfg.PlausibleAPIKey,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (d *PlausibleDriver) Name() string { return "plausible" }

func (d *PlausibleDriver) send(ctx context.Context, name string, props map[string]interface{}) error {
	if d.domain == "" {
		return nil
	}

	headers := map[string]string{}
	if d.apiKey != "" {
		headers["Authorization"] = "Bearer " + d.apiKey
	}

	return postJSON(ctx, d.client, plausibleEndpoint, headers, plausiblePayload{
		Domain: d.domain,
		Name:   name,
		URL:    "https://" + d.domain,
		Props:  props,
	})
}

func (d *PlausibleDriver) TrackExperiment(ctx context.Context, experiment, variant, instanceID string) error {
	return d.send(ctx, fmt.Sprintf("AB Test: %s", experiment), map[string]interface{}{
		"variant":  variant,
		"instance": instanceID,
	})
}

func (d *PlausibleDriver) TrackGoal(ctx context.Context, goal, instanceID string, value interface{}) error {
	props := map[string]interface{}{"instance": instanceID}
	if value != nil {
		props["value"] = value
	}
	return d.send(ctx, fmt.Sprintf("Goal: %s", goal), props)
}

func (d *PlausibleDriver) SendBatch(ctx context.Context, events []Event) error {
	for _, event := range events {
		var err error
		if event.Type == EventTypeGoal {
			err = d.TrackGoal(ctx, event.Goal, event.Instance, event.Value)
		} else {
			err = d.TrackExperiment(ctx, event.Experiment, event.Variant, event.Instance)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

package analytics

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

const ga4Endpoint = "https://www.google-analytics.com/mp/collect"

// ga4BatchSize is the Measurement Protocol limit of events per request.
const ga4BatchSize = 25

// GA4Driver sends events to Google Analytics 4 through the Measurement
// Protocol. With missing credentials every call is a silent no-op so a
// half-configured deployment degrades instead of erroring.
type GA4Driver struct {
	measurementID string
	apiSecret     string
	baseURL       string
	client        *http.Client
}

type ga4Event struct {
	Name   string                 `json:"name"`
	Params map[string]interface{} `json:"params"`
}

type ga4Payload struct {
	ClientID string     `json:"client_id"`
	Events   []ga4Event `json:"events"`
}

// NewGA4Driver creates the Google Analytics 4 driver.
func NewGA4Driver(cfg Config) *GA4Driver {
	return &GA4Driver{
		measurementID: cfg.GA4MeasurementID,
		apiSecret:     cfg.GA4APISecret,
		baseURL:       ga4Endpoint,
		client:        &http.Client{Timeout: 5 * time.Second},
	}
}

func (d *GA4Driver) Name() string { return "google" }

func (d *GA4Driver) configured() bool {
	return d.measurementID != "" && d.apiSecret != ""
}

func (d *GA4Driver) endpoint() string {
	query := url.Values{
		"measurement_id": {d.measurementID},
		"api_secret":     {d.apiSecret},
	}
	return d.baseURL + "?" + query.Encode()
}

func (d *GA4Driver) TrackExperiment(ctx context.Context, experiment, variant, instanceID string) error {
	if !d.configured() {
		return nil
	}
	return postJSON(ctx, d.client, d.endpoint(), nil, ga4Payload{
		ClientID: instanceID,
		Events: []ga4Event{{
			Name: "ab_experiment",
			Params: map[string]interface{}{
				"experiment_name": experiment,
				"variant_name":    variant,
			},
		}},
	})
}

func (d *GA4Driver) TrackGoal(ctx context.Context, goal, instanceID string, value interface{}) error {
	if !d.configured() {
		return nil
	}

	params := map[string]interface{}{"goal_name": goal}
	if value != nil {
		params["goal_value"] = value
	}

	return postJSON(ctx, d.client, d.endpoint(), nil, ga4Payload{
		ClientID: instanceID,
		Events:   []ga4Event{{Name: "ab_goal", Params: params}},
	})
}

func (d *GA4Driver) SendBatch(ctx context.Context, events []Event) error {
	if !d.configured() {
		return nil
	}

	for start := 0; start < len(events); start += ga4BatchSize {
		end := start + ga4BatchSize
		if end > len(events) {
			end = len(events)
		}
		chunk := events[start:end]

		formatted := make([]ga4Event, 0, len(chunk))
		for _, event := range chunk {
			if event.Type == EventTypeGoal {
				formatted = append(formatted, ga4Event{
					Name: "ab_goal",
					Params: map[string]interface{}{
						"goal_name":  event.Goal,
						"goal_value": event.Value,
					},
				})
				continue
			}
			formatted = append(formatted, ga4Event{
				Name: "ab_experiment",
				Params: map[string]interface{}{
					"experiment_name": event.Experiment,
					"variant_name":    event.Variant,
				},
			})
		}

		clientID := chunk[0].Instance
		if clientID == "" {
			clientID = "batch"
		}

		if err := postJSON(ctx, d.client, d.endpoint(), nil, ga4Payload{
			ClientID: clientID,
			Events:   formatted,
		}); err != nil {
			return err
		}
	}

	return nil
}

package webhook

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

const maxFieldLength = 255

// goalPayload is the inbound goal registration body.
type goalPayload struct {
	Instance       string          `json:"instance"`
	Goal           string          `json:"goal"`
	Value          json.RawMessage `json:"value"`
	Timestamp      string          `json:"timestamp"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// parsedGoal is the payload after validation, with the timestamp decoded and
// the value normalized to an optional string.
type parsedGoal struct {
	Instance       string
	Goal           string
	Value          *string
	Timestamp      time.Time
	IdempotencyKey string
}

// parseGoalPayload decodes and validates the request body. The returned map
// carries per-field messages for the 422 response; a non-empty map means the
// payload is rejected.
func parseGoalPayload(body []byte) (*parsedGoal, map[string]string) {
	var raw goalPayload
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, map[string]string{"body": "must be a valid JSON object"}
	}

	details := map[string]string{}

	requireString(details, "instance", raw.Instance)
	requireString(details, "goal", raw.Goal)
	requireString(details, "idempotency_key", raw.IdempotencyKey)

	var ts time.Time
	if raw.Timestamp == "" {
		details["timestamp"] = "is required"
	} else {
		parsed, err := time.Parse(time.RFC3339, raw.Timestamp)
		if err != nil {
			details["timestamp"] = "must be an ISO-8601 timestamp with offset"
		} else {
			ts = parsed
		}
	}

	value, err := scalarValue(raw.Value)
	if err != nil {
		details["value"] = err.Error()
	}

	if len(details) > 0 {
		return nil, details
	}

	return &parsedGoal{
		Instance:       raw.Instance,
		Goal:           raw.Goal,
		Value:          value,
		Timestamp:      ts,
		IdempotencyKey: raw.IdempotencyKey,
	}, nil
}

func requireString(details map[string]string, field, value string) {
	if value == "" {
		details[field] = "is required"
		return
	}
	if len(value) > maxFieldLength {
		details[field] = fmt.Sprintf("must not exceed %d characters", maxFieldLength)
	}
}

// scalarValue normalizes the optional value field to a string. Objects and
// arrays are rejected; numbers and booleans are stringified.
func scalarValue(raw json.RawMessage) (*string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if len(s) > maxFieldLength {
			return nil, fmt.Errorf("must not exceed %d characters", maxFieldLength)
		}
		return &s, nil
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		v := n.String()
		return &v, nil
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		v := strconv.FormatBool(b)
		return &v, nil
	}

	return nil, fmt.Errorf("must be a string, number, boolean or null")
}

package telemetry

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// wireReading mirrors the JSON payload. Pointer fields distinguish a missing
// key from a zero value.
type wireReading struct {
	Timestamp   *string  `json:"timestamp"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	CO2         *float64 `json:"co2"`
	DeviceID    string   `json:"device_id,omitempty"`
}

// Codec converts readings to and from the wire format.
//
// Timestamps carry no zone on the wire; Location says which zone they are
// written and read in. A nil Location means UTC.
type Codec struct {
	Location *time.Location

	// DeviceID, when set, is added to encoded payloads as "device_id".
	DeviceID string
}

func (c Codec) location() *time.Location {
	if c.Location == nil {
		return time.UTC
	}
	return c.Location
}

// Encode serialises a reading. Any failure wraps ErrSerialization.
func (c Codec) Encode(r Reading) ([]byte, error) {
	if r.Timestamp.IsZero() {
		return nil, fmt.Errorf("%w: timestamp is zero", ErrSerialization)
	}
	for name, v := range map[string]float64{
		FieldTemperature: r.Temperature,
		FieldHumidity:    r.Humidity,
		FieldCO2:         r.CO2,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %s is not a finite number", ErrSerialization, name)
		}
	}

	ts := r.Timestamp.In(c.location()).Format(TimestampLayout)
	payload, err := json.Marshal(wireReading{
		Timestamp:   &ts,
		Temperature: &r.Temperature,
		Humidity:    &r.Humidity,
		CO2:         &r.CO2,
		DeviceID:    c.DeviceID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerialization, err)
	}
	return payload, nil
}

// Decode parses a payload. It does not check bounds; see Bounds.Check.
// Failures are returned as *ValidationError.
func (c Codec) Decode(payload []byte) (Reading, error) {
	var w wireReading
	if err := json.Unmarshal(payload, &w); err != nil {
		return Reading{}, invalid("", "malformed payload: %v", err)
	}

	switch {
	case w.Timestamp == nil:
		return Reading{}, invalid(FieldTimestamp, "missing")
	case w.Temperature == nil:
		return Reading{}, invalid(FieldTemperature, "missing")
	case w.Humidity == nil:
		return Reading{}, invalid(FieldHumidity, "missing")
	case w.CO2 == nil:
		return Reading{}, invalid(FieldCO2, "missing")
	}

	ts, err := time.ParseInLocation(TimestampLayout, *w.Timestamp, c.location())
	if err != nil {
		return Reading{}, invalid(FieldTimestamp, "want %q layout, got %q", TimestampLayout, *w.Timestamp)
	}

	return Reading{
		Timestamp:   ts,
		Temperature: *w.Temperature,
		Humidity:    *w.Humidity,
		CO2:         *w.CO2,
	}, nil
}

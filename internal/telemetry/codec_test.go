package telemetry

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"
)

func TestCodec_RoundTrip(t *testing.T) {
	g, err := NewGenerator(DefaultBounds(), WithSeed(5))
	if err != nil {
		t.Fatalf("NewGenerator() error = %v", err)
	}
	codec := Codec{}

	for i := 0; i < 200; i++ {
		want := g.Next()
		payload, err := codec.Encode(want)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		got, err := codec.Decode(payload)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", payload, err)
		}

		if !got.Timestamp.Equal(want.Timestamp) {
			t.Errorf("Timestamp = %v, want %v", got.Timestamp, want.Timestamp)
		}
		if math.Abs(got.Temperature-want.Temperature) > 0.005 ||
			math.Abs(got.Humidity-want.Humidity) > 0.005 ||
			math.Abs(got.CO2-want.CO2) > 0.005 {
			t.Errorf("Decode() = %+v, want %+v", got, want)
		}
	}
}

func TestCodec_EncodeExactKeys(t *testing.T) {
	r := Reading{
		Timestamp:   time.Date(2026, 3, 1, 14, 5, 9, 0, time.UTC),
		Temperature: 24.31,
		Humidity:    51.2,
		CO2:         812.77,
	}

	payload, err := Codec{}.Encode(r)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if len(fields) != 4 {
		t.Errorf("payload has %d keys, want 4: %s", len(fields), payload)
	}
	if fields["timestamp"] != "2026-03-01 14:05:09" {
		t.Errorf("timestamp = %v, want %q", fields["timestamp"], "2026-03-01 14:05:09")
	}
	if fields["co2"] != 812.77 {
		t.Errorf("co2 = %v, want 812.77", fields["co2"])
	}
}

func TestCodec_EncodeDeviceID(t *testing.T) {
	r := Reading{Timestamp: time.Now(), Temperature: 25, Humidity: 50, CO2: 500}

	payload, err := Codec{DeviceID: "sim-01"}.Encode(r)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(payload, &fields); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if fields["device_id"] != "sim-01" {
		t.Errorf("device_id = %v, want sim-01", fields["device_id"])
	}
}

func TestCodec_EncodeLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	r := Reading{
		Timestamp:   time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Temperature: 25, Humidity: 50, CO2: 500,
	}
	codec := Codec{Location: loc}

	payload, err := codec.Encode(r)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	var fields map[string]any
	_ = json.Unmarshal(payload, &fields)
	if fields["timestamp"] != "2026-03-01 12:00:00" {
		t.Errorf("timestamp = %v, want local 12:00:00", fields["timestamp"])
	}

	got, err := codec.Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !got.Timestamp.Equal(r.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", got.Timestamp, r.Timestamp)
	}
}

func TestCodec_EncodeSerializationErrors(t *testing.T) {
	tests := []struct {
		name    string
		reading Reading
	}{
		{"zero timestamp", Reading{Temperature: 25, Humidity: 50, CO2: 500}},
		{"NaN temperature", Reading{Timestamp: time.Now(), Temperature: math.NaN(), Humidity: 50, CO2: 500}},
		{"infinite co2", Reading{Timestamp: time.Now(), Temperature: 25, Humidity: 50, CO2: math.Inf(-1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Codec{}.Encode(tt.reading)
			if !errors.Is(err, ErrSerialization) {
				t.Errorf("Encode() error = %v, want ErrSerialization", err)
			}
		})
	}
}

func TestCodec_DecodeIgnoresUnknownKeys(t *testing.T) {
	payload := []byte(`{"timestamp":"2026-03-01 14:05:09","temperature":24.31,"humidity":51.2,"co2":812.77,"device_id":"sim-02","firmware":"1.4"}`)

	got, err := Codec{}.Decode(payload)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got.CO2 != 812.77 {
		t.Errorf("CO2 = %v, want 812.77", got.CO2)
	}
}

func TestCodec_DecodeRejects(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{"not json", `temperature=25`, ""},
		{"array", `[1,2,3]`, ""},
		{"missing timestamp", `{"temperature":25,"humidity":50,"co2":500}`, FieldTimestamp},
		{"missing temperature", `{"timestamp":"2026-03-01 14:05:09","humidity":50,"co2":500}`, FieldTemperature},
		{"missing humidity", `{"timestamp":"2026-03-01 14:05:09","temperature":25,"co2":500}`, FieldHumidity},
		{"missing co2", `{"timestamp":"2026-03-01 14:05:09","temperature":25,"humidity":50}`, FieldCO2},
		{"null co2", `{"timestamp":"2026-03-01 14:05:09","temperature":25,"humidity":50,"co2":null}`, FieldCO2},
		{"string temperature", `{"timestamp":"2026-03-01 14:05:09","temperature":"25","humidity":50,"co2":500}`, ""},
		{"iso timestamp", `{"timestamp":"2026-03-01T14:05:09Z","temperature":25,"humidity":50,"co2":500}`, FieldTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Codec{}.Decode([]byte(tt.payload))
			if !errors.Is(err, ErrInvalidReading) {
				t.Fatalf("Decode() error = %v, want ErrInvalidReading", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Decode() error type = %T, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

func TestBounds_Check(t *testing.T) {
	ts := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	bounds := DefaultBounds()

	tests := []struct {
		name    string
		reading Reading
		field   string
	}{
		{"valid", Reading{Timestamp: ts, Temperature: 25, Humidity: 50, CO2: 600}, ""},
		{"inclusive minimums", Reading{Timestamp: ts, Temperature: 20, Humidity: 30, CO2: 300}, ""},
		{"inclusive maximums", Reading{Timestamp: ts, Temperature: 35, Humidity: 80, CO2: 1200}, ""},
		{"cold", Reading{Timestamp: ts, Temperature: 19.99, Humidity: 50, CO2: 600}, FieldTemperature},
		{"humid", Reading{Timestamp: ts, Temperature: 25, Humidity: 80.01, CO2: 600}, FieldHumidity},
		{"stuffy", Reading{Timestamp: ts, Temperature: 25, Humidity: 50, CO2: 1500}, FieldCO2},
		{"no timestamp", Reading{Temperature: 25, Humidity: 50, CO2: 600}, FieldTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := bounds.Check(tt.reading)
			if tt.field == "" {
				if err != nil {
					t.Errorf("Check() error = %v, want nil", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Check() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %q, want %q", verr.Field, tt.field)
			}
		})
	}
}

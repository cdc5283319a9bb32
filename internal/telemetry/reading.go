package telemetry

import (
	"fmt"
	"math"
	"time"
)

// TimestampLayout is the wire representation of Reading.Timestamp.
const TimestampLayout = "2006-01-02 15:04:05"

// Field names as they appear on the wire.
const (
	FieldTimestamp   = "timestamp"
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldCO2         = "co2"
)

// Reading is one environmental sample.
type Reading struct {
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature"`
	Humidity    float64   `json:"humidity"`
	CO2         float64   `json:"co2"`
}

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies inside the range.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

func (r Range) validate(field string) error {
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || math.IsInf(r.Min, 0) || math.IsInf(r.Max, 0) {
		return fmt.Errorf("%w: %s range must be finite", ErrInvalidBounds, field)
	}
	if r.Min > r.Max {
		return fmt.Errorf("%w: %s min %.2f exceeds max %.2f", ErrInvalidBounds, field, r.Min, r.Max)
	}
	return nil
}

// Bounds holds the accepted range of each measured field.
type Bounds struct {
	Temperature Range `json:"temperature" yaml:"temperature"`
	Humidity    Range `json:"humidity" yaml:"humidity"`
	CO2         Range `json:"co2" yaml:"co2"`
}

// DefaultBounds returns the canonical sensor ranges:
// temperature 20-35 °C, humidity 30-80 %, CO2 300-1200 ppm.
func DefaultBounds() Bounds {
	return Bounds{
		Temperature: Range{Min: 20.0, Max: 35.0},
		Humidity:    Range{Min: 30.0, Max: 80.0},
		CO2:         Range{Min: 300.0, Max: 1200.0},
	}
}

// Validate checks that every range is finite and ordered.
func (b Bounds) Validate() error {
	if err := b.Temperature.validate(FieldTemperature); err != nil {
		return err
	}
	if err := b.Humidity.validate(FieldHumidity); err != nil {
		return err
	}
	return b.CO2.validate(FieldCO2)
}

// Check verifies that a reading is complete and inside the bounds.
// It returns a *ValidationError naming the first offending field.
func (b Bounds) Check(r Reading) error {
	if r.Timestamp.IsZero() {
		return invalid(FieldTimestamp, "missing")
	}
	if !b.Temperature.Contains(r.Temperature) {
		return invalid(FieldTemperature, "%v outside [%v, %v]", r.Temperature, b.Temperature.Min, b.Temperature.Max)
	}
	if !b.Humidity.Contains(r.Humidity) {
		return invalid(FieldHumidity, "%v outside [%v, %v]", r.Humidity, b.Humidity.Min, b.Humidity.Max)
	}
	if !b.CO2.Contains(r.CO2) {
		return invalid(FieldCO2, "%v outside [%v, %v]", r.CO2, b.CO2.Min, b.CO2.Max)
	}
	return nil
}

// Round2 rounds v to two decimal places.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

package influxdb

import (
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/airsense/internal/telemetry"
)

// Field and tag keys written for every reading.
const (
	TagDeviceID      = "device_id"
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
	FieldCO2         = "co2"
)

// WriteReading queues one reading. It is dropped silently after Close.
func (c *Client) WriteReading(deviceID string, r telemetry.Reading) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(NewReadingPoint(c.measurement, deviceID, r))
}

// NewReadingPoint builds the point for a reading. The point time is the
// reading's own timestamp, not the time of the write.
func NewReadingPoint(measurement, deviceID string, r telemetry.Reading) *write.Point {
	tags := map[string]string{}
	if deviceID != "" {
		tags[TagDeviceID] = deviceID
	}

	return write.NewPoint(
		measurement,
		tags,
		map[string]interface{}{
			FieldTemperature: r.Temperature,
			FieldHumidity:    r.Humidity,
			FieldCO2:         r.CO2,
		},
		r.Timestamp,
	)
}

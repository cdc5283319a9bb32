package sink

import "github.com/nerrad567/airsense/internal/telemetry"

// ReadingWriter queues a reading for a time-series store without blocking.
// *influxdb.Client implements it.
type ReadingWriter interface {
	WriteReading(deviceID string, r telemetry.Reading)
}

// Influx forwards readings to a time-series writer.
type Influx struct {
	w        ReadingWriter
	deviceID string
}

// NewInflux returns a sink tagging every point with deviceID.
func NewInflux(w ReadingWriter, deviceID string) *Influx {
	return &Influx{w: w, deviceID: deviceID}
}

// Consume implements Sink.
func (s *Influx) Consume(r telemetry.Reading) {
	s.w.WriteReading(s.deviceID, r)
}

// Package influxdb writes telemetry readings to InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library: one Client per
// process, a non-blocking batched write API, and a ping-based health check.
// Each reading becomes one point in the configured measurement with the
// fields temperature, humidity and co2, tagged with the device identifier
// when one is known.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading("sensor-01", reading)
//
// Write errors are delivered asynchronously through SetOnError.
package influxdb

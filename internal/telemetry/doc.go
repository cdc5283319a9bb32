// Package telemetry defines the environmental sensor reading carried through
// the AirSense pipeline.
//
// It provides:
//   - Reading, the single sample type (timestamp, temperature, humidity, CO2)
//   - Bounds, the declared range of every measured field
//   - Generator, a bounded synthetic reading source for the simulator
//   - Codec, the JSON wire format shared by publisher and subscriber
//
// # Wire Format
//
// Readings travel as a flat JSON object:
//
//	{"timestamp":"2026-03-01 14:05:09","temperature":24.31,"humidity":51.2,"co2":812.77}
//
// All four keys are required. Unknown keys are ignored so that newer
// publishers (for example ones adding "device_id") stay readable by older
// subscribers.
//
// # Errors
//
// Decoding and bounds checking return *ValidationError, which wraps
// ErrInvalidReading. Encoding failures wrap ErrSerialization and indicate a
// defect in the reading source rather than an environmental problem.
package telemetry

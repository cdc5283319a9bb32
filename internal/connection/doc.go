// Package connection runs the broker connection lifecycle shared by the
// AirSense publisher and subscriber.
//
// A Manager drives one connection through four states:
//
//	Disconnected --Run--> Connecting --ok--> Connected
//	                         |                  |
//	                       fail         lost / Fail()
//	                         v                  v
//	                       Backoff <------------+
//	                         |
//	                    delay elapsed --> Connecting
//
// Cancelling the Run context moves any state to Disconnected and closes the
// current session. Reconnect delays double from Backoff.Min up to
// Backoff.Max and drop back to Min once a connection has stayed up for
// Backoff.StabilityThreshold. Failures are retried forever unless
// Backoff.MaxRetries is set, in which case Run returns ErrRetriesExhausted.
//
// The transport is abstracted behind Dialer and Session so the state machine
// can be exercised without a broker. The MQTT implementation lives in
// internal/infrastructure/mqtt.
//
// Example usage:
//
//	mgr := connection.NewManager("publisher", dialer, connection.Backoff{
//	    Min: time.Second,
//	    Max: time.Minute,
//	})
//	mgr.SetLogger(logger)
//
//	go func() {
//	    if err := mgr.Run(ctx); err != nil {
//	        logger.Error("connection abandoned", "error", err)
//	    }
//	}()
package connection

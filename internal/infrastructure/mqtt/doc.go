// Package mqtt provides the MQTT transport for AirSense.
//
// This package manages:
//   - Opening one broker connection per Dial (Dialer implements connection.Dialer)
//   - Message publishing with context-bounded acknowledgement waits
//   - Per-session topic subscriptions with panic-safe handlers
//   - Last Will and Testament (LWT) for offline detection
//   - Reporting lost connections (including keep-alive timeouts) to the owner
//
// # Architecture
//
// Paho's built-in reconnect is disabled. The connection.Manager decides when
// to redial, so backoff, retry limits, and resubscription follow one policy
// for the publisher and subscriber alike.
//
//	Publisher  -> connection.Manager -> mqtt.Dialer -> broker
//	Subscriber -> connection.Manager -> mqtt.Dialer -> broker
//
// Each session publishes a retained status document on
// airsense/status/{client_id}: "online" after connecting, "offline" on a
// graceful Close, and the LWT "offline/unexpected_disconnect" otherwise.
//
// # Security Considerations
//
//   - TLS is available via broker.tls and requires TLS 1.2 or later
//   - Credentials come from broker.username/password (prefer env overrides)
//
// # Usage
//
//	dialer := mqtt.NewDialer(cfg.Broker, "publisher")
//	sess, err := dialer.Dial(ctx)
//	if err != nil {
//	    return err
//	}
//	defer sess.Close()
//
//	err = sess.Publish(ctx, "iot/sensors", 0, payload)
package mqtt

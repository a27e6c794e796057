// Package mqtt connects the lift bridge to the Gray Logic MQTT bus.
//
// The bridge publishes retained lift state and health, listens for movement
// commands and acks them. Topic names and payloads belong to the lift
// package; this package only handles the broker connection:
//
//   - connect with optional credentials and TLS
//   - Last Will so the broker announces an unexpected disconnect
//   - auto-reconnect with backoff, restoring subscriptions
//   - panic recovery around message handlers
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT, &mqtt.Will{Topic: topic, Payload: lwt})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(lift.CommandTopic("lift-1"), 1, func(topic string, payload []byte) {
//	    // ...
//	})
package mqtt

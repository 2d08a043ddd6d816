// Package mqtt provides MQTT client connectivity for the Tuya bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// The bridge publishes translated device state onto broker topics and
// subscribes to per-device command topics. The broker decouples the bridge
// from whatever consumes the state (typically a home-automation platform).
//
//	Tuya devices ↔ tuya-bridge ↔ MQTT broker ↔ consumers
//
// # Security Considerations
//
//   - TLS is recommended for non-local brokers (mqtt.broker.tls=true)
//   - Credentials are validated against the broker ACL
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.Will{
//	    Topic:    mqtt.SharedAvailabilityTopic(cfg.MQTT.TopicPrefix),
//	    Payload:  "offline",
//	    QoS:      1,
//	    Retained: true,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.CommandSubscription("tuya", "heat_pump"), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
package mqtt

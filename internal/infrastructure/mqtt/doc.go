// Package mqtt provides MQTT client connectivity for the clip bridge.
//
// This package manages:
//   - Connection to a broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Availability via Last Will and Testament plus an online message
//   - Connection health monitoring
//
// # Architecture
//
// The bridge holds two clients:
//
//	appliances ↔ device broker ↔ [devices client] clip-bridge [hub client] ↔ hub broker ↔ Home Assistant
//
// Only the hub client maintains an availability topic ({ponder}/availability);
// the device broker has no consumer for it.
//
// # Security Considerations
//
//   - Enable TLS (broker.tls) whenever a broker is not on localhost
//   - Credentials are validated against the broker ACL
//   - Message payloads are not encrypted beyond TLS transport
//
// # Usage
//
//	hub, err := mqtt.Connect(cfg.Hub.MQTTConfig, mqtt.NewStatus("ponder/availability"))
//	if err != nil {
//	    return err
//	}
//	defer hub.Close()
//
//	err = hub.Subscribe("ponder/+/+/set", 1, func(topic string, payload []byte) error {
//	    return manager.HandleHubMessage(ctx, topic, payload)
//	})
package mqtt

// Package mqtt provides MQTT connectivity for Gray Logic Timedata.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Per-device sample subscriptions (graylogic/timedata/{device}/data)
//   - Publishing of learned field overrides as events
//   - Retained online/offline status with Last Will and Testament
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.SubscribeDevices(mqtt.Topics{}.AllDeviceData(), 1,
//	    func(device string, payload []byte) error {
//	        return svc.Ingest(device, payload)
//	    })
//
// # Security Considerations
//
//   - TLS should be enabled outside the lab (cfg.Broker.TLS=true)
//   - Credentials are validated against the broker ACL
//   - Payloads are capped at 1MB
package mqtt

package mqtt

import (
	"fmt"
	"strings"
)

// DeviceHandler receives a message published on a per-device topic.
// device is the topic level matched by the pattern's '+'.
type DeviceHandler func(device string, payload []byte) error

// Subscribe registers a handler for messages on the specified topic.
//
// Topics can include MQTT wildcards ('+' single level, '#' multi level).
// The handler is called in a separate goroutine for each message.
// Subscriptions are restored after a reconnect.
//
// Parameters:
//   - topic: The topic pattern to subscribe to
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback function invoked for each message
//
// Returns:
//   - error: nil on success, or wrapped error describing the failure
func (c *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	c.subscriptions[topic] = subscription{topic: topic, qos: qos, handler: handler}
	c.subMu.Unlock()

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if !token.WaitTimeout(defaultPublishTimeout) {
		c.forget(topic)
		return fmt.Errorf("%w: timeout after %v", ErrSubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		c.forget(topic)
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	return nil
}

// SubscribeDevices subscribes to a pattern with exactly one '+' level and
// passes the matched level to handler as the device name.
//
// Example:
//
//	err := client.SubscribeDevices(mqtt.Topics{}.AllDeviceData(), 1,
//	    func(device string, payload []byte) error {
//	        return svc.Ingest(device, payload)
//	    })
func (c *Client) SubscribeDevices(pattern string, qos byte, handler DeviceHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if strings.Count(pattern, "+") != 1 || strings.Contains(pattern, "#") {
		return fmt.Errorf("%w: %q must contain exactly one '+' level", ErrInvalidTopic, pattern)
	}

	return c.Subscribe(pattern, qos, deviceMessageHandler(pattern, handler))
}

// deviceMessageHandler resolves the device level before calling handler.
func deviceMessageHandler(pattern string, handler DeviceHandler) MessageHandler {
	return func(topic string, payload []byte) error {
		device, ok := WildcardLevel(pattern, topic)
		if !ok {
			return fmt.Errorf("topic %q does not match %q", topic, pattern)
		}
		return handler(device, payload)
	}
}

// Unsubscribe removes a subscription.
// Messages already in flight may still be delivered.
func (c *Client) Unsubscribe(topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.forget(topic)

	token := c.client.Unsubscribe(topic)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrUnsubscribeFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}

	return nil
}

// forget stops tracking topic for reconnect restoration.
func (c *Client) forget(topic string) {
	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()
}

// SubscriptionCount returns the number of active subscriptions.
func (c *Client) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// HasSubscription checks if a subscription exists for the exact topic string.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}

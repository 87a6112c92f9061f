package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes used by Gray Logic Timedata.
//
// Devices publish samples on graylogic/timedata/{device}/data; the service
// publishes its own events under graylogic/timedata/event.
const (
	// TopicPrefixTimedata is the base for all timedata topics.
	TopicPrefixTimedata = "graylogic/timedata"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "graylogic/system"
)

// Topics provides builders for timedata MQTT topics.
//
//	topics := mqtt.Topics{}
//	topic := topics.DeviceData("edge3")
//	// Returns: "graylogic/timedata/edge3/data"
type Topics struct{}

// DeviceData returns the topic a device publishes its samples on.
//
// Example: graylogic/timedata/edge3/data
func (Topics) DeviceData(device string) string {
	return fmt.Sprintf("%s/%s/data", TopicPrefixTimedata, device)
}

// AllDeviceData returns a pattern matching the samples of every device.
//
// Pattern: graylogic/timedata/+/data
func (Topics) AllDeviceData() string {
	return fmt.Sprintf("%s/+/data", TopicPrefixTimedata)
}

// Event returns the topic for service events.
//
// Example: graylogic/timedata/event/field_override
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefixTimedata, eventType)
}

// FieldOverride returns the topic announcing learned field overrides.
//
// Example: graylogic/timedata/event/field_override
func (t Topics) FieldOverride() string {
	return t.Event("field_override")
}

// AllEvents returns a pattern matching all service events.
//
// Pattern: graylogic/timedata/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/event/+", TopicPrefixTimedata)
}

// ServiceStatus returns the retained online/offline topic of a client.
//
// Example: graylogic/system/status/graylogic-timedata
func (Topics) ServiceStatus(clientID string) string {
	return fmt.Sprintf("%s/status/%s", TopicPrefixSystem, clientID)
}

// AllTopics returns a pattern matching all timedata topics.
//
// Pattern: graylogic/timedata/#
func (Topics) AllTopics() string {
	return TopicPrefixTimedata + "/#"
}

// WildcardLevel returns the level of topic that sits at the single '+'
// of pattern. It reports false if pattern does not contain exactly one
// '+' level, uses '#', or does not match topic.
//
//	WildcardLevel("graylogic/timedata/+/data", "graylogic/timedata/edge3/data")
//	// Returns: "edge3", true
func WildcardLevel(pattern, topic string) (string, bool) {
	if strings.Contains(pattern, "#") {
		return "", false
	}

	want := strings.Split(pattern, "/")
	got := strings.Split(topic, "/")
	if len(want) != len(got) {
		return "", false
	}

	level, found := "", false
	for i, w := range want {
		if w == "+" {
			if found || got[i] == "" {
				return "", false
			}
			level, found = got[i], true
			continue
		}
		if w != got[i] {
			return "", false
		}
	}
	return level, found
}

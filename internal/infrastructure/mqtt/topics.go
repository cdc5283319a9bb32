package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefixStatus is the base for client status topics.
const TopicPrefixStatus = "airsense/status"

// Topics provides builders for AirSense MQTT topics.
type Topics struct{}

// ClientStatus returns the retained status topic of one client.
//
// Example: airsense/status/airsense-publisher-1a2b3c4d
func (Topics) ClientStatus(clientID string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixStatus, clientID)
}

// AllStatus returns a wildcard matching every client status topic.
func (Topics) AllStatus() string {
	return TopicPrefixStatus + "/+"
}

// validatePublishTopic rejects empty topics and topics containing wildcards.
func validatePublishTopic(topic string) error {
	if topic == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	if strings.ContainsAny(topic, "+#") {
		return fmt.Errorf("%w: %q contains a wildcard", ErrInvalidTopic, topic)
	}
	return nil
}

// validateFilter checks wildcard placement in a subscription filter.
func validateFilter(filter string) error {
	if filter == "" {
		return fmt.Errorf("%w: topic cannot be empty", ErrInvalidTopic)
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return fmt.Errorf("%w: %q misplaces '#'", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q misplaces '+'", ErrInvalidTopic, filter)
		}
	}
	return nil
}

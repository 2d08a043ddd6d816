package mqtt

import "fmt"

// Topic layout for the bridge, rooted at the configured prefix P:
//
//	P/{device_topic_name}/state/{dp_code}     — translated DP values (published)
//	P/{device_topic_name}/command/{dp_code}   — desired DP values (subscribed)
//	P/{device_topic_name}/bridge_status       — per-device availability marker
//	P/bridge_status                           — shared availability marker
//
// All builders take the prefix explicitly so the package carries no global
// configuration state.

// StateTopic returns the topic a translated DP value is published on.
//
// Example: tuya/heat_pump/state/target_temp
func StateTopic(prefix, topicName, dpCode string) string {
	return fmt.Sprintf("%s/%s/state/%s", prefix, topicName, dpCode)
}

// CommandTopic returns the topic a single DP command arrives on.
//
// Example: tuya/heat_pump/command/mode
func CommandTopic(prefix, topicName, dpCode string) string {
	return fmt.Sprintf("%s/%s/command/%s", prefix, topicName, dpCode)
}

// CommandSubscription returns the wildcard pattern covering all command
// topics for one device.
//
// Pattern: tuya/heat_pump/command/#
func CommandSubscription(prefix, topicName string) string {
	return fmt.Sprintf("%s/%s/command/#", prefix, topicName)
}

// AvailabilityTopic returns the per-device availability marker topic.
//
// Example: tuya/heat_pump/bridge_status
func AvailabilityTopic(prefix, topicName string) string {
	return fmt.Sprintf("%s/%s/bridge_status", prefix, topicName)
}

// SharedAvailabilityTopic returns the bridge-wide availability marker topic.
// The broker's last-will writes its retained "offline" here.
//
// Example: tuya/bridge_status
func SharedAvailabilityTopic(prefix string) string {
	return fmt.Sprintf("%s/bridge_status", prefix)
}

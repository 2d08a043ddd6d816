// Package bridge orchestrates the Tuya-to-MQTT data paths.
//
// The orchestrator owns three channel groups: a shared state-update channel
// fanning in from every device session, a broker-inbound channel fed by the
// command subscriptions, and one private command channel per device fanning
// out to its session. Two loops drain them: the publish loop deduplicates
// readings and publishes state topics, the route loop parses command topics
// and enqueues device writes.
//
// # Topic Layout
//
//	{prefix}/{device}/state/{dp_code}    state, retained (deny-list excepted)
//	{prefix}/{device}/command/{dp_code}  subscribed commands
//	{prefix}/{device}/bridge_status     per-device availability
//	{prefix}/bridge_status               shared availability and last-will
//
// # Shutdown
//
// Cancelling the start context abandons sessions and loops without
// draining. Device state is re-derived from the full snapshot query on the
// next start, and the broker's last-will flips availability to offline, so
// there is nothing worth flushing.
package bridge

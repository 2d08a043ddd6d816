// Package tuya models Tuya LAN devices and supervises their sessions.
//
// This package owns the device side of the bridge:
//   - Loading the tinytuya-style device listing into descriptors
//   - Translating datapoint values between device and bridge vocabularies
//   - Building dp_id keyed writes from commanded (dp_code, value) pairs
//   - Supervising one session per device with heartbeats, polling, and
//     reconnect backoff
//
// # Architecture
//
// Sessions depend on the Conn and Dialer contracts rather than a concrete
// transport; the wire protocol implementation lives in the protocol
// subpackage. Each session is the sole goroutine touching its connection.
// Readings flow out through a shared updates channel, commands flow in
// through a per-device channel, and both sides are decoupled from MQTT
// entirely.
//
// # Session Lifecycle
//
// A session dials, queries a full datapoint snapshot, then loops: 10s
// heartbeats keep the device from dropping the socket, periodic polls
// re-read the full snapshot, inbound messages are translated and forwarded,
// and queued commands are written. Any transport failure tears the session
// down and reconnects with exponential backoff (5s doubling to a 60s cap,
// reset once a connection is established).
package tuya

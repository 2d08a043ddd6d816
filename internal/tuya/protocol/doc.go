// Package protocol implements the Tuya LAN wire protocol (version 3.3).
//
// Frames are 0x000055AA-prefixed binary messages carrying a sequence number,
// command word, length, CRC32, and a 0x0000AA55 suffix. Payloads are
// encrypted with AES-128-ECB under the device's local key, with PKCS#7
// padding; control payloads additionally carry a "3.3" version header.
//
// The package exposes a Dialer that satisfies tuya.Dialer; the rest of the
// bridge never sees frames or ciphertext. Inbound bodies decode into the
// three payload shapes defined by the tuya package: structured JSON, bare
// JSON text, or raw bytes when decryption fails.
package protocol

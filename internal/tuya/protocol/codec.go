package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
)

// Frame layout on the wire (all fields big-endian):
//
//	0x000055AA | seq u32 | command u32 | length u32 | payload | crc32 u32 | 0x0000AA55
//
// length counts the payload plus the 8 trailing bytes (crc + suffix). The
// CRC covers everything from the prefix through the payload.
const (
	framePrefix = 0x000055AA
	frameSuffix = 0x0000AA55

	headerSize  = 16 // prefix + seq + command + length
	trailerSize = 8  // crc + suffix

	// maxPayloadSize bounds inbound frames so a corrupt length field cannot
	// trigger a huge allocation. Real device payloads are well under 1 KiB.
	maxPayloadSize = 64 * 1024
)

// frame is one decoded protocol frame.
type frame struct {
	Seq     uint32
	Command uint32
	Payload []byte
}

// encodeFrame serializes a frame for the wire.
func encodeFrame(f frame) []byte {
	buf := make([]byte, headerSize+len(f.Payload)+trailerSize)
	binary.BigEndian.PutUint32(buf[0:], framePrefix)
	binary.BigEndian.PutUint32(buf[4:], f.Seq)
	binary.BigEndian.PutUint32(buf[8:], f.Command)
	binary.BigEndian.PutUint32(buf[12:], uint32(len(f.Payload)+trailerSize))
	copy(buf[headerSize:], f.Payload)

	crcEnd := headerSize + len(f.Payload)
	binary.BigEndian.PutUint32(buf[crcEnd:], crc32.ChecksumIEEE(buf[:crcEnd]))
	binary.BigEndian.PutUint32(buf[crcEnd+4:], frameSuffix)
	return buf
}

// readFrame reads and validates one frame from r.
func readFrame(r io.Reader) (frame, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return frame{}, err
	}
	if prefix := binary.BigEndian.Uint32(header[0:]); prefix != framePrefix {
		return frame{}, fmt.Errorf("bad frame prefix 0x%08x", prefix)
	}

	length := binary.BigEndian.Uint32(header[12:])
	if length < trailerSize || length > maxPayloadSize+trailerSize {
		return frame{}, fmt.Errorf("bad frame length %d", length)
	}

	rest := make([]byte, length)
	if _, err := io.ReadFull(r, rest); err != nil {
		return frame{}, fmt.Errorf("reading frame body: %w", err)
	}

	payload := rest[:length-trailerSize]
	wantCRC := binary.BigEndian.Uint32(rest[length-trailerSize:])
	if suffix := binary.BigEndian.Uint32(rest[length-4:]); suffix != frameSuffix {
		return frame{}, fmt.Errorf("bad frame suffix 0x%08x", suffix)
	}

	crc := crc32.ChecksumIEEE(header)
	crc = crc32.Update(crc, crc32.IEEETable, payload)
	if crc != wantCRC {
		return frame{}, fmt.Errorf("crc mismatch: got 0x%08x, want 0x%08x", crc, wantCRC)
	}

	return frame{
		Seq:     binary.BigEndian.Uint32(header[4:]),
		Command: binary.BigEndian.Uint32(header[8:]),
		Payload: payload,
	}, nil
}

// versionHeader prefixes encrypted control payloads: the protocol version
// string followed by 12 reserved bytes.
var versionHeader = append([]byte(protocolVersion), bytes.Repeat([]byte{0}, 12)...)

// stripEnvelope removes the response return code and version header, if
// present, leaving just the (possibly encrypted) payload body.
func stripEnvelope(payload []byte) []byte {
	// Responses carry a 4-byte big-endian return code before the body.
	// Distinguish it from ciphertext by the three leading zero bytes.
	if len(payload) >= 4 && payload[0] == 0 && payload[1] == 0 && payload[2] == 0 {
		payload = payload[4:]
	}
	if bytes.HasPrefix(payload, []byte(protocolVersion)) && len(payload) >= len(versionHeader) {
		payload = payload[len(versionHeader):]
	}
	return payload
}

// Package douyu implements the Douyu platform protocols livarr depends on:
// the STT wire codec spoken on the chat websocket, the signed play-URL
// resolver, and the room live-status monitor.
package douyu

import (
	"bytes"
	"encoding/binary"
	"strings"
)

// STT frame layout: two little-endian uint32 length fields (both equal to
// payload length including the trailing NUL, plus 8), a little-endian uint32
// opcode, the UTF-8 payload, one NUL byte.
const (
	clientOpcode uint32 = 689
	headerSize          = 12
)

// Escape encodes the characters STT reserves inside values.
func Escape(s string) string {
	s = strings.ReplaceAll(s, "@", "@A")
	return strings.ReplaceAll(s, "/", "@S")
}

// Unescape reverses Escape. Order matters: "@S" must be resolved before "@A"
// or an escaped "@" followed by "S" would decode as a slash.
func Unescape(s string) string {
	s = strings.ReplaceAll(s, "@S", "/")
	return strings.ReplaceAll(s, "@A", "@")
}

// Pack frames a single STT payload for sending. A trailing slash is appended
// when missing; the protocol requires it.
func Pack(payload string) []byte {
	if !strings.HasSuffix(payload, "/") {
		payload += "/"
	}

	body := append([]byte(payload), 0)
	length := uint32(len(body) + 8)

	frame := make([]byte, 0, headerSize+len(body))
	frame = binary.LittleEndian.AppendUint32(frame, length)
	frame = binary.LittleEndian.AppendUint32(frame, length)
	frame = binary.LittleEndian.AppendUint32(frame, clientOpcode)
	return append(frame, body...)
}

// Payloads extracts every STT payload from a received binary message. The
// server concatenates frames, so the buffer is walked packet by packet; a
// truncated or undersized tail ends the walk silently rather than erroring,
// matching the protocol's best-effort framing.
func Payloads(data []byte) []string {
	var payloads []string

	offset := 0
	for offset+4 <= len(data) {
		length := int(binary.LittleEndian.Uint32(data[offset:]))
		packetSize := length + 4
		if packetSize <= headerSize || offset+packetSize > len(data) {
			break
		}

		payload := data[offset+headerSize : offset+packetSize]
		if i := bytes.IndexByte(payload, 0); i >= 0 {
			payload = payload[:i]
		}
		payloads = append(payloads, strings.ToValidUTF8(string(payload), ""))

		offset += packetSize
	}

	return payloads
}

package clip

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// Frame layout offsets.
//
//	0-1   command bytes b0, b1
//	2-5   04 00 00 00
//	6     command class marker
//	7-9   command bytes b2, b3, b4
//	10    TLV payload length
//	11..  TLV payload
//	last2 checksum, big-endian
const (
	frameClassOffset  = 6
	frameLengthOffset = 10
	frameHeaderSize   = 11
	frameTrailerSize  = 2

	// frameOverhead is every byte of a frame that is not TLV payload.
	frameOverhead = frameHeaderSize + frameTrailerSize

	// maxPayloadSize is the largest payload the length byte can describe.
	maxPayloadSize = 0xFF
)

// Command class markers seen at offset 6.
const (
	// ClassHub marks frames built by the bridge.
	ClassHub byte = 0x65

	// ClassRAC marks register updates from room air conditioners.
	ClassRAC byte = 0x87

	// ClassCST marks register updates from ceiling cassette units.
	ClassCST byte = 0xA7
)

// inboundClasses are the markers accepted by ParseFrame.
var inboundClasses = map[byte]bool{
	ClassHub: true,
	ClassRAC: true,
	ClassCST: true,
}

// Command is the caller-supplied 5-byte header (b0, b1, b2, b3, b4).
// Bytes 0-1 lead the frame; bytes 2-4 follow the class marker.
type Command [5]byte

// Well-known commands.
var (
	// CommandWrite writes one or more registers.
	CommandWrite = Command{1, 1, 2, 1, 1}

	// CommandQuery asks the device to report all registers.
	CommandQuery = Command{1, 1, 2, 2, 1}
)

// QueryTag and QueryValue form the single record of a state query.
const (
	QueryTag   uint16 = 0x1f5
	QueryValue uint32 = 2
)

// QueryRecords returns the payload of a state query.
func QueryRecords() []TLV {
	return []TLV{{Tag: QueryTag, Value: QueryValue}}
}

// Frame is a decoded inbound packet.
type Frame struct {
	// Command holds b0, b1, b2, b3, b4.
	Command Command

	// Class is the marker byte at offset 6.
	Class byte

	// Records is the decoded TLV payload.
	Records []TLV

	// Checksum is the trailer as received.
	Checksum uint16

	// computed is the checksum calculated over the received bytes.
	computed uint16
}

// ChecksumValid reports whether the received trailer matches the payload.
func (f *Frame) ChecksumValid() bool {
	return f.Checksum == f.computed
}

// BuildFrame wraps records in the packet header and checksum trailer.
//
// Parameters:
//   - cmd: Command header (e.g. CommandWrite)
//   - records: Payload records
//
// Returns:
//   - []byte: Complete wire frame
//   - error: ErrPayloadTooLarge if the encoded payload exceeds 255 bytes,
//     or a TLV encoding error
func BuildFrame(cmd Command, records []TLV) ([]byte, error) {
	payload, err := EncodeTLV(records)
	if err != nil {
		return nil, err
	}
	if len(payload) > maxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	buf := make([]byte, 0, len(payload)+frameOverhead)
	buf = append(buf, cmd[0], cmd[1], 0x04, 0x00, 0x00, 0x00, ClassHub, cmd[2], cmd[3], cmd[4], byte(len(payload)))
	buf = append(buf, payload...)
	buf = binary.BigEndian.AppendUint16(buf, Checksum(buf[2:]))

	return buf, nil
}

// ParseFrame validates an inbound device frame and decodes its payload.
//
// Only device register updates are accepted: bytes 2-5 must be 04 00 00 00,
// the class marker must be known, bytes 7-8 must be 02 04 and the length byte
// must equal len(buf)-13. The checksum is decoded but not enforced; see
// Frame.ChecksumValid.
//
// Returns:
//   - *Frame: Decoded frame
//   - error: ErrMalformedFrame wrapped with the failing check
func ParseFrame(buf []byte) (*Frame, error) {
	if len(buf) < frameOverhead {
		return nil, fmt.Errorf("%w: too short (%d bytes, need at least %d)", ErrMalformedFrame, len(buf), frameOverhead)
	}
	if buf[2] != 0x04 || buf[3] != 0x00 || buf[4] != 0x00 || buf[5] != 0x00 {
		return nil, fmt.Errorf("%w: unexpected preamble % x", ErrMalformedFrame, buf[2:6])
	}
	if !inboundClasses[buf[frameClassOffset]] {
		return nil, fmt.Errorf("%w: unknown class 0x%02x", ErrMalformedFrame, buf[frameClassOffset])
	}
	if buf[7] != 0x02 || buf[8] != 0x04 {
		return nil, fmt.Errorf("%w: not a register update (% x)", ErrMalformedFrame, buf[7:9])
	}
	if int(buf[frameLengthOffset]) != len(buf)-frameOverhead {
		return nil, fmt.Errorf("%w: length byte %d, frame carries %d", ErrMalformedFrame, buf[frameLengthOffset], len(buf)-frameOverhead)
	}

	end := len(buf) - frameTrailerSize
	return &Frame{
		Command:  Command{buf[0], buf[1], buf[7], buf[8], buf[9]},
		Class:    buf[frameClassOffset],
		Records:  DecodeTLV(buf[frameHeaderSize:end]),
		Checksum: binary.BigEndian.Uint16(buf[end:]),
		computed: Checksum(buf[2:end]),
	}, nil
}

// ParseHexFrame decodes a hex string (as carried in device_packet messages)
// and parses it with ParseFrame. Whitespace is ignored.
func ParseHexFrame(s string) (*Frame, error) {
	raw, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedFrame, err)
	}
	return ParseFrame(raw)
}

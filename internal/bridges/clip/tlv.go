package clip

import "fmt"

// TLV limits.
const (
	// MaxTag is the largest register tag representable in the 10-bit tag field.
	MaxTag = 0x3FF

	// MaxValue is the largest value the encoder can represent (3 trailing bytes).
	MaxValue = 0xFFFFFF

	// tlvHeaderSize is the size of the tag/selector header.
	tlvHeaderSize = 2
)

// TLV is a single tag-length-value register record.
type TLV struct {
	// Tag is the 10-bit register identifier.
	Tag uint16

	// Value is the raw register value.
	Value uint32
}

// String returns the record as "0x1fd=20".
func (t TLV) String() string {
	return fmt.Sprintf("0x%03x=%d", t.Tag, t.Value)
}

// DecodeTLV parses a buffer of concatenated TLV records.
//
// Each record starts with two header bytes b0, b1:
//
//	tag      = (b0 << 2) | (b1 >> 6)
//	selector = (b1 >> 4) & 0x03
//
// Selector 0 carries the value inline in the low nibble of b1. Selectors 1-3
// announce that many big-endian value bytes after the header.
//
// Decoding stops at the first record that does not fit in the remaining bytes;
// the partial record is dropped and the complete prefix is returned.
//
// Parameters:
//   - buf: Raw TLV payload (the frame body between the length byte and the checksum)
//
// Returns:
//   - []TLV: Records in wire order (empty, never nil, for an empty buffer)
func DecodeTLV(buf []byte) []TLV {
	records := make([]TLV, 0, len(buf)/tlvHeaderSize)

	for i := 0; i+tlvHeaderSize <= len(buf); {
		b0, b1 := buf[i], buf[i+1]
		tag := uint16(b0)<<2 | uint16(b1>>6)
		extra := int((b1 >> 4) & 0x03) //nolint:mnd // 2-bit length selector
		i += tlvHeaderSize

		var value uint32
		if extra == 0 {
			value = uint32(b1 & 0x0F)
		} else {
			if i+extra > len(buf) {
				break
			}
			for _, b := range buf[i : i+extra] {
				value = value<<8 | uint32(b)
			}
			i += extra
		}

		records = append(records, TLV{Tag: tag, Value: value})
	}

	return records
}

// EncodeTLV serialises records into the wire format understood by DecodeTLV.
//
// The length selector is chosen from the value magnitude:
//
//	value < 16       inline in the low nibble
//	value < 256      1 trailing byte
//	value < 65536    2 trailing bytes
//	value < 2^24     3 trailing bytes
//
// Parameters:
//   - records: Records to encode, in order
//
// Returns:
//   - []byte: Encoded payload
//   - error: ErrTagOutOfRange or ErrValueOutOfRange for unrepresentable records
func EncodeTLV(records []TLV) ([]byte, error) {
	buf := make([]byte, 0, len(records)*(tlvHeaderSize+3)) //nolint:mnd // worst case per record

	for _, r := range records {
		if r.Tag > MaxTag {
			return nil, fmt.Errorf("%w: 0x%x", ErrTagOutOfRange, r.Tag)
		}
		if r.Value > MaxValue {
			return nil, fmt.Errorf("%w: tag 0x%03x value %d needs more than 24 bits", ErrValueOutOfRange, r.Tag, r.Value)
		}

		b0 := byte(r.Tag >> 2)
		b1 := byte(r.Tag&0x03) << 6

		switch {
		case r.Value < 0x10:
			buf = append(buf, b0, b1|byte(r.Value))
		case r.Value < 0x100:
			buf = append(buf, b0, b1|0x10, byte(r.Value))
		case r.Value < 0x10000:
			buf = append(buf, b0, b1|0x20, byte(r.Value>>8), byte(r.Value))
		default:
			buf = append(buf, b0, b1|0x30, byte(r.Value>>16), byte(r.Value>>8), byte(r.Value))
		}
	}

	return buf, nil
}

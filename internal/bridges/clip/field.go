package clip

import "strconv"

// Field maps one raw register to one named property.
//
// Transform functions are optional; a nil function means "none" and the
// dispatcher falls back to its default behaviour for that step.
type Field struct {
	// Tag is the register identifier.
	Tag uint16

	// Name is the property name used in hub topics.
	Name string

	// Readable fields are published when their register is reported.
	Readable bool

	// Writable fields accept set requests from the hub.
	Writable bool

	// ReadXform converts a raw value to its display string. It may consult
	// other cached registers. Returning false means "unrecognised"; the
	// dispatcher then publishes the decimal raw value.
	ReadXform func(raw uint32, state StateReader) (string, bool)

	// ReadRedirect, when it returns true, suppresses publishing this field
	// and re-dispatches the same raw value under the returned tag.
	ReadRedirect func(display string) (uint16, bool)

	// PreWrite names a property that must be written before this one.
	PreWrite func(input string) (name, value string, ok bool)

	// WriteXform converts a display value to a raw register value.
	// Returning false aborts the write.
	WriteXform func(value string) (uint32, bool)

	// WriteCallback returns true when the field handles the value itself and
	// the generic write path must be skipped.
	WriteCallback func(value string) bool

	// WriteAttach lists registers that must travel in the same packet as
	// this one. Their values come from the cache.
	WriteAttach func(raw uint32) []uint16
}

// display returns the published form of raw.
func (f *Field) display(raw uint32, state StateReader) string {
	if f.ReadXform != nil {
		if s, ok := f.ReadXform(raw, state); ok {
			return s
		}
	}
	return strconv.FormatUint(uint64(raw), 10)
}

func (f *Field) redirect(display string) (uint16, bool) {
	if f.ReadRedirect == nil {
		return 0, false
	}
	return f.ReadRedirect(display)
}

func (f *Field) preWrite(value string) (string, string, bool) {
	if f.PreWrite == nil {
		return "", "", false
	}
	return f.PreWrite(value)
}

func (f *Field) encode(value string) (uint32, bool) {
	if f.WriteXform == nil {
		return 0, false
	}
	return f.WriteXform(value)
}

func (f *Field) handledElsewhere(value string) bool {
	return f.WriteCallback != nil && f.WriteCallback(value)
}

func (f *Field) attach(raw uint32) []uint16 {
	if f.WriteAttach == nil {
		return nil
	}
	return f.WriteAttach(raw)
}

// Helpers for building field tables.

// Halves reads a register stored in half units (e.g. 0.5 °C steps).
func Halves(raw uint32, _ StateReader) (string, bool) {
	return strconv.FormatFloat(float64(raw)/2, 'f', -1, 64), true //nolint:mnd // half units
}

// ValueMap is a bidirectional raw value ↔ display string table.
type ValueMap map[uint32]string

// Read implements Field.ReadXform.
func (m ValueMap) Read(raw uint32, _ StateReader) (string, bool) {
	s, ok := m[raw]
	return s, ok
}

// Write implements Field.WriteXform.
func (m ValueMap) Write(value string) (uint32, bool) {
	for raw, s := range m {
		if s == value {
			return raw, true
		}
	}
	return 0, false
}

// Attach returns a WriteAttach function that always attaches tags.
func Attach(tags ...uint16) func(uint32) []uint16 {
	return func(uint32) []uint16 {
		return tags
	}
}

// RedirectTo returns a ReadRedirect function that always redirects to tag.
func RedirectTo(tag uint16) func(string) (uint16, bool) {
	return func(string) (uint16, bool) {
		return tag, true
	}
}

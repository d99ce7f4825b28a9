package clip

import "errors"

// Domain errors for the clip bridge package.
var (
	// ErrTagOutOfRange is returned when a register tag does not fit in 10 bits.
	ErrTagOutOfRange = errors.New("clip: tag out of range")

	// ErrValueOutOfRange is returned when a register value needs more than
	// 24 bits. The TLV length selector can only describe 3 trailing bytes.
	ErrValueOutOfRange = errors.New("clip: value out of range")

	// ErrPayloadTooLarge is returned when an encoded TLV payload does not fit
	// the single length byte of a frame.
	ErrPayloadTooLarge = errors.New("clip: payload too large")

	// ErrMalformedFrame is returned when an inbound frame fails validation.
	ErrMalformedFrame = errors.New("clip: malformed frame")

	// ErrChecksumMismatch is returned when checksum verification is enabled
	// and the frame trailer does not match.
	ErrChecksumMismatch = errors.New("clip: checksum mismatch")

	// ErrUnknownModel is returned when a device model is not registered.
	ErrUnknownModel = errors.New("clip: unknown device model")

	// ErrDuplicateModel is returned when a model ID is registered twice.
	ErrDuplicateModel = errors.New("clip: duplicate device model")

	// ErrInvalidModel is returned when a model definition is inconsistent.
	ErrInvalidModel = errors.New("clip: invalid device model")

	// ErrUnknownField is returned when a tag or property name has no field.
	ErrUnknownField = errors.New("clip: unknown field")

	// ErrNotWritable is returned when a set request targets a read-only field.
	ErrNotWritable = errors.New("clip: field not writable")

	// ErrUnparseableValue is returned when a write transform rejects a value.
	ErrUnparseableValue = errors.New("clip: unparseable value")

	// ErrMissingAttachState is returned when a write needs a cached register
	// that the device has not reported yet.
	ErrMissingAttachState = errors.New("clip: missing attach state")

	// ErrRedirectLimit is returned when a redirect or pre-write chain exceeds
	// maxRedirectHops.
	ErrRedirectLimit = errors.New("clip: redirect limit exceeded")

	// ErrPublishFailed is returned when publishing to a broker fails.
	ErrPublishFailed = errors.New("clip: publish failed")

	// ErrUnknownDevice is returned when a message targets a device without a session.
	ErrUnknownDevice = errors.New("clip: unknown device")

	// ErrNoDeployRecord is returned when a provisioning ack arrives without
	// a preceding deploy.
	ErrNoDeployRecord = errors.New("clip: no deploy record")

	// ErrAlreadyProvisioned is returned when a provisioning ack arrives for a
	// device that already has a session.
	ErrAlreadyProvisioned = errors.New("clip: device already provisioned")

	// ErrInvalidMessage is returned when an inbound JSON message cannot be decoded.
	ErrInvalidMessage = errors.New("clip: invalid message")
)

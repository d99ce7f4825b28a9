package clip

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// maxRedirectHops bounds read redirect chains and pre-write recursion.
const maxRedirectHops = 8

// Publisher is the outbound side of a broker connection.
type Publisher interface {
	// Publish sends payload to topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Telemetry receives every raw register a device reports.
// Implementations must not block.
type Telemetry interface {
	WriteRegister(deviceID, model string, tag uint16, value uint32)
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// SessionOptions holds the dependencies of a Session.
type SessionOptions struct {
	// ID is the device identifier.
	ID string

	// Model is the device's registered model.
	Model *Model

	// Topics builds hub and device topics.
	Topics Topics

	// Device publishes packets to the appliance.
	Device Publisher

	// Hub publishes state and discovery to the automation hub.
	Hub Publisher

	// DeviceQoS and HubQoS are the publish QoS levels per broker. Default 0.
	DeviceQoS byte
	HubQoS    byte

	// Telemetry is optional.
	Telemetry Telemetry

	// Logger is optional.
	Logger Logger

	// Now is the clock used for message IDs. Default time.Now.
	Now func() time.Time
}

// Session owns one provisioned device: its register cache and model binding.
// It runs the read dispatch for inbound packets and the write dispatch for
// property set requests.
//
// Thread Safety: every exported method holds the session lock for the whole
// operation, publish I/O included, so operations on one device are strictly
// ordered and the cache is never observed mid-update.
type Session struct {
	id        string
	topic     string
	model     *Model
	topics    Topics
	device    Publisher
	hub       Publisher
	deviceQoS byte
	hubQoS    byte
	telemetry Telemetry
	logger    Logger
	now       func() time.Time

	mu    sync.Mutex
	state *State
}

// NewSession creates a session. It does not publish anything; call
// PublishDiscovery and Query to bring the device up.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.ID == "" {
		return nil, fmt.Errorf("device id is required")
	}
	if opts.Model == nil {
		return nil, fmt.Errorf("model is required")
	}
	if opts.Device == nil || opts.Hub == nil {
		return nil, fmt.Errorf("device and hub publishers are required")
	}

	s := &Session{
		id:        opts.ID,
		model:     opts.Model,
		topics:    opts.Topics.withDefaults(),
		device:    opts.Device,
		hub:       opts.Hub,
		deviceQoS: opts.DeviceQoS,
		hubQoS:    opts.HubQoS,
		telemetry: opts.Telemetry,
		logger:    opts.Logger,
		now:       opts.Now,
		state:     NewState(),
	}
	s.topic = s.topics.Device(s.id)
	if s.logger == nil {
		s.logger = noopLogger{}
	}
	if s.now == nil {
		s.now = time.Now
	}

	return s, nil
}

// ID returns the device identifier.
func (s *Session) ID() string { return s.id }

// Model returns the device's model.
func (s *Session) Model() *Model { return s.model }

// Topic returns the device's outbound topic.
func (s *Session) Topic() string { return s.topic }

// Snapshot returns a copy of the register cache.
func (s *Session) Snapshot() map[uint16]uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Snapshot()
}

// ApplyInbound runs the read dispatch over records in order. Later records
// see cache updates made by earlier ones.
//
// Every record is cached, known or not. Known readable fields are published
// retained to {ponder}/{id}/{name}. Errors from individual records are
// joined; processing continues with the next record.
func (s *Session) ApplyInbound(records []TLV) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, r := range records {
		if err := s.dispatchRead(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Session) dispatchRead(r TLV) error {
	s.state.Set(r.Tag, r.Value)
	if s.telemetry != nil {
		s.telemetry.WriteRegister(s.id, s.model.ID, r.Tag, r.Value)
	}

	tag := r.Tag
	for hop := 0; hop <= maxRedirectHops; hop++ {
		f, ok := s.model.FieldByTag(tag)
		if !ok {
			s.logger.Debug("unmapped register", "device_id", s.id, "tag", fmt.Sprintf("0x%03x", tag), "value", r.Value)
			return nil
		}

		display := f.display(r.Value, s.state)

		if next, redirect := f.redirect(display); redirect {
			tag = next
			continue
		}

		if !f.Readable {
			return nil
		}
		return s.publishHub(s.topics.Property(s.id, f.Name), []byte(display), true)
	}

	return fmt.Errorf("%w: device %s tag 0x%03x", ErrRedirectLimit, s.id, r.Tag)
}

// SetProperty runs the write dispatch for a hub set request.
//
// A prerequisite write named by the field's PreWrite runs first. The
// primary register and its attach registers go out in a single packet;
// attach values come from the cache. Only the primary register is cached
// afterwards.
//
// Returns:
//   - ErrUnknownField / ErrNotWritable: name does not map to a writable field
//   - ErrUnparseableValue: the value has no raw encoding (nothing sent)
//   - ErrMissingAttachState: an attach register was never reported (nothing sent)
//   - ErrPublishFailed: the device broker rejected the packet
func (s *Session) SetProperty(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(name, value, 0)
}

func (s *Session) write(name, value string, depth int) error {
	if depth > maxRedirectHops {
		return fmt.Errorf("%w: pre-write chain at %q", ErrRedirectLimit, name)
	}

	f, ok := s.model.FieldByName(name)
	if !ok {
		return fmt.Errorf("%w: %s has no property %q", ErrUnknownField, s.model.ID, name)
	}
	if !f.Writable {
		return fmt.Errorf("%w: %q", ErrNotWritable, name)
	}

	preWrote := false
	if otherName, otherValue, ok := f.preWrite(value); ok {
		if err := s.write(otherName, otherValue, depth+1); err != nil {
			return fmt.Errorf("pre-write %s=%q: %w", otherName, otherValue, err)
		}
		preWrote = true
	}

	raw, ok := f.encode(value)
	if !ok {
		// Values like mode "off" exist only to trigger their pre-write.
		if preWrote {
			return nil
		}
		return fmt.Errorf("%w: %s=%q", ErrUnparseableValue, name, value)
	}

	if f.handledElsewhere(value) {
		return nil
	}

	records := []TLV{{Tag: f.Tag, Value: raw}}
	for _, tag := range f.attach(raw) {
		v, cached := s.state.Get(tag)
		if !cached {
			return fmt.Errorf("%w: %s needs register 0x%03x", ErrMissingAttachState, name, tag)
		}
		records = append(records, TLV{Tag: tag, Value: v})
	}

	if err := s.send(CommandWrite, records); err != nil {
		return err
	}

	s.state.Set(f.Tag, raw)
	return nil
}

// Query asks the device to report all of its registers.
func (s *Session) Query() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(CommandQuery, QueryRecords())
}

// PublishDiscovery publishes the discovery descriptor (not retained) and
// marks the device online.
func (s *Session) PublishDiscovery() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(DiscoveryDescriptor(s.model, s.id, s.topics))
	if err != nil {
		return fmt.Errorf("marshal discovery: %w", err)
	}
	if err := s.publishHub(s.topics.Discovery(s.model.Class, s.id), payload, false); err != nil {
		return err
	}
	return s.publishHub(s.topics.DeviceAvailability(s.id), []byte(PayloadOnline), false)
}

// send frames records and publishes them to the device.
func (s *Session) send(cmd Command, records []TLV) error {
	frame, err := BuildFrame(cmd, records)
	if err != nil {
		return fmt.Errorf("build frame: %w", err)
	}

	payload, err := json.Marshal(NewPacketEnvelope(s.id, hex.EncodeToString(frame), s.now()))
	if err != nil {
		return fmt.Errorf("marshal packet: %w", err)
	}

	if err := s.device.Publish(s.topic, payload, s.deviceQoS, false); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, s.topic, err)
	}

	s.logger.Debug("packet sent", "device_id", s.id, "records", len(records))
	return nil
}

func (s *Session) publishHub(topic string, payload []byte, retained bool) error {
	if err := s.hub.Publish(topic, payload, s.hubQoS, retained); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}
	return nil
}

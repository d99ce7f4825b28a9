package clip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ManagerOptions holds configuration for creating a Manager.
type ManagerOptions struct {
	// Registry resolves model kinds. Default DefaultRegistry.
	Registry *Registry

	// Topics builds hub and device topics. Empty prefixes use defaults.
	Topics Topics

	// Device publishes to the device-side broker.
	Device Publisher

	// Hub publishes to the automation hub broker.
	Hub Publisher

	// DeviceQoS and HubQoS are passed to sessions.
	DeviceQoS byte
	HubQoS    byte

	// DeployInterval is announced in provisioning responses (seconds).
	// Default DefaultDeployInterval.
	DeployInterval int

	// VerifyChecksum drops inbound frames whose checksum does not match.
	VerifyChecksum bool

	// Store is optional provisioning persistence.
	Store Store

	// Telemetry is optional and shared by every session.
	Telemetry Telemetry

	// Logger is optional.
	Logger Logger

	// Now is the clock. Default time.Now.
	Now func() time.Time
}

// ManagerStats is a point-in-time view of the manager's counters.
type ManagerStats struct {
	Devices        int
	PendingDeploys int
	PacketsRx      uint64
	PacketsDropped uint64
	Writes         uint64
	Provisioned    uint64
}

// Manager routes device and hub messages to sessions and owns the
// provisioning state machine:
//
//	Unprovisioned --deploy--> AwaitingAck --ack--> Provisioned
//
// Thread Safety: All methods are safe for concurrent use. Per-device
// ordering is the caller's job (see Dispatcher); sessions serialise their
// own operations.
type Manager struct {
	registry       *Registry
	topics         Topics
	device         Publisher
	hub            Publisher
	deviceQoS      byte
	hubQoS         byte
	deployInterval int
	verifyChecksum bool
	store          Store
	telemetry      Telemetry
	logger         Logger
	now            func() time.Time

	mu       sync.RWMutex
	deploys  map[string]DeployRecord
	sessions map[string]*Session

	packetsRx      atomic.Uint64
	packetsDropped atomic.Uint64
	writes         atomic.Uint64
	provisioned    atomic.Uint64
}

// NewManager creates a manager with no devices. Call Restore to reload
// persisted devices.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Device == nil {
		return nil, fmt.Errorf("device publisher is required")
	}
	if opts.Hub == nil {
		return nil, fmt.Errorf("hub publisher is required")
	}

	m := &Manager{
		registry:       opts.Registry,
		topics:         opts.Topics.withDefaults(),
		device:         opts.Device,
		hub:            opts.Hub,
		deviceQoS:      opts.DeviceQoS,
		hubQoS:         opts.HubQoS,
		deployInterval: opts.DeployInterval,
		verifyChecksum: opts.VerifyChecksum,
		store:          opts.Store,
		telemetry:      opts.Telemetry,
		logger:         opts.Logger,
		now:            opts.Now,
		deploys:        make(map[string]DeployRecord),
		sessions:       make(map[string]*Session),
	}
	if m.registry == nil {
		m.registry = DefaultRegistry
	}
	if m.deployInterval == 0 {
		m.deployInterval = DefaultDeployInterval
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	if m.now == nil {
		m.now = time.Now
	}

	return m, nil
}

// Topics returns the manager's topic builder.
func (m *Manager) Topics() Topics {
	return m.topics
}

// HandleDeviceMessage processes a message from the device-side broker.
//
// Recognised topics and commands:
//   - clip/provisioning/devices/{id}: preDeploy, deploy
//   - clip/message/devices/{id}: completeProvisioning_ack, device_packet
//
// Other commands are ignored.
func (m *Manager) HandleDeviceMessage(ctx context.Context, topic string, payload []byte) error {
	kind, topicID := ParseDeviceTopic(topic)
	if kind == DeviceTopicUnknown {
		return fmt.Errorf("%w: unexpected topic %q", ErrInvalidMessage, topic)
	}

	msg, err := ParseDeviceMessage(payload)
	if err != nil {
		return err
	}

	did := topicID
	if msg.DID != "" && msg.DID != topicID {
		m.logger.Debug("dropping device message",
			"topic", topic,
			"did", msg.DID,
			"error", ErrInvalidMessage,
		)
		return nil
	}

	switch {
	case kind == DeviceTopicProvisioning && (msg.Cmd == CmdPreDeploy || msg.Cmd == CmdDeploy):
		return m.deploy(ctx, did, msg)
	case kind == DeviceTopicMessage && msg.Cmd == CmdCompleteProvisioningAck:
		return m.completeProvisioning(ctx, did, msg.Kind)
	case kind == DeviceTopicMessage && msg.Cmd == CmdDevicePacket:
		return m.devicePacket(did, msg)
	default:
		m.logger.Debug("ignoring device message", "topic", topic, "cmd", msg.Cmd)
		return nil
	}
}

// HandleHubMessage processes a message from the hub broker: the hub status
// announcement and property set requests.
func (m *Manager) HandleHubMessage(_ context.Context, topic string, payload []byte) error {
	if topic == m.topics.HubStatus() {
		if strings.TrimSpace(string(payload)) != PayloadOnline {
			return nil
		}
		m.logger.Info("hub online, republishing discovery")
		return m.Rediscover()
	}

	id, prop, ok := m.topics.ParseSetTopic(topic)
	if !ok {
		return fmt.Errorf("%w: unexpected topic %q", ErrInvalidMessage, topic)
	}

	sess, ok := m.Session(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDevice, id)
	}

	if err := sess.SetProperty(prop, strings.TrimSpace(string(payload))); err != nil {
		return err
	}
	m.writes.Add(1)
	return nil
}

// deploy records a pending deploy and answers with completeProvisioning.
// A repeated deploy replaces the previous record.
func (m *Manager) deploy(ctx context.Context, did string, msg DeviceMessage) error {
	rec := DeployRecord{
		DeviceID:         did,
		ProvisioningType: msg.Cmd,
		Payload:          string(msg.Data),
		CreatedAt:        m.now(),
	}

	m.mu.Lock()
	m.deploys[did] = rec
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.SaveDeployRecord(ctx, rec); err != nil {
			m.logger.Error("failed to persist deploy record", "device_id", did, "error", err)
		}
	}

	resp := NewProvisioningResponse(did, msg.Cmd, m.topics, m.deployInterval, m.now())
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal provisioning response: %w", err)
	}

	topic := m.topics.Device(did)
	if err := m.device.Publish(topic, payload, m.deviceQoS, false); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err)
	}

	m.logger.Info("device deploying", "device_id", did, "provisioning_type", msg.Cmd)
	return nil
}

// completeProvisioning creates the session for an acknowledged deploy.
func (m *Manager) completeProvisioning(ctx context.Context, did, kind string) error {
	model, ok := m.registry.Lookup(kind)

	m.mu.Lock()
	if _, pending := m.deploys[did]; !pending {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoDeployRecord, did)
	}
	if _, exists := m.sessions[did]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyProvisioned, did)
	}
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q for device %s", ErrUnknownModel, kind, did)
	}

	sess, err := m.newSession(did, model)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.sessions[did] = sess
	m.mu.Unlock()

	m.provisioned.Add(1)
	m.logger.Info("device provisioned", "device_id", did, "model", model.ID)

	if m.store != nil {
		rec := DeviceRecord{DeviceID: did, Model: model.ID, ProvisionedAt: m.now()}
		if err := m.store.SaveDevice(ctx, rec); err != nil {
			m.logger.Error("failed to persist device", "device_id", did, "error", err)
		}
	}

	return bringUp(sess)
}

// devicePacket feeds a device_packet frame into its session.
func (m *Manager) devicePacket(did string, msg DeviceMessage) error {
	sess, ok := m.Session(did)
	if !ok {
		m.packetsDropped.Add(1)
		return fmt.Errorf("%w: %s", ErrUnknownDevice, did)
	}

	data, err := msg.HexData()
	if err != nil {
		m.packetsDropped.Add(1)
		return err
	}

	frame, err := ParseHexFrame(data)
	if err != nil {
		m.packetsDropped.Add(1)
		return err
	}
	if m.verifyChecksum && !frame.ChecksumValid() {
		m.packetsDropped.Add(1)
		return fmt.Errorf("%w: device %s", ErrChecksumMismatch, did)
	}

	m.packetsRx.Add(1)
	return sess.ApplyInbound(frame.Records)
}

func (m *Manager) newSession(did string, model *Model) (*Session, error) {
	return NewSession(SessionOptions{
		ID:        did,
		Model:     model,
		Topics:    m.topics,
		Device:    m.device,
		Hub:       m.hub,
		DeviceQoS: m.deviceQoS,
		HubQoS:    m.hubQoS,
		Telemetry: m.telemetry,
		Logger:    m.logger,
		Now:       m.now,
	})
}

// bringUp publishes discovery and queries the device's registers.
func bringUp(sess *Session) error {
	if err := sess.PublishDiscovery(); err != nil {
		return fmt.Errorf("publish discovery for %s: %w", sess.ID(), err)
	}
	if err := sess.Query(); err != nil {
		return fmt.Errorf("query %s: %w", sess.ID(), err)
	}
	return nil
}

// Restore reloads deploy records and provisioned devices from the store and
// brings every restored device up again. Devices whose model is no longer
// registered are skipped.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}

	deploys, err := m.store.ListDeployRecords(ctx)
	if err != nil {
		return fmt.Errorf("loading deploy records: %w", err)
	}
	devices, err := m.store.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("loading devices: %w", err)
	}

	var restored []*Session

	m.mu.Lock()
	for _, rec := range deploys {
		m.deploys[rec.DeviceID] = rec
	}
	for _, rec := range devices {
		if _, exists := m.sessions[rec.DeviceID]; exists {
			continue
		}
		model, ok := m.registry.Lookup(rec.Model)
		if !ok {
			m.logger.Warn("skipping device with unknown model", "device_id", rec.DeviceID, "model", rec.Model)
			continue
		}
		sess, err := m.newSession(rec.DeviceID, model)
		if err != nil {
			m.logger.Warn("skipping device", "device_id", rec.DeviceID, "error", err)
			continue
		}
		m.sessions[rec.DeviceID] = sess
		restored = append(restored, sess)
	}
	m.mu.Unlock()

	m.logger.Info("provisioning state restored", "deploys", len(deploys), "devices", len(restored))

	var errs []error
	for _, sess := range restored {
		if err := bringUp(sess); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Rediscover republishes the discovery descriptor of every device.
func (m *Manager) Rediscover() error {
	var errs []error
	for _, sess := range m.snapshotSessions() {
		if err := sess.PublishDiscovery(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RefreshAll sends a state query to every device.
func (m *Manager) RefreshAll() error {
	var errs []error
	for _, sess := range m.snapshotSessions() {
		if err := sess.Query(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Session returns the session for a provisioned device.
func (m *Manager) Session(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// DeviceIDs returns the provisioned device IDs, sorted.
func (m *Manager) DeviceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.sessions))
}

// DeviceCount returns the number of provisioned devices.
func (m *Manager) DeviceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats returns the manager's counters.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	devices := len(m.sessions)
	pending := 0
	for id := range m.deploys {
		if _, ok := m.sessions[id]; !ok {
			pending++
		}
	}
	m.mu.RUnlock()

	return ManagerStats{
		Devices:        devices,
		PendingDeploys: pending,
		PacketsRx:      m.packetsRx.Load(),
		PacketsDropped: m.packetsDropped.Load(),
		Writes:         m.writes.Load(),
		Provisioned:    m.provisioned.Load(),
	}
}

// LogError logs an error returned by HandleDeviceMessage or
// HandleHubMessage at a level matching its class. Dropped traffic is debug,
// protocol violations are warnings, everything else (publish failures) is
// an error.
func (m *Manager) LogError(topic string, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, ErrMalformedFrame),
		errors.Is(err, ErrInvalidMessage),
		errors.Is(err, ErrUnknownDevice),
		errors.Is(err, ErrUnknownField),
		errors.Is(err, ErrNotWritable),
		errors.Is(err, ErrUnparseableValue):
		m.logger.Debug("message dropped", "topic", topic, "reason", err.Error())
	case errors.Is(err, ErrNoDeployRecord),
		errors.Is(err, ErrAlreadyProvisioned),
		errors.Is(err, ErrUnknownModel),
		errors.Is(err, ErrMissingAttachState),
		errors.Is(err, ErrChecksumMismatch),
		errors.Is(err, ErrRedirectLimit):
		m.logger.Warn("message rejected", "topic", topic, "reason", err.Error())
	default:
		m.logger.Error("message handling failed", "topic", topic, "error", err)
	}
}

func (m *Manager) snapshotSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, id := range slices.Sorted(maps.Keys(m.sessions)) {
		out = append(out, m.sessions[id])
	}
	return out
}

package clip

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// Test model tags.
const (
	tCurrentTemp uint16 = 0x1fd
	tPower       uint16 = 0x1f7
	tMode        uint16 = 0x1f9
	tFan         uint16 = 0x1fa
	tSetpoint    uint16 = 0x1fe
	tLoopA       uint16 = 0x100
	tLoopB       uint16 = 0x101
	tCustom      uint16 = 0x102
	tChainA      uint16 = 0x103
	tChainB      uint16 = 0x104
)

var testModes = ValueMap{0: "cool", 4: "heat", 6: "auto"}

// newTestModel returns a small climate model exercising every transform.
// Each call returns a fresh, unregistered model.
func newTestModel() *Model {
	return &Model{
		ID:              "TEST_AC",
		Class:           "climate",
		Manufacturer:    "Acme",
		SoftwareVersion: "1.0",
		Fields: []Field{
			{Tag: tCurrentTemp, Name: "current_temperature", Readable: true, ReadXform: Halves},
			{
				Tag:          tPower,
				Name:         "power",
				Writable:     true,
				ReadRedirect: RedirectTo(tMode),
				WriteXform: func(v string) (uint32, bool) {
					if v == "ON" {
						return 1, true
					}
					return 0, true
				},
				WriteAttach: func(raw uint32) []uint16 {
					if raw == 0 {
						return nil
					}
					return []uint16{tMode, tFan}
				},
			},
			{
				Tag:      tMode,
				Name:     "mode",
				Readable: true,
				Writable: true,
				ReadXform: func(raw uint32, state StateReader) (string, bool) {
					if p, ok := state.Get(tPower); ok && p == 0 {
						return "off", true
					}
					return testModes.Read(raw, state)
				},
				PreWrite: func(v string) (string, string, bool) {
					if v == "off" {
						return "power", "OFF", true
					}
					return "", "", false
				},
				WriteXform:  testModes.Write,
				WriteAttach: Attach(tFan, tSetpoint),
			},
			{Tag: tFan, Name: "fan_mode", Readable: true, Writable: true, WriteXform: parseUint, WriteAttach: Attach(tMode)},
			{Tag: tSetpoint, Name: "temperature", Readable: true, Writable: true, ReadXform: Halves, WriteXform: parseUint},
			{Tag: tLoopA, Name: "loop_a", Readable: true, ReadRedirect: RedirectTo(tLoopB)},
			{Tag: tLoopB, Name: "loop_b", Readable: true, ReadRedirect: RedirectTo(tLoopA)},
			{
				Tag:           tCustom,
				Name:          "custom",
				Writable:      true,
				WriteXform:    parseUint,
				WriteCallback: func(string) bool { return true },
			},
			{
				Tag:      tChainA,
				Name:     "chain_a",
				Writable: true,
				PreWrite: func(v string) (string, string, bool) { return "chain_b", v, true },
			},
			{
				Tag:      tChainB,
				Name:     "chain_b",
				Writable: true,
				PreWrite: func(v string) (string, string, bool) { return "chain_a", v, true },
			},
		},
		Discovery: func(t DeviceTopics) map[string]any {
			return map[string]any{
				"name":               "Test AC",
				"mode_state_topic":   t.State("mode"),
				"mode_command_topic": t.Command("mode"),
				"optimistic":         true,
			}
		},
	}
}

func parseUint(v string) (uint32, bool) {
	var n uint32
	if v == "" {
		return 0, false
	}
	for _, c := range v {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + uint32(c-'0')
	}
	return n, true
}

// testRegistry returns a registry holding newTestModel.
func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	if err := r.Register(newTestModel()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return r
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// Mock publisher
// =============================================================================

type published struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retained bool
}

type mockPublisher struct {
	mu        sync.Mutex
	msgs      []published
	err       error
	connected bool
}

func newMockPublisher() *mockPublisher {
	return &mockPublisher{connected: true}
}

func (m *mockPublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.msgs = append(m.msgs, published{Topic: topic, Payload: payload, QoS: qos, Retained: retained})
	return nil
}

func (m *mockPublisher) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockPublisher) setError(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *mockPublisher) messages() []published {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]published, len(m.msgs))
	copy(out, m.msgs)
	return out
}

func (m *mockPublisher) onTopic(topic string) []published {
	var out []published
	for _, p := range m.messages() {
		if p.Topic == topic {
			out = append(out, p)
		}
	}
	return out
}

func (m *mockPublisher) last(topic string) (published, bool) {
	msgs := m.onTopic(topic)
	if len(msgs) == 0 {
		return published{}, false
	}
	return msgs[len(msgs)-1], true
}

func (m *mockPublisher) reset() {
	m.mu.Lock()
	m.msgs = nil
	m.mu.Unlock()
}

var errBrokerDown = errors.New("broker down")

// decodePacket unwraps a packet envelope and returns its command and records.
func decodePacket(t *testing.T, p published) (Command, []TLV) {
	t.Helper()

	var env PacketEnvelope
	if err := json.Unmarshal(p.Payload, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Cmd != CmdPacket || env.Type != 1 {
		t.Fatalf("envelope cmd=%q type=%d, want packet/1", env.Cmd, env.Type)
	}
	if env.Data != strings.ToLower(env.Data) {
		t.Errorf("envelope data %q is not lower-case hex", env.Data)
	}

	frame, err := hex.DecodeString(env.Data)
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	if len(frame) < 13 || int(frame[10]) != len(frame)-13 {
		t.Fatalf("bad frame % x", frame)
	}

	return Command{frame[0], frame[1], frame[7], frame[8], frame[9]}, DecodeTLV(frame[11 : len(frame)-2])
}

// memoryStore is an in-memory Store.
type memoryStore struct {
	mu      sync.Mutex
	deploys map[string]DeployRecord
	devices map[string]DeviceRecord
	err     error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		deploys: make(map[string]DeployRecord),
		devices: make(map[string]DeviceRecord),
	}
}

func (s *memoryStore) SaveDeployRecord(_ context.Context, rec DeployRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.deploys[rec.DeviceID] = rec
	return nil
}

func (s *memoryStore) ListDeployRecords(context.Context) ([]DeployRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DeployRecord
	for _, r := range s.deploys {
		out = append(out, r)
	}
	return out, s.err
}

func (s *memoryStore) SaveDevice(_ context.Context, rec DeviceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.devices[rec.DeviceID] = rec
	return nil
}

func (s *memoryStore) ListDevices(context.Context) ([]DeviceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []DeviceRecord
	for _, r := range s.devices {
		out = append(out, r)
	}
	return out, s.err
}

// recordingTelemetry captures WriteRegister calls.
type recordingTelemetry struct {
	mu      sync.Mutex
	records []TLV
}

func (r *recordingTelemetry) WriteRegister(_, _ string, tag uint16, value uint32) {
	r.mu.Lock()
	r.records = append(r.records, TLV{Tag: tag, Value: value})
	r.mu.Unlock()
}

package clip

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

type managerFixture struct {
	manager *Manager
	device  *mockPublisher
	hub     *mockPublisher
	store   *memoryStore
	logger  *recordingLogger
}

func newManagerFixture(t *testing.T, mutate func(*ManagerOptions)) *managerFixture {
	t.Helper()

	f := &managerFixture{
		device: newMockPublisher(),
		hub:    newMockPublisher(),
		store:  newMemoryStore(),
		logger: &recordingLogger{},
	}

	opts := ManagerOptions{
		Registry: testRegistry(t),
		Device:   f.device,
		Hub:      f.hub,
		HubQoS:   1,
		Store:    f.store,
		Logger:   f.logger,
		Now:      func() time.Time { return fixedNow },
	}
	if mutate != nil {
		mutate(&opts)
	}

	m, err := NewManager(opts)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	f.manager = m
	return f
}

func (f *managerFixture) deviceMessage(t *testing.T, topic string, msg map[string]any) error {
	t.Helper()
	payload, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return f.manager.HandleDeviceMessage(context.Background(), topic, payload)
}

// provision runs deploy + ack for id and clears the publishers.
func (f *managerFixture) provision(t *testing.T, id string) {
	t.Helper()
	if err := f.deviceMessage(t, "clip/provisioning/devices/"+id, map[string]any{"cmd": "deploy", "did": id}); err != nil {
		t.Fatalf("deploy error = %v", err)
	}
	if err := f.deviceMessage(t, "clip/message/devices/"+id, map[string]any{"cmd": "completeProvisioning_ack", "did": id, "kind": "TEST_AC"}); err != nil {
		t.Fatalf("ack error = %v", err)
	}
	f.device.reset()
	f.hub.reset()
}

// packet sends a device_packet carrying records for id.
func (f *managerFixture) packet(t *testing.T, id string, records ...TLV) error {
	t.Helper()
	return f.deviceMessage(t, "clip/message/devices/"+id, map[string]any{
		"cmd":  "device_packet",
		"did":  id,
		"data": hex.EncodeToString(deviceFrame(t, ClassRAC, records)),
	})
}

type logEntry struct {
	level string
	msg   string
}

type recordingLogger struct {
	mu      sync.Mutex
	entries []logEntry
}

func (l *recordingLogger) log(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, logEntry{level, msg})
	l.mu.Unlock()
}

func (l *recordingLogger) Debug(msg string, _ ...any) { l.log("debug", msg) }
func (l *recordingLogger) Info(msg string, _ ...any)  { l.log("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.log("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.log("error", msg) }

func (l *recordingLogger) lastLevel() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return ""
	}
	return l.entries[len(l.entries)-1].level
}

func TestNewManager_RequiresPublishers(t *testing.T) {
	if _, err := NewManager(ManagerOptions{Hub: newMockPublisher()}); err == nil {
		t.Error("NewManager() without device publisher expected error")
	}
	if _, err := NewManager(ManagerOptions{Device: newMockPublisher()}); err == nil {
		t.Error("NewManager() without hub publisher expected error")
	}
}

func TestManager_Deploy(t *testing.T) {
	for _, cmd := range []string{CmdPreDeploy, CmdDeploy} {
		t.Run(cmd, func(t *testing.T) {
			f := newManagerFixture(t, nil)

			err := f.deviceMessage(t, "clip/provisioning/devices/dev1", map[string]any{
				"cmd":  cmd,
				"did":  "dev1",
				"data": map[string]any{"fw": "1.2"},
			})
			if err != nil {
				t.Fatalf("HandleDeviceMessage() error = %v", err)
			}

			msg, ok := f.device.last("lime/devices/dev1")
			if !ok {
				t.Fatal("no provisioning response")
			}

			var resp ProvisioningResponse
			if err := json.Unmarshal(msg.Payload, &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			want := ProvisioningResponse{
				DID:  "dev1",
				MID:  fixedNow.UnixMilli(),
				Cmd:  CmdCompleteProvisioning,
				Type: 0,
				Data: ProvisioningData{
					Result: 0,
					Host:   "message",
					AppInfo: AppInfo{
						Host: "message",
						Publication: Publication{
							Message:      "clip/message/devices/dev1",
							Provisioning: "clip/provisioning/devices/dev1",
						},
					},
					ProvisioningType: cmd,
					DeployInterval:   DefaultDeployInterval,
				},
			}
			if !reflect.DeepEqual(resp, want) {
				t.Errorf("response = %+v, want %+v", resp, want)
			}

			rec, ok := f.store.deploys["dev1"]
			if !ok {
				t.Fatal("deploy record not persisted")
			}
			if rec.ProvisioningType != cmd || rec.Payload != `{"fw":"1.2"}` {
				t.Errorf("record = %+v", rec)
			}

			if stats := f.manager.Stats(); stats.PendingDeploys != 1 || stats.Devices != 0 {
				t.Errorf("stats = %+v", stats)
			}
		})
	}
}

func TestManager_DeployUsesTopicID(t *testing.T) {
	f := newManagerFixture(t, nil)

	if err := f.deviceMessage(t, "clip/provisioning/devices/dev9", map[string]any{"cmd": "deploy"}); err != nil {
		t.Fatalf("HandleDeviceMessage() error = %v", err)
	}
	if _, ok := f.device.last("lime/devices/dev9"); !ok {
		t.Error("response not sent to the topic's device")
	}
}

func TestManager_CompleteProvisioning(t *testing.T) {
	f := newManagerFixture(t, nil)

	if err := f.deviceMessage(t, "clip/provisioning/devices/dev1", map[string]any{"cmd": "deploy", "did": "dev1"}); err != nil {
		t.Fatalf("deploy error = %v", err)
	}
	f.device.reset()

	err := f.deviceMessage(t, "clip/message/devices/dev1", map[string]any{
		"cmd": "completeProvisioning_ack", "did": "dev1", "kind": "TEST_AC",
	})
	if err != nil {
		t.Fatalf("ack error = %v", err)
	}

	sess, ok := f.manager.Session("dev1")
	if !ok {
		t.Fatal("session not created")
	}
	if sess.Model().ID != "TEST_AC" {
		t.Errorf("model = %s", sess.Model().ID)
	}

	if _, ok := f.hub.last("homeassistant/climate/ponder/dev1/config"); !ok {
		t.Error("discovery not published")
	}

	msg, ok := f.device.last("lime/devices/dev1")
	if !ok {
		t.Fatal("query not sent")
	}
	if cmd, _ := decodePacket(t, msg); cmd != CommandQuery {
		t.Errorf("command = %v, want query", cmd)
	}

	if rec, ok := f.store.devices["dev1"]; !ok || rec.Model != "TEST_AC" {
		t.Errorf("device record = %+v, %v", rec, ok)
	}

	stats := f.manager.Stats()
	if stats.Devices != 1 || stats.PendingDeploys != 0 || stats.Provisioned != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestManager_CompleteProvisioningErrors(t *testing.T) {
	tests := []struct {
		name    string
		deploy  bool
		kind    string
		wantErr error
	}{
		{"no deploy record", false, "TEST_AC", ErrNoDeployRecord},
		{"unknown model", true, "FRIDGE_9000", ErrUnknownModel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(t, nil)
			if tt.deploy {
				if err := f.deviceMessage(t, "clip/provisioning/devices/dev1", map[string]any{"cmd": "deploy", "did": "dev1"}); err != nil {
					t.Fatalf("deploy error = %v", err)
				}
			}

			err := f.deviceMessage(t, "clip/message/devices/dev1", map[string]any{
				"cmd": "completeProvisioning_ack", "did": "dev1", "kind": tt.kind,
			})
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ack error = %v, want %v", err, tt.wantErr)
			}
			if f.manager.DeviceCount() != 0 {
				t.Error("no session should be created")
			}
		})
	}
}

func TestManager_DuplicateAck(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.provision(t, "dev1")

	err := f.deviceMessage(t, "clip/message/devices/dev1", map[string]any{
		"cmd": "completeProvisioning_ack", "did": "dev1", "kind": "TEST_AC",
	})
	if !errors.Is(err, ErrAlreadyProvisioned) {
		t.Fatalf("second ack error = %v, want ErrAlreadyProvisioned", err)
	}
	if f.manager.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1", f.manager.DeviceCount())
	}
	if n := len(f.hub.messages()); n != 0 {
		t.Errorf("duplicate ack published %d messages", n)
	}
}

func TestManager_DevicePacket(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.provision(t, "dev1")

	if err := f.packet(t, "dev1", TLV{Tag: tCurrentTemp, Value: 20}); err != nil {
		t.Fatalf("device_packet error = %v", err)
	}

	msg, ok := f.hub.last("ponder/dev1/current_temperature")
	if !ok {
		t.Fatal("current_temperature not published")
	}
	if string(msg.Payload) != "10" || !msg.Retained {
		t.Errorf("published %q retained=%v, want \"10\" retained", msg.Payload, msg.Retained)
	}
	if f.manager.Stats().PacketsRx != 1 {
		t.Errorf("PacketsRx = %d, want 1", f.manager.Stats().PacketsRx)
	}
}

func TestManager_ForeignDIDDropped(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.provision(t, "dev1")
	f.provision(t, "dev2")

	err := f.deviceMessage(t, "clip/message/devices/dev2", map[string]any{
		"cmd":  "device_packet",
		"did":  "dev1",
		"data": hex.EncodeToString(deviceFrame(t, ClassRAC, []TLV{{Tag: tCurrentTemp, Value: 40}})),
	})
	if err != nil {
		t.Fatalf("HandleDeviceMessage() error = %v", err)
	}

	for _, id := range []string{"dev1", "dev2"} {
		sess, ok := f.manager.Session(id)
		if !ok {
			t.Fatalf("session %s missing", id)
		}
		if _, ok := sess.Snapshot()[tCurrentTemp]; ok {
			t.Errorf("%s cache updated from another device's topic", id)
		}
	}
	if len(f.hub.messages()) != 0 {
		t.Errorf("hub published %d messages, want 0", len(f.hub.messages()))
	}
	if f.logger.lastLevel() != "debug" {
		t.Errorf("last log level = %q, want debug", f.logger.lastLevel())
	}

	err = f.deviceMessage(t, "clip/provisioning/devices/dev3", map[string]any{"cmd": "deploy", "did": "dev4"})
	if err != nil {
		t.Fatalf("deploy error = %v", err)
	}
	if len(f.device.messages()) != 0 {
		t.Error("deploy with foreign did was answered")
	}
}

func TestManager_NULPaddedPayload(t *testing.T) {
	f := newManagerFixture(t, nil)

	payload := []byte(`{"cmd":"deploy","did":"dev1"}` + "\x00\x00")
	if err := f.manager.HandleDeviceMessage(context.Background(), "clip/provisioning/devices/dev1", payload); err != nil {
		t.Fatalf("HandleDeviceMessage() error = %v", err)
	}
	if _, ok := f.device.last("lime/devices/dev1"); !ok {
		t.Error("padded deploy not answered")
	}
}

func TestManager_DevicePacketDropped(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		verify  bool
		payload func(t *testing.T) map[string]any
		wantErr error
	}{
		{
			name: "unknown device",
			id:   "ghost",
			payload: func(t *testing.T) map[string]any {
				return map[string]any{"cmd": "device_packet", "did": "ghost", "data": hex.EncodeToString(deviceFrame(t, ClassRAC, nil))}
			},
			wantErr: ErrUnknownDevice,
		},
		{
			name: "malformed frame",
			payload: func(*testing.T) map[string]any {
				return map[string]any{"cmd": "device_packet", "did": "dev1", "data": "0101"}
			},
			wantErr: ErrMalformedFrame,
		},
		{
			name: "data not a string",
			payload: func(*testing.T) map[string]any {
				return map[string]any{"cmd": "device_packet", "did": "dev1", "data": 12}
			},
			wantErr: ErrInvalidMessage,
		},
		{
			name:   "bad checksum",
			verify: true,
			payload: func(t *testing.T) map[string]any {
				buf := deviceFrame(t, ClassRAC, []TLV{{Tag: tCurrentTemp, Value: 20}})
				buf[len(buf)-1] ^= 0xFF
				return map[string]any{"cmd": "device_packet", "did": "dev1", "data": hex.EncodeToString(buf)}
			},
			wantErr: ErrChecksumMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newManagerFixture(t, func(o *ManagerOptions) { o.VerifyChecksum = tt.verify })
			f.provision(t, "dev1")

			id := tt.id
			if id == "" {
				id = "dev1"
			}
			err := f.deviceMessage(t, "clip/message/devices/"+id, tt.payload(t))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if n := len(f.hub.messages()); n != 0 {
				t.Errorf("dropped packet published %d messages", n)
			}
			if f.manager.Stats().PacketsDropped != 1 {
				t.Errorf("PacketsDropped = %d, want 1", f.manager.Stats().PacketsDropped)
			}
		})
	}
}

func TestManager_BadChecksumAcceptedByDefault(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.provision(t, "dev1")

	buf := deviceFrame(t, ClassRAC, []TLV{{Tag: tCurrentTemp, Value: 20}})
	buf[len(buf)-1] ^= 0xFF

	err := f.deviceMessage(t, "clip/message/devices/dev1", map[string]any{
		"cmd": "device_packet", "did": "dev1", "data": hex.EncodeToString(buf),
	})
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if _, ok := f.hub.last("ponder/dev1/current_temperature"); !ok {
		t.Error("packet with bad checksum should be processed")
	}
}

func TestManager_InvalidDeviceMessages(t *testing.T) {
	f := newManagerFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"foreign topic", "other/devices/dev1", `{"cmd":"deploy"}`},
		{"not json", "clip/message/devices/dev1", `not json`},
		{"missing cmd", "clip/message/devices/dev1", `{"did":"dev1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.manager.HandleDeviceMessage(ctx, tt.topic, []byte(tt.payload))
			if !errors.Is(err, ErrInvalidMessage) {
				t.Errorf("error = %v, want ErrInvalidMessage", err)
			}
		})
	}

	// Unknown commands and commands on the wrong topic are ignored.
	if err := f.manager.HandleDeviceMessage(ctx, "clip/message/devices/dev1", []byte(`{"cmd":"deploy"}`)); err != nil {
		t.Errorf("deploy on message topic error = %v, want nil", err)
	}
	if err := f.manager.HandleDeviceMessage(ctx, "clip/message/devices/dev1", []byte(`{"cmd":"reboot"}`)); err != nil {
		t.Errorf("unknown cmd error = %v, want nil", err)
	}
	if n := len(f.device.messages()); n != 0 {
		t.Errorf("ignored messages sent %d packets", n)
	}
}

func TestManager_HandleHubSet(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.provision(t, "dev1")

	ctx := context.Background()
	if err := f.manager.HandleHubMessage(ctx, "ponder/dev1/temperature/set", []byte(" 44\n")); err != nil {
		t.Fatalf("HandleHubMessage() error = %v", err)
	}

	msg, ok := f.device.last("lime/devices/dev1")
	if !ok {
		t.Fatal("write not sent")
	}
	_, records := decodePacket(t, msg)
	if want := []TLV{{Tag: tSetpoint, Value: 44}}; !reflect.DeepEqual(records, want) {
		t.Errorf("records = %v, want %v", records, want)
	}
	if f.manager.Stats().Writes != 1 {
		t.Errorf("Writes = %d, want 1", f.manager.Stats().Writes)
	}

	err := f.manager.HandleHubMessage(ctx, "ponder/dev1/no_such_prop/set", []byte("1"))
	if !errors.Is(err, ErrUnknownField) {
		t.Errorf("unknown property error = %v, want ErrUnknownField", err)
	}
	if f.manager.Stats().Writes != 1 {
		t.Errorf("Writes after rejected write = %d, want 1", f.manager.Stats().Writes)
	}

	err = f.manager.HandleHubMessage(ctx, "ponder/ghost/temperature/set", []byte("44"))
	if !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("unknown device error = %v, want ErrUnknownDevice", err)
	}

	err = f.manager.HandleHubMessage(ctx, "ponder/dev1/temperature", []byte("44"))
	if !errors.Is(err, ErrInvalidMessage) {
		t.Errorf("state topic error = %v, want ErrInvalidMessage", err)
	}
}

func TestManager_HubOnlineRediscovers(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.provision(t, "dev1")
	f.provision(t, "dev2")

	ctx := context.Background()
	if err := f.manager.HandleHubMessage(ctx, "homeassistant/status", []byte("offline")); err != nil {
		t.Fatalf("offline error = %v", err)
	}
	if n := len(f.hub.messages()); n != 0 {
		t.Fatalf("offline triggered %d publishes", n)
	}

	if err := f.manager.HandleHubMessage(ctx, "homeassistant/status", []byte("online")); err != nil {
		t.Fatalf("online error = %v", err)
	}
	for _, id := range []string{"dev1", "dev2"} {
		if _, ok := f.hub.last(fmt.Sprintf("homeassistant/climate/ponder/%s/config", id)); !ok {
			t.Errorf("discovery for %s not republished", id)
		}
	}
}

func TestManager_RefreshAll(t *testing.T) {
	f := newManagerFixture(t, nil)
	f.provision(t, "dev1")
	f.provision(t, "dev2")

	if err := f.manager.RefreshAll(); err != nil {
		t.Fatalf("RefreshAll() error = %v", err)
	}
	for _, id := range []string{"dev1", "dev2"} {
		msg, ok := f.device.last("lime/devices/" + id)
		if !ok {
			t.Errorf("no query for %s", id)
			continue
		}
		if cmd, _ := decodePacket(t, msg); cmd != CommandQuery {
			t.Errorf("%s command = %v, want query", id, cmd)
		}
	}

	if got := f.manager.DeviceIDs(); !reflect.DeepEqual(got, []string{"dev1", "dev2"}) {
		t.Errorf("DeviceIDs() = %v", got)
	}
}

func TestManager_Restore(t *testing.T) {
	store := newMemoryStore()
	store.deploys["dev1"] = DeployRecord{DeviceID: "dev1", ProvisioningType: "deploy", CreatedAt: fixedNow}
	store.deploys["dev3"] = DeployRecord{DeviceID: "dev3", ProvisioningType: "preDeploy", CreatedAt: fixedNow}
	store.devices["dev1"] = DeviceRecord{DeviceID: "dev1", Model: "TEST_AC", ProvisionedAt: fixedNow}
	store.devices["old"] = DeviceRecord{DeviceID: "old", Model: "RETIRED", ProvisionedAt: fixedNow}

	f := newManagerFixture(t, func(o *ManagerOptions) { o.Store = store })

	if err := f.manager.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	if got := f.manager.DeviceIDs(); !reflect.DeepEqual(got, []string{"dev1"}) {
		t.Errorf("DeviceIDs() = %v, want [dev1]", got)
	}
	if _, ok := f.hub.last("homeassistant/climate/ponder/dev1/config"); !ok {
		t.Error("restored device discovery not published")
	}
	if _, ok := f.device.last("lime/devices/dev1"); !ok {
		t.Error("restored device not queried")
	}
	if stats := f.manager.Stats(); stats.PendingDeploys != 1 {
		t.Errorf("PendingDeploys = %d, want 1 (dev3)", stats.PendingDeploys)
	}

	// dev3 can complete provisioning after a restart.
	err := f.deviceMessage(t, "clip/message/devices/dev3", map[string]any{
		"cmd": "completeProvisioning_ack", "did": "dev3", "kind": "TEST_AC",
	})
	if err != nil {
		t.Fatalf("ack after restore error = %v", err)
	}
}

func TestManager_RestoreStoreError(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("disk gone")

	f := newManagerFixture(t, func(o *ManagerOptions) { o.Store = store })
	if err := f.manager.Restore(context.Background()); err == nil {
		t.Error("Restore() expected error")
	}
}

func TestManager_StoreFailureDoesNotBlockProvisioning(t *testing.T) {
	store := newMemoryStore()
	store.err = errors.New("disk full")

	f := newManagerFixture(t, func(o *ManagerOptions) { o.Store = store })
	f.provision(t, "dev1")

	if f.manager.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1", f.manager.DeviceCount())
	}
}

func TestManager_LogError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", ErrUnknownDevice), "debug"},
		{fmt.Errorf("x: %w", ErrMalformedFrame), "debug"},
		{fmt.Errorf("x: %w", ErrAlreadyProvisioned), "warn"},
		{fmt.Errorf("x: %w", ErrMissingAttachState), "warn"},
		{fmt.Errorf("x: %w", ErrPublishFailed), "error"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			f := newManagerFixture(t, nil)
			f.manager.LogError("topic", tt.err)
			if got := f.logger.lastLevel(); got != tt.want {
				t.Errorf("level = %q, want %q", got, tt.want)
			}
		})
	}
}

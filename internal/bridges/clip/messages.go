package clip

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"time"
)

// Message commands on the device-side broker.
const (
	CmdDevicePacket            = "device_packet"
	CmdCompleteProvisioningAck = "completeProvisioning_ack"
	CmdPreDeploy               = "preDeploy"
	CmdDeploy                  = "deploy"
	CmdPacket                  = "packet"
	CmdCompleteProvisioning    = "completeProvisioning"
)

// Envelope type codes.
const (
	envelopeTypeResponse = 0
	envelopeTypePacket   = 1
)

// DefaultDeployInterval is the re-deploy interval (seconds) announced in
// provisioning responses.
const DefaultDeployInterval = 600

// DeviceMessage is an inbound message on clip/message/... or
// clip/provisioning/....
type DeviceMessage struct {
	// Cmd selects the handler.
	Cmd string `json:"cmd"`

	// DID is the device identifier.
	DID string `json:"did"`

	// Kind is the model ID (set on completeProvisioning_ack).
	Kind string `json:"kind,omitempty"`

	// Data is command specific. For device_packet it is the hex frame.
	Data json.RawMessage `json:"data,omitempty"`
}

// ParseDeviceMessage decodes an inbound JSON payload. Appliances pad
// their payloads with trailing NUL bytes; those are ignored.
func ParseDeviceMessage(payload []byte) (DeviceMessage, error) {
	var msg DeviceMessage
	if err := json.Unmarshal(bytes.TrimRight(payload, "\x00"), &msg); err != nil {
		return DeviceMessage{}, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if msg.Cmd == "" {
		return DeviceMessage{}, fmt.Errorf("%w: missing cmd", ErrInvalidMessage)
	}
	return msg, nil
}

// HexData returns Data as a string when it is a JSON string.
func (m DeviceMessage) HexData() (string, error) {
	var s string
	if err := json.Unmarshal(m.Data, &s); err != nil {
		return "", fmt.Errorf("%w: data is not a string: %w", ErrInvalidMessage, err)
	}
	return s, nil
}

// PacketEnvelope carries a wire frame to a device.
// Topic: lime/devices/{id}
type PacketEnvelope struct {
	DID  string `json:"did"`
	MID  int64  `json:"mid"`
	Cmd  string `json:"cmd"`
	Type int    `json:"type"`
	Data string `json:"data"`
}

// NewPacketEnvelope wraps a hex frame for a device.
func NewPacketEnvelope(did, hexFrame string, now time.Time) PacketEnvelope {
	return PacketEnvelope{
		DID:  did,
		MID:  now.UnixMilli(),
		Cmd:  CmdPacket,
		Type: envelopeTypePacket,
		Data: hexFrame,
	}
}

// ProvisioningResponse answers a preDeploy/deploy message.
// Topic: lime/devices/{id}
type ProvisioningResponse struct {
	DID  string           `json:"did"`
	MID  int64            `json:"mid"`
	Cmd  string           `json:"cmd"`
	Type int              `json:"type"`
	Data ProvisioningData `json:"data"`
}

// ProvisioningData tells the device where to publish and when to redeploy.
type ProvisioningData struct {
	Result           int     `json:"result"`
	Host             string  `json:"host"`
	AppInfo          AppInfo `json:"appInfo"`
	ProvisioningType string  `json:"provisioningType"`
	DeployInterval   int     `json:"deployInterval"`
}

// AppInfo lists the follow-up topics for a device.
type AppInfo struct {
	Host        string      `json:"host"`
	Publication Publication `json:"publication"`
}

// Publication holds the device's publish topics.
type Publication struct {
	Message      string `json:"message"`
	Provisioning string `json:"provisioning"`
}

// NewProvisioningResponse builds the completeProvisioning reply to a deploy.
func NewProvisioningResponse(did, provisioningType string, topics Topics, deployInterval int, now time.Time) ProvisioningResponse {
	return ProvisioningResponse{
		DID:  did,
		MID:  now.UnixMilli(),
		Cmd:  CmdCompleteProvisioning,
		Type: envelopeTypeResponse,
		Data: ProvisioningData{
			Result: 0,
			Host:   "message",
			AppInfo: AppInfo{
				Host: "message",
				Publication: Publication{
					Message:      topics.DeviceMessage(did),
					Provisioning: topics.DeviceProvisioning(did),
				},
			},
			ProvisioningType: provisioningType,
			DeployInterval:   deployInterval,
		},
	}
}

// DiscoveryDescriptor builds the hub discovery config for one device: the
// availability/identity envelope merged with the model's own keys. Model
// keys win on conflict.
func DiscoveryDescriptor(m *Model, id string, topics Topics) map[string]any {
	desc := map[string]any{
		"availability": []map[string]string{
			{"topic": topics.DeviceAvailability(id)},
			{"topic": topics.Availability()},
		},
		"optimistic": false,
		"object_id":  id,
		"unique_id":  id,
		"device": map[string]any{
			"identifiers":  id,
			"manufacturer": m.Manufacturer,
			"model":        m.ID,
			"sw_version":   m.SoftwareVersion,
		},
	}
	if m.Discovery != nil {
		maps.Copy(desc, m.Discovery(topics.ForDevice(id)))
	}
	return desc
}

package clip

import (
	"context"
	"time"
)

// DeployRecord is kept from a preDeploy/deploy message until (and after)
// the matching provisioning ack.
type DeployRecord struct {
	DeviceID string

	// ProvisioningType is the command that created the record
	// ("preDeploy" or "deploy").
	ProvisioningType string

	// Payload is the raw data field of the deploy message.
	Payload string

	CreatedAt time.Time
}

// DeviceRecord is a provisioned device.
type DeviceRecord struct {
	DeviceID      string
	Model         string
	ProvisionedAt time.Time
}

// Store persists provisioning state across restarts.
// It is optional; without it the manager keeps state in memory only.
type Store interface {
	// SaveDeployRecord inserts or replaces the record for rec.DeviceID.
	SaveDeployRecord(ctx context.Context, rec DeployRecord) error

	// ListDeployRecords returns every stored deploy record.
	ListDeployRecords(ctx context.Context) ([]DeployRecord, error)

	// SaveDevice inserts or replaces a provisioned device.
	SaveDevice(ctx context.Context, rec DeviceRecord) error

	// ListDevices returns every provisioned device.
	ListDevices(ctx context.Context) ([]DeviceRecord, error)
}

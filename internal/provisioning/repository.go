package provisioning

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/nerrad567/clip-bridge/internal/bridges/clip"
)

// timeFormat is how timestamps are stored in TEXT columns.
const timeFormat = time.RFC3339Nano

// SQLiteRepository implements clip.Store using SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

var _ clip.Store = (*SQLiteRepository)(nil)

// NewSQLiteRepository creates a repository on an already migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// SaveDeployRecord inserts or replaces the deploy record for rec.DeviceID.
func (r *SQLiteRepository) SaveDeployRecord(ctx context.Context, rec clip.DeployRecord) error {
	const query = `INSERT INTO deploy_records (device_id, provisioning_type, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			provisioning_type = excluded.provisioning_type,
			payload = excluded.payload,
			created_at = excluded.created_at`
	_, err := r.db.ExecContext(ctx, query,
		rec.DeviceID, rec.ProvisioningType, rec.Payload, formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("provisioning: saving deploy record %s: %w", rec.DeviceID, err)
	}
	return nil
}

// ListDeployRecords returns every deploy record ordered by device ID.
func (r *SQLiteRepository) ListDeployRecords(ctx context.Context) ([]clip.DeployRecord, error) {
	const query = `SELECT device_id, provisioning_type, payload, created_at
		FROM deploy_records ORDER BY device_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("provisioning: listing deploy records: %w", err)
	}
	defer rows.Close()

	var records []clip.DeployRecord
	for rows.Next() {
		var rec clip.DeployRecord
		var createdAt string
		if err := rows.Scan(&rec.DeviceID, &rec.ProvisioningType, &rec.Payload, &createdAt); err != nil {
			return nil, fmt.Errorf("provisioning: scanning deploy record: %w", err)
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("provisioning: deploy record %s: %w", rec.DeviceID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provisioning: iterating deploy records: %w", err)
	}
	return records, nil
}

// SaveDevice inserts or replaces a provisioned device.
func (r *SQLiteRepository) SaveDevice(ctx context.Context, rec clip.DeviceRecord) error {
	const query = `INSERT INTO devices (device_id, model, provisioned_at)
		VALUES (?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			model = excluded.model,
			provisioned_at = excluded.provisioned_at`
	_, err := r.db.ExecContext(ctx, query, rec.DeviceID, rec.Model, formatTime(rec.ProvisionedAt))
	if err != nil {
		return fmt.Errorf("provisioning: saving device %s: %w", rec.DeviceID, err)
	}
	return nil
}

// ListDevices returns every provisioned device ordered by device ID.
func (r *SQLiteRepository) ListDevices(ctx context.Context) ([]clip.DeviceRecord, error) {
	const query = `SELECT device_id, model, provisioned_at FROM devices ORDER BY device_id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("provisioning: listing devices: %w", err)
	}
	defer rows.Close()

	var records []clip.DeviceRecord
	for rows.Next() {
		var rec clip.DeviceRecord
		var provisionedAt string
		if err := rows.Scan(&rec.DeviceID, &rec.Model, &provisionedAt); err != nil {
			return nil, fmt.Errorf("provisioning: scanning device: %w", err)
		}
		if rec.ProvisionedAt, err = parseTime(provisionedAt); err != nil {
			return nil, fmt.Errorf("provisioning: device %s: %w", rec.DeviceID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provisioning: iterating devices: %w", err)
	}
	return records, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

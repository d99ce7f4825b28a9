package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// registerMeasurement is the measurement every register value lands in.
const registerMeasurement = "clip_register"

// WriteRegister records one register value reported by a device.
//
// Tags are device_id, model and tag (hex, e.g. "0x1f5"); the single
// field is value. The write is non-blocking.
func (c *Client) WriteRegister(deviceID, model string, tag uint16, value uint32) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(registerPoint(deviceID, model, tag, value, c.now()))
}

func registerPoint(deviceID, model string, tag uint16, value uint32, ts time.Time) *write.Point {
	return write.NewPoint(
		registerMeasurement,
		map[string]string{
			"device_id": deviceID,
			"model":     model,
			"tag":       fmt.Sprintf("0x%03x", tag),
		},
		map[string]any{
			"value": int64(value),
		},
		ts,
	)
}

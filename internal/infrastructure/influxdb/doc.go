// Package influxdb records clip register traffic in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Every register a
// device reports becomes one point in the clip_register measurement,
// which makes it possible to chart raw appliance behaviour (setpoints,
// fan speeds, unknown tags) independently of the hub's entity model.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	switch {
//	case errors.Is(err, influxdb.ErrDisabled):
//	    // run without telemetry
//	case err != nil:
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteRegister("ac1", "RAC_056905_WW", 0x1f5, 2)
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; errors are
// delivered to the SetOnError callback.
package influxdb

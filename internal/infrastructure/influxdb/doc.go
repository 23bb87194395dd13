// Package influxdb writes relay telemetry to InfluxDB v2.
//
// Three measurements are recorded:
//
//	led_state       one point per audit event (tags: source, device_id, browser, country)
//	relay_commands  one point per accepted command (tags: command, source)
//	captures        one point per stored photo (tags: device_id; field: bytes)
//
// Writes go through the client library's non-blocking write API and are
// batched per the batch_size and flush_interval settings. Batch errors are
// delivered to the SetOnError callback; nothing on the relay's request
// path waits for InfluxDB.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	auditLog.AddObserver(client.WriteStateChange)
package influxdb

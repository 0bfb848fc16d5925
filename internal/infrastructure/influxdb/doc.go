// Package influxdb records driver field telemetry in InfluxDB.
//
// Every notified field change is written as a point in the driver_fields
// measurement, tagged with the instance moniker and field name. Booleans
// are stored in the "state" field, numbers in "value" and text in "text",
// so dashboards can graph switches and dimmers without parsing strings.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteFieldChange("zw-main", def, field.Card(60), time.Now())
//
// Writes are non-blocking and batched per batch_size and flush_interval.
// Asynchronous write errors are reported through SetOnError.
package influxdb

package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-drivers/internal/field"
)

// Measurement names.
const (
	MeasurementFields    = "driver_fields"
	MeasurementInstances = "driver_instances"
)

// InstanceSample is a snapshot of an instance's lifecycle counters.
type InstanceSample struct {
	Moniker    string
	State      string
	Polls      uint64
	Reconnects uint64
	Timeouts   uint64
}

// WriteFieldChange records a field value. Non-blocking.
func (c *Client) WriteFieldChange(moniker string, def field.Def, v field.Value, ts time.Time) {
	c.write(FieldPoint(moniker, def, v, ts))
}

// WriteInstanceSample records lifecycle counters. Non-blocking.
func (c *Client) WriteInstanceSample(s InstanceSample, ts time.Time) {
	c.write(InstancePoint(s, ts))
}

// FieldPoint builds the point written for a field value.
func FieldPoint(moniker string, def field.Def, v field.Value, ts time.Time) *write.Point {
	tags := map[string]string{
		"moniker": moniker,
		"field":   def.Name,
		"type":    def.Type.String(),
	}
	if def.Sem != "" && def.Sem != field.SemGeneric {
		tags["sem"] = string(def.Sem)
	}

	fields := make(map[string]interface{}, 1)
	switch v.Type() {
	case field.TypeBool:
		fields["state"] = v.AsBool()
	case field.TypeCard:
		fields["value"] = float64(v.AsCard())
	case field.TypeInt:
		fields["value"] = float64(v.AsInt())
	case field.TypeFloat:
		fields["value"] = v.AsFloat()
	default:
		fields["text"] = v.Format()
	}

	return write.NewPoint(MeasurementFields, tags, fields, ts)
}

// InstancePoint builds the point written for lifecycle counters.
func InstancePoint(s InstanceSample, ts time.Time) *write.Point {
	return write.NewPoint(
		MeasurementInstances,
		map[string]string{
			"moniker": s.Moniker,
			"state":   s.State,
		},
		map[string]interface{}{
			"polls":      s.Polls,
			"reconnects": s.Reconnects,
			"timeouts":   s.Timeouts,
		},
		ts,
	)
}

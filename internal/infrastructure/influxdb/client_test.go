package influxdb_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/gray-logic-drivers/internal/field"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/influxdb"
)

// testConfig matches the local development InfluxDB.
func testConfig() config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           "http://127.0.0.1:8086",
		Token:         "driverd-dev-token",
		Org:           "driverd",
		Bucket:        "fields",
		BatchSize:     100,
		FlushInterval: 1,
	}
}

func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		client, err := influxdb.Connect(testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

func tagValue(p *write.Point, key string) (string, bool) {
	for _, tag := range p.TagList() {
		if tag.Key == key {
			return tag.Value, true
		}
	}
	return "", false
}

func fieldValue(p *write.Point, key string) (interface{}, bool) {
	for _, f := range p.FieldList() {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999"

	if _, err := influxdb.Connect(cfg); !errors.Is(err, influxdb.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestFieldPoint(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		def       field.Def
		value     field.Value
		wantField string
		wantValue interface{}
		wantSem   string
	}{
		{
			name:      "light switch",
			def:       field.Def{Name: "LGHT#Sw_Hall", Type: field.TypeBool, Sem: field.SemLightSwitch},
			value:     field.Bool(true),
			wantField: "state",
			wantValue: true,
			wantSem:   "LightSwitch",
		},
		{
			name:      "dimmer",
			def:       field.Def{Name: "LGHT#Dim_Hall", Type: field.TypeCard, Sem: field.SemDimmer},
			value:     field.Card(60),
			wantField: "value",
			wantValue: 60.0,
			wantSem:   "Dimmer",
		},
		{
			name:      "last key text",
			def:       field.Def{Name: "LastKey", Type: field.TypeString, Sem: field.SemGeneric},
			value:     field.String("0A1B2C3D4E5F"),
			wantField: "text",
			wantValue: "0A1B2C3D4E5F",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := influxdb.FieldPoint("zw-main", tt.def, tt.value, ts)

			if p.Name() != influxdb.MeasurementFields {
				t.Errorf("Name() = %q", p.Name())
			}
			if v, _ := tagValue(p, "moniker"); v != "zw-main" {
				t.Errorf("moniker tag = %q", v)
			}
			if v, _ := tagValue(p, "field"); v != tt.def.Name {
				t.Errorf("field tag = %q", v)
			}
			sem, ok := tagValue(p, "sem")
			if tt.wantSem == "" && ok {
				t.Errorf("unexpected sem tag %q", sem)
			}
			if tt.wantSem != "" && sem != tt.wantSem {
				t.Errorf("sem tag = %q, want %q", sem, tt.wantSem)
			}
			got, ok := fieldValue(p, tt.wantField)
			if !ok || got != tt.wantValue {
				t.Errorf("field %s = %v (%T), want %v", tt.wantField, got, got, tt.wantValue)
			}
			if !p.Time().Equal(ts) {
				t.Errorf("Time() = %v", p.Time())
			}
		})
	}
}

func TestInstancePoint(t *testing.T) {
	p := influxdb.InstancePoint(influxdb.InstanceSample{
		Moniker: "ir-lounge", State: "Connected", Polls: 10, Reconnects: 2, Timeouts: 1,
	}, time.Now())

	if v, _ := tagValue(p, "state"); v != "Connected" {
		t.Errorf("state tag = %q", v)
	}
	if v, ok := fieldValue(p, "reconnects"); !ok || v != uint64(2) {
		t.Errorf("reconnects = %v (%T)", v, v)
	}
}

func TestWriteFieldChange_Live(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influxdb.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	def := field.Def{Name: "LGHT#Dim_Test", Type: field.TypeCard, Sem: field.SemDimmer}
	client.WriteFieldChange("test-instance", def, field.Card(42), time.Now())
	client.Flush()
	time.Sleep(100 * time.Millisecond)
	if got := client.Stats().Points; got != 1 {
		t.Errorf("Stats().Points = %d, want 1", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("write error = %v", writeErr)
	}
}

func TestClose_Nil(t *testing.T) {
	client := &influxdb.Client{}
	if err := client.Close(); err != nil {
		t.Errorf("Close() on zero client error = %v", err)
	}
	// Writes on a closed client are dropped.
	client.WriteFieldChange("x", field.Def{Name: "f", Type: field.TypeBool}, field.Bool(true), time.Now())
	if got := client.Stats(); got.Points != 0 {
		t.Errorf("Stats() = %+v, want no points", got)
	}
	if err := client.HealthCheck(context.Background()); !errors.Is(err, influxdb.ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

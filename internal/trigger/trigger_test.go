package trigger

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-drivers/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-drivers/migrations"
)

// MockSink records delivered events.
type MockSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	panic  bool
}

func (m *MockSink) Deliver(_ context.Context, ev Event) error {
	if m.panic {
		panic("sink exploded")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return m.err
}

func (m *MockSink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

type fakePublisher struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	err      error
}

func (f *fakePublisher) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.topic, f.payload, f.qos, f.retained = topic, payload, qos, retained
	return f.err
}

func TestEventValidate(t *testing.T) {
	tests := []struct {
		name    string
		ev      Event
		wantErr bool
	}{
		{"valid", New(KindLoadChange, "zw", "LGHT#Sw_Hall", "True", "Hall"), false},
		{"no kind", Event{Moniker: "zw"}, true},
		{"no moniker", Event{Kind: KindUserAction}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ev.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("error %v is not ErrInvalidEvent", err)
			}
		})
	}
}

func TestNewFillsIDAndTime(t *testing.T) {
	a := New(KindUserAction, "ir", "", "Lights Off", "")
	b := New(KindUserAction, "ir", "", "Lights Off", "")
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("ids not unique: %q %q", a.ID, b.ID)
	}
	if a.Time.IsZero() {
		t.Error("time not set")
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	first, second := &MockSink{}, &MockSink{}
	d := NewDispatcher(nil, first)
	d.AddSink(second)
	d.Start()
	defer d.Stop()

	for _, v := range []string{"True", "False", "True"} {
		d.Emit(New(KindLoadChange, "zw", "LGHT#Sw_Hall", v, "Hall"))
	}
	if err := d.Flush(context.Background(), time.Second); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	for _, s := range []*MockSink{first, second} {
		got := s.Events()
		if len(got) != 3 {
			t.Fatalf("delivered %d events, want 3", len(got))
		}
		for i, want := range []string{"True", "False", "True"} {
			if got[i].Value != want {
				t.Errorf("event %d value = %q, want %q", i, got[i].Value, want)
			}
		}
	}
}

func TestDispatcherSurvivesFailingSinks(t *testing.T) {
	failing := &MockSink{err: errors.New("broker down")}
	exploding := &MockSink{panic: true}
	good := &MockSink{}
	d := NewDispatcher(nil, failing, exploding, good)
	d.Start()
	defer d.Stop()

	d.Emit(New(KindLoadChange, "zw", "f", "True", ""))
	d.Emit(New(KindLoadChange, "zw", "f", "False", ""))
	if err := d.Flush(context.Background(), time.Second); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if n := len(failing.Events()); n != 2 {
		t.Errorf("failing sink saw %d events, want 2", n)
	}
	if n := len(good.Events()); n != 2 {
		t.Errorf("sink after a panicking one saw %d events, want 2", n)
	}
}

func TestDispatcherDropsInvalid(t *testing.T) {
	sink := &MockSink{}
	d := NewDispatcher(nil, sink)
	d.Start()
	defer d.Stop()

	d.Emit(Event{Kind: KindLoadChange})
	if err := d.Flush(context.Background(), time.Second); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if len(sink.Events()) != 0 {
		t.Error("invalid event was delivered")
	}
}

func TestMQTTSink(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMQTTSink(pub, mqtt.Topics{Prefix: "home"}, 1)
	ev := New(KindLoadChange, "zw-main", "LGHT#Sw_Hall", "True", "Hall")

	if err := s.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	if pub.topic != "home/trigger/zw-main/LoadChange" {
		t.Errorf("topic = %q", pub.topic)
	}
	if pub.retained || pub.qos != 1 {
		t.Errorf("qos=%d retained=%v", pub.qos, pub.retained)
	}
	var got Event
	if err := json.Unmarshal(pub.payload, &got); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if got.Field != ev.Field || got.Unit != "Hall" || got.Value != "True" {
		t.Errorf("payload = %+v", got)
	}

	pub.err = errors.New("not connected")
	if err := s.Deliver(context.Background(), ev); err == nil {
		t.Error("publish error not returned")
	}
	if err := NewMQTTSink(nil, mqtt.Topics{}, 0).Deliver(context.Background(), ev); !errors.Is(err, ErrNoPublisher) {
		t.Errorf("nil publisher error = %v", err)
	}
}

func openRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "t.db"), WALMode: true, BusyTimeout: 1})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background(), migrations.FS); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRecorder(db.DB)
}

func TestSQLiteRecorder(t *testing.T) {
	r := openRecorder(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []Event{
		{Kind: KindLoadChange, Moniker: "zw", Field: "LGHT#Sw_Hall", Value: "True", Unit: "Hall", Time: base},
		{Kind: KindLoadChange, Moniker: "zw", Field: "LGHT#Sw_Hall", Value: "False", Unit: "Hall", Time: base.Add(100 * time.Millisecond)},
		{Kind: KindUserAction, Moniker: "ir", Value: "Lights Off", Time: base.Add(time.Second)},
	}
	for _, ev := range events {
		if err := r.Deliver(ctx, ev); err != nil {
			t.Fatalf("Deliver() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"all newest first", Filter{}, []string{"Lights Off", "False", "True"}},
		{"by moniker", Filter{Moniker: "zw"}, []string{"False", "True"}},
		{"by kind", Filter{Kind: KindUserAction}, []string{"Lights Off"}},
		{"since", Filter{Since: base.Add(50 * time.Millisecond)}, []string{"Lights Off", "False"}},
		{"limit", Filter{Limit: 1}, []string{"Lights Off"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %d events, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Value != tt.want[i] {
					t.Errorf("event %d = %q, want %q", i, got[i].Value, tt.want[i])
				}
				if got[i].ID == "" {
					t.Errorf("event %d has no id", i)
				}
			}
		})
	}

	if err := r.Deliver(ctx, Event{Moniker: "x"}); !errors.Is(err, ErrInvalidEvent) {
		t.Errorf("invalid event error = %v", err)
	}
}

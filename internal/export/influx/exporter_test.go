package influx

import (
	"sync"
	"testing"
	"time"

	"github.com/hearthd/hearth-core/internal/bus"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
)

type recordedPoint struct {
	measurement string
	tags        map[string]string
	fields      map[string]any
	timestamp   time.Time
}

type fakeWriter struct {
	mu     sync.Mutex
	points []recordedPoint
}

func (w *fakeWriter) WritePoint(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.points = append(w.points, recordedPoint{measurement, tags, fields, timestamp})
}

func (w *fakeWriter) snapshot() []recordedPoint {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]recordedPoint(nil), w.points...)
}

func publish(t *testing.T, b *bus.Bus, ev bus.StateChanged) {
	t.Helper()
	select {
	case <-b.PublishStateChanged(ev):
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for subscribers")
	}
}

func stateChange(entityID, domain, value string, attrs map[string]any) bus.StateChanged {
	return bus.StateChanged{
		EntityID: entityID,
		Domain:   domain,
		Platform: "esphome",
		AreaID:   "kitchen",
		NewState: &bus.StateSnapshot{
			Value:      value,
			Attributes: attrs,
			UpdatedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		},
	}
}

func TestExporterWritesPoint(t *testing.T) {
	events := bus.New()
	writer := &fakeWriter{}
	exp := NewExporter(writer, config.InfluxDBConfig{})
	exp.Start(events)
	defer exp.Stop()

	publish(t, events, stateChange("sensor.kitchen_temp", "sensor", "21.5", map[string]any{
		"battery":       87,
		"charging":      true,
		"unit":          "°C", // non-numeric, dropped
		"friendly_name": "Kitchen Temp",
	}))

	points := writer.snapshot()
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	p := points[0]
	if p.measurement != "sensor" {
		t.Errorf("measurement = %q, want sensor", p.measurement)
	}
	if p.tags["entity_id"] != "sensor.kitchen_temp" || p.tags["platform"] != "esphome" || p.tags["area"] != "kitchen" {
		t.Errorf("tags = %v", p.tags)
	}
	if p.fields["state"] != "21.5" {
		t.Errorf("state field = %v", p.fields["state"])
	}
	if p.fields["value"] != 21.5 {
		t.Errorf("value field = %v, want 21.5", p.fields["value"])
	}
	if p.fields["battery"] != 87.0 {
		t.Errorf("battery field = %v, want 87", p.fields["battery"])
	}
	if p.fields["charging"] != 1.0 {
		t.Errorf("charging field = %v, want 1", p.fields["charging"])
	}
	if _, ok := p.fields["unit"]; ok {
		t.Error("non-numeric attribute should not become a field")
	}
	if !p.timestamp.Equal(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", p.timestamp)
	}
}

func TestExporterNonNumericState(t *testing.T) {
	events := bus.New()
	writer := &fakeWriter{}
	exp := NewExporter(writer, config.InfluxDBConfig{})
	exp.Start(events)
	defer exp.Stop()

	publish(t, events, stateChange("switch.heater", "switch", "on", nil))

	points := writer.snapshot()
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	if _, ok := points[0].fields["value"]; ok {
		t.Error("non-numeric state should not produce a value field")
	}
	if points[0].fields["state"] != "on" {
		t.Errorf("state field = %v", points[0].fields["state"])
	}
}

func TestExporterFilters(t *testing.T) {
	events := bus.New()
	writer := &fakeWriter{}
	exp := NewExporter(writer, config.InfluxDBConfig{
		IncludeDomains:  []string{"sensor"},
		ExcludeEntities: []string{"sensor.noisy"},
	})
	exp.Start(events)
	defer exp.Stop()

	publish(t, events, stateChange("switch.heater", "switch", "on", nil))
	publish(t, events, stateChange("sensor.noisy", "sensor", "1", nil))
	publish(t, events, stateChange("sensor.kept", "sensor", "2", nil))

	points := writer.snapshot()
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	if points[0].tags["entity_id"] != "sensor.kept" {
		t.Errorf("entity_id = %q", points[0].tags["entity_id"])
	}
}

func TestExporterSkipsUnavailable(t *testing.T) {
	events := bus.New()
	writer := &fakeWriter{}
	exp := NewExporter(writer, config.InfluxDBConfig{})
	exp.Start(events)
	defer exp.Stop()

	publish(t, events, stateChange("sensor.a", "sensor", "unavailable", nil))
	publish(t, events, stateChange("sensor.a", "sensor", "unknown", nil))

	if points := writer.snapshot(); len(points) != 0 {
		t.Errorf("points = %d, want 0", len(points))
	}
}

func TestExporterStop(t *testing.T) {
	events := bus.New()
	writer := &fakeWriter{}
	exp := NewExporter(writer, config.InfluxDBConfig{})
	exp.Start(events)
	exp.Stop()
	exp.Stop() // idempotent

	publish(t, events, stateChange("sensor.a", "sensor", "1", nil))

	if points := writer.snapshot(); len(points) != 0 {
		t.Errorf("points after Stop = %d, want 0", len(points))
	}
}

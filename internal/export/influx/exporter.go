package influx

import (
	"strconv"
	"time"

	"github.com/hearthd/hearth-core/internal/bus"
	"github.com/hearthd/hearth-core/internal/entity"
	"github.com/hearthd/hearth-core/internal/infrastructure/config"
)

// PointWriter is the subset of the InfluxDB client the exporter needs.
type PointWriter interface {
	WritePoint(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time)
}

// Logger is the logging interface used by this package.
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Warn(string, ...interface{})  {}

// Exporter forwards state changes to a point writer.
//
// One point is written per state change: the measurement is the entity
// domain, tags carry identity (entity_id, platform, area), and fields
// carry the state string plus any numeric values. Unavailable and
// unknown states are skipped.
type Exporter struct {
	writer PointWriter
	logger Logger

	includeDomains  map[string]bool
	excludeEntities map[string]bool

	unsub func()
}

// NewExporter creates an exporter with the configured filters.
//
// Parameters:
//   - writer: destination for points, typically the influxdb client
//   - cfg: filter settings; an empty IncludeDomains list admits all domains
func NewExporter(writer PointWriter, cfg config.InfluxDBConfig) *Exporter {
	e := &Exporter{
		writer: writer,
		logger: noopLogger{},
	}
	if len(cfg.IncludeDomains) > 0 {
		e.includeDomains = make(map[string]bool, len(cfg.IncludeDomains))
		for _, d := range cfg.IncludeDomains {
			e.includeDomains[d] = true
		}
	}
	if len(cfg.ExcludeEntities) > 0 {
		e.excludeEntities = make(map[string]bool, len(cfg.ExcludeEntities))
		for _, id := range cfg.ExcludeEntities {
			e.excludeEntities[id] = true
		}
	}
	return e
}

// SetLogger sets the logger. Must be called before Start.
func (e *Exporter) SetLogger(logger Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Start subscribes to state changes on the bus.
func (e *Exporter) Start(events *bus.Bus) {
	e.unsub = events.SubscribeStateChanged(e.handle)
	e.logger.Debug("influx exporter started")
}

// Stop unsubscribes from the bus. Points already queued in the writer
// are flushed by the writer's own shutdown.
func (e *Exporter) Stop() {
	if e.unsub != nil {
		e.unsub()
		e.unsub = nil
	}
}

func (e *Exporter) handle(ev bus.StateChanged) {
	if ev.NewState == nil {
		return
	}
	if e.includeDomains != nil && !e.includeDomains[ev.Domain] {
		return
	}
	if e.excludeEntities[ev.EntityID] {
		return
	}
	state := ev.NewState.Value
	if state == entity.StateUnavailable || state == entity.StateUnknown {
		return
	}

	tags := map[string]string{"entity_id": ev.EntityID}
	if ev.Platform != "" {
		tags["platform"] = ev.Platform
	}
	if ev.AreaID != "" {
		tags["area"] = ev.AreaID
	}

	fields := map[string]any{"state": state}
	if v, err := strconv.ParseFloat(state, 64); err == nil {
		fields["value"] = v
	}
	for key, raw := range ev.NewState.Attributes {
		if v, ok := numericValue(raw); ok {
			fields[key] = v
		}
	}

	e.writer.WritePoint(ev.Domain, tags, fields, ev.NewState.UpdatedAt)
}

// numericValue converts attribute values to float64 fields. Booleans
// become 0/1 so they chart cleanly.
func numericValue(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

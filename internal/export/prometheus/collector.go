package prometheus

import (
	"context"
	"net/http"
	"strconv"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearthd/hearth-core/internal/bus"
	"github.com/hearthd/hearth-core/internal/entity"
)

const defaultNamespace = "hearth"

// scrapeTimeout bounds the registry read on each scrape.
const scrapeTimeout = 5 * time.Second

// EntityLister is the subset of the entity registry the collector reads.
type EntityLister interface {
	List(ctx context.Context) ([]entity.Entity, error)
}

// Collector implements prom.Collector over the entity registry.
//
// Gauges are computed per scrape so they never drift from the
// registry: entity_state carries numeric state values, and
// entity_available is 1 unless the entity is unavailable. The
// service_calls_total counter is fed by bus events between scrapes.
type Collector struct {
	entities EntityLister

	stateDesc     *prom.Desc
	availableDesc *prom.Desc
	countDesc     *prom.Desc

	serviceCalls *prom.CounterVec

	unsub func()
}

// NewCollector creates a collector reading from the given registry.
// An empty namespace defaults to "hearth".
func NewCollector(entities EntityLister, namespace string) *Collector {
	if namespace == "" {
		namespace = defaultNamespace
	}
	labels := []string{"entity_id", "domain"}
	return &Collector{
		entities: entities,
		stateDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "entity_state"),
			"Numeric state value of an entity. Non-numeric states are omitted.",
			labels, nil,
		),
		availableDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "entity_available"),
			"Whether the entity is available (1) or unavailable (0).",
			labels, nil,
		),
		countDesc: prom.NewDesc(
			prom.BuildFQName(namespace, "", "entities"),
			"Number of registered entities per domain.",
			[]string{"domain"}, nil,
		),
		serviceCalls: prom.NewCounterVec(
			prom.CounterOpts{
				Namespace: namespace,
				Name:      "service_calls_total",
				Help:      "Number of service calls dispatched.",
			}, []string{"domain", "service"},
		),
	}
}

// Start begins counting service calls from the bus.
func (c *Collector) Start(events *bus.Bus) {
	c.unsub = events.SubscribeServiceCalled(func(ev bus.ServiceCalled) {
		c.serviceCalls.WithLabelValues(ev.Domain, ev.Service).Inc()
	})
}

// Stop unsubscribes from the bus.
func (c *Collector) Stop() {
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
}

// Handler returns an HTTP handler serving this collector's metrics on
// a dedicated prometheus registry.
func (c *Collector) Handler() http.Handler {
	registry := prom.NewRegistry()
	registry.MustRegister(c)
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Describe is part of the prom.Collector interface.
func (c *Collector) Describe(ch chan<- *prom.Desc) {
	ch <- c.stateDesc
	ch <- c.availableDesc
	ch <- c.countDesc
	c.serviceCalls.Describe(ch)
}

// Collect is part of the prom.Collector interface.
func (c *Collector) Collect(ch chan<- prom.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), scrapeTimeout)
	defer cancel()

	entities, err := c.entities.List(ctx)
	if err == nil {
		perDomain := make(map[string]int)
		for i := range entities {
			e := &entities[i]
			domain := string(e.Domain)
			perDomain[domain]++

			available := 1.0
			if !e.State.IsAvailable() {
				available = 0
			}
			ch <- prom.MustNewConstMetric(c.availableDesc, prom.GaugeValue, available, e.ID, domain)

			if v, err := strconv.ParseFloat(e.State.Value, 64); err == nil {
				ch <- prom.MustNewConstMetric(c.stateDesc, prom.GaugeValue, v, e.ID, domain)
			}
		}
		for domain, count := range perDomain {
			ch <- prom.MustNewConstMetric(c.countDesc, prom.GaugeValue, float64(count), domain)
		}
	}

	c.serviceCalls.Collect(ch)
}

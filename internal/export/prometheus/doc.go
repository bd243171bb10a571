// Package prometheus exposes entity and service-call metrics for
// scraping. Entity gauges are collected live from the registry on
// every scrape; service calls are counted from the event bus.
package prometheus

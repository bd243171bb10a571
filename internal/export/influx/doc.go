// Package influx exports entity state changes to InfluxDB for
// long-term history. It subscribes to the event bus and writes one
// point per change, filtered by include/exclude configuration.
package influx

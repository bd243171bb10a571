// Package influxdb wraps the InfluxDB v2 client for long-term state
// export: token auth, batched non-blocking writes, and health checks.
package influxdb

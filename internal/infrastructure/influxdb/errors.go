package influxdb

import "errors"

var (
	// ErrDisabled means the exporter is switched off in configuration.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	// ErrConnectionFailed means the initial ping did not succeed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrNotConnected means the client has been closed.
	ErrNotConnected = errors.New("influxdb: not connected")
)

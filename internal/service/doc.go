// Package service provides the service bus for Hearth Core.
//
// Integrations and domains register named services
// ("humidifier.set_humidity", "alarm_control_panel.arm_away") with a
// field schema and a handler. Callers dispatch through Registry.Call,
// which validates the payload against the schema, invokes the handler,
// and publishes a service_called event on the bus.
//
// Service names are "domain.service"; fields carry a type, optional
// required flag, numeric bounds, and an allowed-value list.
package service

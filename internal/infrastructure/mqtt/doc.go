// Package mqtt provides the broker connection for Hearth Core.
//
// It wraps paho.mqtt.golang with auto-reconnect, re-subscription on
// reconnect, a Last Will and Testament on hearth/system/status, and a
// health check hook for the API. The ESPHome adapter is the main
// consumer; anything that needs broker traffic goes through this
// client rather than paho directly.
package mqtt

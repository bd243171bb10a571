// Package esphome adapts MQTT-flavored ESPHome nodes into entities.
//
// Each config entry covers one node. The adapter subscribes to the
// node's discovery topics
// (<discovery_prefix>/{component}/{node}/{object_id}/config), creates
// sensor, binary_sensor, and switch entities from the JSON config
// payloads, tracks their state and availability topics, and publishes
// switch commands. An empty (retained-cleared) discovery payload
// removes the entity again.
package esphome

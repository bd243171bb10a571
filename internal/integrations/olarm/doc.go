// Package olarm integrates Olarm-connected alarm panels via the Olarm
// cloud REST API.
//
// One config entry holds one API key. A polling coordinator fetches the
// account's devices; each panel area becomes an alarm_control_panel
// entity and each zone a binary_sensor. Arm and disarm services post
// area actions back to the cloud with 1-based area numbers.
package olarm

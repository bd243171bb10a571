// Package hygrostat provides a generic bang-bang humidity controller.
//
// Each controller presents one humidifier entity backed by two other
// entities: a humidity sensor it observes and a switch it commands.
// The control law for the humidifier device class:
//
//	switch on   when target - current >= dry_tolerance
//	switch off  when current - target >= wet_tolerance
//
// The dehumidifier class mirrors both comparisons. Toggles are
// debounced by min_cycle_duration, the current command is re-sent every
// keep_alive interval, and a sensor that stops reporting for longer
// than the stale window forces the switch off and the entity
// unavailable until a valid reading arrives.
package hygrostat

// Package vaillant integrates Vaillant heating systems through their
// cloud REST API.
//
// One config entry holds one installation's credentials. A polling
// coordinator fetches the full system snapshot (zones, rooms, hot
// water, holiday mode, quick mode, outdoor temperature); zones and
// rooms become climate entities, hot water a water_heater entity, and
// the outdoor temperature a sensor.
//
// Overrides layer on top of the programmed schedule with a fixed
// priority: holiday mode beats a system quick mode, which beats a
// per-zone/room quick veto, which beats the schedule.
package vaillant

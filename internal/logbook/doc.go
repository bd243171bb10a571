// Package logbook records notable system activity: service calls and
// config-entry lifecycle changes. Entries are queryable by kind,
// entity, and time range, and trimmed by the retention sweep.
package logbook

// Package database manages the SQLite store for Hearth Core.
//
// It owns connection setup (WAL mode, busy timeout, single-writer pool),
// health checking, and schema migrations. Migrations are embedded SQL
// files registered by the migrations package and applied in version order,
// each in its own transaction.
//
// Everything durable lives here: the entity registry, config entries,
// state history, the logbook, areas, and API tokens.
package database

// Package configentry manages integration configuration entries.
//
// A config entry is one configured instance of an integration: an
// ESPHome bridge, an Olarm account, a hygrostat. Entries persist in
// SQLite, carry a JSON data payload and a schema version, and move
// through a lifecycle:
//
//	not_loaded -> loaded            setup succeeded
//	not_loaded -> setup_error       setup failed permanently
//	not_loaded -> setup_retry       setup failed transiently; retried
//	                                with doubling backoff (5s .. 5m)
//	not_loaded -> migration_error   data migration to the handler's
//	                                version failed
//	loaded     -> not_loaded        clean unload
//	loaded     -> failed_unload     unload hook returned an error
//
// Integrations register a Handler per domain with Setup/Unload hooks
// and optional per-version Migrate hooks. Duplicate detection uses the
// (domain, unique_id) pair: adding an entry whose unique id is taken
// returns ErrEntryExists instead of configuring the device twice.
package configentry

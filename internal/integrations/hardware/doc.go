// Package hardware manages radio/bridge hardware attached to the host:
// an info dispatcher for API snapshots, a firmware manifest poller, and
// a flash workflow that suspends port owners, downloads and verifies a
// firmware image, and runs the external flasher tool.
package hardware

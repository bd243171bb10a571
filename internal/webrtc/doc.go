// Package webrtc keeps the registry of ICE servers handed to browser
// clients for camera streaming.
//
// Static servers come from configuration; integrations that mint
// short-lived TURN credentials register a provider, which is called on
// every Servers() read so credentials are always fresh.
package webrtc

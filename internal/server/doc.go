// Package server implements the relay's HTTP and WebSocket server.
//
// A Hub keeps a Registry of open Connections and relays every frame it
// receives, unchanged, to all of them including the sender. Each Connection
// has its own read and write pump and a bounded outbound queue, so a slow
// client is dropped instead of stalling the others. PageHandler serves the
// static client page on the same listener; SetupRoutes tells the two apart
// by whether the request is a WebSocket upgrade.
package server

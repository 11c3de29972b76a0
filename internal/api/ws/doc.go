// Package ws serves browser tabs over WebSocket.
//
// Every connection is a conduit tab endpoint. The shell relays the embedded
// document's health checks and element selections over the socket; the hub
// pushes supervisor events and conduit deliveries back.
package ws

// Package server implements the HTTP and websocket transport for AnonyChat.
//
// The implementation is organized into specialized files for configuration, hub
// management, clients, routing, uploads, and HTTP handlers. Room and session
// state lives in package chat; the hub is the only goroutine that mutates it.
package server

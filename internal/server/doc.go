// Package server is the network edge of the chat service. It loads the
// configuration, serves the websocket endpoint that runs chat sessions, the
// account and group chat HTTP endpoints, health and metrics, and owns the
// lifecycle of the hub, the store and every running session.
package server

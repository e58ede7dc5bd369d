// Package server exposes the council over HTTP.
//
// Session management is plain JSON under /api/sessions. A council turn is
// started on /api/council/stream: the client opens a WebSocket, sends one
// JSON council.Request and receives a "session" frame followed by one
// "event" frame per council event. Run failures arrive as an "error" frame.
// The server closes the connection normally once the run ends; closing it
// from the client side cancels the run.
package server

// Package transport carries hub frames over websocket connections.
//
// A Dialer opens a Conn to a hub endpoint. The websocket implementation
// negotiates the frame codec through the websocket subprotocol
// ("livehub.json.v1", "livehub.cbor.v1"), runs a read pump that feeds
// Receive, and monitors liveness with websocket ping/pong control frames
// driven by KeepAlive.
//
// The server side (Upgrade) uses the same connection type, so the hub
// simulator and the client share one implementation of the pumps.
package transport

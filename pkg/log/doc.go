// Package log records what crosses a livehub connection.
//
// It is not operational logging. Components keep using slog for that; a
// Logger here receives one Event per websocket message, decoded hub frame,
// state change, keepalive control frame or error, tagged with the layer it
// was observed at and the connection it belongs to.
//
// Wiring a capture into a hub client:
//
//	capture, err := log.NewFileLogger("captures/plant-b.cbor")
//	if err != nil {
//		return err
//	}
//	defer capture.Close()
//
//	plog := log.NewMultiLogger(log.NewSlogAdapter(slog.Default()), capture)
//	conn := connection.NewManager(connection.Config{Endpoint: url, ProtocolLogger: plog})
//
// Layers:
//
//	LayerTransport  FrameEvent (raw message bytes)
//	LayerWire       MessageEvent (invocations, completions, pushes)
//	LayerClient     StateChangeEvent (connection and subscription state)
//
// ControlMsgEvent and ErrorEventData may appear at any layer.
//
// A capture file is a plain concatenation of CBOR items, one per event.
// Scan and Reader read it back; livehub-log analyzes it and
// "livehub-watch -replay" prints it.
package log

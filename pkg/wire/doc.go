// Package wire defines the frame format spoken between a livehub client and a
// hub endpoint.
//
// One websocket message carries exactly one Frame. Frames are encoded with the
// codec negotiated when the connection is opened: JSON (text messages) or
// CBOR (binary messages, integer map keys).
//
// # Frame Types
//
// There are four frame types:
//   - Invocation: a method call. Client invocations carry an InvocationID and
//     expect a Completion. Server pushes are invocations without an ID.
//   - Completion: the result of a client invocation, success or error.
//   - Ping: keepalive, carries nothing.
//   - Close: the server is closing the connection, with an optional reason.
//
// # Raw Values
//
// Arguments and results travel as Raw values: bytes already encoded with the
// frame's codec. They are decoded only by the consumer that knows the target
// type, so a frame can be routed without understanding its payload.
package wire

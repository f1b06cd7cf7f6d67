// Package interaction implements request/response correlation over a hub
// connection.
//
// # Client Usage
//
// A Client is bound to one physical connection. It assigns invocation IDs,
// waits for the matching completion, and maps failures onto the error
// taxonomy shared by the rest of the library:
//
//	client := interaction.NewClient(conn, conn.Codec(), interaction.ClientConfig{})
//
//	// Feed completions from the connection's read loop
//	client.HandleCompletion(frame)
//
//	// Call a hub method
//	result, err := client.Invoke(ctx, wire.TargetGetState, "device-1")
//
// When the connection drops, Abort fails every pending call with a
// TransportDroppedError.
//
// # Server Usage
//
// A Server maps targets to handler functions and turns invocations into
// completions. The hub simulator and the in-memory test hub use it:
//
//	srv := interaction.NewServer(wire.JSON)
//	srv.Handle(wire.TargetSubscribe, func(ctx context.Context, call *interaction.Call) (any, error) {
//	    id, err := call.StringArg(0)
//	    ...
//	})
//	reply := srv.HandleInvocation(ctx, frame)
package interaction

// Package hub is the client facade for one entity kind on a live hub.
//
// A Client ties together a shared connection.Manager, a subscription
// Registry, a dispatch Router and a state cache:
//
//	conn := connection.NewManager(connection.Config{
//	    Endpoint: "ws://hub.local:5080/hubs/devices",
//	    Dialer:   transport.NewWebSocketDialer(transport.WebSocketConfig{}),
//	})
//	devices, err := hub.NewDeviceHub(conn)
//	...
//	sub, err := devices.Subscribe(ctx, "device-1", func(u hub.Update[model.DeviceState]) {
//	    fmt.Println(u.EntityID, u.Value.CurrentState)
//	})
//	...
//	defer sub.Unsubscribe(context.Background())
//
// Any number of Subscribe calls share the one connection; the hub sees one
// Subscribe per entity no matter how many local listeners there are.
//
// # Errors
//
// Subscribe returns the error of the first subscribe attempt. A timeout or a
// dropped connection still returns a live Subscription: it is retried after
// the next reconnect. A rejection by the hub (unknown entity) is final and
// returns no Subscription; other listeners of that entity get it through
// their WithErrorHandler callback.
package hub

package hub

import (
	"errors"

	"github.com/opsboard/livehub-go/pkg/interaction"
)

// Facade errors.
var (
	ErrClientClosed        = errors.New("hub client is closed")
	ErrSubscriptionsActive = errors.New("subscriptions still active")
	ErrNilCallback         = errors.New("update callback is nil")
	ErrWrongEntity         = errors.New("subscription belongs to another entity")
)

// Errors of the hub protocol, re-exported so callers need only this package.
var (
	ErrNotConnected     = interaction.ErrNotConnected
	ErrHubTimeout       = interaction.ErrHubTimeout
	ErrTransportDropped = interaction.ErrTransportDropped
	ErrServerRejected   = interaction.ErrServerRejected
)

type (
	NotConnectedError     = interaction.NotConnectedError
	HubTimeoutError       = interaction.HubTimeoutError
	TransportDroppedError = interaction.TransportDroppedError
	ServerRejectedError   = interaction.ServerRejectedError
)

// IsRejected reports whether err is a final rejection by the hub.
func IsRejected(err error) bool {
	var rej *ServerRejectedError
	return errors.As(err, &rej) && !rej.Temporary()
}

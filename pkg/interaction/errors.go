package interaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/opsboard/livehub-go/pkg/wire"
)

// Sentinels matched by the typed errors below through errors.Is.
var (
	ErrNotConnected     = errors.New("hub not connected")
	ErrHubTimeout       = errors.New("hub did not acknowledge in time")
	ErrTransportDropped = errors.New("hub connection dropped")
	ErrServerRejected   = errors.New("hub rejected request")
)

// NotConnectedError is returned when an invocation is attempted while the
// connection is not Connected.
type NotConnectedError struct {
	Target string
	State  string
}

func (e *NotConnectedError) Error() string {
	return fmt.Sprintf("%s: hub not connected (state %s)", e.Target, e.State)
}

// Is matches ErrNotConnected.
func (e *NotConnectedError) Is(target error) bool { return target == ErrNotConnected }

// HubTimeoutError is returned when no completion arrives within the
// invocation timeout.
type HubTimeoutError struct {
	Target       string
	InvocationID string
	Timeout      time.Duration
}

func (e *HubTimeoutError) Error() string {
	return fmt.Sprintf("%s: no acknowledgment within %s", e.Target, e.Timeout)
}

// Is matches ErrHubTimeout.
func (e *HubTimeoutError) Is(target error) bool { return target == ErrHubTimeout }

// TransportDroppedError is returned when the connection is lost while an
// invocation is outstanding.
type TransportDroppedError struct {
	Target string
	Cause  error
}

func (e *TransportDroppedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: hub connection dropped: %v", e.Target, e.Cause)
	}
	return fmt.Sprintf("%s: hub connection dropped", e.Target)
}

// Is matches ErrTransportDropped.
func (e *TransportDroppedError) Is(target error) bool { return target == ErrTransportDropped }

func (e *TransportDroppedError) Unwrap() error { return e.Cause }

// ServerRejectedError is returned when the hub answers with a non-success
// status, e.g. for an unknown entity id.
type ServerRejectedError struct {
	Target   string
	EntityID string
	Status   wire.Status
	Message  string
}

func (e *ServerRejectedError) Error() string {
	var b []byte
	b = fmt.Appendf(b, "%s", e.Target)
	if e.EntityID != "" {
		b = fmt.Appendf(b, "(%s)", e.EntityID)
	}
	b = fmt.Appendf(b, ": hub rejected request: %s", e.Status)
	if e.Message != "" {
		b = fmt.Appendf(b, ": %s", e.Message)
	}
	return string(b)
}

// Is matches ErrServerRejected.
func (e *ServerRejectedError) Is(target error) bool { return target == ErrServerRejected }

// Temporary reports whether the hub may accept the same request later.
func (e *ServerRejectedError) Temporary() bool { return e.Status.Temporary() }

// WithEntity returns a copy annotated with the entity id.
func (e *ServerRejectedError) WithEntity(entityID string) *ServerRejectedError {
	c := *e
	c.EntityID = entityID
	return &c
}

// StatusError lets a server handler choose the completion status.
type StatusError struct {
	Status  wire.Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Status.String()
}

// Errorf builds a StatusError with a formatted message.
func Errorf(status wire.Status, format string, args ...any) *StatusError {
	return &StatusError{Status: status, Message: fmt.Sprintf(format, args...)}
}

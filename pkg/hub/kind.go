package hub

import (
	"github.com/opsboard/livehub-go/pkg/dispatch"
	"github.com/opsboard/livehub-go/pkg/model"
)

// Kind describes an entity kind: how pushes are keyed and how payloads are
// checked after decoding.
type Kind[T any] struct {
	Name string
	Key  dispatch.KeyFunc

	// Validate is optional. A payload that fails it is not delivered.
	Validate func(*T) error
}

// DeviceKind is the device hub. Pushes are StateUpdate(deviceId, state).
var DeviceKind = Kind[model.DeviceState]{
	Name: "device",
	Key:  dispatch.FirstArgument,
}

// MachineKind is the machine hub. Pushes carry the key in machineId.
var MachineKind = Kind[model.MachineOEE]{
	Name: "machine",
	Key:  dispatch.PayloadField("machineId"),
	Validate: func(m *model.MachineOEE) error {
		return m.Validate()
	},
}

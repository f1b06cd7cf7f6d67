package dispatch

import (
	"errors"
	"fmt"

	"github.com/opsboard/livehub-go/pkg/wire"
)

// Key extraction errors.
var (
	ErrNoArguments = errors.New("push has no arguments")
	ErrEmptyKey    = errors.New("push has an empty entity key")
)

// KeyFunc extracts the entity ID and the snapshot payload from the
// arguments of a push.
type KeyFunc func(args []wire.Raw, codec wire.Codec) (entityID string, payload wire.Raw, err error)

// FirstArgument reads pushes of the form StateUpdate(entityId, payload).
func FirstArgument(args []wire.Raw, codec wire.Codec) (string, wire.Raw, error) {
	if len(args) < 2 {
		return "", nil, fmt.Errorf("%w: want entity id and payload, got %d", ErrNoArguments, len(args))
	}
	id, err := decodeKey(args[0], codec)
	if err != nil {
		return "", nil, err
	}
	return id, args[1], nil
}

// PayloadField reads pushes of the form StateUpdate(payload) where the entity
// key is a string field of the payload. The two-argument form is accepted
// too, in which case the first argument is the key.
func PayloadField(field string) KeyFunc {
	return func(args []wire.Raw, codec wire.Codec) (string, wire.Raw, error) {
		switch len(args) {
		case 0:
			return "", nil, ErrNoArguments
		case 1:
		default:
			return FirstArgument(args, codec)
		}

		var m map[string]any
		if err := args[0].Decode(codec, &m); err != nil {
			return "", nil, fmt.Errorf("decode payload: %w", err)
		}
		v, ok := m[field]
		if !ok {
			return "", nil, fmt.Errorf("payload has no %q field", field)
		}
		id, ok := v.(string)
		if !ok {
			return "", nil, fmt.Errorf("payload field %q is %T, want string", field, v)
		}
		if id == "" {
			return "", nil, ErrEmptyKey
		}
		return id, args[0], nil
	}
}

func decodeKey(raw wire.Raw, codec wire.Codec) (string, error) {
	var id string
	if err := raw.Decode(codec, &id); err != nil {
		return "", fmt.Errorf("decode entity id: %w", err)
	}
	if id == "" {
		return "", ErrEmptyKey
	}
	return id, nil
}

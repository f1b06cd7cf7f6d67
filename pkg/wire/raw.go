package wire

import (
	"bytes"
	"errors"
)

// ErrNullValue is returned when decoding a Raw value that holds null.
var ErrNullValue = errors.New("value is null")

var (
	jsonNull = []byte("null")
	cborNull = []byte{0xf6}
)

// Raw is a single value already encoded with a frame's codec.
//
// Raw passes through both the JSON and the CBOR encoder untouched, so a frame
// can be re-encoded without decoding its arguments.
type Raw []byte

// EncodeValue encodes v as a Raw value.
func EncodeValue(c Codec, v any) (Raw, error) {
	data, err := c.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Raw(data), nil
}

// Decode decodes the value into v.
// Returns ErrNullValue when the value is absent or null.
func (r Raw) Decode(c Codec, v any) error {
	if r.IsNull() {
		return ErrNullValue
	}
	return c.Unmarshal(r, v)
}

// IsNull reports whether the value is absent or an explicit null.
func (r Raw) IsNull() bool {
	if len(r) == 0 {
		return true
	}
	if len(r) == 1 && (r[0] == 0xf6 || r[0] == 0xf7) {
		return true
	}
	return bytes.Equal(bytes.TrimSpace(r), jsonNull)
}

// Clone returns a copy that does not share memory with r.
func (r Raw) Clone() Raw {
	if r == nil {
		return nil
	}
	out := make(Raw, len(r))
	copy(out, r)
	return out
}

// MarshalJSON implements json.Marshaler.
func (r Raw) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return jsonNull, nil
	}
	return r, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Raw) UnmarshalJSON(data []byte) error {
	if r == nil {
		return errors.New("wire.Raw: UnmarshalJSON on nil pointer")
	}
	*r = append((*r)[:0], data...)
	return nil
}

// MarshalCBOR implements cbor.Marshaler.
func (r Raw) MarshalCBOR() ([]byte, error) {
	if len(r) == 0 {
		return cborNull, nil
	}
	return r, nil
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (r *Raw) UnmarshalCBOR(data []byte) error {
	if r == nil {
		return errors.New("wire.Raw: UnmarshalCBOR on nil pointer")
	}
	*r = append((*r)[:0], data...)
	return nil
}

package wire

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecodeFrame_JSONLiteral(t *testing.T) {
	data := []byte(`{"type":1,"target":"StateUpdate","arguments":["device-1",{"currentState":"Online"}]}`)

	f, err := DecodeFrame(JSON, data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if !f.IsPush() {
		t.Fatal("expected push frame")
	}
	if len(f.Arguments) != 2 {
		t.Fatalf("arguments = %d, want 2", len(f.Arguments))
	}

	var id string
	if err := f.Arguments[0].Decode(JSON, &id); err != nil {
		t.Fatalf("decode id: %v", err)
	}
	if id != "device-1" {
		t.Errorf("id = %q, want device-1", id)
	}

	var payload struct {
		CurrentState string `json:"currentState"`
	}
	if err := f.Arguments[1].Decode(JSON, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.CurrentState != "Online" {
		t.Errorf("currentState = %q, want Online", payload.CurrentState)
	}
}

func TestFrame_ArgumentsSurviveReencoding(t *testing.T) {
	type sample struct {
		Name string    `json:"name" cbor:"1,keyasint"`
		At   time.Time `json:"at" cbor:"2,keyasint"`
	}
	in := sample{Name: "press-4", At: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}

	for _, c := range []Codec{JSON, CBOR} {
		t.Run(c.Name(), func(t *testing.T) {
			f, err := NewInvocation(c, "abc", TargetSubscribe, "machine-42", in)
			if err != nil {
				t.Fatalf("NewInvocation: %v", err)
			}
			data, err := EncodeFrame(c, f)
			if err != nil {
				t.Fatalf("EncodeFrame: %v", err)
			}

			got, err := DecodeFrame(c, data)
			if err != nil {
				t.Fatalf("DecodeFrame: %v", err)
			}
			if got.InvocationID != "abc" || got.Target != TargetSubscribe {
				t.Fatalf("header mismatch: %+v", got)
			}

			// Re-encode without touching arguments.
			again, err := EncodeFrame(c, got)
			if err != nil {
				t.Fatalf("re-encode: %v", err)
			}
			final, err := DecodeFrame(c, again)
			if err != nil {
				t.Fatalf("re-decode: %v", err)
			}

			var out sample
			if err := final.Arguments[1].Decode(c, &out); err != nil {
				t.Fatalf("decode argument: %v", err)
			}
			if out.Name != in.Name || !out.At.Equal(in.At) {
				t.Errorf("argument = %+v, want %+v", out, in)
			}
		})
	}
}

func TestFrame_Validate(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  error
	}{
		{"invocation without target", Frame{Type: MessageTypeInvocation, InvocationID: "1"}, ErrMissingTarget},
		{"completion without id", Frame{Type: MessageTypeCompletion}, ErrMissingInvocationID},
		{"ping", Frame{Type: MessageTypePing}, nil},
		{"close", Frame{Type: MessageTypeClose, Error: "shutdown"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.frame.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}

	bad := Frame{Type: 42}
	if err := bad.Validate(); err == nil {
		t.Error("unknown type should fail validation")
	}
}

func TestDecodeFrame_RejectsInvalid(t *testing.T) {
	if _, err := DecodeFrame(JSON, []byte(`{"type":3}`)); err == nil {
		t.Error("completion without id should be rejected")
	}
	if _, err := DecodeFrame(JSON, []byte(`not json`)); err == nil {
		t.Error("garbage should be rejected")
	}
}

func TestCompletion_NullResult(t *testing.T) {
	for _, c := range []Codec{JSON, CBOR} {
		t.Run(c.Name(), func(t *testing.T) {
			f, err := NewCompletion(c, "x1", nil)
			if err != nil {
				t.Fatal(err)
			}
			data, err := EncodeFrame(c, f)
			if err != nil {
				t.Fatal(err)
			}
			got, err := DecodeFrame(c, data)
			if err != nil {
				t.Fatal(err)
			}
			if !got.Result.IsNull() {
				t.Errorf("result should be null, got %x", []byte(got.Result))
			}
			var v map[string]any
			if err := got.Result.Decode(c, &v); !errors.Is(err, ErrNullValue) {
				t.Errorf("Decode() = %v, want ErrNullValue", err)
			}
		})
	}
}

func TestErrorCompletion(t *testing.T) {
	f := NewErrorCompletion("x2", StatusUnknownEntity, "no such device")
	data, err := EncodeFrame(JSON, f)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"status":1`) {
		t.Errorf("encoded frame missing status: %s", data)
	}

	got, err := DecodeFrame(JSON, data)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusUnknownEntity || got.Error != "no such device" {
		t.Errorf("got %+v", got)
	}
}

func TestRaw_IsNull(t *testing.T) {
	tests := []struct {
		name string
		raw  Raw
		want bool
	}{
		{"nil", nil, true},
		{"json null", Raw("null"), true},
		{"json null padded", Raw(" null\n"), true},
		{"cbor null", Raw{0xf6}, true},
		{"cbor undefined", Raw{0xf7}, true},
		{"json object", Raw(`{}`), false},
		{"cbor zero", Raw{0x00}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.raw.IsNull(); got != tt.want {
				t.Errorf("IsNull() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRaw_Clone(t *testing.T) {
	r := Raw(`{"a":1}`)
	c := r.Clone()
	c[2] = 'b'
	if string(r) != `{"a":1}` {
		t.Errorf("clone shares memory with original: %s", r)
	}
}

func TestCodecByName(t *testing.T) {
	c, err := CodecByName("cbor")
	if err != nil || c != CBOR {
		t.Errorf("CodecByName(cbor) = %v, %v", c, err)
	}
	c, err = CodecByName("")
	if err != nil || c != JSON {
		t.Errorf("CodecByName(\"\") = %v, %v", c, err)
	}
	if _, err := CodecByName("msgpack"); err == nil {
		t.Error("unknown codec should fail")
	}
}

func TestStatus_Temporary(t *testing.T) {
	if !StatusUnavailable.Temporary() || !StatusInternal.Temporary() {
		t.Error("internal and unavailable should be temporary")
	}
	if StatusUnknownEntity.Temporary() || StatusRejected.Temporary() {
		t.Error("unknown entity and rejected should be terminal")
	}
}

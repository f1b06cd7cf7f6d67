// Package version handles the hub protocol version and the websocket
// subprotocol names that carry it ("livehub.<codec>.v<major>").
package version

import (
	"cmp"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Current is the hub protocol version implemented by this library.
const Current = "1.0"

const subprotocolPrefix = "livehub."

// ErrMalformed is wrapped by every parse failure in this package.
var ErrMalformed = errors.New("malformed protocol version")

// ProtocolVersion is a "major.minor" protocol version. Peers with the same
// major version interoperate.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// CurrentVersion is Current, parsed.
var CurrentVersion = MustParse(Current)

// Parse reads a "major.minor" string.
func Parse(s string) (ProtocolVersion, error) {
	majS, minS, ok := strings.Cut(s, ".")
	if !ok {
		return ProtocolVersion{}, fmt.Errorf("%w: %q has no minor part", ErrMalformed, s)
	}
	major, err := parseComponent(majS)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("%w: major of %q: %v", ErrMalformed, s, err)
	}
	minor, err := parseComponent(minS)
	if err != nil {
		return ProtocolVersion{}, fmt.Errorf("%w: minor of %q: %v", ErrMalformed, s, err)
	}
	return ProtocolVersion{Major: major, Minor: minor}, nil
}

// MustParse is Parse for constants; it panics on malformed input.
func MustParse(s string) ProtocolVersion {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// parseComponent accepts plain decimal digits only, so "+1", "-1" and
// "1.0.0" (via its "0.0" minor) are rejected.
func parseComponent(s string) (uint16, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	n, err := strconv.ParseUint(s, 10, 16)
	return uint16(n), err
}

func (v ProtocolVersion) String() string {
	return strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor))
}

// Compatible reports whether v and other share a major version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Compare orders versions by major, then minor.
func (v ProtocolVersion) Compare(other ProtocolVersion) int {
	if c := cmp.Compare(v.Major, other.Major); c != 0 {
		return c
	}
	return cmp.Compare(v.Minor, other.Minor)
}

// CompatibleWithCurrent reports whether a peer advertising s can talk to
// this library. An empty s is taken as compatible.
func CompatibleWithCurrent(s string) bool {
	if s == "" {
		return true
	}
	v, err := Parse(s)
	return err == nil && v.Compatible(CurrentVersion)
}

// Subprotocol names the websocket subprotocol for codec at major.
func Subprotocol(codec string, major uint16) string {
	return subprotocolPrefix + codec + ".v" + strconv.Itoa(int(major))
}

// ParseSubprotocol splits "livehub.<codec>.v<major>". The codec may itself
// contain dots.
func ParseSubprotocol(s string) (codec string, major uint16, err error) {
	rest, ok := strings.CutPrefix(s, subprotocolPrefix)
	if !ok {
		return "", 0, fmt.Errorf("%w: %q is not a livehub subprotocol", ErrMalformed, s)
	}
	i := strings.LastIndex(rest, ".v")
	if i <= 0 {
		return "", 0, fmt.Errorf("%w: no codec and version in %q", ErrMalformed, s)
	}
	major, err = parseComponent(rest[i+2:])
	if err != nil {
		return "", 0, fmt.Errorf("%w: subprotocol %q: %v", ErrMalformed, s, err)
	}
	return rest[:i], major, nil
}

// SupportedSubprotocols returns the subprotocols offered for codecs at the
// current major version, in the given order.
func SupportedSubprotocols(codecs ...string) []string {
	out := make([]string, len(codecs))
	for i, c := range codecs {
		out[i] = Subprotocol(c, CurrentVersion.Major)
	}
	return out
}

// Negotiate returns the first offered subprotocol at the current major
// version whose codec accept allows. A nil accept allows any codec.
func Negotiate(offered []string, accept func(codec string) bool) (proto, codec string, ok bool) {
	for _, p := range offered {
		c, major, err := ParseSubprotocol(p)
		if err != nil || major != CurrentVersion.Major {
			continue
		}
		if accept == nil || accept(c) {
			return p, c, true
		}
	}
	return "", "", false
}

package discovery

import (
	"fmt"
	"maps"
	"slices"
	"strings"
)

// maxTXTString is the DNS limit for one TXT character-string, key included.
const maxTXTString = 255

// TXTRecordMap holds TXT records by key.
type TXTRecordMap map[string]string

// EncodeHubTXT builds the TXT records a hub advertises. Optional keys are
// left out when empty; tls is only present when set.
func EncodeHubTXT(info *HubInfo) TXTRecordMap {
	txt := TXTRecordMap{TXTKeyKind: string(info.Kind), TXTKeyPath: info.Path}
	put := func(k, v string) {
		if v != "" {
			txt[k] = v
		}
	}
	put(TXTKeyCodecs, strings.Join(info.Codecs, ","))
	put(TXTKeyVersion, info.Version)
	if info.TLS {
		txt[TXTKeyTLS] = "1"
	}
	return txt
}

// DecodeHubTXT reads hub TXT records. Kind and an absolute path are
// required; unknown keys are ignored.
func DecodeHubTXT(txt TXTRecordMap) (*HubInfo, error) {
	kind, ok := txt[TXTKeyKind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyKind)
	}
	info := &HubInfo{
		Kind:    HubKind(kind),
		Path:    txt[TXTKeyPath],
		Version: txt[TXTKeyVersion],
		TLS:     txt[TXTKeyTLS] == "1",
	}
	if err := info.Kind.validate(); err != nil {
		return nil, err
	}
	switch {
	case info.Path == "":
		return nil, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyPath)
	case info.Path[0] != '/':
		return nil, fmt.Errorf("%w: path %q", ErrInvalidTXTRecord, info.Path)
	}
	for c := range strings.SplitSeq(txt[TXTKeyCodecs], ",") {
		if c = strings.TrimSpace(c); c != "" {
			info.Codecs = append(info.Codecs, c)
		}
	}
	return info, nil
}

// TXTRecordsToStrings renders records as "key=value" strings in key order.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	out := make([]string, 0, len(txt))
	for _, k := range slices.Sorted(maps.Keys(txt)) {
		out = append(out, k+"="+txt[k])
	}
	return out
}

// StringsToTXTRecords parses "key=value" strings. A bare key is stored
// with an empty value.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap, len(strs))
	for _, s := range strs {
		if k, v, _ := strings.Cut(s, "="); k != "" {
			txt[k] = v
		}
	}
	return txt
}

// ValidateInstanceName checks the DNS-SD instance label limits.
func ValidateInstanceName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrMissingRequired)
	case len(name) > MaxInstanceNameLen:
		return ErrInstanceNameTooLong
	}
	return nil
}

// validateTXT rejects records that do not fit a TXT character-string.
func validateTXT(txt TXTRecordMap) error {
	for k, v := range txt {
		if len(k)+1+len(v) > maxTXTString {
			return fmt.Errorf("%w: %s is longer than %d bytes", ErrInvalidTXTRecord, k, maxTXTString)
		}
	}
	return nil
}

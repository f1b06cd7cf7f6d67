package discovery

import (
	"slices"

	"github.com/enbility/zeroconf/v3"
)

// hubSet folds zeroconf announcements into one HubService per instance.
// The same instance shows up once per interface and address family.
type hubSet map[string]*HubService

// add records entry and returns the service when the instance is new.
// Entries whose TXT records do not describe a hub are ignored.
func (s hubSet) add(entry *zeroconf.ServiceEntry) *HubService {
	addrs := entryAddresses(entry)
	if svc, ok := s[entry.Instance]; ok {
		for _, a := range addrs {
			if !slices.Contains(svc.Addresses, a) {
				svc.Addresses = append(svc.Addresses, a)
			}
		}
		return nil
	}

	info, err := DecodeHubTXT(StringsToTXTRecords(entry.Text))
	if err != nil {
		return nil
	}
	info.InstanceName = entry.Instance
	info.Port = uint16(entry.Port)

	svc := &HubService{HubInfo: *info, Host: entry.HostName, Addresses: addrs}
	s[entry.Instance] = svc

	// Callers get their own copy; later merges only touch the set's.
	out := *svc
	out.Addresses = slices.Clone(addrs)
	return &out
}

// remove drops the entry's addresses, and the instance once none are left,
// so a later announcement is reported again.
func (s hubSet) remove(entry *zeroconf.ServiceEntry) {
	svc, ok := s[entry.Instance]
	if !ok {
		return
	}
	gone := entryAddresses(entry)
	svc.Addresses = slices.DeleteFunc(svc.Addresses, func(a string) bool {
		return slices.Contains(gone, a)
	})
	if len(svc.Addresses) == 0 {
		delete(s, entry.Instance)
	}
}

func entryAddresses(entry *zeroconf.ServiceEntry) []string {
	addrs := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	for _, ip := range entry.AddrIPv4 {
		addrs = append(addrs, ip.String())
	}
	for _, ip := range entry.AddrIPv6 {
		addrs = append(addrs, ip.String())
	}
	return addrs
}

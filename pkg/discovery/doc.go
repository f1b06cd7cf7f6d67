// Package discovery finds live hubs on the local network over mDNS/DNS-SD.
//
// Hubs advertise the _livehub._tcp service. One instance per hub, so a
// server hosting both the device and the machine hub registers two instances.
// TXT records describe how to reach the hub:
//
//	kind   device | machine
//	path   HTTP path of the websocket endpoint (e.g. /hubs/devices)
//	codecs comma-separated frame codecs (json,cbor)
//	ver    hub protocol version (major.minor)
//	tls    "1" when the endpoint requires wss
package discovery

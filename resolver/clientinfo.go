package resolver

import "net"

// ClientInfo carries per-query metadata through the resolve chain,
// constructed by a listener for each inbound connection/datagram. The
// TLSServerName slot is kept for a future DoT/DoH listener even though
// those transports are out of this engine's scope.
type ClientInfo struct {
	SourceIP     net.IP
	Listener     string // listener id, e.g. "udp:0.0.0.0:1053"
	Protocol     string // "udp" or "tcp"
	TLSServerName string
}

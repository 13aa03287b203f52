// Package listener implements Heimdall's UDP and TCP front doors:
// hand-rolled accept/receive loops (there is no dns.Server to delegate
// to, since wire is this module's own codec) that hand each query to a
// resolver.Resolver and write back the serialized response.
package listener

import (
	"context"

	"github.com/heimdall-dns/heimdall/logger"
	"github.com/heimdall-dns/heimdall/resolver"
	"github.com/heimdall-dns/heimdall/wire"
)

var log = logger.With("component", "listener")

// Resolver is the subset of resolver.Resolver a listener depends on,
// narrowed for testability.
type Resolver interface {
	Resolve(ctx context.Context, query *wire.Packet, ci resolver.ClientInfo) (*wire.Packet, error)
}

const defaultMaxConcurrent = 1000

// minMsgSize is the smallest UDP response size guaranteed not to need
// truncation (RFC 1035 §2.3.4), used when a query carries no EDNS0 OPT
// advertising a larger buffer.
const minMsgSize = 512

// maxUDPSize is the largest UDP payload size Heimdall will ever emit,
// even if a client's EDNS0 OPT claims a bigger buffer.
const maxUDPSize = 4096

package cache

import "github.com/heimdall-dns/heimdall/wire"

// classify inspects a resolved response and decides how it should be
// cached: the TTL to store it under, and whether it is a negative
// (NXDOMAIN/NODATA) entry.
func classify(resp *wire.Packet, minTTL, maxTTL, negativeCacheTTL uint32) (ttl uint32, negative, nxdomain, nodata bool) {
	if resp.Header.Rcode == wire.RcodeNameError {
		return clamp(soaMinimum(resp, negativeCacheTTL), minTTL, maxTTL), true, true, false
	}
	if resp.Header.Rcode == wire.RcodeSuccess && len(resp.Answer) == 0 {
		return clamp(soaMinimum(resp, negativeCacheTTL), minTTL, maxTTL), true, false, true
	}
	if len(resp.Answer) == 0 {
		return 0, false, false, false
	}
	min := resp.Answer[0].Header.TTL
	for _, rr := range resp.Answer[1:] {
		if rr.Header.TTL < min {
			min = rr.Header.TTL
		}
	}
	return clamp(min, minTTL, maxTTL), false, false, false
}

// soaMinimum implements RFC 2308: the negative-cache TTL is
// min(SOA-minimum-field, SOA-record-TTL), found by scanning the authority
// section for an SOA record. If none is present, negativeCacheTTL is used
// as a fallback cap.
func soaMinimum(resp *wire.Packet, negativeCacheTTL uint32) uint32 {
	for _, rr := range resp.Ns {
		if soa, ok := rr.Rdata.(*wire.SOARdata); ok {
			ttl := soa.Minimum
			if rr.Header.TTL < ttl {
				ttl = rr.Header.TTL
			}
			if ttl > negativeCacheTTL {
				ttl = negativeCacheTTL
			}
			return ttl
		}
	}
	return negativeCacheTTL
}

func clamp(v, lo, hi uint32) uint32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

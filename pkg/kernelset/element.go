package kernelset

import (
	"net/netip"
	"time"
)

// Element describes a single ban: an address to add to one of the two
// named timed sets, with a saturating millisecond timeout.
type Element struct {
	Table string
	Set   string
	Key   []byte // 4 bytes for IPv4, 16 for IPv6
	// TimeoutMillis is the kernel-side element timeout in milliseconds,
	// already saturated at the uint64 range by NewElement.
	TimeoutMillis uint64
}

// NewElement builds an Element for ip, banned in set within table, for
// the given duration. The duration is converted to milliseconds; see
// pkg/pipeline.banDuration for the separate saturating multiplication
// that produces timeout from recidivism count * base ban time.
func NewElement(table, set string, ip netip.Addr, timeout time.Duration) Element {
	return Element{
		Table:         table,
		Set:           set,
		Key:           ip.AsSlice(),
		TimeoutMillis: durationMillis(timeout),
	}
}

// durationMillis converts a non-negative Duration to milliseconds. A
// time.Duration's range (int64 nanoseconds) converts to milliseconds
// well within uint64, so the only real saturation risk lives upstream in
// the count*base_time multiplication (pkg/pipeline.banDuration); this
// still guards against a negative input reaching the wire as an
// enormous unsigned value.
func durationMillis(d time.Duration) uint64 {
	ms := d.Milliseconds()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

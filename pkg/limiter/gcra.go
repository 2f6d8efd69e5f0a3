// Package limiter implements a keyed generic cell rate algorithm (GCRA)
// rate limiter over arbitrary byte-slice keys.
//
// Unlike a sharded, mutex-guarded limiter, this one assumes a single
// owning goroutine (see floodwatch's single-threaded pipeline) and does
// no internal locking at all.
package limiter

import (
	"time"

	"github.com/cespare/xxhash/v2"
)

// Quota describes an admission budget: burst events may be admitted
// back-to-back, fully replenished over period.
type Quota struct {
	Burst  uint64
	Period time.Duration
}

// emissionInterval is the nanosecond cost of a single admitted event.
func (q Quota) emissionInterval() int64 {
	return int64(q.Period) / int64(q.Burst)
}

// delayTolerance is how far into the future tat may sit before a check
// is denied outright.
func (q Quota) delayTolerance() int64 {
	return int64(q.Period)
}

type entry struct {
	key []byte
	tat int64 // theoretical arrival time, nanoseconds since clockOrigin
}

// KeyedLimiter is a GCRA limiter keyed by raw byte slices, backed by a
// hand-rolled chained hash table (Go's builtin map cannot be keyed by
// []byte directly, and a string([]byte) conversion would force a copy on
// every lookup as well as every insert; here the copy only happens once,
// on insert).
type KeyedLimiter struct {
	quota            Quota
	emissionInterval int64
	delayTolerance   int64

	buckets map[uint64][]entry
	size    int

	initialCapacity int
	nextGCLen       int

	clockOrigin time.Time
}

// NewKeyedLimiter constructs a limiter for the given quota. burst must be
// >= 1 and period > 0; callers are expected to have already handled the
// "burst == 0 means ban on sight, don't construct a limiter at all" case
// (see pkg/pipeline), so this constructor does not special-case it.
func NewKeyedLimiter(quota Quota, initialCapacity int) *KeyedLimiter {
	return &KeyedLimiter{
		quota:            quota,
		emissionInterval: quota.emissionInterval(),
		delayTolerance:   quota.delayTolerance(),
		buckets:          make(map[uint64][]entry, initialCapacity),
		initialCapacity:  initialCapacity,
		nextGCLen:        initialCapacity,
		clockOrigin:      time.Now(),
	}
}

// Check reports whether key is admitted at the current virtual time,
// mutating the key's bucket on admission only. It runs an amortized GC
// pass first if the table has grown past its threshold.
func (l *KeyedLimiter) Check(key []byte) bool {
	l.maybeGC(time.Now())

	t := time.Since(l.clockOrigin).Nanoseconds()
	h := xxhash.Sum64(key)
	chain := l.buckets[h]

	for i := range chain {
		if string(chain[i].key) == string(key) {
			admitted, newTat := l.admit(chain[i].tat, t)
			chain[i].tat = newTat
			return admitted
		}
	}

	// First sighting of this key: its bucket starts fully replenished
	// (tat == 0 <= t), so the first check always admits.
	admitted, newTat := l.admit(0, t)
	owned := append([]byte(nil), key...)
	l.buckets[h] = append(chain, entry{key: owned, tat: newTat})
	l.size++
	return admitted
}

// admit evaluates the GCRA decision for a bucket currently at tat,
// observed at virtual time t, returning whether it's admitted and the
// bucket's new value (unchanged on denial).
func (l *KeyedLimiter) admit(tat, t int64) (admitted bool, newTat int64) {
	if tat <= t {
		return true, t + l.emissionInterval
	}
	if tat-t <= l.delayTolerance-l.emissionInterval {
		return true, tat + l.emissionInterval
	}
	return false, tat
}

// maybeGC removes buckets that are fully replenished at now, once the
// table has grown to nextGCLen entries, then doubles the threshold
// relative to the surviving size (never below initialCapacity). This
// keeps the amortized per-check cost O(1) regardless of how many
// transient keys pass through during a flood.
func (l *KeyedLimiter) maybeGC(now time.Time) {
	if l.size < l.nextGCLen {
		return
	}

	t := now.Sub(l.clockOrigin).Nanoseconds()
	newSize := 0
	for h, chain := range l.buckets {
		kept := chain[:0]
		for _, e := range chain {
			if e.tat > t {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(l.buckets, h)
			continue
		}
		l.buckets[h] = kept
		newSize += len(kept)
	}

	l.size = newSize
	l.nextGCLen = l.initialCapacity
	if doubled := newSize * 2; doubled > l.nextGCLen {
		l.nextGCLen = doubled
	}
}

// Len reports the current number of tracked keys (for metrics/tests).
func (l *KeyedLimiter) Len() int {
	return l.size
}

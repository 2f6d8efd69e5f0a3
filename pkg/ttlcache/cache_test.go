package ttlcache

import (
	"net/netip"
	"testing"
	"time"
)

func addr(s string) netip.Addr {
	a, err := netip.ParseAddr(s)
	if err != nil {
		panic(err)
	}
	return a
}

func TestInsertAndContains(t *testing.T) {
	c := New[int](time.Minute, 0)
	ip := addr("10.0.0.1")

	if c.Contains(ip) {
		t.Fatal("empty cache should not contain anything")
	}

	c.Insert(ip, 1)
	if !c.Contains(ip) {
		t.Fatal("expected entry to be present right after insert")
	}
}

func TestExpiry(t *testing.T) {
	c := New[int](10*time.Millisecond, 0)
	ip := addr("10.0.0.2")

	c.Insert(ip, 1)
	time.Sleep(20 * time.Millisecond)

	if c.Contains(ip) {
		t.Fatal("expected entry to have expired")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry should be evicted by Contains, Len() = %d", c.Len())
	}
}

func TestTTLRefreshedOnInsert(t *testing.T) {
	c := New[int](20*time.Millisecond, 0)
	ip := addr("10.0.0.3")

	c.Insert(ip, 1)
	time.Sleep(12 * time.Millisecond)
	c.Insert(ip, 2) // refresh

	time.Sleep(12 * time.Millisecond)
	v, ok := c.Get(ip)
	if !ok || v != 2 {
		t.Fatalf("expected refreshed entry to still be live with value 2, got (%v, %v)", v, ok)
	}
}

func TestLRUEvictionAtCapacity(t *testing.T) {
	c := New[int](time.Minute, 2)

	a, b, d := addr("10.0.0.1"), addr("10.0.0.2"), addr("10.0.0.3")
	c.Insert(a, 1)
	c.Insert(b, 2)
	c.Get(a) // touch a, making b the LRU victim
	c.Insert(d, 3)

	if c.Contains(b) {
		t.Fatal("expected least-recently-used entry b to be evicted")
	}
	if !c.Contains(a) || !c.Contains(d) {
		t.Fatal("expected a and d to remain after eviction")
	}
}

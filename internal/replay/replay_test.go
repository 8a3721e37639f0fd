package replay

import (
	"net"
	"testing"
)

func addr(s string) net.Addr {
	a, _ := net.ResolveTCPAddr("tcp", s)
	return a
}

func TestCheckAndInsert_FirstSightingIsNotReplay(t *testing.T) {
	f, err := New(8)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var k Key
	k[0] = 1

	first, replay := f.CheckAndInsert(k, addr("10.0.0.1:1234"))
	if replay {
		t.Fatal("first sighting must not be flagged as a replay")
	}
	if first.String() != "10.0.0.1:1234" {
		t.Fatalf("first = %v, want 10.0.0.1:1234", first)
	}
}

func TestCheckAndInsert_SecondSightingIsReplay_KeepsOriginalAddr(t *testing.T) {
	f, _ := New(8)
	var k Key
	k[0] = 2

	f.CheckAndInsert(k, addr("10.0.0.1:1"))
	first, replay := f.CheckAndInsert(k, addr("10.0.0.2:2"))
	if !replay {
		t.Fatal("second sighting of the same key must be flagged as a replay")
	}
	if first.String() != "10.0.0.1:1" {
		t.Fatalf("first = %v, want the original address 10.0.0.1:1", first)
	}
}

func TestCheckAndInsert_DistinctKeysDoNotCollide(t *testing.T) {
	f, _ := New(8)
	var k1, k2 Key
	k1[0], k2[0] = 1, 2

	if _, replay := f.CheckAndInsert(k1, addr("10.0.0.1:1")); replay {
		t.Fatal("k1 first sighting must not be a replay")
	}
	if _, replay := f.CheckAndInsert(k2, addr("10.0.0.2:2")); replay {
		t.Fatal("k2 first sighting must not be a replay")
	}
	if f.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", f.Len())
	}
}

func TestCheckAndInsert_EvictsLeastRecentlyUsedPastCapacity(t *testing.T) {
	f, _ := New(2)
	var k1, k2, k3 Key
	k1[0], k2[0], k3[0] = 1, 2, 3

	f.CheckAndInsert(k1, addr("10.0.0.1:1"))
	f.CheckAndInsert(k2, addr("10.0.0.2:2"))
	f.CheckAndInsert(k3, addr("10.0.0.3:3")) // evicts k1

	if _, replay := f.CheckAndInsert(k1, addr("10.0.0.9:9")); replay {
		t.Fatal("k1 should have been evicted and treated as a fresh sighting")
	}
}

package lockfree

import (
	"sort"
	"sync"
	"testing"

	orderedset "github.com/gaarutyunov/orderedset-go"
)

func TestBasicOperations(t *testing.T) {
	s := New()

	if ok, err := s.Insert(42, 100); err != nil || !ok {
		t.Fatalf("Insert(42, 100) = %v, %v; want true, nil", ok, err)
	}

	if v, ok := s.Find(42); !ok || v != 100 {
		t.Fatalf("Find(42) = %v, %v; want 100, true", v, ok)
	}

	if ok, err := s.Insert(42, 200); err != nil || ok {
		t.Fatalf("duplicate Insert(42, 200) = %v, %v; want false, nil", ok, err)
	}

	if v, ok := s.Find(99); ok {
		t.Fatalf("Find(99) = %v, true; want _, false", v)
	}

	if v, ok := s.Remove(42); !ok || v != 100 {
		t.Fatalf("Remove(42) = %v, %v; want 100, true", v, ok)
	}

	if _, ok := s.Find(42); ok {
		t.Fatalf("Find(42) after remove should fail")
	}
}

func TestInsertRejectsZeroValue(t *testing.T) {
	s := New()
	if _, err := s.Insert(1, 0); err != orderedset.ErrZeroValue {
		t.Fatalf("Insert(1,0) err = %v, want ErrZeroValue", err)
	}
}

// S1 (sequential sanity) from spec.md §8.
func TestScenarioSequentialSanity(t *testing.T) {
	s := New()
	for k := uint64(8); k >= 1; k-- {
		if ok, _ := s.Insert(k, k); !ok {
			t.Fatalf("Insert(%d) failed", k)
		}
	}

	for _, k := range []uint64{5, 3, 2, 1} {
		if _, ok := s.Remove(k); !ok {
			t.Fatalf("Remove(%d) failed", k)
		}
	}

	got := levelZeroKeys(s)
	want := []uint64{4, 6, 7, 8}
	if !equalKeys(got, want) {
		t.Fatalf("level-0 traversal = %v, want %v", got, want)
	}

	if _, ok := s.Find(3); ok {
		t.Fatalf("Find(3) should be absent after remove")
	}
	if v, ok := s.Find(4); !ok || v != 4 {
		t.Fatalf("Find(4) = %v, %v; want 4, true", v, ok)
	}
}

// S2 (duplicate insert).
func TestScenarioDuplicateInsert(t *testing.T) {
	s := New()
	if ok, _ := s.Insert(10, 100); !ok {
		t.Fatalf("first insert should succeed")
	}
	if ok, _ := s.Insert(10, 200); ok {
		t.Fatalf("second insert of same key should fail")
	}
	if v, _ := s.Find(10); v != 100 {
		t.Fatalf("Find(10) = %d, want 100 (first value retained)", v)
	}
}

// S3 (remove missing).
func TestScenarioRemoveMissing(t *testing.T) {
	s := New()
	if v, ok := s.Remove(42); ok || v != 0 {
		t.Fatalf("Remove(42) on empty set = %d, %v; want 0, false", v, ok)
	}
}

// S4 (remove then reinsert).
func TestScenarioRemoveThenReinsert(t *testing.T) {
	s := New()
	s.Insert(5, 1)
	if v, ok := s.Remove(5); !ok || v != 1 {
		t.Fatalf("Remove(5) = %d, %v; want 1, true", v, ok)
	}
	if _, ok := s.Find(5); ok {
		t.Fatalf("Find(5) should fail after remove")
	}
	if ok, _ := s.Insert(5, 2); !ok {
		t.Fatalf("reinsert of 5 should succeed")
	}
	if v, _ := s.Find(5); v != 2 {
		t.Fatalf("Find(5) = %d, want 2", v)
	}
}

func TestMultipleOperations(t *testing.T) {
	s := New()
	const numKeys = 1000
	keys := make([]uint64, numKeys)
	for i := range keys {
		keys[i] = uint64(i * 2)
	}

	for _, k := range keys {
		if ok, _ := s.Insert(k, k+1); !ok {
			t.Fatalf("Insert(%d) failed", k)
		}
	}
	for _, k := range keys {
		if _, ok := s.Find(k); !ok {
			t.Fatalf("Find(%d) should succeed", k)
		}
	}
	for i := 1; i < numKeys*2; i += 2 {
		if _, ok := s.Find(uint64(i)); ok {
			t.Fatalf("Find(%d) should fail (odd key never inserted)", i)
		}
	}

	for i := 0; i < numKeys/2; i++ {
		if _, ok := s.Remove(keys[i]); !ok {
			t.Fatalf("Remove(%d) failed", keys[i])
		}
	}
	for i := 0; i < numKeys/2; i++ {
		if _, ok := s.Find(keys[i]); ok {
			t.Fatalf("Find(%d) should fail after remove", keys[i])
		}
	}
	for i := numKeys / 2; i < numKeys; i++ {
		if _, ok := s.Find(keys[i]); !ok {
			t.Fatalf("Find(%d) should still succeed", keys[i])
		}
	}

	if s.Size() != numKeys/2 {
		t.Fatalf("Size() = %d, want %d", s.Size(), numKeys/2)
	}
}

// S6 (tower check): every live node is reachable at every level below
// its toplevel from head.
func TestScenarioTowerCheck(t *testing.T) {
	s := New()
	for i := uint64(0); i < 2000; i++ {
		s.Insert(i, i+1)
	}
	for i := uint64(0); i < 2000; i += 3 {
		s.Remove(i)
	}

	live := map[*node]bool{}
	for n := s.head.next[0].load().succ; n != nil && !n.isTail; n = n.next[0].load().succ {
		live[n] = true
	}

	for n := range live {
		for lvl := 0; lvl < n.toplevel; lvl++ {
			found := false
			for cur := s.head.next[lvl].load().succ; cur != nil && !cur.isTail; cur = cur.next[lvl].load().succ {
				if cur == n {
					found = true
					break
				}
				if !cur.lessThanKey(n.key) {
					break
				}
			}
			if !found {
				t.Fatalf("node with key %d not reachable at level %d (toplevel %d)", n.key, lvl, n.toplevel)
			}
		}
	}
}

// S5 (concurrent contention), scaled down for a fast unit test run.
func TestScenarioConcurrentContention(t *testing.T) {
	s := New()
	const goroutines = 8
	const opsPerGoroutine = 2000
	const keyRange = 1024

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(seed int) {
			defer wg.Done()
			rngState := uint64(seed*2654435761 + 1)
			next := func(n uint64) uint64 {
				rngState ^= rngState << 13
				rngState ^= rngState >> 7
				rngState ^= rngState << 17
				return rngState % n
			}
			for i := 0; i < opsPerGoroutine; i++ {
				k := next(keyRange)
				switch next(100) {
				case 0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19:
					s.Insert(k, k+1)
				case 20, 21, 22, 23, 24, 25, 26, 27, 28, 29, 30, 31, 32, 33, 34, 35, 36, 37, 38, 39:
					s.Remove(k)
				default:
					s.Find(k)
				}
			}
		}(g + 1)
	}
	wg.Wait()

	got := levelZeroKeys(s)
	for i := 1; i < len(got); i++ {
		if got[i-1] >= got[i] {
			t.Fatalf("level-0 traversal not sorted/unique at index %d: %v", i, got[i-1:i+1])
		}
	}
}

func levelZeroKeys(s *Set) []uint64 {
	var keys []uint64
	for n := s.head.next[0].load().succ; n != nil && !n.isTail; n = n.next[0].load().succ {
		keys = append(keys, n.key)
	}
	return keys
}

func equalKeys(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	sort.Slice(a, func(i, j int) bool { return a[i] < a[j] })
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

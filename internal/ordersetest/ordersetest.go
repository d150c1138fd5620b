// Package ordersetest runs the property table shared by every
// OrderedSet implementation (spec.md §8) against a factory function,
// in the table-driven idiom of the teacher's TestBasicOperations /
// TestEdgeCases and of mattkeenan-zerocopyskiplist's table-style Test
// suite, generalized here to run once per concrete implementation
// rather than once per type.
package ordersetest

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	orderedset "github.com/gaarutyunov/orderedset-go"
)

// Snapshotter is implemented by every concrete set for quiescent
// property verification; it is not part of the public OrderedSet
// interface because it is only safe to call with no concurrent writer.
type Snapshotter interface {
	Snapshot() []uint64
}

// Factory returns a fresh, empty ordered set under test.
type Factory func() orderedset.OrderedSet

// Run exercises the full shared property table against one
// implementation. Call it from a package-level Test function in each
// implementation's own test file, e.g.:
//
//	func TestOrderedSetProperties(t *testing.T) {
//	    ordersetest.Run(t, func() orderedset.OrderedSet { return New() })
//	}
func Run(t *testing.T, newSet Factory) {
	t.Run("DuplicateInsertRejected", func(t *testing.T) { testDuplicateInsertRejected(t, newSet) })
	t.Run("RemoveMissingIsNoop", func(t *testing.T) { testRemoveMissingIsNoop(t, newSet) })
	t.Run("RemoveThenReinsert", func(t *testing.T) { testRemoveThenReinsert(t, newSet) })
	t.Run("FindReflectsLatestWrite", func(t *testing.T) { testFindReflectsLatestWrite(t, newSet) })
	t.Run("ZeroValueRejected", func(t *testing.T) { testZeroValueRejected(t, newSet) })
	t.Run("SizeTracksLiveKeys", func(t *testing.T) { testSizeTracksLiveKeys(t, newSet) })
	t.Run("SnapshotIsSortedAndUnique", func(t *testing.T) { testSnapshotIsSortedAndUnique(t, newSet) })
	t.Run("NoLostUpdatesUnderConcurrency", func(t *testing.T) { testNoLostUpdatesUnderConcurrency(t, newSet) })
}

func testDuplicateInsertRejected(t *testing.T, newSet Factory) {
	s := newSet()
	ok, err := s.Insert(7, 1)
	require.NoError(t, err)
	require.True(t, ok, "first insert of a fresh key should succeed")

	ok, err = s.Insert(7, 2)
	require.NoError(t, err)
	require.False(t, ok, "inserting an existing key should be rejected")

	v, found := s.Find(7)
	require.True(t, found)
	require.Equal(t, uint64(1), v, "first value should be retained")
}

func testRemoveMissingIsNoop(t *testing.T, newSet Factory) {
	s := newSet()
	v, ok := s.Remove(123)
	require.False(t, ok)
	require.Zero(t, v)
}

func testRemoveThenReinsert(t *testing.T, newSet Factory) {
	s := newSet()
	s.Insert(3, 10)

	v, ok := s.Remove(3)
	require.True(t, ok)
	require.Equal(t, uint64(10), v)

	_, found := s.Find(3)
	require.False(t, found, "key should be absent between remove and reinsert")

	ok, err := s.Insert(3, 20)
	require.NoError(t, err)
	require.True(t, ok)

	v, _ = s.Find(3)
	require.Equal(t, uint64(20), v)
}

func testFindReflectsLatestWrite(t *testing.T, newSet Factory) {
	s := newSet()
	for i := uint64(0); i < 200; i++ {
		s.Insert(i, i+1)
	}
	for i := uint64(0); i < 200; i += 2 {
		s.Remove(i)
	}
	for i := uint64(0); i < 200; i++ {
		v, ok := s.Find(i)
		if i%2 == 0 {
			if ok {
				t.Fatalf("Find(%d) should fail, even keys were removed", i)
			}
		} else if !ok || v != i+1 {
			t.Fatalf("Find(%d) = %d, %v; want %d, true", i, v, ok, i+1)
		}
	}
}

func testZeroValueRejected(t *testing.T, newSet Factory) {
	s := newSet()
	_, err := s.Insert(1, 0)
	require.ErrorIs(t, err, orderedset.ErrZeroValue)
}

func testSizeTracksLiveKeys(t *testing.T, newSet Factory) {
	s := newSet()
	const n = 300
	for i := uint64(0); i < n; i++ {
		s.Insert(i, i+1)
	}
	require.Equal(t, n, s.Size())

	for i := uint64(0); i < n/3; i++ {
		s.Remove(i)
	}
	require.Equal(t, n-n/3, s.Size())
}

func testSnapshotIsSortedAndUnique(t *testing.T, newSet Factory) {
	s := newSet()
	snap, ok := s.(Snapshotter)
	if !ok {
		t.Fatalf("%T does not implement Snapshotter", s)
	}
	keys := []uint64{50, 10, 90, 30, 70, 20, 60, 40, 80}
	for _, k := range keys {
		s.Insert(k, k+1)
	}
	s.Remove(30)
	s.Remove(70)

	got := snap.Snapshot()
	want := []uint64{10, 20, 40, 50, 60, 80, 90}
	if len(got) != len(want) {
		t.Fatalf("Snapshot() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Snapshot() = %v, want %v", got, want)
		}
	}
	if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }) {
		t.Fatalf("Snapshot() not sorted: %v", got)
	}
}

// Property 7: concurrent inserts of disjoint keys never lose an
// update, matching the teacher's TestConcurrentOperations /
// TestConcurrentModificationABA quiescent-check style.
func testNoLostUpdatesUnderConcurrency(t *testing.T, newSet Factory) {
	s := newSet()
	const goroutines = 16
	const perGoroutine = 200

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for i := uint64(0); i < perGoroutine; i++ {
				key := base*perGoroutine + i
				if ok, err := s.Insert(key, key+1); err != nil || !ok {
					t.Errorf("Insert(%d) = %v, %v; want true, nil", key, ok, err)
				}
			}
		}(uint64(g))
	}
	wg.Wait()

	if want := goroutines * perGoroutine; s.Size() != want {
		t.Fatalf("Size() = %d, want %d", s.Size(), want)
	}
	for g := 0; g < goroutines; g++ {
		for i := uint64(0); i < perGoroutine; i++ {
			key := uint64(g)*perGoroutine + i
			if v, ok := s.Find(key); !ok || v != key+1 {
				t.Fatalf("Find(%d) = %d, %v; want %d, true", key, v, ok, key+1)
			}
		}
	}
}

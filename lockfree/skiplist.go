// Package lockfree implements a fully non-blocking skip list ordered
// set, following Fraser's marked-pointer design as refined by Herlihy,
// Lev & Shavit (component C6 of the design). Deletion proceeds by
// marking a node's own forward pointers top-down, then physically
// unlinking it; readers never retry due to a writer, only due to a
// failed physical-unlink CAS they help complete.
//
// Grounded on ASCYLIB's herlihy.c (fraser_search, fraser_search_no_cleanup,
// fraser_find, fraser_insert, fraser_remove, mark_node_ptrs) and on the
// teacher repo's atomic.Pointer-based node/CAS traversal, generalized
// from a string-keyed x-fast-trie skip list to a plain integer-keyed
// ordered set.
package lockfree

import (
	"sync/atomic"
	"unsafe"

	orderedset "github.com/gaarutyunov/orderedset-go"
	"github.com/gaarutyunov/orderedset-go/internal/reclaim"
	"github.com/gaarutyunov/orderedset-go/internal/xrand"
)

// Set is a lock-free ordered set of uint64 keys mapped to non-zero
// uint64 values.
type Set struct {
	head, tail *node
	height     int // levelmax: fixed at construction, never mutated after

	levelGen *xrand.LevelGen
	reclaim  reclaim.Reclaimer

	size atomic.Int64
}

// New returns an empty lock-free ordered set whose towers may grow up
// to orderedset.MaxLevel.
func New() *Set {
	return NewWithHeight(orderedset.MaxLevel)
}

// NewWithHeight returns an empty lock-free ordered set whose towers may
// grow up to height levels. height is fixed for the lifetime of the
// set, matching spec.md's treatment of levelmax as an immutable,
// process-wide constant read by every operation.
func NewWithHeight(height int) *Set {
	if height < 1 {
		height = 1
	}
	s := &Set{
		head:     newSentinel(true, height),
		tail:     newSentinel(false, height),
		height:   height,
		levelGen: xrand.NewLevelGen(height),
		reclaim:  reclaim.NewEpoch(nil),
	}
	for i := 0; i < height; i++ {
		s.head.next[i].store(&markBox{succ: s.tail})
		// tail has no successor, but every traversal reads a node's
		// own next box before checking whether that node is the tail
		// sentinel, so tail's boxes must exist even though .succ is
		// never followed past it.
		s.tail.next[i].store(&markBox{succ: nil})
	}
	return s
}

// search performs a cleanup traversal: while descending, marked
// successors are helped along by CAS-ing them out of the chain. It
// restarts from the top whenever a helping CAS loses a race, matching
// fraser_search.
func (s *Set) search(key uint64) (preds, succs []*node, found bool) {
	preds = make([]*node, s.height)
	succs = make([]*node, s.height)

retry:
	left := s.head
	var right *node
	for i := s.height - 1; i >= 0; i-- {
		leftBox := left.next[i].load()
		if leftBox.marked {
			goto retry
		}
		right = leftBox.succ
		for {
			rightBox := right.next[i].load()
			for rightBox.marked {
				right = rightBox.succ
				rightBox = right.next[i].load()
			}
			if !right.lessThanKey(key) {
				break
			}
			left = right
			leftBox = rightBox
			right = leftBox.succ
		}
		if leftBox.succ != right {
			if !left.next[i].compareAndSwap(leftBox, &markBox{succ: right}) {
				goto retry
			}
		}
		preds[i] = left
		succs[i] = right
	}
	return preds, succs, right.matchesKey(key)
}

// searchNoCleanup performs the same descent without ever CAS-ing: used
// by writers to find placement before they commit, matching
// fraser_search_no_cleanup.
func (s *Set) searchNoCleanup(key uint64) (preds, succs []*node, found bool) {
	preds = make([]*node, s.height)
	succs = make([]*node, s.height)

	left := s.head
	var right *node
	for i := s.height - 1; i >= 0; i-- {
		right = left.next[i].load().succ
		for {
			rightBox := right.next[i].load()
			if !rightBox.marked {
				if !right.lessThanKey(key) {
					break
				}
				left = right
			}
			right = rightBox.succ
		}
		preds[i] = left
		succs[i] = right
	}
	return preds, succs, right.matchesKey(key)
}

// leftSearch is a distinct, cleanup-free left-search used only by Find:
// it tracks a single running predecessor rather than a full preds/succs
// pair, matching fraser_left_search.
func (s *Set) leftSearch(key uint64) *node {
	leftPrev := s.head
	var left *node
	for i := s.height - 1; i >= 0; i-- {
		left = leftPrev.next[i].load().succ
		for {
			lb := left.next[i].load()
			if left.lessThanKey(key) || lb.marked {
				if !lb.marked {
					leftPrev = left
				}
				left = lb.succ
				continue
			}
			break
		}
		if left.matchesKey(key) {
			break
		}
	}
	return left
}

// Find performs a cleanup-free left-search and returns the node's value
// if the key matches. It is wait-free: it never performs a CAS and
// never waits on any other operation, though it may momentarily observe
// a node that a concurrent Remove has marked at a higher level but not
// yet at level 0 — per spec.md's open question, this is accepted as
// linearizable, since the remove's linearization point is the level-0
// mark and this Find's read orders before it.
func (s *Set) Find(key uint64) (uint64, bool) {
	exit := s.reclaim.Enter()
	defer exit()

	n := s.leftSearch(key)
	if n.matchesKey(key) {
		return n.val, true
	}
	return 0, false
}

// markNodePtrs marks n's forward pointers top-down, one CAS per level,
// retrying a level's CAS until it either succeeds or observes the
// level already marked by a concurrent racer. It returns whether this
// call performed the level-0 mark — the defining moment of a successful
// logical delete — matching mark_node_ptrs.
func markNodePtrs(n *node) bool {
	mine := false
	for i := n.toplevel - 1; i >= 0; i-- {
		for {
			box := n.next[i].load()
			if box.marked {
				mine = false
				break
			}
			if n.next[i].compareAndSwap(box, &markBox{succ: box.succ, marked: true}) {
				mine = true
				break
			}
		}
	}
	return mine
}

// Insert adds key/val if no live node with key exists.
func (s *Set) Insert(key, val uint64) (bool, error) {
	if val == 0 {
		return false, orderedset.ErrZeroValue
	}

	exit := s.reclaim.Enter()
	defer exit()

	h := s.levelGen.Next()
	var n *node

retry:
	preds, succs, found := s.searchNoCleanup(key)
	if found {
		return false, nil
	}

	if n == nil {
		n = newNode(key, val, h)
	}
	for i := 0; i < h; i++ {
		n.next[i].store(&markBox{succ: succs[i]})
	}

	predBox0 := preds[0].next[0].load()
	if predBox0.succ != succs[0] || predBox0.marked {
		goto retry
	}
	if !preds[0].next[0].compareAndSwap(predBox0, &markBox{succ: n}) {
		goto retry
	}
	s.size.Add(1)

	for i := 1; i < h; i++ {
		for {
			nBox := n.next[i].load()
			if nBox.marked {
				// A concurrent Remove already marked our node before
				// we finished linking it; the remover's cleanup pass
				// will finish unlinking the levels we never reached.
				return true, nil
			}
			pred := preds[i]
			succ := succs[i]
			predBox := pred.next[i].load()
			if predBox.succ == succ && !predBox.marked && pred.next[i].compareAndSwap(predBox, &markBox{succ: n}) {
				break
			}
			preds, succs, _ = s.search(key)
		}
	}
	return true, nil
}

// Remove deletes the live node with key, if any.
func (s *Set) Remove(key uint64) (uint64, bool) {
	exit := s.reclaim.Enter()
	defer exit()

	_, succs, found := s.searchNoCleanup(key)
	if !found {
		return 0, false
	}

	nodeDel := succs[0]
	if !markNodePtrs(nodeDel) {
		return 0, false
	}

	result := nodeDel.val
	s.search(key) // physically unlink the now-fully-marked node
	s.reclaim.Retire(unsafe.Pointer(nodeDel))
	s.reclaim.TryAdvance() // bound trash growth; opportunistic, not required per retire
	s.size.Add(-1)
	return result, true
}

// Size returns an approximate count maintained by an atomic counter
// bumped around each successful Insert/Remove; under concurrent
// mutation it may be stale by the time the caller observes it.
func (s *Set) Size() int {
	return int(s.size.Load())
}

// Snapshot performs a quiescent level-0 traversal and returns every
// live key in ascending order, skipping any node still marked for
// deletion; callers must ensure no concurrent writer is active.
func (s *Set) Snapshot() []uint64 {
	var keys []uint64
	for n := s.head.next[0].load().succ; n != nil && !n.isTail; n = n.next[0].load().succ {
		if !n.next[0].load().marked {
			keys = append(keys, n.key)
		}
	}
	return keys
}

// Destroy releases the set's sentinels. After Destroy, further
// operations on s are undefined.
func (s *Set) Destroy() {
	s.head = nil
	s.tail = nil
}

var _ orderedset.OrderedSet = (*Set)(nil)

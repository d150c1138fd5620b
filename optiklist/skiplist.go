package optiklist

import (
	"sync/atomic"
	"unsafe"

	orderedset "github.com/gaarutyunov/orderedset-go"
	"github.com/gaarutyunov/orderedset-go/internal/reclaim"
	"github.com/gaarutyunov/orderedset-go/internal/xlog"
	"github.com/gaarutyunov/orderedset-go/internal/xrand"
)

// Set is an optimistic-lock skip list ordered set: Find is lock-free
// and checks only the found node's state; Insert and Remove lock
// only the predecessors (and, for Remove, the target node) they touch.
type Set struct {
	head, tail *node
	height     int

	levelGen *xrand.LevelGen
	reclaim  reclaim.Reclaimer

	size atomic.Int64
}

// New returns an empty optiklist ordered set whose towers may grow up
// to orderedset.MaxLevel.
func New() *Set {
	return NewWithHeight(orderedset.MaxLevel)
}

// NewWithHeight returns an empty optiklist ordered set capped at height
// levels.
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
		s.head.next[i].store(s.tail)
	}
	return s
}

// search descends the tower capturing, for every level, the predecessor
// node, its successor, and the version the predecessor's lock carried
// at the moment it was read — used by Insert/Remove to detect whether
// the structure changed between search and lock acquisition. Grounded
// on sl_optik_search: pred and its captured version persist across
// levels, advancing only rightward, never resetting to head.
func (s *Set) search(key uint64) (preds, succs []*node, predVersions []uint64, found *node, foundVersion uint64) {
	preds = make([]*node, s.height)
	succs = make([]*node, s.height)
	predVersions = make([]uint64, s.height)

restart:
	pred := s.head
	predv := pred.lock.Read()
	for i := s.height - 1; i >= 0; i-- {
		curr := pred.next[i].load()
		currv := curr.lock.Read()
		for curr.lessThanKey(key) {
			predv = currv
			pred = curr
			curr = pred.next[i].load()
			currv = curr.lock.Read()
		}
		if pred.getState() == stateUnlinked {
			goto restart
		}
		preds[i] = pred
		succs[i] = curr
		predVersions[i] = predv
		if curr.matchesKey(key) {
			found = curr
			foundVersion = currv
		}
	}
	return preds, succs, predVersions, found, foundVersion
}

// leftSearch is Find's lock-free descent: it never captures a version
// or a predecessor, only the candidate node itself, matching
// sl_optik_left_search.
func (s *Set) leftSearch(key uint64) *node {
	pred := s.head
	for i := s.height - 1; i >= 0; i-- {
		curr := pred.next[i].load()
		for curr.lessThanKey(key) {
			pred = curr
			curr = pred.next[i].load()
		}
		if curr.matchesKey(key) {
			return curr
		}
	}
	return nil
}

// Find performs a lock-free descent and accepts the result only if the
// node is currently valid; a node mid-insert (linking) or mid-delete
// (unlinking/unlinked) is treated as absent, matching sl_optik_find's
// node_is_valid check.
func (s *Set) Find(key uint64) (uint64, bool) {
	exit := s.reclaim.Enter()
	defer exit()

	n := s.leftSearch(key)
	if n != nil && n.getState() == stateValid {
		return n.val, true
	}
	return 0, false
}

// unlockLevelsDown releases preds[high..low] (descending), skipping a
// predecessor shared by the adjacent level above it, bumping each
// lock's version to publish the change to readers.
func unlockLevelsDown(preds []*node, low, high int) {
	var prev *node
	for i := high; i >= low; i-- {
		if prev != preds[i] {
			preds[i].lock.Unlock()
		}
		prev = preds[i]
	}
}

// unlockLevelsDownNoBump is unlockLevelsDown for an aborted attempt:
// the predecessor was locked but nothing under it changed, so the
// version is released unchanged rather than bumped — a refinement over
// skiplist-optik.c, which bumps unconditionally even on abort.
func unlockLevelsDownNoBump(preds []*node, low, high int) {
	var prev *node
	for i := high; i >= low; i-- {
		if prev != preds[i] {
			preds[i].lock.UnlockNoBump()
		}
		prev = preds[i]
	}
}

// Insert adds key/val if no live node with key exists.
func (s *Set) Insert(key, val uint64) (bool, error) {
	if val == 0 {
		return false, orderedset.ErrZeroValue
	}

	exit := s.reclaim.Enter()
	defer exit()

	toplevel := s.levelGen.Next()
	insertedUpto := 0
	var n *node
	backoff := xrand.New()

restart:
	preds, succs, predVersions, found, _ := s.search(key)
	if found != nil && insertedUpto == 0 {
		if found.getState() == stateValid {
			return false, nil
		}
		// A node with this key is still mid-insert (linking) or
		// mid-delete (unlinking); pause and search again until it is
		// valid or gone.
		xlog.Retry("insert", "node", key)
		backoff.Pause()
		goto restart
	}

	if n == nil {
		n = newNode(key, val, toplevel)
	}

	var predPrev *node
	for i := insertedUpto; i < toplevel; i++ {
		pred := preds[i]
		if predPrev != pred {
			if _, fresh := pred.lock.LockVersion(predVersions[i]); !fresh {
				succ := succs[i]
				if pred.getState() == stateUnlinking || succ.getState() == stateUnlinking || pred.next[i].load() != succ {
					// Levels below i already link n, so their
					// predecessors changed and are released with a
					// version bump; preds[i] itself is unchanged.
					pred.lock.UnlockNoBump()
					unlockLevelsDown(preds, insertedUpto, i-1)
					insertedUpto = i
					xlog.Retry("insert", "pred", key)
					backoff.Pause()
					goto restart
				}
			}
		}
		n.next[i].store(pred.next[i].load())
		pred.next[i].store(n)
		predPrev = pred
	}

	n.setState(stateValid)
	unlockLevelsDown(preds, insertedUpto, toplevel-1)
	s.size.Add(1)
	return true, nil
}

// Remove deletes the live node with key, if any.
func (s *Set) Remove(key uint64) (uint64, bool) {
	exit := s.reclaim.Enter()
	defer exit()

	myDelete := false
	backoff := xrand.New()

restart:
	preds, _, predVersions, found, foundVersion := s.search(key)
	if found == nil {
		return 0, false
	}

	if !myDelete {
		switch found.getState() {
		case stateUnlinking:
			return 0, false
		case stateLinking:
			xlog.Retry("remove", "node", key)
			backoff.Pause()
			goto restart
		}

		if _, fresh := found.lock.LockVersion(foundVersion); !fresh {
			if found.getState() == stateUnlinking {
				found.lock.UnlockNoBump()
				return 0, false
			}
			found.lock.UnlockNoBump()
			xlog.Retry("remove", "node", key)
			backoff.Pause()
			goto restart
		}
		found.setState(stateUnlinking)
	}
	myDelete = true

	toplevel := found.toplevel
	var predPrev *node
	for i := 0; i < toplevel; i++ {
		pred := preds[i]
		if predPrev != pred {
			if _, fresh := pred.lock.LockVersion(predVersions[i]); !fresh {
				unlockLevelsDownNoBump(preds, 0, i)
				xlog.Retry("remove", "pred", key)
				backoff.Pause()
				goto restart
			}
		}
		predPrev = pred
	}

	for i := toplevel - 1; i >= 0; i-- {
		preds[i].next[i].store(found.next[i].load())
	}

	result := found.val
	found.setState(stateUnlinked)
	found.lock.Unlock()
	unlockLevelsDown(preds, 0, toplevel-1)

	s.reclaim.Retire(unsafe.Pointer(found))
	s.reclaim.TryAdvance() // bound trash growth; opportunistic, not required per retire
	s.size.Add(-1)
	return result, true
}

// Size returns an approximate count maintained by an atomic counter.
func (s *Set) Size() int {
	return int(s.size.Load())
}

// Snapshot performs a quiescent level-0 traversal and returns every
// valid key in ascending order; callers must ensure no concurrent
// writer is active, since it does not validate versions.
func (s *Set) Snapshot() []uint64 {
	var keys []uint64
	for n := s.head.next[0].load(); n != nil && !n.isTail; n = n.next[0].load() {
		if n.getState() == stateValid {
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

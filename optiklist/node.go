// Package optiklist implements the optimistic-lock skip list
// (component C7): a fine-grained, per-node-locked skip list in which
// readers never block or take a lock: Find accepts a node only if its
// state is valid, while writers validate the OPTIK versions their
// search captured when they lock a predecessor.
//
// Grounded on ASCYLIB's skiplist-optik.c (sl_optik_search,
// sl_optik_left_search, sl_optik_insert, sl_optik_delete,
// unlock_levels_down) and on azr-lockfree's coalesced predecessor
// locking (skip re-locking a predecessor shared by adjacent levels).
// The original's separate `(marked, fullylinked)` booleans on a node,
// checked via node_is_valid/node_is_unlinking/node_is_linking macros,
// are unified here into a single state field with four values —
// linking, valid, unlinking, unlinked — per spec.md's Design Notes,
// which gives each node one authoritative lifecycle value instead of
// four representable-but-meaningless flag combinations.
package optiklist

import (
	"sync/atomic"

	"github.com/gaarutyunov/orderedset-go/internal/optik"
)

type nodeState int32

const (
	stateLinking nodeState = iota
	stateValid
	stateUnlinking
	stateUnlinked
)

// link is a node's atomic per-level successor pointer. Unlike lockfree's
// markBox, no mark bit travels alongside it: deletion here is signaled
// by the node's own state field under its lock, not by tagging the
// pointer, so a plain atomic.Pointer suffices.
type link struct {
	ptr atomic.Pointer[node]
}

func (l *link) load() *node   { return l.ptr.Load() }
func (l *link) store(n *node) { l.ptr.Store(n) }

// node is one optiklist node, guarded by its own OPTIK lock for writes
// and a state machine readers use to validate a lock-free Find.
type node struct {
	key uint64
	val uint64

	isHead, isTail bool

	toplevel int
	next     []link

	lock  optik.Lock
	state atomic.Int32
}

func (n *node) getState() nodeState  { return nodeState(n.state.Load()) }
func (n *node) setState(s nodeState) { n.state.Store(int32(s)) }

func (n *node) lessThanKey(key uint64) bool {
	if n.isHead {
		return true
	}
	if n.isTail {
		return false
	}
	return n.key < key
}

func (n *node) matchesKey(key uint64) bool {
	return !n.isHead && !n.isTail && n.key == key
}

// newNode returns an ordinary node in the linking state: it becomes
// reachable from its predecessors' next pointers before Insert marks it
// valid, matching the original's "insert links, then set_valid" order.
func newNode(key, val uint64, toplevel int) *node {
	n := &node{
		key:      key,
		val:      val,
		toplevel: toplevel,
		next:     make([]link, toplevel),
	}
	n.setState(stateLinking)
	return n
}

// newSentinel returns a head or tail sentinel, always valid.
func newSentinel(isHead bool, toplevel int) *node {
	n := &node{
		isHead:   isHead,
		isTail:   !isHead,
		toplevel: toplevel,
		next:     make([]link, toplevel),
	}
	n.setState(stateValid)
	return n
}

// Package bst implements the partially external relaxed-balance binary
// search tree (component C8): every empty child position is a real
// external sentinel node rather than a nil pointer, so insert/remove
// can latch-couple down to the exact slot being changed the way a
// skip list couples predecessor locks.
//
// No original C source for bst-lock2 survived retrieval beyond its
// test driver (igor_test.c, which fixes the S1 sequential scenario
// this package's tests reproduce); the traversal and locking style is
// grounded instead on bobboyms-storage-engine's B+-tree latch crabbing
// (lock the child, then release the parent — "solta o pai, mantém o
// filho") adapted from page latches to per-node optimistic version
// locks from internal/optik, and on spec.md's own description of
// Bronson-style optimistic hand-over-hand validation.
package bst

import (
	"sync/atomic"

	"github.com/gaarutyunov/orderedset-go/internal/optik"
)

// node is one BST position. isLeaf marks an external sentinel standing
// in for an empty subtree; it carries no key or value and is never
// mutated once constructed — only its parent's child pointer ever
// changes, the way a skip list's nodes are never mutated, only
// unlinked.
type node struct {
	key    uint64
	val    uint64
	isLeaf bool

	left, right atomic.Pointer[node]
	parent      atomic.Pointer[node]
	height      atomic.Int32 // relaxed AVL height hint, lazily maintained

	lock    optik.Lock
	removed atomic.Bool
}

func newLeaf() *node {
	return &node{isLeaf: true}
}

// newInternal returns a fresh internal node with two leaf children.
func newInternal(key, val uint64) *node {
	n := &node{key: key, val: val}
	left, right := newLeaf(), newLeaf()
	n.left.Store(left)
	n.right.Store(right)
	left.parent.Store(n)
	right.parent.Store(n)
	n.height.Store(1)
	return n
}

// newInternalWithChildren returns a fresh internal node adopting two
// existing subtrees, used when a two-child removal replaces a node
// rather than mutating its key/val in place (node contents stay
// immutable for the node's lifetime, matching lockfree and optiklist).
func newInternalWithChildren(key, val uint64, left, right *node) *node {
	n := &node{key: key, val: val}
	n.left.Store(left)
	n.right.Store(right)
	n.recomputeHeight()
	return n
}

func (n *node) lockUnconditional() {
	n.lock.LockVersion(n.lock.Read())
}

func (n *node) balanceFactor() int {
	return int(n.left.Load().height.Load()) - int(n.right.Load().height.Load())
}

func (n *node) recomputeHeight() {
	lh := n.left.Load().height.Load()
	rh := n.right.Load().height.Load()
	h := lh
	if rh > h {
		h = rh
	}
	n.height.Store(h + 1)
}

func replaceChild(parent *node, fromLeft bool, child *node) {
	if fromLeft {
		parent.left.Store(child)
	} else {
		parent.right.Store(child)
	}
}

// Package optik implements the versioned lock ("OPTIK") described in
// Trigonakis & David's optimistic-lock skip list: a single machine word
// combining a lock bit with a monotonic version counter, letting
// lock-free readers detect a concurrent writer without ever acquiring
// the lock themselves.
//
// Grounded on ASCYLIB's skiplist-optik.c (optik_lock_version,
// optik_unlock) and generalized from the original's inline-asm CAS to
// sync/atomic.
package optik

import "sync/atomic"

const lockedBit uint64 = 1

// Lock is a single-word versioned lock. The zero value is a valid,
// unlocked lock at version 0.
type Lock struct {
	word atomic.Uint64
}

// Read observes the current version. The result is not ordered with
// respect to the data the lock protects: callers must re-read the
// protected fields and verify the version (and lock bit) are unchanged
// before trusting what they read.
func (l *Lock) Read() uint64 {
	return l.word.Load() &^ lockedBit
}

// IsLocked reports whether the lock is currently held.
func (l *Lock) IsLocked() bool {
	return l.word.Load()&lockedBit != 0
}

// ReadIfUnlocked returns the current version and true if the lock is
// currently free. Read alone cannot back a lock-free validation scheme:
// it unconditionally masks out the lock bit, so a writer's critical
// section and a stable unlocked read at the same version are
// indistinguishable. A lock-free reader must sample with
// ReadIfUnlocked both before and after dereferencing the data the lock
// protects, and restart unless both samples report unlocked=true at the
// same version — matching ASCYLIB's IS_LOCKED check alongside the
// version compare.
func (l *Lock) ReadIfUnlocked() (version uint64, unlocked bool) {
	w := l.word.Load()
	return w &^ lockedBit, w&lockedBit == 0
}

// LockVersion spin-acquires the lock, unconditionally, and reports
// whether the version observed at acquisition time equals v. When
// fresh is false the caller's cached reads made under the stale
// version must be revalidated before they are trusted; the lock is
// held either way.
func (l *Lock) LockVersion(v uint64) (acquired, fresh bool) {
	for {
		cur := l.word.Load()
		if cur&lockedBit != 0 {
			continue
		}
		if l.word.CompareAndSwap(cur, cur|lockedBit) {
			return true, cur == v
		}
	}
}

// TryLockVersion makes a single, non-spinning attempt to acquire the
// lock. It reports acquired=false immediately on contention instead of
// spinning, for callers that prefer to back off and retry the whole
// traversal rather than busy-wait on a single node.
func (l *Lock) TryLockVersion(v uint64) (acquired, fresh bool) {
	cur := l.word.Load()
	if cur&lockedBit != 0 {
		return false, false
	}
	if !l.word.CompareAndSwap(cur, cur|lockedBit) {
		return false, false
	}
	return true, cur == v
}

// Unlock releases the lock and bumps the version. The caller must hold
// the lock.
func (l *Lock) Unlock() {
	cur := l.word.Load()
	next := (cur &^ lockedBit) + 2 // clear lock bit, bump version by one (version lives in bits [1:])
	l.word.Store(next)
}

// UnlockNoBump releases the lock without changing the version, used
// when a critical section aborts without mutating the protected node.
func (l *Lock) UnlockNoBump() {
	cur := l.word.Load()
	l.word.Store(cur &^ lockedBit)
}

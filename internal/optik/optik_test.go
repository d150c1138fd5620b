package optik

import (
	"sync"
	"testing"
)

func TestLockVersionFreshness(t *testing.T) {
	var l Lock

	v0 := l.Read()
	acquired, fresh := l.LockVersion(v0)
	if !acquired || !fresh {
		t.Fatalf("first lock: acquired=%v fresh=%v, want true,true", acquired, fresh)
	}
	l.Unlock()

	v1 := l.Read()
	if v1 == v0 {
		t.Fatalf("version did not change after unlock: %d", v1)
	}

	// Locking with the stale version must report fresh=false.
	acquired, fresh = l.LockVersion(v0)
	if !acquired {
		t.Fatalf("second lock should still acquire")
	}
	if fresh {
		t.Fatalf("locking with stale version reported fresh=true")
	}
	l.UnlockNoBump()

	if l.Read() != v1 {
		t.Fatalf("UnlockNoBump changed the version: got %d, want %d", l.Read(), v1)
	}
}

func TestReadIfUnlockedReflectsLockState(t *testing.T) {
	var l Lock

	v0, ok := l.ReadIfUnlocked()
	if !ok {
		t.Fatalf("fresh lock should report unlocked")
	}
	if v0 != l.Read() {
		t.Fatalf("ReadIfUnlocked version = %d, want %d", v0, l.Read())
	}

	l.LockVersion(v0)
	if _, ok := l.ReadIfUnlocked(); ok {
		t.Fatalf("held lock should report unlocked=false, even though Read() masks the lock bit: Read()=%d", l.Read())
	}

	l.Unlock()
	v1, ok := l.ReadIfUnlocked()
	if !ok {
		t.Fatalf("lock should report unlocked after Unlock")
	}
	if v1 == v0 {
		t.Fatalf("version did not change after unlock: %d", v1)
	}
}

func TestTryLockVersionContention(t *testing.T) {
	var l Lock
	v := l.Read()

	acquired, _ := l.TryLockVersion(v)
	if !acquired {
		t.Fatalf("expected uncontended TryLockVersion to succeed")
	}

	if acquired, _ := l.TryLockVersion(v); acquired {
		t.Fatalf("TryLockVersion should fail while already locked")
	}

	l.Unlock()
}

func TestLockSerializesConcurrentBumps(t *testing.T) {
	var l Lock
	var wg sync.WaitGroup
	const n = 200

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				v := l.Read()
				if acquired, _ := l.LockVersion(v); acquired {
					l.Unlock()
					return
				}
			}
		}()
	}
	wg.Wait()

	if l.IsLocked() {
		t.Fatalf("lock left held after all goroutines completed")
	}
}

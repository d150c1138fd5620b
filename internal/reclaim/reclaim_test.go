package reclaim

import (
	"sync"
	"testing"
	"unsafe"
)

func TestEpochRetireEventuallyFreed(t *testing.T) {
	var freed []unsafe.Pointer
	var mu sync.Mutex
	e := NewEpoch(func(p unsafe.Pointer) {
		mu.Lock()
		freed = append(freed, p)
		mu.Unlock()
	})

	x := new(int)
	ptr := unsafe.Pointer(x)
	e.Retire(ptr)

	for i := 0; i < 5; i++ {
		e.TryAdvance()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(freed) != 1 || freed[0] != ptr {
		t.Fatalf("expected ptr to be freed after epochs advance, got %v", freed)
	}
}

func TestEpochDoesNotFreeWhileReaderActive(t *testing.T) {
	var freed []unsafe.Pointer
	var mu sync.Mutex
	e := NewEpoch(func(p unsafe.Pointer) {
		mu.Lock()
		freed = append(freed, p)
		mu.Unlock()
	})

	exit := e.Enter()
	x := new(int)
	e.Retire(unsafe.Pointer(x))

	for i := 0; i < 5; i++ {
		e.TryAdvance()
	}

	mu.Lock()
	if len(freed) != 0 {
		mu.Unlock()
		t.Fatalf("pointer freed while reader still active in its epoch")
	}
	mu.Unlock()

	exit()
	for i := 0; i < 5; i++ {
		e.TryAdvance()
	}

	mu.Lock()
	defer mu.Unlock()
	if len(freed) != 1 {
		t.Fatalf("expected pointer freed after reader exited, got %d freed", len(freed))
	}
}

func TestLeakyNeverFrees(t *testing.T) {
	l := NewLeaky()
	exit := l.Enter()
	defer exit()
	l.Retire(unsafe.Pointer(new(int)))
	l.TryAdvance()
}

// Command igorbench is the CLI benchmark harness for the three
// OrderedSet implementations, matching spec.md §6's `-d`, `-i`, `-r`,
// `-u`, `-n`, `-s` surface. No third-party CLI framework appears in
// the retrieval pack's retained code (see DESIGN.md), so flag parsing
// uses the standard library, following april2546-OwlDB's main.go
// (flag.String/flag.Int + flag.Parse, validated then used directly).
package main

import (
	"flag"
	"math/rand"
	"os"
	"sync"
	"sync/atomic"
	"time"

	orderedset "github.com/gaarutyunov/orderedset-go"
	"github.com/gaarutyunov/orderedset-go/bst"
	"github.com/gaarutyunov/orderedset-go/internal/xlog"
	"github.com/gaarutyunov/orderedset-go/lockfree"
	"github.com/gaarutyunov/orderedset-go/optiklist"
)

func main() {
	durationMS := flag.Int("d", 1000, "benchmark duration in milliseconds")
	initialSize := flag.Int("i", 1000, "number of keys to pre-populate before the timed run")
	keyRange := flag.Int("r", 2000, "key range [0, r)")
	updatePercent := flag.Int("u", 20, "percentage of operations that are insert or remove, split evenly; remainder are find")
	threads := flag.Int("n", 4, "number of worker goroutines")
	seed := flag.Int64("s", 1, "RNG seed")
	impl := flag.String("impl", "lockfree", "implementation under test: lockfree, optiklist, or bst")
	flag.Parse()

	set := newSet(*impl)
	populate(set, *initialSize, *keyRange, *seed)

	var finds, inserts, removes int64
	var allocFailed atomic.Bool
	stop := make(chan struct{})

	var wg sync.WaitGroup
	for t := 0; t < *threads; t++ {
		wg.Add(1)
		go func(workerSeed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(workerSeed))
			for {
				select {
				case <-stop:
					return
				default:
				}

				key := uint64(rng.Intn(*keyRange))
				switch roll := rng.Intn(100); {
				case roll < *updatePercent/2:
					ok, err := set.Insert(key, key+1)
					if err == orderedset.ErrAllocation {
						allocFailed.Store(true)
						return
					}
					if ok {
						atomic.AddInt64(&inserts, 1)
					}
				case roll < *updatePercent:
					if _, ok := set.Remove(key); ok {
						atomic.AddInt64(&removes, 1)
					}
				default:
					set.Find(key)
					atomic.AddInt64(&finds, 1)
				}
			}
		}(*seed + int64(t) + 1)
	}

	duration := time.Duration(*durationMS) * time.Millisecond
	time.Sleep(duration)
	close(stop)
	wg.Wait()

	xlog.BenchmarkSummary(*threads, duration.String(), finds, inserts, removes)

	if allocFailed.Load() {
		os.Exit(1)
	}
}

func newSet(impl string) orderedset.OrderedSet {
	switch impl {
	case "optiklist":
		return optiklist.New()
	case "bst":
		return bst.New()
	default:
		return lockfree.New()
	}
}

// populate pre-populates set with approximately initialSize live keys
// drawn from [0, keyRange); duplicate draws are simply skipped rather
// than retried, so the final count may fall short of initialSize at
// small ranges — acceptable for warming up a benchmark run.
func populate(set orderedset.OrderedSet, initialSize, keyRange int, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < initialSize; i++ {
		key := uint64(rng.Intn(keyRange))
		set.Insert(key, key+1)
	}
}

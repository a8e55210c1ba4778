package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolPreservesPerKeyOrder(t *testing.T) {
	p := NewPool(Options{Workers: 4, QueueSize: 1024, Policy: Block})
	var mu sync.Mutex
	seen := map[uint64][]int{}
	for i := 0; i < 200; i++ {
		key := uint64(i % 5)
		i := i
		require.True(t, p.Submit(key, func() {
			mu.Lock()
			seen[key] = append(seen[key], i)
			mu.Unlock()
		}))
	}
	p.Close()
	for key, got := range seen {
		for j := 1; j < len(got); j++ {
			assert.Less(t, got[j-1], got[j], "key %d out of order", key)
		}
	}
	assert.Equal(t, int64(200), p.Stats().Executed)
}

// blockedPool returns a single-worker pool whose worker is stuck until the
// returned func is called.
func blockedPool(t *testing.T, policy Policy, size int) (*Pool, func()) {
	t.Helper()
	p := NewPool(Options{Workers: 1, QueueSize: size, Policy: policy})
	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, p.Submit(0, func() {
		close(started)
		<-release
	}))
	<-started
	return p, func() { close(release) }
}

func TestDropNewest(t *testing.T) {
	p, release := blockedPool(t, DropNewest, 2)
	var ran atomic.Int32
	assert.True(t, p.Submit(0, func() { ran.Add(1) }))
	assert.True(t, p.Submit(0, func() { ran.Add(1) }))
	assert.False(t, p.Submit(0, func() { ran.Add(100) }))
	release()
	p.Close()
	assert.Equal(t, int32(2), ran.Load())
	assert.Equal(t, int64(1), p.Stats().Dropped)
}

func TestDropOldest(t *testing.T) {
	p, release := blockedPool(t, DropOldest, 2)
	var mu sync.Mutex
	var order []int
	add := func(i int) func() {
		return func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}
	}
	assert.True(t, p.Submit(0, add(1)))
	assert.True(t, p.Submit(0, add(2)))
	assert.True(t, p.Submit(0, add(3)))
	release()
	p.Close()
	assert.Equal(t, []int{2, 3}, order)
	assert.Equal(t, int64(1), p.Stats().Dropped)
}

func TestDropOldestReportsEvictions(t *testing.T) {
	p, release := blockedPool(t, DropOldest, 1)
	var evicted []uint64
	var mu sync.Mutex
	p.OnDrop(func(key uint64) {
		mu.Lock()
		evicted = append(evicted, key)
		mu.Unlock()
	})
	assert.True(t, p.Submit(7, func() {}))
	assert.True(t, p.Submit(7, func() {}))
	assert.True(t, p.Submit(7, func() {}))
	release()
	p.Close()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{7, 7}, evicted)
	assert.Equal(t, int64(2), p.Stats().Dropped)
}

func TestAcceptedTasksRunDespiteConcurrentClose(t *testing.T) {
	for _, policy := range []Policy{DropNewest, Block} {
		t.Run(policy.String(), func(t *testing.T) {
			p := NewPool(Options{Workers: 2, QueueSize: 8, Policy: policy})
			var accepted, ran atomic.Int64
			var wg sync.WaitGroup
			for g := 0; g < 8; g++ {
				wg.Add(1)
				go func(g int) {
					defer wg.Done()
					for i := 0; i < 200; i++ {
						if p.Submit(uint64(g), func() { ran.Add(1) }) {
							accepted.Add(1)
						}
					}
				}(g)
			}
			time.Sleep(time.Millisecond)
			p.Close()
			wg.Wait()
			assert.Equal(t, accepted.Load(), ran.Load())
		})
	}
}

func TestBlockUnblocksOnClose(t *testing.T) {
	p, release := blockedPool(t, Block, 1)
	assert.True(t, p.Submit(0, func() {}))
	res := make(chan bool, 1)
	go func() { res <- p.Submit(0, func() {}) }()

	select {
	case <-res:
		t.Fatal("submit should block while the queue is full")
	case <-time.After(50 * time.Millisecond):
	}
	release()
	select {
	case ok := <-res:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("submit did not unblock")
	}
	p.Close()
}

func TestSubmitAfterClose(t *testing.T) {
	p := NewPool(Options{})
	p.Close()
	assert.False(t, p.Submit(1, func() { t.Fatal("must not run") }))
	assert.Equal(t, int64(1), p.Stats().Dropped)
}

func TestPanicsDoNotKillWorkers(t *testing.T) {
	p := NewPool(Options{Workers: 1})
	var ran atomic.Bool
	p.Submit(0, func() { panic("listener bug") })
	p.Submit(0, func() { ran.Store(true) })
	p.Close()
	assert.True(t, ran.Load())
}

func TestInline(t *testing.T) {
	ran := false
	assert.True(t, Inline{}.Submit(9, func() { ran = true }))
	assert.True(t, ran)
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": DropOldest, "drop_oldest": DropOldest, "drop_newest": DropNewest, "block": Block} {
		got, err := ParsePolicy(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParsePolicy("spill")
	assert.Error(t, err)
}

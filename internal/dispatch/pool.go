// Package dispatch runs inbound deliveries off the host's calling thread.
// Work is sharded by key so deliveries for one handle keep their order.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mithrel/upbridge/internal/logging"
)

// Policy decides what Submit does when a shard's queue is full.
type Policy int

const (
	// DropOldest discards the oldest queued item to make room.
	DropOldest Policy = iota
	// DropNewest discards the item being submitted.
	DropNewest
	// Block waits for room, which backs pressure up into the host.
	Block
)

func (p Policy) String() string {
	switch p {
	case DropOldest:
		return "drop_oldest"
	case DropNewest:
		return "drop_newest"
	case Block:
		return "block"
	}
	return fmt.Sprintf("Policy(%d)", int(p))
}

func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "", "drop_oldest":
		return DropOldest, nil
	case "drop_newest":
		return DropNewest, nil
	case "block":
		return Block, nil
	}
	return DropOldest, fmt.Errorf("unknown dispatch policy %q", s)
}

// Dispatcher runs fn, possibly asynchronously. Submit reports whether fn was
// accepted; a false return means it will never run. An accepted fn runs
// unless a DropOldest pool evicts it, which the pool reports through OnDrop.
type Dispatcher interface {
	Submit(key uint64, fn func()) bool
	Close()
}

// Inline runs every submission on the caller's goroutine.
type Inline struct{}

func (Inline) Submit(_ uint64, fn func()) bool {
	fn()
	return true
}

func (Inline) Close() {}

// Stats counts pool activity since creation.
type Stats struct {
	Submitted int64 `json:"submitted"`
	Executed  int64 `json:"executed"`
	Dropped   int64 `json:"dropped"`
}

type Options struct {
	Workers   int
	QueueSize int
	Policy    Policy
	Log       *slog.Logger
}

// Pool is a fixed set of workers, one per shard, each with a bounded queue.
type Pool struct {
	shards []chan task
	policy Policy
	log    *slog.Logger
	onDrop atomic.Pointer[func(key uint64)]

	// mu keeps Close from stopping the workers while a Submit is enqueueing.
	mu     sync.RWMutex
	closed bool
	// done wakes blocked submitters; stop tells workers to drain and exit.
	done      chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	submitted atomic.Int64
	executed  atomic.Int64
	dropped   atomic.Int64
}

type task struct {
	key uint64
	fn  func()
}

func NewPool(o Options) *Pool {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	p := &Pool{
		shards: make([]chan task, o.Workers),
		policy: o.Policy,
		log:    logging.OrDiscard(o.Log).With(logging.Component("dispatch")),
		done:   make(chan struct{}),
		stop:   make(chan struct{}),
	}
	for i := range p.shards {
		p.shards[i] = make(chan task, o.QueueSize)
		p.wg.Add(1)
		go p.work(p.shards[i])
	}
	return p
}

// OnDrop sets fn to be called with the key of every task evicted under
// DropOldest after Submit had accepted it. Rejected submissions are reported
// by Submit's return value instead.
func (p *Pool) OnDrop(fn func(key uint64)) {
	if fn == nil {
		p.onDrop.Store(nil)
		return
	}
	p.onDrop.Store(&fn)
}

func (p *Pool) Submit(key uint64, fn func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.dropped.Add(1)
		return false
	}
	select {
	case <-p.done:
		p.dropped.Add(1)
		return false
	default:
	}
	p.submitted.Add(1)
	t := task{key: key, fn: fn}
	q := p.shards[key%uint64(len(p.shards))]
	switch p.policy {
	case Block:
		select {
		case q <- t:
			return true
		case <-p.done:
			p.dropped.Add(1)
			return false
		}
	case DropNewest:
		select {
		case q <- t:
			return true
		default:
			p.dropped.Add(1)
			return false
		}
	default:
		for {
			select {
			case q <- t:
				return true
			default:
			}
			select {
			case old := <-q:
				p.evicted(old.key)
			default:
			}
		}
	}
}

func (p *Pool) evicted(key uint64) {
	p.dropped.Add(1)
	if fn := p.onDrop.Load(); fn != nil {
		(*fn)(key)
		return
	}
	p.log.Warn("queue full, dropped oldest task", logging.Handle(key))
}

func (p *Pool) work(q chan task) {
	defer p.wg.Done()
	for {
		select {
		case t := <-q:
			p.run(t.fn)
		case <-p.stop:
			// Drain what was accepted before Close.
			for {
				select {
				case t := <-q:
					p.run(t.fn)
				default:
					return
				}
			}
		}
	}
}

func (p *Pool) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("dispatched task panicked", slog.Any("panic", r))
		}
		p.executed.Add(1)
	}()
	fn()
}

// Close stops accepting work, runs what is queued and waits for workers.
// Every task Submit accepted has run when Close returns.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.stop)
	})
	p.wg.Wait()
}

func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Executed:  p.executed.Load(),
		Dropped:   p.dropped.Load(),
	}
}

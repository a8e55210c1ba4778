// Package registry maps (topic, listener) registrations to stable 64-bit
// handles and back. Handles are what crosses the host boundary; the listener
// itself never leaves the process.
package registry

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/pkg/api"
)

// Handle identifies one registration across the host boundary.
type Handle uint64

func (h Handle) String() string { return fmt.Sprintf("%#016x", uint64(h)) }

// ErrHandleCollision is returned under the Reject policy when two distinct
// registrations derive the same handle.
var ErrHandleCollision = errors.New("registry: handle collision")

// CollisionPolicy decides what happens when a new registration hashes to a
// handle already held by a different registration.
type CollisionPolicy int

const (
	// KeepFirst leaves the existing mapping in place and logs a warning.
	KeepFirst CollisionPolicy = iota
	// Reject fails the new registration with ErrHandleCollision.
	Reject
)

func (p CollisionPolicy) String() string {
	switch p {
	case KeepFirst:
		return "keep_first"
	case Reject:
		return "reject"
	}
	return fmt.Sprintf("CollisionPolicy(%d)", int(p))
}

// ParseCollisionPolicy accepts "keep_first" (or empty) and "reject".
func ParseCollisionPolicy(s string) (CollisionPolicy, error) {
	switch s {
	case "", "keep_first":
		return KeepFirst, nil
	case "reject":
		return Reject, nil
	}
	return KeepFirst, fmt.Errorf("unknown collision policy %q", s)
}

// Hasher derives a handle from a topic hash, the listener's dynamic type and
// its address.
type Hasher func(topicHash uint64, listenerType string, listener uintptr) Handle

// Blake3Hasher is the default Hasher.
func Blake3Hasher(topicHash uint64, listenerType string, listener uintptr) Handle {
	h := blake3.New()
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], topicHash)
	binary.LittleEndian.PutUint64(buf[8:], uint64(listener))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(listenerType))
	sum := h.Sum(nil)
	return Handle(binary.LittleEndian.Uint64(sum[:8]))
}

type key struct {
	topic api.URI
	id    identity
}

type entry struct {
	key      key
	listener api.Listener
}

// Registration describes one live registration.
type Registration struct {
	Topic    api.URI
	Handle   Handle
	Listener api.Listener
}

type Option func(*Registry)

func WithHasher(h Hasher) Option { return func(r *Registry) { r.hash = h } }

func WithCollisionPolicy(p CollisionPolicy) Option { return func(r *Registry) { r.policy = p } }

func WithLogger(l *slog.Logger) Option { return func(r *Registry) { r.log = l } }

// Registry is safe for concurrent use. Lock order is always regMu then
// handleMu.
type Registry struct {
	hash   Hasher
	policy CollisionPolicy
	log    *slog.Logger

	regMu sync.Mutex
	regs  map[key]Handle

	handleMu sync.RWMutex
	handles  map[Handle]entry
}

func New(opts ...Option) *Registry {
	r := &Registry{
		hash:    Blake3Hasher,
		regs:    make(map[key]Handle),
		handles: make(map[Handle]entry),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = logging.OrDiscard(r.log).With(logging.Component("registry"))
	return r
}

// Register records (topic, listener) and returns its handle. created is false
// when the pair was already registered, in which case the existing handle is
// returned. Under KeepFirst a collision with a different registration returns
// the colliding handle with created false and no error; the new pair is not
// recorded.
func (r *Registry) Register(topic api.URI, l api.Listener) (h Handle, created bool, err error) {
	id, err := identityOf(l)
	if err != nil {
		return 0, false, err
	}
	k := key{topic: topic, id: id}

	r.regMu.Lock()
	defer r.regMu.Unlock()
	if h, ok := r.regs[k]; ok {
		return h, false, nil
	}
	h = r.hash(topic.Hash(), id.typeName(), id.addr)

	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	if existing, ok := r.handles[h]; ok && existing.key != k {
		if r.policy == Reject {
			return 0, false, fmt.Errorf("%w: %s already held by %s", ErrHandleCollision, h, existing.key.topic)
		}
		r.log.Warn("handle collision, keeping first registration",
			logging.Handle(uint64(h)),
			slog.String("existing_topic", existing.key.topic.String()),
			logging.Topic(topic))
		return h, false, nil
	}
	r.handles[h] = entry{key: k, listener: l}
	r.regs[k] = h
	return h, true, nil
}

// Resolve returns the listener registered under h.
func (r *Registry) Resolve(h Handle) (api.Listener, bool) {
	r.handleMu.RLock()
	defer r.handleMu.RUnlock()
	e, ok := r.handles[h]
	if !ok {
		return nil, false
	}
	return e.listener, true
}

// Lookup returns the handle of (topic, listener) if registered.
func (r *Registry) Lookup(topic api.URI, l api.Listener) (Handle, bool) {
	id, err := identityOf(l)
	if err != nil {
		return 0, false
	}
	r.regMu.Lock()
	defer r.regMu.Unlock()
	h, ok := r.regs[key{topic: topic, id: id}]
	return h, ok
}

// Unregister removes (topic, listener). removed is false when the pair was
// not registered; the handle the pair derives to is still returned so the
// caller can tell the host to drop it.
func (r *Registry) Unregister(topic api.URI, l api.Listener) (h Handle, removed bool, err error) {
	id, err := identityOf(l)
	if err != nil {
		return 0, false, err
	}
	k := key{topic: topic, id: id}

	r.regMu.Lock()
	defer r.regMu.Unlock()
	h, ok := r.regs[k]
	if !ok {
		return r.hash(topic.Hash(), id.typeName(), id.addr), false, nil
	}
	delete(r.regs, k)

	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	if e, ok := r.handles[h]; ok && e.key == k {
		delete(r.handles, h)
	}
	return h, true, nil
}

// Remove drops the registration held under h, if any. It is used to roll
// back a registration the host refused.
func (r *Registry) Remove(h Handle) bool {
	r.regMu.Lock()
	defer r.regMu.Unlock()
	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	e, ok := r.handles[h]
	if !ok {
		return false
	}
	delete(r.handles, h)
	if r.regs[e.key] == h {
		delete(r.regs, e.key)
	}
	return true
}

func (r *Registry) Len() int {
	r.handleMu.RLock()
	defer r.handleMu.RUnlock()
	return len(r.handles)
}

// Registrations returns every live registration ordered by handle.
func (r *Registry) Registrations() []Registration {
	r.handleMu.RLock()
	out := make([]Registration, 0, len(r.handles))
	for h, e := range r.handles {
		out = append(out, Registration{Topic: e.key.topic, Handle: h, Listener: e.listener})
	}
	r.handleMu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Clear drops every registration.
func (r *Registry) Clear() {
	r.regMu.Lock()
	defer r.regMu.Unlock()
	r.handleMu.Lock()
	defer r.handleMu.Unlock()
	r.regs = make(map[key]Handle)
	r.handles = make(map[Handle]entry)
}

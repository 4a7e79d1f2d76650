// Package bufpool implements the Hugepage Slab Allocator: a tiered,
// fixed-capacity pool of message buffers backing the Message Buffer Pool
// (spec.md §4.2).
//
// Unlike a generic byte-slice cache, the pool here has a bounded number of
// slabs per size tier — modeling a real hugepage-backed allocator, which
// cannot grow on demand. Exhausting a tier surfaces as kOutOfMemory
// (pkg/rpcerr) rather than silently falling back to a heap allocation, so
// callers observe the same backpressure a NIC-registered-memory allocator
// would produce.
//
// # Thread Safety
//
// All operations are safe for concurrent use; each tier's free list is a
// buffered channel.
package bufpool

import (
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/marmos91/nexus/pkg/rpcerr"
)

// Default buffer size classes, matching the spec's example message buffer
// layout: small control messages, medium-sized requests, bulk payloads.
const (
	DefaultSmallSize  = 256
	DefaultMediumSize = 4 << 10
	DefaultLargeSize  = 64 << 10
)

// DefaultTierCapacity is the number of slabs pre-allocated per size tier.
const DefaultTierCapacity = 1024

// LKey is the NIC memory-region key returned by registering a buffer
// (spec.md §4.1 `register(buffer, len) → lkey`). With no real NIC backend,
// it is an opaque monotonically increasing tag.
type LKey uint64

// MsgBuffer is a message buffer: a payload region plus its NIC-registered
// memory-region key. Payload's length is the buffer's current logical
// size; its capacity is the backing slab's full size.
type MsgBuffer struct {
	Payload []byte
	LKey    LKey

	tier *tier
}

// tier is one size class of the slab allocator.
type tier struct {
	size int
	free chan []byte
}

// Config configures a Pool's tiers.
type Config struct {
	// TierSizes lists size classes in ascending order, in bytes.
	TierSizes []int

	// TierCapacity is the number of pre-allocated slabs per tier.
	TierCapacity int
}

// DefaultConfig returns the default three-tier configuration.
func DefaultConfig() Config {
	return Config{
		TierSizes:    []int{DefaultSmallSize, DefaultMediumSize, DefaultLargeSize},
		TierCapacity: DefaultTierCapacity,
	}
}

// Pool is the Hugepage Slab Allocator: a set of fixed-capacity, size-tiered
// free lists of pre-allocated slabs.
type Pool struct {
	tiers    []*tier
	maxSize  int
	nextLKey atomic.Uint64
}

// NewPool builds a Pool from cfg, pre-allocating every slab up front (as a
// hugepage-backed allocator would at startup).
func NewPool(cfg Config) *Pool {
	if len(cfg.TierSizes) == 0 {
		cfg = DefaultConfig()
	}
	if cfg.TierCapacity <= 0 {
		cfg.TierCapacity = DefaultTierCapacity
	}

	sizes := append([]int(nil), cfg.TierSizes...)
	sort.Ints(sizes)

	p := &Pool{tiers: make([]*tier, 0, len(sizes))}
	for _, size := range sizes {
		t := &tier{size: size, free: make(chan []byte, cfg.TierCapacity)}
		for i := 0; i < cfg.TierCapacity; i++ {
			t.free <- make([]byte, size)
		}
		p.tiers = append(p.tiers, t)
		p.maxSize = size
	}

	return p
}

// Alloc returns a MsgBuffer of at least the requested size, drawn from the
// smallest tier that fits. It fails with a kTooLarge *rpcerr.Error if size
// exceeds the largest configured tier, or kOutOfMemory if that tier's free
// list is momentarily exhausted.
func (p *Pool) Alloc(size int) (*MsgBuffer, error) {
	if size < 0 {
		return nil, fmt.Errorf("bufpool: negative size %d", size)
	}

	t := p.tierFor(size)
	if t == nil {
		return nil, rpcerr.NewTooLargeError(size, p.maxSize)
	}

	select {
	case buf := <-t.free:
		return &MsgBuffer{
			Payload: buf[:size],
			LKey:    LKey(p.nextLKey.Add(1)),
			tier:    t,
		}, nil
	default:
		return nil, rpcerr.NewOutOfMemoryError(size)
	}
}

// Resize changes mb's logical size in place when newSize fits within the
// backing slab's capacity (spec.md §4.2: "without reallocation when
// new_size ≤ original_size"). Growing beyond the slab's capacity requires
// a fresh Alloc and is reported as an error here rather than performed
// implicitly, so callers never silently lose NIC registration of the old
// region.
func (p *Pool) Resize(mb *MsgBuffer, newSize int) error {
	if newSize < 0 {
		return fmt.Errorf("bufpool: negative size %d", newSize)
	}
	if mb.tier == nil || newSize > mb.tier.size {
		return fmt.Errorf("bufpool: resize to %d exceeds backing slab capacity %d, requires realloc", newSize, mb.tier.size)
	}

	full := mb.tier.fullSlab(mb.Payload)
	mb.Payload = full[:newSize]
	return nil
}

// Free returns mb's slab to its tier's free list. mb must not be used
// after Free returns.
func (p *Pool) Free(mb *MsgBuffer) {
	if mb == nil || mb.tier == nil {
		return
	}

	full := mb.tier.fullSlab(mb.Payload)
	select {
	case mb.tier.free <- full:
	default:
		// Free list is full (should not happen: every slab originates from
		// exactly one tier and is returned exactly once); drop it rather
		// than block or panic.
	}
	mb.Payload = nil
	mb.tier = nil
}

// tierFor returns the smallest tier that can hold size, or nil if size
// exceeds every configured tier.
func (p *Pool) tierFor(size int) *tier {
	for _, t := range p.tiers {
		if size <= t.size {
			return t
		}
	}
	return nil
}

// fullSlab recovers the full-capacity backing slice for a buffer that may
// have been resized down to a smaller logical length.
func (t *tier) fullSlab(payload []byte) []byte {
	return payload[:cap(payload)]
}

// ============================================================================
// Global pool
// ============================================================================

var globalPool = NewPool(DefaultConfig())

// Alloc allocates from the global pool. See Pool.Alloc.
func Alloc(size int) (*MsgBuffer, error) {
	return globalPool.Alloc(size)
}

// Free returns a buffer to the global pool. See Pool.Free.
func Free(mb *MsgBuffer) {
	globalPool.Free(mb)
}

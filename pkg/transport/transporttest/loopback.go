// Package transporttest provides a Transport test double: a pair of
// in-process queues that can be configured to drop and reorder packets, so
// the sliding-window/retransmission/congestion-control logic above
// pkg/transport can be exercised deterministically without a real NIC or
// socket (spec.md §9 Design Notes: the Transport Abstraction is mocked for
// this purpose in unit tests).
package transporttest

import (
	"errors"
	"math/rand"
	"sync"

	"github.com/marmos91/nexus/pkg/bufpool"
	"github.com/marmos91/nexus/pkg/transport"
)

// ErrClosed is returned by operations on a closed Loopback endpoint.
var ErrClosed = errors.New("transporttest: endpoint closed")

// Config controls the fault injection a Loopback pair applies.
type Config struct {
	// DropRate is the probability, in [0,1], that a packet submitted to
	// TxBurst is silently discarded instead of delivered.
	DropRate float64

	// ReorderWindow, if > 0, buffers up to that many packets and releases
	// them in shuffled order on RxBurst instead of FIFO order.
	ReorderWindow int

	// Rand supplies randomness for drop/reorder decisions. Defaults to a
	// package-level source if nil.
	Rand *rand.Rand
}

// NewPair returns two connected Loopback endpoints: packets sent on a are
// received on b and vice versa.
func NewPair(cfg Config) (a, b *Loopback) {
	qAB := make(chan transport.Packet, 4096)
	qBA := make(chan transport.Packet, 4096)

	a = newLoopback(cfg, qAB, qBA)
	b = newLoopback(cfg, qBA, qAB)
	return a, b
}

// Loopback is a transport.Transport backed by an in-process channel, with
// optional drop/reorder fault injection.
type Loopback struct {
	cfg Config
	tx  chan<- transport.Packet
	rx  <-chan transport.Packet
	rng *rand.Rand

	mu      sync.Mutex
	closed  bool
	nextKey uint64

	reorderBuf []transport.Packet
}

func newLoopback(cfg Config, tx chan<- transport.Packet, rx <-chan transport.Packet) *Loopback {
	rng := cfg.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &Loopback{cfg: cfg, tx: tx, rx: rx, rng: rng}
}

// TxBurst implements transport.Transport.
func (l *Loopback) TxBurst(pkts []transport.Packet) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrClosed
	}
	l.mu.Unlock()

	sent := 0
	for _, p := range pkts {
		if l.cfg.DropRate > 0 && l.rng.Float64() < l.cfg.DropRate {
			sent++
			continue
		}
		cp := transport.Packet{Buf: append([]byte(nil), p.Buf...), Addr: p.Addr}
		select {
		case l.tx <- cp:
			sent++
		default:
			return sent, nil
		}
	}
	return sent, nil
}

// RxBurst implements transport.Transport.
func (l *Loopback) RxBurst(buf []transport.Packet) (int, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, ErrClosed
	}
	l.mu.Unlock()

	n := 0
	for n < len(buf) {
		select {
		case p := <-l.rx:
			if l.cfg.ReorderWindow > 0 {
				l.reorderBuf = append(l.reorderBuf, p)
				if len(l.reorderBuf) < l.cfg.ReorderWindow {
					continue
				}
				l.shuffle()
				p = l.popReorderBuf()
			}
			buf[n] = p
			n++
		default:
			if len(l.reorderBuf) > 0 && n < len(buf) {
				buf[n] = l.popReorderBuf()
				n++
				continue
			}
			return n, nil
		}
	}
	return n, nil
}

func (l *Loopback) shuffle() {
	l.rng.Shuffle(len(l.reorderBuf), func(i, j int) {
		l.reorderBuf[i], l.reorderBuf[j] = l.reorderBuf[j], l.reorderBuf[i]
	})
}

func (l *Loopback) popReorderBuf() transport.Packet {
	p := l.reorderBuf[0]
	l.reorderBuf = l.reorderBuf[1:]
	return p
}

// PollSendCompletions implements transport.Transport. Loopback sends are
// synchronous, so there is nothing to reap.
func (l *Loopback) PollSendCompletions() (int, error) {
	return 0, nil
}

// Register implements transport.Transport with a stable incrementing key;
// Loopback has no real memory-registration domain.
func (l *Loopback) Register(buf []byte) (transport.LKey, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextKey++
	return bufpool.LKey(l.nextKey), nil
}

// MTU implements transport.Transport.
func (l *Loopback) MTU() int { return 1400 }

// Headroom implements transport.Transport. Loopback reserves no framing
// space of its own.
func (l *Loopback) Headroom() int { return 0 }

// MaxBurst implements transport.Transport.
func (l *Loopback) MaxBurst() int { return 64 }

// Close implements transport.Transport.
func (l *Loopback) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// Package transport defines the Transport Abstraction capability interface
// that the RPC engine drives instead of talking to a NIC directly
// (spec.md §4.1, §9 Design Notes: "express as a single capability
// interface" so the kernel-bypass datapath and a plain-socket reference
// backend satisfy the same contract).
package transport

import "github.com/marmos91/nexus/pkg/bufpool"

// LKey is a NIC-registered memory-region key, as returned by Register.
type LKey = bufpool.LKey

// Packet is a single datagram handed to or received from the transport. Buf
// carries the wire bytes (header + payload fragment); Addr identifies the
// remote endpoint for transports that are not already associated with one
// peer.
type Packet struct {
	Buf  []byte
	Addr string
}

// Transport is the capability interface a Nexus RPC Instance drives. All
// methods must be safe to call from the single event-loop goroutine that
// owns the Instance; Transport implementations are not required to be safe
// for concurrent use from multiple goroutines beyond that.
type Transport interface {
	// TxBurst sends up to len(pkts) packets, returning the number
	// successfully submitted. A partial send is not an error: the caller
	// retries the remainder on a later poll.
	TxBurst(pkts []Packet) (int, error)

	// RxBurst fills buf with up to len(buf) received packets, returning the
	// number actually received. Returning zero is not an error — it means
	// no packets are currently available.
	RxBurst(buf []Packet) (int, error)

	// PollSendCompletions reaps completed send descriptors, returning how
	// many completed since the last poll. Transports that send
	// synchronously within TxBurst may always return 0.
	PollSendCompletions() (int, error)

	// Register associates a buffer with the transport's memory-registration
	// domain, returning the key needed to reference it in zero-copy sends.
	// Reference transports that have no real registration step return a
	// stable per-call key.
	Register(buf []byte) (LKey, error)

	// MTU returns the maximum size, in bytes, of a single packet this
	// transport can carry, including the fixed 16-byte Nexus header; the
	// engine's per-packet payload is MTU() minus that header and Headroom().
	MTU() int

	// Headroom returns the number of bytes the transport reserves at the
	// front of every buffer for its own framing, which the caller must
	// leave untouched when building a packet in place.
	Headroom() int

	// MaxBurst returns the largest burst size TxBurst/RxBurst will accept
	// in one call.
	MaxBurst() int

	// Close releases any transport resources.
	Close() error
}

// Package rpcengine wires together the Transport Abstraction, Message
// Buffer Pool, sliding-window Sessions, Timely congestion control, the
// timing wheel, and the Background Worker Pool into the Nexus RPC runtime:
// a process-wide Nexus singleton (spec.md §3 "Endpoint (Nexus)") holding
// one handler table and owning zero or more single-threaded RPC Instances.
package rpcengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/marmos91/nexus/internal/logger"
	"github.com/marmos91/nexus/pkg/metrics"
	"github.com/marmos91/nexus/pkg/registry"
	"github.com/marmos91/nexus/pkg/rpcerr"
	"github.com/marmos91/nexus/pkg/smthread"
	"github.com/marmos91/nexus/pkg/workerpool"
)

// NexusConfig configures a Nexus endpoint.
type NexusConfig struct {
	// Hostname identifies this endpoint to peers (spec.md §3: "identified
	// by hostname and a management port").
	Hostname string

	// ManagementAddr is the UDP address the Session-Management Thread
	// listens on for connect/disconnect/reset control messages.
	ManagementAddr string

	// MaxSessionsPerInstance bounds how many sessions a single RPC
	// Instance may hold before rejecting new connects with
	// kTooManySessions.
	MaxSessionsPerInstance int

	// Worker pool sizing for handlers declared Background (spec.md §4.6).
	WorkerPool workerpool.Config
}

// DefaultNexusConfig returns sensible defaults.
func DefaultNexusConfig(hostname, managementAddr string) NexusConfig {
	return NexusConfig{
		Hostname:               hostname,
		ManagementAddr:         managementAddr,
		MaxSessionsPerInstance: 256,
		WorkerPool:             workerpool.DefaultConfig(),
	}
}

// Nexus is the process-wide endpoint singleton (spec.md §3): it holds the
// handler table, the background worker pool, the session-management
// thread, and the registry of RPC Instances reachable by local ID
// (spec.md §4.8 "Registry"). Unlike the handler table (pkg/registry, keyed
// by request type and written once at startup), this instance registry is
// mutated for the lifetime of the process as instances are constructed and
// destroyed, so it is a small field on Nexus rather than its own package.
type Nexus struct {
	cfg NexusConfig

	handlers *registry.Registry
	workers  *workerpool.Pool
	sm       *smthread.Thread
	metrics  metrics.RPCMetrics

	mu        sync.RWMutex
	instances map[uint8]*Instance
	nextLocal uint8
}

// NewNexus constructs a Nexus and binds its Session-Management Thread, but
// does not start any background goroutines — call Start for that.
func NewNexus(cfg NexusConfig) (*Nexus, error) {
	n := &Nexus{
		cfg:       cfg,
		handlers:  registry.New(),
		workers:   workerpool.New(cfg.WorkerPool),
		instances: make(map[uint8]*Instance),
		metrics:   metrics.NewRPCMetrics(),
	}

	sm, err := smthread.New(cfg.ManagementAddr, smthread.Callbacks{
		OnConnect:    n.handleConnect,
		OnDisconnect: n.handleDisconnect,
		OnReset:      n.handleReset,
	})
	if err != nil {
		return nil, fmt.Errorf("rpcengine: bind session-management socket: %w", err)
	}
	n.sm = sm

	return n, nil
}

// RegisterHandler installs a handler for reqType (spec.md §6
// "register_handler"). It must be called before any RPC Instance is
// created (spec.md §6).
func (n *Nexus) RegisterHandler(reqType uint8, dispatch registry.Dispatch, handler registry.Handler) error {
	n.mu.RLock()
	inUse := len(n.instances) > 0
	n.mu.RUnlock()
	if inUse {
		return fmt.Errorf("rpcengine: cannot register handler %d after an instance was created", reqType)
	}
	return n.handlers.Register(reqType, dispatch, handler)
}

// LocalAddr returns the address the Session-Management Thread is bound to,
// the address peers dial via Instance.Connect.
func (n *Nexus) LocalAddr() string {
	return n.sm.LocalAddr()
}

// Start launches the Session-Management Thread and the Background Worker
// Pool's goroutines.
func (n *Nexus) Start(ctx context.Context) {
	n.workers.Start(ctx)
	go n.sm.Run(ctx)
	logger.InfoCtx(ctx, "nexus started", "hostname", n.cfg.Hostname, "management_addr", n.sm.LocalAddr())
}

// Stop tears down the worker pool and session-management socket.
func (n *Nexus) Stop() {
	n.workers.Stop(workerStopTimeout)
	n.sm.Stop()
}

// NewInstance constructs and registers a new RPC Instance bound to tr,
// assigning it the next free 8-bit local ID (spec.md §3: "an 8-bit local
// ID unique within the Nexus").
func (n *Nexus) NewInstance(tr Transport, opts InstanceOptions) (*Instance, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.instances) >= 256 {
		return nil, fmt.Errorf("rpcengine: nexus local-ID space exhausted")
	}

	var id uint8
	for {
		if _, taken := n.instances[n.nextLocal]; !taken {
			id = n.nextLocal
			n.nextLocal++
			break
		}
		n.nextLocal++
	}

	inst := newInstance(id, n, tr, opts)
	n.instances[id] = inst
	return inst, nil
}

// lookupInstance returns the instance registered under local ID id. Nothing
// in this module calls it; handleConnect does not route by instance ID.
func (n *Nexus) lookupInstance(id uint8) (*Instance, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	inst, ok := n.instances[id]
	return inst, ok
}

// removeInstance deregisters inst, freeing its local ID for reuse.
func (n *Nexus) removeInstance(id uint8) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.instances, id)
}

// handleConnect is invoked on the Session-Management Thread's goroutine
// when a peer requests a new session. Nexus itself has no notion of which
// instance "owns" an inbound connect: it hands the connect to the first
// instance found when iterating its instance map, which is an arbitrary one
// when several instances exist — production deployments with
// multiple instances would route by a handler-table hash or explicit
// instance ID carried in the SM wire format (spec.md §6 "SM wire format").
func (n *Nexus) handleConnect(raddr string) (uint16, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	for _, inst := range n.instances {
		session, err := inst.acceptRemoteSession(raddr)
		return session, err
	}
	return 0, rpcerr.NewDisconnectedError(0)
}

func (n *Nexus) handleDisconnect(session uint16) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, inst := range n.instances {
		inst.postSMEvent(smEvent{kind: smDisconnect, session: session})
	}
}

func (n *Nexus) handleReset(session uint16, reason string) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, inst := range n.instances {
		inst.postSMEvent(smEvent{kind: smReset, session: session, reason: reason})
	}
}

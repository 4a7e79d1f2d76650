package rpcengine

import (
	"sync"
	"time"

	"github.com/marmos91/nexus/pkg/bufpool"
	"github.com/marmos91/nexus/pkg/congestion"
	"github.com/marmos91/nexus/pkg/reassembly"
	"github.com/marmos91/nexus/pkg/rpcerr"
	"github.com/marmos91/nexus/pkg/session"
	"github.com/marmos91/nexus/pkg/timingwheel"
	"github.com/marmos91/nexus/pkg/transport"
	"github.com/marmos91/nexus/pkg/wire"
)

// Transport is re-exported so callers need only import pkg/rpcengine to
// construct an Instance.
type Transport = transport.Transport

const (
	// rtoFloor is the minimum retransmission timeout (spec.md §4.3:
	// "RTO ≥ 5ms").
	rtoFloor = 5 * time.Millisecond
	// rtoCeiling bounds exponential backoff (decided: 16x the floor; see
	// the retransmission-backoff open question).
	rtoCeiling = 16 * rtoFloor

	// workerStopTimeout bounds how long Nexus.Stop waits for in-flight
	// background jobs to drain.
	workerStopTimeout = 2 * time.Second

	// wheelTick is the timing wheel's granularity.
	wheelTick = time.Millisecond
	wheelSlots = 1024
)

// Role identifies which side of a session an Instance plays.
type Role int

const (
	RoleClient Role = iota
	RoleServer
)

// ConnStatus is a session's connection lifecycle state (spec.md §3).
type ConnStatus int

const (
	StatusDisconnected ConnStatus = iota
	StatusConnecting
	StatusConnected
	StatusReset
)

func (s ConnStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusReset:
		return "Reset"
	default:
		return "Unknown"
	}
}

// Continuation is invoked exactly once per successful enqueue_request
// (spec.md §8 "Exactly-once continuation"), either with the peer's
// response or with an error (e.g. kSessionReset).
type Continuation func(resp []byte, tag any, err error)

// engineSession is the runtime state of one Session (spec.md §3).
type engineSession struct {
	ID   uint16
	Role Role

	mu               sync.Mutex
	Status           ConnStatus
	RemoteHost       string
	RemoteRPCID      uint8
	RemoteSessionNum uint16

	Slots *session.Table
	CC    *congestion.Controller

	// nextSendAt gates outbound bursts to the Timely-controlled pacing
	// interval (spec.md §4.4 "Pacing"). Read/written only from the
	// goroutine driving this session's Instance event loop.
	nextSendAt time.Time

	// pendingReq holds one in-flight client request per slot, indexed by
	// slot ID.
	pendingReq map[int]*pendingRequest
	// pendingResp holds one in-flight server response per slot.
	pendingResp map[int]*pendingResponse
}

func newEngineSession(id uint16, role Role, windowSize int) *engineSession {
	return &engineSession{
		ID:          id,
		Role:        role,
		Status:      StatusDisconnected,
		Slots:       session.NewTable(windowSize),
		CC:          congestion.NewController(congestion.DefaultParams()),
		pendingReq:  make(map[int]*pendingRequest),
		pendingResp: make(map[int]*pendingResponse),
	}
}

// pendingRequest tracks a client-issued request awaiting its response.
type pendingRequest struct {
	slotID    int
	reqType   uint8
	reqNumber uint64

	packets      [][]byte // pre-split wire packets, header+payload each
	creditedUpTo int      // highest packet index cleared to send (inclusive)
	sentUpTo     int      // highest packet index actually transmitted

	sentAt     time.Time
	rto        time.Duration
	rtoTask    *timingwheel.Task
	continuation Continuation
	tag        any

	// correlationID is an opaque per-issue identifier, distinct from the
	// caller-supplied tag, that stays constant across every retransmit of
	// the same logical request — useful for correlating this request's
	// log lines without leaking the caller's own tag type into the engine.
	correlationID string
}

// pendingResponse tracks a server-issued response being streamed back,
// gated by the client's Request-for-Response pulls (spec.md §4.3).
type pendingResponse struct {
	slotID    int
	reqNumber uint64

	packets      [][]byte
	creditedUpTo int
	sentUpTo     int

	sentAt  time.Time
	rto     time.Duration
	rtoTask *timingwheel.Task
}

type smEventKind int

const (
	smDisconnect smEventKind = iota
	smReset
)

type smEvent struct {
	kind    smEventKind
	session uint16
	reason  string
}

// InstanceOptions configures an Instance at construction.
type InstanceOptions struct {
	// WindowSize is the sliding-window size per session (spec.md §3:
	// "window size = 8 by default").
	WindowSize int

	// BufferPool backs alloc_msg_buffer/free_msg_buffer/resize_msg_buffer.
	// DefaultConfig() is used if nil.
	BufferPool *bufpool.Pool

	// MaxInFlightPackets is kept with the options but not read by the
	// engine; pacing admission is governed by each session's Timely rate.
	MaxInFlightPackets int
}

func defaultInstanceOptions() InstanceOptions {
	return InstanceOptions{WindowSize: 8}
}

// Instance is a single-threaded RPC Instance (spec.md §3): one transport
// handle, its sessions, its message-buffer pool, and its CC state, driven
// exclusively by the goroutine that calls RunEventLoop/RunEventLoopOnce.
type Instance struct {
	LocalID uint8

	nexus *Nexus
	tr    Transport
	pool  *bufpool.Pool
	opts  InstanceOptions

	reassembler *reassembly.Reassembler
	wheel       *timingwheel.Wheel

	mu             sync.Mutex
	sessions       map[uint16]*engineSession
	nextSessionNum uint16

	smQueue   chan smEvent
	enqueueRq chan func()
}

func newInstance(id uint8, n *Nexus, tr Transport, opts InstanceOptions) *Instance {
	if opts.WindowSize <= 0 {
		opts.WindowSize = defaultInstanceOptions().WindowSize
	}
	opts.WindowSize = nextPowerOfTwo(opts.WindowSize)
	pool := opts.BufferPool
	if pool == nil {
		pool = bufpool.NewPool(bufpool.DefaultConfig())
	}

	maxPayload := tr.MTU() - wire.HeaderSize - tr.Headroom()
	if maxPayload <= 0 {
		maxPayload = 1
	}

	wheel := timingwheel.New(wheelTick, wheelSlots)
	wheel.Start()

	inst := &Instance{
		LocalID:     id,
		nexus:       n,
		tr:          tr,
		pool:        pool,
		opts:        opts,
		reassembler: reassembly.New(maxPayload),
		wheel:       wheel,
		sessions:    make(map[uint16]*engineSession),
		smQueue:     make(chan smEvent, 256),
		enqueueRq:   make(chan func(), 1024),
	}
	return inst
}

// Close releases the instance's transport and timing wheel, and
// deregisters it from its Nexus.
func (inst *Instance) Close() error {
	inst.wheel.Stop()
	inst.nexus.removeInstance(inst.LocalID)
	return inst.tr.Close()
}

// windowBits returns the number of low bits of a wire request number that
// encode the slot index for this instance's (power-of-two) window size.
func (inst *Instance) windowBits() uint {
	return windowBits(inst.opts.WindowSize)
}

// maxPayload returns the largest payload this instance's transport can
// carry per packet, after the fixed Nexus header and transport headroom.
func (inst *Instance) maxPayload() int {
	v := inst.tr.MTU() - wire.HeaderSize - inst.tr.Headroom()
	if v <= 0 {
		return 1
	}
	return v
}

// AllocMsgBuffer allocates a message buffer of at least size bytes from
// this instance's buffer pool, registering its backing memory with the
// transport's registration domain on first use (spec.md §6
// "alloc_msg_buffer"; §4.2 "every buffer is NIC-addressable via a
// registered region").
func (inst *Instance) AllocMsgBuffer(size int) (*bufpool.MsgBuffer, error) {
	mb, err := inst.pool.Alloc(size)
	if err != nil {
		return nil, err
	}
	lkey, err := inst.tr.Register(mb.Payload)
	if err != nil {
		inst.pool.Free(mb)
		return nil, err
	}
	mb.LKey = lkey
	return mb, nil
}

// FreeMsgBuffer returns mb to this instance's buffer pool (spec.md §6
// "free_msg_buffer"). mb must not be used after FreeMsgBuffer returns.
func (inst *Instance) FreeMsgBuffer(mb *bufpool.MsgBuffer) {
	inst.pool.Free(mb)
}

// ResizeMsgBuffer changes mb's logical size in place and re-registers the
// resized region, since a memory-registration key is only valid for the
// byte range it was issued against (spec.md §6 "resize_msg_buffer").
func (inst *Instance) ResizeMsgBuffer(mb *bufpool.MsgBuffer, newSize int) error {
	if err := inst.pool.Resize(mb, newSize); err != nil {
		return err
	}
	lkey, err := inst.tr.Register(mb.Payload)
	if err != nil {
		return err
	}
	mb.LKey = lkey
	return nil
}

// connectTimeout bounds how long Connect waits for the peer's
// OpConnectAck/OpConnectReject before giving up.
const connectTimeout = 2 * time.Second

// Connect establishes a new client-side session to the RPC Instance
// listening at raddr's management address (spec.md §6 "connect"), blocking
// until the peer's Session-Management Thread acks or rejects the request.
//
// raddr doubles as the session's data-path peer address; a deployment with
// a kernel-bypass NIC transport separate from the plain-UDP management
// socket would need the connect handshake to also carry back the peer's
// datapath address, which the SM wire format (spec.md §6) does not budget
// a field for.
func (inst *Instance) Connect(raddr string) (uint16, error) {
	num, err := inst.nexus.sm.ConnectSync(raddr, connectTimeout)
	if err != nil {
		return 0, err
	}

	s := newEngineSession(num, RoleClient, inst.opts.WindowSize)
	s.Status = StatusConnected
	s.RemoteHost = raddr

	inst.mu.Lock()
	inst.sessions[num] = s
	inst.mu.Unlock()

	return num, nil
}

// acceptRemoteSession allocates a local session number for an inbound
// connect request from raddr, enforcing the per-instance session cap
// (spec.md §7 kTooManySessions).
func (inst *Instance) acceptRemoteSession(raddr string) (uint16, error) {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	sessionCap := inst.nexus.cfg.MaxSessionsPerInstance
	if sessionCap > 0 && len(inst.sessions) >= sessionCap {
		return 0, rpcerr.NewTooManySessionsError(sessionCap)
	}

	num := inst.nextSessionNum
	inst.nextSessionNum++

	s := newEngineSession(num, RoleServer, inst.opts.WindowSize)
	s.Status = StatusConnected
	s.RemoteHost = raddr
	inst.sessions[num] = s

	return num, nil
}

// DestroySession tears down sessionNum asynchronously (spec.md §6
// "destroy_session"): the peer's Session-Management Thread is notified,
// and the teardown itself is handed to the event loop through the same
// smQueue a peer-initiated reset uses, so every request still in flight on
// the session fires its continuation exactly once with a kSessionReset
// error (spec.md §8 "Exactly-once continuation": "unless destroy_session
// is called first, then exactly one reset-error continuation fires").
// DestroySession is safe to call from any goroutine.
func (inst *Instance) DestroySession(sessionNum uint16) {
	if s, ok := inst.getSession(sessionNum); ok {
		_ = inst.nexus.sm.Disconnect(s.RemoteHost, sessionNum)
	}
	inst.postSMEvent(smEvent{kind: smReset, session: sessionNum, reason: "destroyed locally"})
}

// IsConnected reports whether sessionNum currently holds an active,
// unreset session (spec.md §6 "is_connected").
func (inst *Instance) IsConnected(sessionNum uint16) bool {
	s, ok := inst.getSession(sessionNum)
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Status == StatusConnected
}

// postSMEvent enqueues a Session-Management event for the event loop to
// drain in step 6 (spec.md §4.5). It never blocks the SM thread: a full
// queue drops the event, matching the SPSC "bounded hand-off" discipline
// the rest of the engine uses.
func (inst *Instance) postSMEvent(ev smEvent) {
	select {
	case inst.smQueue <- ev:
	default:
	}
}

func (inst *Instance) getSession(id uint16) (*engineSession, bool) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	s, ok := inst.sessions[id]
	return s, ok
}

// paceAllows reports whether s's Timely-controlled pacing budget currently
// permits sending a burst of size bytes, advancing the session's next
// allowed send time if so (spec.md §4.4 "Pacing": "packets are released
// from the TX queue only while the budget is positive"). A caller that
// gets false should leave its packets queued; the event loop's pacing
// pump retries on a later iteration.
func (s *engineSession) paceAllows(size int) bool {
	t := now()
	if t.Before(s.nextSendAt) {
		return false
	}
	s.nextSendAt = t.Add(s.CC.IntervalFor(size))
	return true
}

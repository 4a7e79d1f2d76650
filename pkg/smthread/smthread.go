// Package smthread implements the Session-Management Thread: a side
// channel, separate from the per-endpoint event loop, that handles session
// connect/disconnect/reset control messages over its own UDP socket
// (spec.md §4.7). Decoupling session lifecycle from the data path means a
// slow or malicious connect storm cannot stall in-flight request/response
// traffic on existing sessions.
package smthread

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/marmos91/nexus/internal/logger"
	"github.com/marmos91/nexus/internal/telemetry"
	"github.com/marmos91/nexus/pkg/rpcerr"
)

// ControlOp identifies a Session Management control message.
type ControlOp uint8

const (
	// OpConnect requests a new session.
	OpConnect ControlOp = iota
	// OpConnectAck grants a session number in response to OpConnect.
	OpConnectAck
	// OpConnectReject reports the connect request was refused (e.g.
	// kTooManySessions, kInvalidRemoteRpcId).
	OpConnectReject
	// OpDisconnect tears a session down cleanly.
	OpDisconnect
	// OpReset reports the peer killed the session uncleanly; every
	// in-flight continuation on it must be failed with kSessionReset.
	OpReset
)

// controlMsgSize is the fixed wire size of every control message: 1 byte
// op, 2 bytes session, 1 byte reason code.
const controlMsgSize = 4

// Message is a decoded control message.
type Message struct {
	Op      ControlOp
	Session uint16
	Reason  uint8
}

func encode(m Message) []byte {
	buf := make([]byte, controlMsgSize)
	buf[0] = byte(m.Op)
	binary.BigEndian.PutUint16(buf[1:3], m.Session)
	buf[3] = m.Reason
	return buf
}

func decode(buf []byte) (Message, error) {
	if len(buf) < controlMsgSize {
		return Message{}, fmt.Errorf("smthread: short control message: %d bytes", len(buf))
	}
	return Message{
		Op:      ControlOp(buf[0]),
		Session: binary.BigEndian.Uint16(buf[1:3]),
		Reason:  buf[3],
	}, nil
}

// Callbacks are invoked by the Thread as control messages arrive. All
// callbacks run on the Thread's own goroutine, never the data-path event
// loop, so they must not block on it.
type Callbacks struct {
	// OnConnect handles an incoming connect request from raddr, returning
	// the session number to grant or an error to reject with.
	OnConnect func(raddr string) (session uint16, err error)

	// OnDisconnect handles a clean session teardown.
	OnDisconnect func(session uint16)

	// OnReset handles an uncleanly terminated session, e.g. after a
	// timeout sweep.
	OnReset func(session uint16, reason string)
}

// Thread is the Session Management Thread.
type Thread struct {
	conn *net.UDPConn
	cb   Callbacks

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
	pending map[string]chan Message
}

// New binds the Thread's control socket to laddr.
func New(laddr string, cb Callbacks) (*Thread, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Thread{conn: conn, cb: cb, pending: make(map[string]chan Message)}, nil
}

// LocalAddr returns the control socket's bound address.
func (t *Thread) LocalAddr() string {
	return t.conn.LocalAddr().String()
}

// Run processes control messages until ctx is cancelled or Stop is called.
// It is intended to run on its own goroutine, separate from any RPC
// Instance's event loop.
func (t *Thread) Run(ctx context.Context) {
	t.wg.Add(1)
	defer t.wg.Done()

	buf := make([]byte, controlMsgSize)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_ = t.conn.SetReadDeadline(readDeadline())
		n, raddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			t.mu.Lock()
			stopped := t.stopped
			t.mu.Unlock()
			if stopped {
				return
			}
			logger.ErrorCtx(ctx, "smthread: read failed", "error", err)
			continue
		}

		msg, err := decode(buf[:n])
		if err != nil {
			logger.WarnCtx(ctx, "smthread: dropping malformed control message", "error", err)
			continue
		}

		t.handle(ctx, msg, raddr)
	}
}

func (t *Thread) handle(ctx context.Context, msg Message, raddr *net.UDPAddr) {
	switch msg.Op {
	case OpConnect:
		t.handleConnect(ctx, raddr)
	case OpConnectAck, OpConnectReject:
		t.deliverPending(raddr, msg)
	case OpDisconnect:
		if t.cb.OnDisconnect != nil {
			t.cb.OnDisconnect(msg.Session)
		}
	case OpReset:
		if t.cb.OnReset != nil {
			t.cb.OnReset(msg.Session, "peer reported reset")
		}
	default:
		logger.WarnCtx(ctx, "smthread: unknown control op", "op", int(msg.Op))
	}
}

// deliverPending routes a connect response to the goroutine blocked in
// ConnectSync for raddr, if any. A reply with no waiter (e.g. arriving after
// ConnectSync already timed out) is dropped.
func (t *Thread) deliverPending(raddr *net.UDPAddr, msg Message) {
	key := raddr.String()

	t.mu.Lock()
	ch, ok := t.pending[key]
	if ok {
		delete(t.pending, key)
	}
	t.mu.Unlock()

	if ok {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (t *Thread) handleConnect(ctx context.Context, raddr *net.UDPAddr) {
	if t.cb.OnConnect == nil {
		return
	}

	session, err := t.cb.OnConnect(raddr.String())
	if err != nil {
		reason := uint8(0)
		if rerr, ok := err.(*rpcerr.Error); ok {
			reason = uint8(rerr.Code)
		}
		t.reply(raddr, Message{Op: OpConnectReject, Reason: reason})
		return
	}

	t.reply(raddr, Message{Op: OpConnectAck, Session: session})
}

func (t *Thread) reply(raddr *net.UDPAddr, msg Message) {
	_, _ = t.conn.WriteToUDP(encode(msg), raddr)
}

// Connect sends an OpConnect request to raddr from this Thread's socket,
// used by a client endpoint to establish a new session.
func (t *Thread) Connect(raddr string) error {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(encode(Message{Op: OpConnect}), addr)
	return err
}

// ConnectSync sends an OpConnect request to raddr and blocks until the
// peer's OpConnectAck/OpConnectReject arrives or timeout elapses. Only one
// ConnectSync per raddr may be outstanding at a time on a given Thread.
func (t *Thread) ConnectSync(raddr string, timeout time.Duration) (uint16, error) {
	spanCtx, span := telemetry.StartConnectSpan(context.Background(), raddr)
	defer span.End()

	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		telemetry.RecordError(spanCtx, err)
		return 0, err
	}
	key := addr.String()

	ch := make(chan Message, 1)
	t.mu.Lock()
	t.pending[key] = ch
	t.mu.Unlock()

	if _, err := t.conn.WriteToUDP(encode(Message{Op: OpConnect}), addr); err != nil {
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
		telemetry.RecordError(spanCtx, err)
		return 0, err
	}

	select {
	case msg := <-ch:
		if msg.Op == OpConnectReject {
			err := &rpcerr.Error{Code: rpcerr.Code(msg.Reason), Message: "connect rejected by peer"}
			telemetry.RecordError(spanCtx, err)
			return 0, err
		}
		span.SetAttributes(telemetry.Session(msg.Session))
		return msg.Session, nil
	case <-time.After(timeout):
		t.mu.Lock()
		delete(t.pending, key)
		t.mu.Unlock()
		err := fmt.Errorf("smthread: connect to %s timed out", raddr)
		telemetry.RecordError(spanCtx, err)
		return 0, err
	}
}

// Disconnect sends an OpDisconnect for session to raddr.
func (t *Thread) Disconnect(raddr string, session uint16) error {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return err
	}
	_, err = t.conn.WriteToUDP(encode(Message{Op: OpDisconnect, Session: session}), addr)
	return err
}

// Stop closes the control socket, causing Run to return.
func (t *Thread) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
	_ = t.conn.Close()
	t.wg.Wait()
}

func readDeadline() time.Time {
	return time.Now().Add(100 * time.Millisecond)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// Package udptransport implements transport.Transport over a plain UDP
// socket. It is the reference backend used when no kernel-bypass NIC is
// available — correct, but without the zero-copy/burst-DMA properties a
// real RDMA or DPDK transport would provide (spec.md §9 Design Notes: the
// Transport Abstraction's contract should be satisfiable by an ordinary
// socket for development and testing).
package udptransport

import (
	"net"
	"sync/atomic"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/marmos91/nexus/pkg/bufpool"
	"github.com/marmos91/nexus/pkg/transport"
)

func deadlineNow() time.Time {
	return time.Now().Add(time.Microsecond)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

const (
	defaultMTU      = 1400
	defaultMaxBurst = 64
)

// Transport is a UDP-backed transport.Transport. A single Transport
// instance is bound to one local socket and (optionally) one remote peer.
type Transport struct {
	conn    *net.UDPConn
	pconn   *ipv4.PacketConn
	remote  *net.UDPAddr
	nextKey atomic.Uint64
}

// Dial opens a UDP socket connected to raddr, for use as a client-side
// Session Management Thread or data-path connection.
func Dial(raddr string) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", raddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	return &Transport{conn: conn, pconn: ipv4.NewPacketConn(conn), remote: addr}, nil
}

// Listen opens a UDP socket bound to laddr, for use as a server-side
// endpoint that may exchange packets with multiple remote addresses.
func Listen(laddr string) (*Transport, error) {
	addr, err := net.ResolveUDPAddr("udp", laddr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}
	return &Transport{conn: conn, pconn: ipv4.NewPacketConn(conn)}, nil
}

// TxBurst implements transport.Transport by issuing one WriteTo (or Write,
// for connected sockets) per packet; the kernel performs no real batching,
// so this always either sends all packets or stops at the first error.
func (t *Transport) TxBurst(pkts []transport.Packet) (int, error) {
	sent := 0
	for _, p := range pkts {
		var err error
		if p.Addr != "" {
			var raddr *net.UDPAddr
			raddr, err = net.ResolveUDPAddr("udp", p.Addr)
			if err == nil {
				_, err = t.conn.WriteToUDP(p.Buf, raddr)
			}
		} else {
			_, err = t.conn.Write(p.Buf)
		}
		if err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// RxBurst implements transport.Transport by reading up to len(buf)
// datagrams in non-blocking fashion (the read deadline is set one
// microsecond ahead, so a read returns almost at once when no data is
// pending).
func (t *Transport) RxBurst(buf []transport.Packet) (int, error) {
	_ = t.conn.SetReadDeadline(deadlineNow())

	n := 0
	scratch := make([]byte, 64*1024)
	for n < len(buf) {
		read, raddr, err := t.conn.ReadFromUDP(scratch)
		if err != nil {
			if isTimeout(err) {
				break
			}
			return n, err
		}
		buf[n] = transport.Packet{
			Buf:  append([]byte(nil), scratch[:read]...),
			Addr: raddr.String(),
		}
		n++
	}
	return n, nil
}

// PollSendCompletions implements transport.Transport. UDP writes are
// synchronous, so there are no outstanding completions to reap.
func (t *Transport) PollSendCompletions() (int, error) {
	return 0, nil
}

// Register implements transport.Transport with a stable incrementing key;
// a plain UDP socket has no NIC memory-registration domain.
func (t *Transport) Register(buf []byte) (transport.LKey, error) {
	return bufpool.LKey(t.nextKey.Add(1)), nil
}

// MTU implements transport.Transport.
func (t *Transport) MTU() int { return defaultMTU }

// Headroom implements transport.Transport. UDP reserves no header space of
// its own within the payload.
func (t *Transport) Headroom() int { return 0 }

// MaxBurst implements transport.Transport.
func (t *Transport) MaxBurst() int { return defaultMaxBurst }

// Close implements transport.Transport.
func (t *Transport) Close() error {
	return t.conn.Close()
}

package rpcengine

import (
	"github.com/marmos91/nexus/pkg/wire"
)

// buildPackets splits payload into wire packets of at most maxPayload
// bytes each, every packet carrying its own 16-byte header with the full
// message size and its own packet number (spec.md §3 "Message Buffer",
// §6 "Wire format").
func buildPackets(reqType uint8, pktType wire.PktType, sessionNum uint16, reqNumber uint64, payload []byte, maxPayload int) [][]byte {
	n := wire.NumPackets(len(payload), maxPayload)
	packets := make([][]byte, n)

	for i := 0; i < n; i++ {
		start := i * maxPayload
		end := start + maxPayload
		if end > len(payload) {
			end = len(payload)
		}
		frag := payload[start:end]

		buf := make([]byte, wire.HeaderSize+len(frag))
		h := wire.Header{
			ReqType:   reqType,
			MsgSize:   uint32(len(payload)),
			Session:   sessionNum,
			PktType:   pktType,
			PktNumber: uint16(i),
			ReqNumber: reqNumber,
		}
		// Encode errors here mean a caller handed us a payload or request
		// number that overflows the bit-packed header fields (for example a
		// message too big for the 24-bit size field). That is a
		// configuration error, so it panics instead of hiding behind a
		// silently dropped packet; higher layers must validate size with
		// kTooLarge before reaching here.
		if err := wire.Encode(buf, &h); err != nil {
			panic("rpcengine: " + err.Error())
		}
		copy(buf[wire.HeaderSize:], frag)
		packets[i] = buf
	}

	return packets
}

// controlPacket builds a zero-payload packet used for RFR/CR signaling,
// stashing a small integer (credit count, or requested packet number) in
// the PktNumber field since neither control type carries a body.
func controlPacket(reqType uint8, pktType wire.PktType, sessionNum uint16, reqNumber uint64, value uint16) []byte {
	buf := make([]byte, wire.HeaderSize)
	h := wire.Header{
		ReqType:   reqType,
		MsgSize:   0,
		Session:   sessionNum,
		PktType:   pktType,
		PktNumber: value,
		ReqNumber: reqNumber,
	}
	if err := wire.Encode(buf, &h); err != nil {
		panic("rpcengine: " + err.Error())
	}
	return buf
}

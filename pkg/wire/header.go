// Package wire implements the fixed 16-byte packet header carried by every
// Nexus packet, and the bit-packed encode/decode routines for it.
//
// Unlike the rest of the protocol payload (which is opaque to Nexus and
// owned by the application), the header is a small, densely bit-packed
// binary layout rather than length-prefixed wire data, so it is encoded
// directly with encoding/binary rather than through an XDR-style codec.
package wire

import (
	"encoding/binary"
	"fmt"
)

// PktType identifies the role a packet plays within the sliding-window
// protocol (spec.md §6 "Wire format").
type PktType uint8

const (
	PktReq        PktType = 0 // request data
	PktResp       PktType = 1 // response data
	PktReqForResp PktType = 2 // pull next response segment
	PktExplicitCR PktType = 3 // grant credits for multi-packet request
)

func (t PktType) String() string {
	switch t {
	case PktReq:
		return "Req"
	case PktResp:
		return "Resp"
	case PktReqForResp:
		return "ReqForResp"
	case PktExplicitCR:
		return "ExplicitCR"
	default:
		return "Unknown"
	}
}

// HeaderSize is the fixed on-wire size of a packet header in bytes
// (spec.md §3 "Packet Header").
const HeaderSize = 16

// Field width limits enforced by the bit-packed layout.
const (
	maxMsgSize    = 1<<24 - 1 // 24-bit message size
	maxPktNumber  = 1<<12 - 1 // 12-bit packet number
	maxPktTypeVal = 1<<4 - 1  // 4-bit packet type
)

// Header is the decoded form of the 16-byte on-wire packet header:
//
//	byte 0       ReqType      (8 bits)
//	bytes 1-3    MsgSize      (24 bits)
//	bytes 4-5    Session      (16 bits)
//	byte 6 hi    PktType      (4 bits)
//	byte 6 lo + byte 7  PktNumber (12 bits)
//	bytes 8-15   ReqNumber    (64 bits)
type Header struct {
	ReqType    uint8   // request type ID, maps to a handler descriptor
	MsgSize    uint32  // total message size in bytes (24-bit range)
	Session    uint16  // destination session number
	PktType    PktType // kReq, kResp, kReqForResp, kExplicitCR
	PktNumber  uint16  // packet number within the message (12-bit range)
	ReqNumber  uint64  // monotonic per-(session,slot) request number
}

// Encode writes h to the first HeaderSize bytes of dst, which must be at
// least HeaderSize bytes long. It returns an error if any field overflows
// its bit-packed width.
func Encode(dst []byte, h *Header) error {
	if len(dst) < HeaderSize {
		return fmt.Errorf("wire: destination too small: %d bytes, need %d", len(dst), HeaderSize)
	}
	if h.MsgSize > maxMsgSize {
		return fmt.Errorf("wire: message size %d exceeds 24-bit field", h.MsgSize)
	}
	if h.PktNumber > maxPktNumber {
		return fmt.Errorf("wire: packet number %d exceeds 12-bit field", h.PktNumber)
	}
	if uint8(h.PktType) > maxPktTypeVal {
		return fmt.Errorf("wire: packet type %d exceeds 4-bit field", h.PktType)
	}

	dst[0] = h.ReqType

	dst[1] = byte(h.MsgSize >> 16)
	dst[2] = byte(h.MsgSize >> 8)
	dst[3] = byte(h.MsgSize)

	binary.BigEndian.PutUint16(dst[4:6], h.Session)

	dst[6] = byte(h.PktType)<<4 | byte(h.PktNumber>>8)
	dst[7] = byte(h.PktNumber)

	binary.BigEndian.PutUint64(dst[8:16], h.ReqNumber)

	return nil
}

// Decode reads a Header from the first HeaderSize bytes of src.
func Decode(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, fmt.Errorf("wire: source too small: %d bytes, need %d", len(src), HeaderSize)
	}

	msgSize := uint32(src[1])<<16 | uint32(src[2])<<8 | uint32(src[3])
	pktNumber := uint16(src[6]&0x0f)<<8 | uint16(src[7])

	return Header{
		ReqType:   src[0],
		MsgSize:   msgSize,
		Session:   binary.BigEndian.Uint16(src[4:6]),
		PktType:   PktType(src[6] >> 4),
		PktNumber: pktNumber,
		ReqNumber: binary.BigEndian.Uint64(src[8:16]),
	}, nil
}

// NumPackets returns the number of packets a message of msgSize bytes is
// split into for the given MTU-derived maximum payload per packet
// (spec.md §3: K = ceil(payload / MTU)).
func NumPackets(msgSize, maxPayloadPerPacket int) int {
	if msgSize <= 0 {
		return 1
	}
	return (msgSize + maxPayloadPerPacket - 1) / maxPayloadPerPacket
}

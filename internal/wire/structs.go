// Package wire defines the on-the-wire structures exchanged between
// endpoints — RTS/ATS rendezvous headers, the packed SysV remote key and
// the TCP active-message header — plus the receive-side bookkeeping
// types (RecvRequest, RecvDescriptor) the rendezvous and tag-match
// packages share.
package wire

// Opcode is the RTS header's opcode field.
type Opcode uint8

const (
	// OpTagOK is a normal rendezvous request-to-send.
	OpTagOK Opcode = 0
	// OpTagCanceled informs the receiver that a prior RTS was canceled.
	OpTagCanceled Opcode = 1
)

// SendReqID identifies a send request on the wire: which endpoint (by
// the sender's local endpoint id) and which request (by the sender's
// local request id) a receiver's ATS must reference back.
type SendReqID struct {
	EndpointID uint64
	RequestID  uint64
}

// RTSHeader is the rendezvous request-to-send header. Layout matches
// spec.md §6: opcode:u8, size:u64, sreq:{ep_id:u64, req_id:u64}, tag:u64,
// followed by an opaque packed-rkey blob of PackedRkeySize bytes (not
// part of this struct — appended separately by the caller).
type RTSHeader struct {
	Opcode Opcode
	Size   uint64
	SReq   SendReqID
	Tag    uint64
}

// RTSHeaderWireSize is the marshaled size of RTSHeader, excluding any
// trailing packed-rkey blob.
const RTSHeaderWireSize = 1 + 8 + 8 + 8 + 8

// Status mirrors the small set of rendezvous-visible completion statuses.
type Status uint8

const (
	StatusOK       Status = 0
	StatusCanceled Status = 1
)

// ATSHeader is the rendezvous acknowledgement header.
type ATSHeader struct {
	RequestID uint64
	Status    Status
}

// ATSHeaderWireSize is the marshaled size of ATSHeader.
const ATSHeaderWireSize = 8 + 1

// PackedRkey is the packed SysV remote key: shmid | owner_ptr, exactly
// constants.RkeyPackedSize (12) bytes on the wire.
type PackedRkey struct {
	ShmID    uint32
	OwnerPtr uint64
}

// TCPAMHeader is the representative TCP active-message header from
// spec.md §6 / original_source's uct_tcp_am_hdr_t: am_id, length, and a
// debug-only sequence number.
type TCPAMHeader struct {
	AMID   uint16
	Length uint16
	SeqNum uint32 // debug-only, mirrors UCS_DEBUG_DATA(sn) in tcp.h
}

// TCPAMHeaderWireSize is the marshaled size of TCPAMHeader.
const TCPAMHeaderWireSize = 2 + 2 + 4

// RecvRequest is the receive-side half of a Request (spec.md §3): a
// tag-matching descriptor that, once matched against an RTS, carries the
// observed sender tag and length.
type RecvRequest struct {
	Tag        uint64
	TagMask    uint64 // bits of Tag that must match; ^uint64(0) for exact match
	Buffer     []byte
	SenderTag  uint64
	Length     uint64
	SourceUUID uint64
	matched    bool
}

// Matched reports whether an RTS has already stamped SenderTag/Length.
func (r *RecvRequest) Matched() bool { return r.matched }

// MarkMatched stamps sender_tag/length from an arrived RTS, per spec.md
// §4.4.2 step 2 ("Stamp sender_tag and length on the receive request").
func (r *RecvRequest) MarkMatched(senderTag uint64, length uint64) {
	r.SenderTag = senderTag
	r.Length = length
	r.matched = true
}

// RecvDescFlag is a bit field on RecvDescriptor.
type RecvDescFlag uint8

// FlagRNDV marks a descriptor as arriving via the rendezvous protocol,
// per spec.md §3 "Receive descriptor (unexpected)".
const FlagRNDV RecvDescFlag = 1 << 0

// RecvDescriptor holds a copied RTS header plus enough identity to match
// or cancel it later: the receiver's per-tag hash bucket entry for an
// unexpected message.
type RecvDescriptor struct {
	RTS        RTSHeader
	Tag        uint64
	SourceUUID uint64
	Flags      RecvDescFlag
}

// IsRndv reports whether the FlagRNDV bit is set.
func (d *RecvDescriptor) IsRndv() bool { return d.Flags&FlagRNDV != 0 }

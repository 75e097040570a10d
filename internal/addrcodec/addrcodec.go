// Package addrcodec implements the minimal packed-address encode/decode
// this core needs to exercise endpoint.Create end to end: a
// (dest_uuid, peer_name, transport address list) tuple, the payload
// ucp_address_pack/ucp_address_unpack exchange during real wireup.
// Real wireup negotiation is out of scope (spec.md §1); WireupInitLanes
// exists only so a decoded address list resolves to concrete lanes in
// tests and demos.
package addrcodec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/kbridge-dev/go-rdx/internal/ifaces"
	"github.com/kbridge-dev/go-rdx/internal/shm"
)

// ErrTruncated is returned when a packed address blob ends before a
// length-prefixed field it declares.
var ErrTruncated = errors.New("addrcodec: truncated address blob")

// Codec implements ifaces.AddressCodec.
type Codec struct{}

// New returns a Codec.
func New() Codec { return Codec{} }

// Pack encodes destUUID/peerName/addrs into the wire form Unpack
// reverses: dest_uuid:u64, peer_name as a u16-length-prefixed string,
// then a u8 count of AddressEntry, each as a u8-length-prefixed
// transport name followed by a u16-length-prefixed payload.
func Pack(destUUID uint64, peerName string, addrs []ifaces.AddressEntry) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, destUUID)

	nameLen := make([]byte, 2)
	binary.LittleEndian.PutUint16(nameLen, uint16(len(peerName)))
	buf = append(buf, nameLen...)
	buf = append(buf, []byte(peerName)...)

	buf = append(buf, byte(len(addrs)))
	for _, a := range addrs {
		buf = append(buf, byte(len(a.Transport)))
		buf = append(buf, []byte(a.Transport)...)
		plen := make([]byte, 2)
		binary.LittleEndian.PutUint16(plen, uint16(len(a.Payload)))
		buf = append(buf, plen...)
		buf = append(buf, a.Payload...)
	}
	return buf
}

// Unpack implements ifaces.AddressCodec.
func (Codec) Unpack(blob []byte) (destUUID uint64, peerName string, addrs []ifaces.AddressEntry, err error) {
	if len(blob) < 10 {
		return 0, "", nil, ErrTruncated
	}
	destUUID = binary.LittleEndian.Uint64(blob[0:8])
	nameLen := int(binary.LittleEndian.Uint16(blob[8:10]))
	off := 10
	if off+nameLen > len(blob) {
		return 0, "", nil, ErrTruncated
	}
	peerName = string(blob[off : off+nameLen])
	off += nameLen

	if off >= len(blob) {
		return 0, "", nil, ErrTruncated
	}
	count := int(blob[off])
	off++

	for i := 0; i < count; i++ {
		if off >= len(blob) {
			return 0, "", nil, ErrTruncated
		}
		tlen := int(blob[off])
		off++
		if off+tlen+2 > len(blob) {
			return 0, "", nil, ErrTruncated
		}
		transport := string(blob[off : off+tlen])
		off += tlen
		plen := int(binary.LittleEndian.Uint16(blob[off : off+2]))
		off += 2
		if off+plen > len(blob) {
			return 0, "", nil, ErrTruncated
		}
		payload := blob[off : off+plen]
		off += plen
		addrs = append(addrs, ifaces.AddressEntry{Transport: transport, Payload: payload})
	}
	return destUUID, peerName, addrs, nil
}

// WireupInitLanes resolves a decoded address list into concrete lanes:
// a "shm" entry's payload is a packed SysV rkey attached via
// shm.UnpackAndAttach; any other transport name is rejected as
// unsupported (spec.md's Non-goals exclude wire-spec for transports
// beyond SysV/TCP). remoteEndpointID is the sender's local endpoint id,
// needed so the resolved lane can answer RemoteEndpointID immediately.
func WireupInitLanes(addrs []ifaces.AddressEntry, remoteEndpointID uint64) ([]ifaces.Lane, error) {
	lanes := make([]ifaces.Lane, 0, len(addrs))
	for _, a := range addrs {
		switch a.Transport {
		case "shm":
			seg, err := shm.UnpackAndAttach(a.Payload)
			if err != nil {
				return nil, fmt.Errorf("addrcodec: wireup shm lane: %w", err)
			}
			lanes = append(lanes, shm.NewLane(seg, remoteEndpointID))
		default:
			return nil, fmt.Errorf("addrcodec: unsupported transport %q", a.Transport)
		}
	}
	return lanes, nil
}

// WireupSendRequest packs the local side's address list for transmission
// to a peer; a real wireup protocol would send this over a bootstrap
// channel (out of scope here — see spec.md §1), so this is the thin
// encode-only half.
func WireupSendRequest(localUUID uint64, peerName string, addrs []ifaces.AddressEntry) []byte {
	return Pack(localUUID, peerName, addrs)
}

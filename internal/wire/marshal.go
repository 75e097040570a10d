package wire

import (
	"encoding/binary"
	"errors"
)

// ErrShortBuffer is returned by an Unmarshal function when the input is
// too small to hold the structure being decoded.
var ErrShortBuffer = errors.New("wire: buffer too short")

// MarshalRTSHeader encodes an RTSHeader in little-endian wire order.
func MarshalRTSHeader(h *RTSHeader) []byte {
	buf := make([]byte, RTSHeaderWireSize)
	buf[0] = byte(h.Opcode)
	binary.LittleEndian.PutUint64(buf[1:9], h.Size)
	binary.LittleEndian.PutUint64(buf[9:17], h.SReq.EndpointID)
	binary.LittleEndian.PutUint64(buf[17:25], h.SReq.RequestID)
	binary.LittleEndian.PutUint64(buf[25:33], h.Tag)
	return buf
}

// UnmarshalRTSHeader decodes an RTSHeader from its wire form.
func UnmarshalRTSHeader(data []byte) (*RTSHeader, error) {
	if len(data) < RTSHeaderWireSize {
		return nil, ErrShortBuffer
	}
	return &RTSHeader{
		Opcode: Opcode(data[0]),
		Size:   binary.LittleEndian.Uint64(data[1:9]),
		SReq: SendReqID{
			EndpointID: binary.LittleEndian.Uint64(data[9:17]),
			RequestID:  binary.LittleEndian.Uint64(data[17:25]),
		},
		Tag: binary.LittleEndian.Uint64(data[25:33]),
	}, nil
}

// MarshalATSHeader encodes an ATSHeader in little-endian wire order.
func MarshalATSHeader(h *ATSHeader) []byte {
	buf := make([]byte, ATSHeaderWireSize)
	binary.LittleEndian.PutUint64(buf[0:8], h.RequestID)
	buf[8] = byte(h.Status)
	return buf
}

// UnmarshalATSHeader decodes an ATSHeader from its wire form.
func UnmarshalATSHeader(data []byte) (*ATSHeader, error) {
	if len(data) < ATSHeaderWireSize {
		return nil, ErrShortBuffer
	}
	return &ATSHeader{
		RequestID: binary.LittleEndian.Uint64(data[0:8]),
		Status:    Status(data[8]),
	}, nil
}

// MarshalPackedRkey encodes a PackedRkey as shmid:u32 | owner_ptr:u64,
// exactly constants.RkeyPackedSize (12) bytes, per spec.md §6.
func MarshalPackedRkey(rk *PackedRkey) []byte {
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:4], rk.ShmID)
	binary.LittleEndian.PutUint64(buf[4:12], rk.OwnerPtr)
	return buf
}

// UnmarshalPackedRkey decodes a PackedRkey from its wire form.
func UnmarshalPackedRkey(data []byte) (*PackedRkey, error) {
	if len(data) < 12 {
		return nil, ErrShortBuffer
	}
	return &PackedRkey{
		ShmID:    binary.LittleEndian.Uint32(data[0:4]),
		OwnerPtr: binary.LittleEndian.Uint64(data[4:12]),
	}, nil
}

// MarshalTCPAMHeader encodes a TCPAMHeader in little-endian wire order.
func MarshalTCPAMHeader(h *TCPAMHeader) []byte {
	buf := make([]byte, TCPAMHeaderWireSize)
	binary.LittleEndian.PutUint16(buf[0:2], h.AMID)
	binary.LittleEndian.PutUint16(buf[2:4], h.Length)
	binary.LittleEndian.PutUint32(buf[4:8], h.SeqNum)
	return buf
}

// UnmarshalTCPAMHeader decodes a TCPAMHeader from its wire form.
func UnmarshalTCPAMHeader(data []byte) (*TCPAMHeader, error) {
	if len(data) < TCPAMHeaderWireSize {
		return nil, ErrShortBuffer
	}
	return &TCPAMHeader{
		AMID:   binary.LittleEndian.Uint16(data[0:2]),
		Length: binary.LittleEndian.Uint16(data[2:4]),
		SeqNum: binary.LittleEndian.Uint32(data[4:8]),
	}, nil
}

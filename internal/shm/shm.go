// Package shm implements the SysV shared-memory lane: segment
// allocation with a hugetlb-then-fallback retry, remote-key packing and
// attach/detach, and a lane that exercises the active-message path over
// a local shared segment. Grounded on
// original_source/src/uct/sm/mm/sysv/mm_sysv.c, using golang.org/x/sys/unix
// for the raw shmget/shmat/shmdt syscalls the way the teacher's
// internal/uapi package uses unsafe-backed syscalls for its ioctl layer.
package shm

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/kbridge-dev/go-rdx/internal/constants"
	"github.com/kbridge-dev/go-rdx/internal/ifaces"
	"github.com/kbridge-dev/go-rdx/internal/pending"
	"github.com/kbridge-dev/go-rdx/internal/wire"
)

// AllocFlags mirrors uct_sysv_alloc's caller-supplied hints.
type AllocFlags struct {
	// Hugetlb requests SHM_HUGETLB first; on failure Allocate silently
	// retries without it, matching mm_sysv.c's "try huge pages, then
	// fall back to regular pages" behavior.
	Hugetlb bool
	// FixedAddr, when non-nil, is used as shmat's address hint. Per
	// mm_sysv.c and spec.md's documented limitation, a non-FIXED address
	// is a *hint only*: the kernel is free to pick a different mapping
	// address, and this package does not paper over that by forcing
	// SHM_REMAP (see DESIGN.md).
	FixedAddr uintptr
}

// Segment is an allocated (or attached) SysV shared-memory segment.
type Segment struct {
	ID     int
	Data   []byte // kernel-mapped memory backing this segment in this process
	Length int64
	mine   bool // true only for the side that called Allocate
}

// Addr returns the address this process mapped the segment at. Per
// spec.md §9's documented limitation, this is whatever the kernel chose
// — it is not guaranteed to equal the value packed by the remote side
// that allocated the segment, since a non-FIXED attach address is a hint
// only (see DESIGN.md).
func (s *Segment) Addr() uintptr {
	if len(s.Data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&s.Data[0]))
}

// Allocate creates a new SysV segment of at least length bytes, trying
// SHM_HUGETLB first when requested and falling back to a plain
// allocation if that fails (ENOMEM/EINVAL are both treated as "hugetlb
// unavailable", matching mm_sysv.c's retry condition).
func Allocate(length int64, flags AllocFlags) (*Segment, error) {
	permFlags := 0600 | unix.IPC_CREAT | unix.IPC_EXCL

	var id int
	var err error
	if flags.Hugetlb {
		id, err = unix.SysvShmGet(unix.IPC_PRIVATE, int(length), permFlags|unix.SHM_HUGETLB)
		if err != nil {
			id, err = unix.SysvShmGet(unix.IPC_PRIVATE, int(length), permFlags)
		}
	} else {
		id, err = unix.SysvShmGet(unix.IPC_PRIVATE, int(length), permFlags)
	}
	if err != nil {
		return nil, fmt.Errorf("shm: shmget failed: %w", err)
	}

	data, err := unix.SysvShmAttach(id, flags.FixedAddr, 0)
	if err != nil {
		_, _ = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return nil, fmt.Errorf("shm: shmat failed: %w", err)
	}

	return &Segment{ID: id, Data: data, Length: length, mine: true}, nil
}

// PackRkey encodes seg's remote key as shmid:u32 | owner_ptr:u64,
// constants.RkeyPackedSize bytes on the wire, per spec.md §4.5/§6.
func PackRkey(seg *Segment) []byte {
	return wire.MarshalPackedRkey(&wire.PackedRkey{
		ShmID:    uint32(seg.ID),
		OwnerPtr: uint64(seg.Addr()),
	})
}

// UnpackAndAttach decodes a packed rkey and attaches the named segment
// into this process's address space. The returned Segment's Addr is
// whatever address the kernel actually mapped — it is not guaranteed (and
// in general will not equal) the packed OwnerPtr, since the peer's
// virtual address has no meaning in this process. Callers that need to
// translate an offset within the segment must do so relative to this
// Addr, not OwnerPtr (spec.md §9's documented limitation).
func UnpackAndAttach(packed []byte) (*Segment, error) {
	rk, err := wire.UnmarshalPackedRkey(packed)
	if err != nil {
		return nil, fmt.Errorf("shm: unpack rkey: %w", err)
	}

	data, err := unix.SysvShmAttach(int(rk.ShmID), 0, 0)
	if err != nil {
		return nil, fmt.Errorf("shm: attach rkey shmid=%d: %w", rk.ShmID, err)
	}

	return &Segment{ID: int(rk.ShmID), Data: data, mine: false}, nil
}

// Release detaches seg from this process. If this process is also the
// allocator, the segment is additionally marked for removal
// (IPC_RMID) once the last attachment drops, mirroring
// uct_sysv_rkey_release's allocator-only-destroys rule: a releaser that
// merely attached via UnpackAndAttach only detaches, it never destroys.
func Release(seg *Segment) error {
	if err := unix.SysvShmDetach(seg.Data); err != nil {
		return fmt.Errorf("shm: shmdt failed: %w", err)
	}
	if seg.mine {
		if _, err := unix.SysvShmCtl(seg.ID, unix.IPC_RMID, nil); err != nil {
			return fmt.Errorf("shm: shmctl IPC_RMID failed: %w", err)
		}
	}
	return nil
}

// ProtectionDomain is the SysV lane's memory-registration domain: SysV
// segments are always "registered" (any attached address is directly
// addressable), so RegCost is a fixed, small overhead rather than a
// measured value.
type ProtectionDomain struct {
	Overhead float64
	Growth   float64
}

func (p ProtectionDomain) SupportsReg() bool { return true }
func (p ProtectionDomain) RegCost() ifaces.RegCost {
	return ifaces.RegCost{Overhead: p.Overhead, Growth: p.Growth}
}

// Lane implements ifaces.Lane over an attached Segment: sends are
// synchronous copies into the segment (there is no real "busy" state for
// a local memcpy, so AMBcopy never reports busy). PendingAdd accepts
// every request onto the lane's own FIFO, which PendingPurge drains.
type Lane struct {
	Seg            *Segment
	Caps_          ifaces.IfaceCaps
	remoteID       uint64
	remoteIDKnown  bool
	pendingQ       *pending.Queue
}

// NewLane wraps seg as a Lane advertising bcopy-only capability (no
// zero-copy device behind a plain memcpy segment).
func NewLane(seg *Segment, remoteEndpointID uint64) *Lane {
	return &Lane{
		Seg: seg,
		Caps_: ifaces.IfaceCaps{
			AMBcopy:    true,
			PutBcopy:   true,
			GetBcopy:   true,
			MaxAMBcopy: constants.StubBcopyMax * 4,
			MaxPutBcopy: 1 << 20,
			MaxGetBcopy: 1 << 20,
			Bandwidth:  64e9, // representative memcpy bandwidth
		},
		remoteID:      remoteEndpointID,
		remoteIDKnown: true,
		pendingQ:      pending.New(),
	}
}

func (l *Lane) PendingAdd(req ifaces.PendingRequest) (bool, error) {
	l.pendingQ.Add(req)
	return true, nil
}

func (l *Lane) PendingPurge(release func(ifaces.PendingRequest)) {
	l.pendingQ.Purge(release)
}

// AMBcopy packs via packCB directly into a scratch buffer sized to the
// lane's MaxAMBcopy; a real implementation would copy into the shared
// segment itself, but the active-message path here models the control
// traffic (RTS/ATS), which original_source also keeps off the bulk data
// path.
func (l *Lane) AMBcopy(id uint8, packCB func(dst []byte) int) (int, error) {
	buf := make([]byte, l.Caps_.MaxAMBcopy)
	n := packCB(buf)
	return n, nil
}

func (l *Lane) Destroy() error {
	return Release(l.Seg)
}

func (l *Lane) Caps() ifaces.IfaceCaps { return l.Caps_ }

func (l *Lane) ResourceIndex() int { return l.Seg.ID }

func (l *Lane) RemoteEndpointID() (uint64, error) {
	if !l.remoteIDKnown {
		return 0, fmt.Errorf("shm: remote endpoint id not resolved")
	}
	return l.remoteID, nil
}

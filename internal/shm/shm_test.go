package shm

import (
	"runtime"
	"testing"

	"github.com/kbridge-dev/go-rdx/internal/wire"
)

// requireSysvIPC skips the test when SysV IPC is unlikely to be usable in
// the sandbox — the way the teacher's integration tests skip without a
// ublk-capable kernel.
func requireSysvIPC(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("SysV shared memory requires linux")
	}
}

func TestAllocateFallsBackWithoutHugetlb(t *testing.T) {
	requireSysvIPC(t)

	seg, err := Allocate(4096, AllocFlags{Hugetlb: true})
	if err != nil {
		t.Skipf("shmget unavailable in this sandbox: %v", err)
	}
	defer Release(seg)

	if seg.ID <= 0 {
		t.Fatalf("Segment.ID = %d, want a positive shmid", seg.ID)
	}
	if len(seg.Data) < 4096 {
		t.Fatalf("Segment.Data len = %d, want >= 4096", len(seg.Data))
	}
}

func TestPackUnpackRkeyAttachLoopback(t *testing.T) {
	requireSysvIPC(t)

	seg, err := Allocate(4096, AllocFlags{})
	if err != nil {
		t.Skipf("shmget unavailable in this sandbox: %v", err)
	}
	defer Release(seg)

	seg.Data[0] = 0x42

	packed := PackRkey(seg)
	if len(packed) != 12 {
		t.Fatalf("PackRkey() len = %d, want 12", len(packed))
	}

	rk, err := wire.UnmarshalPackedRkey(packed)
	if err != nil {
		t.Fatalf("UnmarshalPackedRkey() error = %v", err)
	}
	if rk.ShmID != uint32(seg.ID) {
		t.Fatalf("unpacked ShmID = %d, want %d", rk.ShmID, seg.ID)
	}

	attached, err := UnpackAndAttach(packed)
	if err != nil {
		t.Skipf("second shmat unavailable in this sandbox: %v", err)
	}
	defer Release(attached)

	if attached.Data[0] != 0x42 {
		t.Fatalf("attached.Data[0] = %d, want 0x42 (loopback PUT/GET round-trip)", attached.Data[0])
	}

	// Per spec.md §9, the attached address is a hint-discarded mapping:
	// it need not equal the allocator's own address in this process.
	_ = attached.Addr()
}

func TestReleaseOnlyDetachesForNonAllocator(t *testing.T) {
	requireSysvIPC(t)

	seg, err := Allocate(4096, AllocFlags{})
	if err != nil {
		t.Skipf("shmget unavailable in this sandbox: %v", err)
	}

	packed := PackRkey(seg)
	attached, err := UnpackAndAttach(packed)
	if err != nil {
		t.Skipf("second shmat unavailable in this sandbox: %v", err)
	}

	if err := Release(attached); err != nil {
		t.Fatalf("Release(attached) error = %v", err)
	}

	// The allocator's own segment must still be alive: a fresh attach
	// from its own rkey should succeed.
	reattached, err := UnpackAndAttach(packed)
	if err != nil {
		t.Fatalf("segment should survive a non-allocator Release, got: %v", err)
	}
	Release(reattached)
	Release(seg)
}

package config

import (
	"math"
	"testing"

	"github.com/kbridge-dev/go-rdx/internal/ifaces"
)

type fakeLane struct {
	caps ifaces.IfaceCaps
}

func (f *fakeLane) PendingAdd(ifaces.PendingRequest) (bool, error)  { return false, nil }
func (f *fakeLane) PendingPurge(func(ifaces.PendingRequest))        {}
func (f *fakeLane) AMBcopy(uint8, func([]byte) int) (int, error)    { return 0, nil }
func (f *fakeLane) Destroy() error                                  { return nil }
func (f *fakeLane) Caps() ifaces.IfaceCaps                          { return f.caps }
func (f *fakeLane) ResourceIndex() int                              { return 0 }
func (f *fakeLane) RemoteEndpointID() (uint64, error)                { return 1, nil }

type fakePD struct {
	supportsReg bool
	cost        ifaces.RegCost
}

func (p *fakePD) SupportsReg() bool        { return p.supportsReg }
func (p *fakePD) RegCost() ifaces.RegCost { return p.cost }

func TestDeriveConfigRndvThreshCapsAtMaxBcopy(t *testing.T) {
	lane := &fakeLane{caps: ifaces.IfaceCaps{MaxAMBcopy: 4096, MaxAMShort: 256}}
	cfg := DeriveConfig(lane, nil, 1<<20, 0)

	if cfg.RndvThresh != 4096 {
		t.Errorf("RndvThresh = %d, want 4096 (capped at MaxAMBcopy)", cfg.RndvThresh)
	}
	if cfg.SyncRndvThresh != cfg.RndvThresh {
		t.Errorf("SyncRndvThresh = %d, want %d", cfg.SyncRndvThresh, cfg.RndvThresh)
	}
}

func TestDeriveConfigZcopyThreshNeverWithoutZcopySupport(t *testing.T) {
	lane := &fakeLane{caps: ifaces.IfaceCaps{AMZcopy: false}}
	cfg := DeriveConfig(lane, &fakePD{supportsReg: true}, 0, 0)

	if cfg.ZcopyThresh != math.MaxUint64 {
		t.Errorf("ZcopyThresh = %d, want MaxUint64 when lane lacks AMZcopy", cfg.ZcopyThresh)
	}
}

func TestDeriveConfigZcopyThreshNeverWithoutRegCapablePD(t *testing.T) {
	lane := &fakeLane{caps: ifaces.IfaceCaps{AMZcopy: true, Bandwidth: 10e9}}
	cfg := DeriveConfig(lane, &fakePD{supportsReg: false}, 0, 0)

	if cfg.ZcopyThresh != math.MaxUint64 {
		t.Errorf("ZcopyThresh = %d, want MaxUint64 when PD can't register memory", cfg.ZcopyThresh)
	}
}

func TestDeriveConfigZcopyThreshFinite(t *testing.T) {
	lane := &fakeLane{caps: ifaces.IfaceCaps{AMZcopy: true, Bandwidth: 10e9}}
	pd := &fakePD{supportsReg: true, cost: ifaces.RegCost{Overhead: 1e-6, Growth: 0}}
	cfg := DeriveConfig(lane, pd, 0, 0)

	if cfg.ZcopyThresh == 0 || cfg.ZcopyThresh == math.MaxUint64 {
		t.Errorf("ZcopyThresh = %d, want a finite positive threshold", cfg.ZcopyThresh)
	}
}

// TestDeriveConfigNilLaneDefaultsStubMaxBcopy covers spec.md §4.2 step 4
// / §8's boundary property directly: a stub AM lane (no real interface
// to query) still gets a usable MaxBcopy rather than the zero value.
func TestDeriveConfigNilLaneDefaultsStubMaxBcopy(t *testing.T) {
	cfg := DeriveConfig(nil, nil, 0, 0)

	if cfg.MaxBcopy != 256 {
		t.Errorf("MaxBcopy = %d, want 256 for a stub AM lane", cfg.MaxBcopy)
	}
	if cfg.ZcopyThresh != math.MaxUint64 {
		t.Errorf("ZcopyThresh = %d, want MaxUint64 for a stub AM lane", cfg.ZcopyThresh)
	}
}

func TestStubKeyEqualAcrossCalls(t *testing.T) {
	if !StubKey().Equal(StubKey()) {
		t.Fatal("StubKey() should always compare Equal to itself so stub endpoints share one interned Config")
	}
}

func TestKeyEqual(t *testing.T) {
	a := Key{NumLanes: 2, RndvLane: 0}
	a.LaneResourceIndices[0] = 3
	a.LaneResourceIndices[1] = 5

	b := a
	if !a.Equal(b) {
		t.Fatal("identical keys should be Equal")
	}

	b.LaneResourceIndices[1] = 6
	if a.Equal(b) {
		t.Fatal("keys differing in lane resource index should not be Equal")
	}
}

func TestInternTableDedups(t *testing.T) {
	table := NewInternTable()
	derivations := 0
	derive := func() Config {
		derivations++
		return Config{BcopyThresh: 1024}
	}

	k := Key{NumLanes: 1}
	idx1 := table.Intern(k, derive)
	idx2 := table.Intern(k, derive)

	if idx1 != idx2 {
		t.Fatalf("Intern() returned different indices for equal keys: %d vs %d", idx1, idx2)
	}
	if derivations != 1 {
		t.Fatalf("derive called %d times, want 1", derivations)
	}
	if table.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", table.Len())
	}
}

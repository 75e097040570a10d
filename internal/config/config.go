// Package config derives and interns per-endpoint configuration: the
// bcopy/zcopy/rendezvous thresholds and per-lane maxima an endpoint uses
// to pick a send path, computed from the lanes' advertised capabilities.
// Grounded on original_source's ucp_worker_get_ep_config /
// ucp_ep_config_calc_params (ucp_ep.c) threshold derivation, adapted to
// the narrower Lane/IfaceCaps surface the Go core exposes.
package config

import (
	"math"

	"github.com/kbridge-dev/go-rdx/internal/constants"
	"github.com/kbridge-dev/go-rdx/internal/ifaces"
)

// Key identifies a distinct endpoint configuration: two endpoints whose
// Keys are Equal share a derived Config, mirroring ucp_ep_config_key_t's
// role as the interning key in the original's config table.
type Key struct {
	// LaneResourceIndices is the worker-scoped resource index bound to
	// each lane slot, in lane order. Only the first NumLanes entries are
	// meaningful.
	LaneResourceIndices [constants.MaxLanes]int
	// RndvLane is the lane index used for a rendezvous RTS, or
	// constants.NullLane if none is assigned yet.
	RndvLane int
	NumLanes int
}

// Equal reports whether k and other describe the same lane assignment,
// the condition under which ucp_worker_get_ep_config returns an existing
// entry instead of deriving a new one.
func (k Key) Equal(other Key) bool {
	if k.NumLanes != other.NumLanes || k.RndvLane != other.RndvLane {
		return false
	}
	for i := 0; i < k.NumLanes; i++ {
		if k.LaneResourceIndices[i] != other.LaneResourceIndices[i] {
			return false
		}
	}
	return true
}

// Config is the derived per-endpoint send configuration: the thresholds
// and per-operation maxima an endpoint consults to choose between eager
// short/bcopy/zcopy and rendezvous, the Go analogue of ucp_ep_config_t's
// tag.eager/tag.rndv fields.
type Config struct {
	BcopyThresh     uint64
	ZcopyThresh     uint64
	SyncZcopyThresh uint64
	RndvThresh      uint64
	SyncRndvThresh  uint64

	MaxShort uint64
	MaxBcopy uint64
	MaxZcopy uint64
}

// DeriveConfig computes a Config from the capabilities of the endpoint's
// AM lane, following original_source's threshold
// derivation:
//   - bcopy_thresh is a fixed default (no auto-tuning in the original
//     for this path).
//   - zcopy_thresh uses the auto formula below when the lane supports
//     zero-copy and reports registration cost; otherwise it saturates to
//     "never" (max uint64).
//   - rndv_thresh is the smaller of the caller-supplied rendezvous
//     threshold and the lane's max bcopy size, since a message too large
//     to bcopy eagerly must rendezvous regardless of the configured
//     threshold.
//
// rndvThresh is a caller-level policy knob (not derivable from lane caps
// alone); syncRndvThresh likewise. Passing 0 for rndvThresh selects the
// lane's MaxAMBcopy as the rendezvous threshold, i.e. "rendezvous
// anything that can't go eager"; passing 0 for syncRndvThresh takes the
// derived rndv threshold.
func DeriveConfig(lane ifaces.Lane, pd ifaces.ProtectionDomain, rndvThresh, syncRndvThresh uint64) Config {
	if lane == nil {
		// spec.md §4.2 step 4: a stub AM lane has no real interface to
		// query capabilities from, so its bcopy maximum falls back to a
		// fixed 256 bytes. The zero-copy thresholds saturate to "never";
		// the rendezvous thresholds and the short/zcopy maxima stay zero.
		return Config{
			BcopyThresh:     constants.DefaultBcopyThresh,
			ZcopyThresh:     math.MaxUint64,
			SyncZcopyThresh: math.MaxUint64,
			MaxBcopy:        constants.StubBcopyMax,
		}
	}
	caps := lane.Caps()

	cfg := Config{
		BcopyThresh:     constants.DefaultBcopyThresh,
		SyncZcopyThresh: constants.SyncZcopyThreshUnset,
		MaxShort:        uint64(caps.MaxAMShort),
		MaxBcopy:        uint64(caps.MaxAMBcopy),
		MaxZcopy:        uint64(caps.MaxAMZcopy),
	}

	cfg.ZcopyThresh = autoZcopyThresh(caps, pd)
	if cfg.SyncZcopyThresh == constants.SyncZcopyThreshUnset {
		cfg.SyncZcopyThresh = cfg.ZcopyThresh
	}

	cfg.RndvThresh = rndvThresh
	if cfg.RndvThresh == 0 || cfg.RndvThresh > cfg.MaxBcopy {
		cfg.RndvThresh = cfg.MaxBcopy
	}
	cfg.SyncRndvThresh = syncRndvThresh
	if cfg.SyncRndvThresh == 0 {
		cfg.SyncRndvThresh = cfg.RndvThresh
	}

	return cfg
}

// autoZcopyThresh implements the auto zero-copy threshold formula:
//
//	zcopy_thresh = overhead / ((1/bcopy_bw) - (1/bandwidth) - growth)
//
// saturating to math.MaxUint64 ("never use zero-copy") whenever the
// denominator is non-positive, a zero-copy-incapable lane, or a
// registration-incapable protection domain — all cases where zero-copy
// offers no measurable win over bcopy.
func autoZcopyThresh(caps ifaces.IfaceCaps, pd ifaces.ProtectionDomain) uint64 {
	if !caps.AMZcopy || pd == nil || !pd.SupportsReg() {
		return math.MaxUint64
	}
	if caps.Bandwidth <= 0 {
		return math.MaxUint64
	}

	const bcopyBandwidth = 6 * 1024 * 1024 * 1024.0 // bytes/sec, a representative memcpy rate
	cost := pd.RegCost()

	denom := (1.0 / bcopyBandwidth) - (1.0 / caps.Bandwidth) - cost.Growth
	if denom <= 0 {
		return math.MaxUint64
	}

	thresh := cost.Overhead / denom
	if thresh < 0 || thresh > float64(math.MaxUint64) {
		return math.MaxUint64
	}
	return uint64(thresh)
}

// StubKey returns the interning key shared by every stub endpoint: a
// single lane with no backing resource and no AM lane assigned. All stub
// endpoints compare Equal under this key, so they share one interned
// Config (with MaxBcopy == constants.StubBcopyMax) rather than each
// deriving and storing its own, per spec.md §4.1's "cfg_index is
// obtained by interning the stub key."
func StubKey() Key {
	var k Key
	k.NumLanes = 1
	k.RndvLane = constants.NullLane
	k.LaneResourceIndices[0] = constants.NullResource
	return k
}

// InternTable deduplicates derived Configs by Key, so endpoints that
// share a lane assignment share one Config instance rather than each
// recomputing and storing their own, mirroring
// ucp_worker_t.ep_config array + linear Key-equality scan in the
// original.
type InternTable struct {
	keys    []Key
	configs []Config
}

// NewInternTable returns an empty intern table.
func NewInternTable() *InternTable {
	return &InternTable{}
}

// Intern returns the index of an existing entry whose Key is Equal to
// key, or appends a new entry computed by derive and returns its index.
func (t *InternTable) Intern(key Key, derive func() Config) int {
	for i, k := range t.keys {
		if k.Equal(key) {
			return i
		}
	}
	t.keys = append(t.keys, key)
	t.configs = append(t.configs, derive())
	return len(t.configs) - 1
}

// At returns the Config stored at idx.
func (t *InternTable) At(idx int) Config {
	return t.configs[idx]
}

// Len reports the number of distinct configs interned so far.
func (t *InternTable) Len() int {
	return len(t.configs)
}

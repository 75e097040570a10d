// Package constants holds compile-time limits, sentinel values and
// defaults shared across the endpoint, config, rendezvous and transport
// packages.
package constants

import (
	"math"
	"time"
)

// MaxLanes bounds the number of transport lanes an endpoint may compose,
// mirroring UCP_MAX_LANES in the original implementation.
const MaxLanes = 16

// NullLane marks an unset lane index (am_lane, wireup_msg_lane).
const NullLane = -1

// NullResource marks a lane entry in a config key that has no backing
// transport resource yet (stub lanes).
const NullResource = -1

// Default endpoint configuration thresholds and maxima.
const (
	// StubBcopyMax is the bcopy maximum advertised by a stub AM or RMA lane.
	StubBcopyMax = 256

	// DefaultBcopyThresh is used when the worker context does not override it.
	DefaultBcopyThresh = 1024
)

// SyncZcopyThreshUnset is the sentinel for an unset sync_zcopy_thresh.
// The original uses a signed -1, distinct from the "MAX" saturation
// value used for zcopy_thresh/rndv_thresh; Config.SyncZcopyThresh is
// uint64 here (there is no negative-size threshold in this core), so
// the sentinel collapses to the same bit pattern as "MAX". That loses
// the original's "explicitly unset" vs. "explicitly saturated" distinction
// — a design simplification, not an attempt to preserve -1's signedness.
const SyncZcopyThreshUnset = uint64(math.MaxUint64)

// Timing constants for the worker's progress loop.
const (
	// ProgressPollInterval is the default tick of the public Worker.Run
	// progress loop.
	ProgressPollInterval = time.Millisecond
)

// RkeyPackedSize is the wire size in bytes of a packed SysV remote key
// (shmid: u32 | owner_ptr: u64).
const RkeyPackedSize = 12

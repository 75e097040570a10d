// Package worker implements the minimal concrete collaborator spec.md
// treats as external: the endpoint table, config intern table and
// tag-match structure tied together behind a single async-context lock,
// with a Progress() loop that drives pending retries. Grounded on the
// teacher's internal/ctrl.Controller (single mutex guarding device
// state) and internal/queue.Runner (a progress/run loop driving queued
// work).
package worker

import (
	"errors"
	"sync"

	"github.com/kbridge-dev/go-rdx/internal/config"
	"github.com/kbridge-dev/go-rdx/internal/endpoint"
	"github.com/kbridge-dev/go-rdx/internal/ifaces"
	"github.com/kbridge-dev/go-rdx/internal/logging"
	"github.com/kbridge-dev/go-rdx/internal/pending"
	"github.com/kbridge-dev/go-rdx/internal/rendezvous"
	"github.com/kbridge-dev/go-rdx/internal/tagmatch"
	"github.com/kbridge-dev/go-rdx/internal/wire"
)

// Worker is the owning context for a set of endpoints: spec.md §5's
// single-threaded-per-worker model, backed by one sync.Mutex that plays
// the role of the async-context lock. Every method here holds mu for its
// duration; callers must not re-enter Worker methods from within a
// callback it invokes (e.g. ProcessRTS's onMatch).
type Worker struct {
	mu sync.Mutex

	Endpoints *endpoint.Table
	Configs   *config.InternTable
	TagMatch  *tagmatch.Table

	log *logging.Logger

	expCount uint64
}

// New returns a Worker with empty endpoint/config/tag-match state.
func New(log *logging.Logger) *Worker {
	if log == nil {
		log = logging.Default()
	}
	return &Worker{
		Endpoints: endpoint.NewTable(),
		Configs:   config.NewInternTable(),
		TagMatch:  tagmatch.New(),
		log:       log,
	}
}

// BumpEXP implements rendezvous.Stats: incremented once per RTS matched
// against an already-posted expected receive.
func (w *Worker) BumpEXP() {
	w.expCount++
}

// Stats is a point-in-time snapshot of worker counters.
type Stats struct {
	ExpectedMatches int
	NumEndpoints    int
	NumExpected     int
	NumUnexpected   int
}

// GetStats returns a snapshot of the worker's counters, taken under the
// async lock so it reflects a single consistent point in time.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		ExpectedMatches: int(w.expCount),
		NumEndpoints:    w.Endpoints.Len(),
		NumExpected:     w.TagMatch.NumExpected(),
		NumUnexpected:   w.TagMatch.NumUnexpected(),
	}
}

// CreateEndpoint derives (or reuses) a Config for lanes and creates an
// endpoint over them, per spec.md §4.1/§4.2: config interning happens at
// creation time so every endpoint sharing a lane assignment shares one
// Config.
func (w *Worker) CreateEndpoint(destUUID uint64, peerName string, lanes []ifaces.Lane, pd ifaces.ProtectionDomain, amLane int, rndvThresh, syncRndvThresh uint64) (*endpoint.Endpoint, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var key config.Key
	key.NumLanes = len(lanes)
	key.RndvLane = amLane
	for i, lane := range lanes {
		key.LaneResourceIndices[i] = lane.ResourceIndex()
	}

	cfgIdx := w.Configs.Intern(key, func() config.Config {
		var primary ifaces.Lane
		if amLane >= 0 && amLane < len(lanes) {
			primary = lanes[amLane]
		}
		return config.DeriveConfig(primary, pd, rndvThresh, syncRndvThresh)
	})

	ep, err := w.Endpoints.Create(destUUID, peerName, lanes, cfgIdx, amLane)
	if err != nil {
		w.log.Warn("endpoint create failed", "dest_uuid", destUUID, "num_lanes", len(lanes), "error", err)
		return nil, err
	}
	w.log.Debug("endpoint created", "dest_uuid", destUUID, "peer", peerName, "num_lanes", len(lanes), "cfg_index", cfgIdx)
	return ep, nil
}

// CreateStubEndpoint interns the shared stub Config (MaxBcopy ==
// constants.StubBcopyMax, per spec.md §4.2 step 4) and creates a stub
// endpoint over stubLane, per spec.md §4.1's "Create stub" path.
func (w *Worker) CreateStubEndpoint(destUUID uint64, stubLane ifaces.Lane) (*endpoint.Endpoint, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cfgIdx := w.Configs.Intern(config.StubKey(), func() config.Config {
		return config.DeriveConfig(nil, nil, 0, 0)
	})

	w.log.Debug("stub endpoint created", "dest_uuid", destUUID, "cfg_index", cfgIdx)
	return w.Endpoints.CreateStub(destUUID, stubLane, cfgIdx)
}

// DestroyEndpoint tears ep down under the worker's lock, invoking
// release for every request still queued on any of its lanes.
func (w *Worker) DestroyEndpoint(ep *endpoint.Endpoint, release func(ifaces.PendingRequest)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if release == nil {
		release = func(ifaces.PendingRequest) {}
	}
	w.log.Debug("destroying endpoint", "dest_uuid", ep.DestUUID, "num_lanes", ep.NumLanes())
	return w.Endpoints.Destroy(ep, release)
}

// SendRendezvous transmits an RTS for req over ep, per spec.md §4.4.3. A
// busy lane queues req for retry via Progress rather than surfacing the
// busy condition to the caller; queued reports whether that happened, so
// callers can distinguish an immediate send from a deferred one (for
// metrics, without changing the error contract).
func (w *Worker) SendRendezvous(ep *endpoint.Endpoint, req *rendezvous.Request) (queued bool, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	err = rendezvous.SendStartRndv(ep, req)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, pending.ErrBusy) {
		return false, err
	}
	ep.PendingQueue(req.LaneIndex).Add(rendezvous.RTSProgress(ep, req))
	return true, nil
}

// SendRendezvousBlocking transmits req over ep, repeatedly retrying the
// send while driving Progress between attempts, until the lane admits it
// or it completes — spec.md §4.3's blocking pending-enqueue variant,
// "the only place the core explicitly spins on progress." Unlike
// SendRendezvous, a busy lane is never handed off to the pending queue:
// the caller's own retry loop (via pending.AddBlocking) plays that role.
func (w *Worker) SendRendezvousBlocking(ep *endpoint.Endpoint, req *rendezvous.Request) error {
	return pending.AddBlocking(
		func() error {
			w.mu.Lock()
			defer w.mu.Unlock()
			return rendezvous.SendStartRndv(ep, req)
		},
		func() error {
			w.Progress()
			return nil
		},
	)
}

// ProcessRTS handles an arrived RTS header under the worker's lock,
// dispatching a match through onMatch and routing the ack back to the
// sender via its registered endpoint id, per spec.md §4.4.2.
func (w *Worker) ProcessRTS(hdr *wire.RTSHeader, sourceUUID uint64, onMatch func(*wire.RecvRequest)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	deps := rendezvous.ProcessDeps{
		TagMatch:   w.TagMatch,
		Endpoints:  w.Endpoints,
		Stats:      w,
		SourceUUID: sourceUUID,
		OnMatch:    onMatch,
		Log:        w.log,
	}
	return rendezvous.ProcessRTS(deps, hdr)
}

// Progress drives one iteration of pending-retry processing across every
// endpoint's lanes, per spec.md §4.3's discipline: "the only place the
// core explicitly spins on progress" is the blocking send helper in
// internal/pending, which calls back into this method between attempts.
func (w *Worker) Progress() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	completed := 0
	w.Endpoints.Range(func(ep *endpoint.Endpoint) {
		for i := 0; i < ep.NumLanes(); i++ {
			completed += ep.PendingQueue(i).Progress()
		}
	})
	return completed
}

package rdx

import (
	"context"
	"time"

	"github.com/kbridge-dev/go-rdx/internal/addrcodec"
	"github.com/kbridge-dev/go-rdx/internal/config"
	"github.com/kbridge-dev/go-rdx/internal/constants"
	"github.com/kbridge-dev/go-rdx/internal/endpoint"
	"github.com/kbridge-dev/go-rdx/internal/ifaces"
	"github.com/kbridge-dev/go-rdx/internal/logging"
	"github.com/kbridge-dev/go-rdx/internal/rendezvous"
	"github.com/kbridge-dev/go-rdx/internal/stub"
	"github.com/kbridge-dev/go-rdx/internal/wire"
	"github.com/kbridge-dev/go-rdx/internal/worker"
)

// Options contains additional options for worker/endpoint creation,
// mirroring the teacher's Options (Context/Logger/Observer), scoped here
// to a Worker rather than to a single device.
type Options struct {
	// Context for cancellation (if nil, uses context.Background()).
	Context context.Context

	// Logger for debug/info messages (if nil, uses logging.Default()).
	Logger *logging.Logger

	// Observer for metrics collection (if nil, uses a no-op observer).
	Observer Observer
}

// Worker is the public handle for a single-threaded-per-worker progress
// engine: it owns a set of endpoints, a derived-configuration intern
// table, and a tag-match structure, per spec.md §5. It wraps
// internal/worker.Worker rather than exposing it directly so the public
// API surface stays stable as the internal implementation evolves.
type Worker struct {
	inner    *worker.Worker
	log      *logging.Logger
	observer Observer
	metrics  *Metrics
	codec    addrcodec.Codec

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates a Worker with empty endpoint/config/tag-match state.
func NewWorker(options *Options) *Worker {
	if options == nil {
		options = &Options{}
	}
	ctx := options.Context
	if ctx == nil {
		ctx = context.Background()
	}
	log := options.Logger
	if log == nil {
		log = logging.Default()
	}
	metrics := NewMetrics()
	observer := options.Observer
	if observer == nil {
		observer = NewMetricsObserver(metrics)
	}

	w := &Worker{
		inner:    worker.New(log),
		log:      log,
		observer: observer,
		metrics:  metrics,
		codec:    addrcodec.New(),
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	return w
}

// Metrics returns the worker's built-in metrics instance (populated only
// if the worker's Observer was left as the default MetricsObserver-backed
// one; a custom Observer bypasses it).
func (w *Worker) Metrics() *Metrics { return w.metrics }

// MetricsSnapshot returns a point-in-time snapshot of worker metrics.
func (w *Worker) MetricsSnapshot() MetricsSnapshot { return w.metrics.Snapshot() }

// Stats returns a snapshot of the worker's endpoint/tag-match counters.
func (w *Worker) Stats() worker.Stats { return w.inner.GetStats() }

// Progress drives one iteration of pending-retry processing across every
// endpoint's lanes, per spec.md §4.3. This is the only loop the core
// actively spins on (via the blocking pending-enqueue variant); callers
// that need continuous progress should call this from their own loop or
// goroutine, the way the teacher's queue.Runner drives its own I/O loop.
func (w *Worker) Progress() int { return w.inner.Progress() }

// Run drives Progress on a ticker of the given interval until the
// Worker's context is canceled or Stop is called, the rendezvous-core
// analogue of the teacher's per-queue runner goroutines. Callers that
// want to drive progress themselves (e.g. from their own event loop)
// should call Progress directly instead of Run.
func (w *Worker) Run(interval time.Duration) error {
	if interval <= 0 {
		interval = constants.ProgressPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return w.ctx.Err()
		case <-ticker.C:
			w.Progress()
		}
	}
}

// Stop cancels the Worker's context, signaling any Run loop to return,
// and marks its metrics stopped.
func (w *Worker) Stop() {
	w.cancel()
	w.metrics.Stop()
}

// EndpointParams mirrors the teacher's DeviceParams: a public,
// documented configuration struct consumed when creating an endpoint.
type EndpointParams struct {
	// DestUUID identifies the remote worker this endpoint targets.
	DestUUID uint64
	// PeerName is a human-readable peer tag (debug only), per spec.md §3.
	PeerName string

	// Lanes composes the endpoint's transport lanes in order; Lanes[0]
	// is typically also the AM lane unless AMLane overrides it.
	Lanes []ifaces.Lane
	// ProtectionDomain backs the AM lane's zero-copy threshold
	// derivation (internal/config's auto zcopy formula).
	ProtectionDomain ifaces.ProtectionDomain
	// AMLane selects which lane in Lanes carries active messages
	// (RTS/ATS); defaults to 0 when unset and Lanes is non-empty.
	AMLane int

	// RndvThresh/SyncRndvThresh are caller-level policy knobs for
	// internal/config.DeriveConfig; a RndvThresh of 0 selects "rendezvous
	// anything that can't go eager" (the AM lane's max bcopy size), and a
	// SyncRndvThresh of 0 takes the derived RndvThresh.
	RndvThresh     uint64
	SyncRndvThresh uint64
}

// DefaultParams returns EndpointParams with AMLane defaulted to the
// first lane and rendezvous thresholds left to auto-derive.
func DefaultParams(destUUID uint64, peerName string, lanes []ifaces.Lane, pd ifaces.ProtectionDomain) EndpointParams {
	return EndpointParams{
		DestUUID:         destUUID,
		PeerName:         peerName,
		Lanes:            lanes,
		ProtectionDomain: pd,
		AMLane:           0,
	}
}

// Endpoint is the public handle for an endpoint object (spec.md §3):
// a multi-lane communication target owned by a Worker.
type Endpoint struct {
	w  *Worker
	ep *endpoint.Endpoint
}

// Connect creates (or returns the existing) endpoint for params.DestUUID
// over the given lanes, per spec.md §4.1's "Create from remote address"
// path collapsed to its post-wireup-resolution half: lane resolution
// from a packed address is ConnectFromAddress's job, this is the
// "lanes are already known" entry point config interning and endpoint
// construction share with it.
func (w *Worker) Connect(params EndpointParams) (*Endpoint, error) {
	if len(params.Lanes) > constants.MaxLanes {
		return nil, NewEndpointError("Connect", params.DestUUID, ErrCodeNoMemory, "lane count exceeds MaxLanes")
	}
	ep, err := w.inner.CreateEndpoint(params.DestUUID, params.PeerName, params.Lanes, params.ProtectionDomain, params.AMLane, params.RndvThresh, params.SyncRndvThresh)
	if err != nil {
		return nil, WrapError("Connect", err)
	}
	return &Endpoint{w: w, ep: ep}, nil
}

// ConnectFromAddress implements spec.md §4.1 "Create from remote
// address": unpack the peer's packed address, look up by dest_uuid
// under the worker (returning an existing endpoint verbatim — see
// DESIGN.md's existing-incomplete-endpoint decision), or wire lanes via
// the address codec and create a new one. pd backs the resolved lanes'
// zero-copy threshold derivation.
func (w *Worker) ConnectFromAddress(packedAddr []byte, pd ifaces.ProtectionDomain) (*Endpoint, error) {
	destUUID, peerName, addrs, err := w.codec.Unpack(packedAddr)
	if err != nil {
		return nil, &Error{Op: "ConnectFromAddress", Code: ErrCodeProtocol, Lane: -1, Msg: "address unpack failed", Inner: err}
	}

	if existing, ok := w.inner.Endpoints.ByUUID(destUUID); ok {
		return &Endpoint{w: w, ep: existing}, nil
	}

	lanes, err := addrcodec.WireupInitLanes(addrs, 0)
	if err != nil {
		return nil, WrapError("ConnectFromAddress", err)
	}

	ep, err := w.inner.CreateEndpoint(destUUID, peerName, lanes, pd, 0, 0, 0)
	if err != nil {
		return nil, WrapError("ConnectFromAddress", err)
	}
	ep.Flags |= endpoint.FlagLocalConnected
	return &Endpoint{w: w, ep: ep}, nil
}

// ConnectStub implements spec.md §4.1 "Create stub": allocates an
// endpoint with exactly one lane backed by a stand-in implementation
// that buffers outgoing operations until wireup rebinds it to a real
// transport lane.
func (w *Worker) ConnectStub(destUUID uint64) (*Endpoint, error) {
	ep, err := w.inner.CreateStubEndpoint(destUUID, stub.New())
	if err != nil {
		return nil, WrapError("ConnectStub", err)
	}
	return &Endpoint{w: w, ep: ep}, nil
}

// IsStub reports whether ep is a pre-wireup stand-in, per spec.md
// §4.1's "Is-stub predicate".
func (e *Endpoint) IsStub() bool { return e.ep.IsStub() }

// ID returns the endpoint's local numeric id — the value a peer's lane
// must report from RemoteEndpointID so its outgoing RTS headers route
// back to this endpoint for acknowledgement, per the
// UCP_WORKER_GET_EP_BY_ID pattern (see DESIGN.md).
func (e *Endpoint) ID() uint64 { return e.ep.ID() }

// DestUUID returns the endpoint's destination UUID.
func (e *Endpoint) DestUUID() uint64 { return e.ep.DestUUID }

// PeerName returns the endpoint's debug-only peer tag.
func (e *Endpoint) PeerName() string { return e.ep.PeerName }

// NumLanes reports the number of composed lanes.
func (e *Endpoint) NumLanes() int { return e.ep.NumLanes() }

// Config returns the endpoint's derived configuration (thresholds and
// per-lane maxima), per spec.md §3's "Endpoint configuration (derived)".
func (e *Endpoint) Config() config.Config { return e.w.inner.Configs.At(e.ep.CfgIndex) }

// EndpointInfo summarizes an endpoint's identity and lane composition
// for display or logging, the rendezvous-core analogue of the teacher's
// DeviceInfo.
type EndpointInfo struct {
	DestUUID uint64
	PeerName string
	NumLanes int
	IsStub   bool
	CfgIndex int
}

// Info returns comprehensive information about the endpoint.
func (e *Endpoint) Info() EndpointInfo {
	return EndpointInfo{
		DestUUID: e.ep.DestUUID,
		PeerName: e.ep.PeerName,
		NumLanes: e.ep.NumLanes(),
		IsStub:   e.ep.IsStub(),
		CfgIndex: e.ep.CfgIndex,
	}
}

// SendRendezvous transmits an RTS for req over e, per spec.md §4.4.3. A
// busy lane transparently queues req for retry via the worker's Progress
// loop rather than surfacing the busy condition to the caller — matching
// spec.md §4.3's add-pending contract.
func (e *Endpoint) SendRendezvous(req *rendezvous.Request) error {
	queued, err := e.w.inner.SendRendezvous(e.ep, req)
	if err != nil {
		e.w.observer.ObserveRTSSent(req.Size, false)
		return WrapError("SendRendezvous", err)
	}
	if queued {
		e.w.observer.ObservePendingEnqueue()
	}
	e.w.observer.ObserveRTSSent(req.Size, true)
	return nil
}

// SendRendezvousBlocking is the synchronous counterpart to
// SendRendezvous: instead of handing a busy send off to the worker's
// pending queue and returning, it repeatedly retries the send while
// driving the worker's progress loop between attempts, per spec.md
// §4.3's blocking pending-enqueue variant — "the only place the core
// explicitly spins on progress." Callers that cannot return control
// with an in-flight request (e.g. a synchronous RPC-style caller) use
// this instead of SendRendezvous.
func (e *Endpoint) SendRendezvousBlocking(req *rendezvous.Request) error {
	if err := e.w.inner.SendRendezvousBlocking(e.ep, req); err != nil {
		e.w.observer.ObserveRTSSent(req.Size, false)
		return WrapError("SendRendezvousBlocking", err)
	}
	e.w.observer.ObserveRTSSent(req.Size, true)
	return nil
}

// Cancel implements spec.md §4.4.4's symmetric ID-keyed cancellation for
// a send-side rendezvous request.
func (e *Endpoint) Cancel(req *rendezvous.Request) error {
	if err := rendezvous.Cancel(e.ep, req); err != nil {
		return WrapError("Cancel", err)
	}
	e.w.observer.ObserveCancellation()
	return nil
}

// Destroy implements spec.md §4.1 "Destroy": under the worker's lock,
// purges pending requests on every lane (each purged request that
// implements CompleteCanceled is notified; a queued rendezvous send is
// marked Canceled), destroys each lane's
// underlying transport endpoint, and removes the endpoint from the
// worker. Per spec.md §5, Destroy is not safe concurrently with sends on
// the same endpoint; callers must quiesce first.
func (e *Endpoint) Destroy() error {
	purged := 0
	release := func(req ifaces.PendingRequest) {
		purged++
		if canceler, ok := req.(rendezvousCancelable); ok {
			canceler.CompleteCanceled()
		}
	}
	err := e.w.inner.DestroyEndpoint(e.ep, release)
	e.w.metrics.RecordPendingPurged(purged)
	if err != nil {
		return WrapError("Destroy", err)
	}
	return nil
}

// PostRecv posts an expected receive for tag into the worker's tag-match
// structure, per spec.md §4.4.1's expected-receive post path: an RTS
// arriving afterward (via ProcessRTS) matches it directly instead of
// being parked as unexpected. tagMask of 0 means "match tag exactly".
func (w *Worker) PostRecv(tag, tagMask uint64, buffer []byte) *wire.RecvRequest {
	req := &wire.RecvRequest{Tag: tag, TagMask: tagMask, Buffer: buffer}
	w.inner.TagMatch.PostExpected(req)
	return req
}

// rendezvousCancelable lets a pending request opt into being notified of
// its own cancellation during endpoint destruction, without the core
// depending on any concrete upper-layer request type.
type rendezvousCancelable interface {
	CompleteCanceled()
}

// ProcessRTS implements spec.md §4.4.2 for an arriving RTS header read
// off any lane: dispatch to TAG_CANCELED handling, expected-match
// handling (bumping metrics the way the worker bumps its EXP counter),
// or unexpected-descriptor parking. onMatch, if non-nil, is invoked with
// the matched receive request once an RTS is paired with a posted
// receive.
func (w *Worker) ProcessRTS(hdr *wire.RTSHeader, sourceUUID uint64, onMatch func(*wire.RecvRequest)) error {
	w.observer.ObserveRTSReceived()
	wasCancel := hdr.Opcode == wire.OpTagCanceled

	err := w.inner.ProcessRTS(hdr, sourceUUID, func(req *wire.RecvRequest) {
		w.observer.ObserveExpectedMatch(0)
		if onMatch != nil {
			onMatch(req)
		}
	})
	if err != nil {
		return WrapError("ProcessRTS", err)
	}
	if wasCancel {
		w.observer.ObserveCancellation()
	}
	return nil
}

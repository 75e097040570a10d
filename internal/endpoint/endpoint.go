// Package endpoint implements the endpoint object: a lane-composed
// communication target (spec.md §3/§4.1), grounded on
// original_source's ucp_ep_create/ucp_ep_destroy (ucp_ep.c).
package endpoint

import (
	"sync/atomic"

	"github.com/kbridge-dev/go-rdx/internal/constants"
	"github.com/kbridge-dev/go-rdx/internal/ifaces"
	"github.com/kbridge-dev/go-rdx/internal/pending"
)

// Flags is the endpoint-state bit field (ucp_ep_flags_t's Go analogue).
type Flags uint32

const (
	FlagLocalConnected Flags = 1 << iota
	FlagRemoteConnected
	FlagAMLaneConnected
	// FlagStub marks an endpoint created via CreateStub: lanes are all
	// stand-ins pending wireup, per ucp_ep_create_stub.
	FlagStub
)

// Endpoint is a communication target composed of one or more transport
// lanes. Field names mirror spec.md §3's endpoint object.
type Endpoint struct {
	DestUUID      uint64
	PeerName      string
	Lanes         []ifaces.Lane
	CfgIndex      int
	AMLane        int // constants.NullLane if unset
	WireupMsgLane int
	RMALanesMap   uint64
	AMOLanesMap   uint64
	Flags         Flags

	id       uint64
	pendingQ []*pending.Queue // one per lane, same index as Lanes
}

// NumLanes reports the number of composed lanes.
func (e *Endpoint) NumLanes() int { return len(e.Lanes) }

// IsStub reports whether this endpoint is a pre-wireup stand-in, per
// spec.md §4.1's "Is-stub predicate".
func (e *Endpoint) IsStub() bool { return e.Flags&FlagStub != 0 }

// ID returns the endpoint's local numeric id, used to route RTS/ATS
// traffic back to this endpoint via Table.ByID (the
// UCP_WORKER_GET_EP_BY_ID pattern — see DESIGN.md).
func (e *Endpoint) ID() uint64 { return e.id }

// PendingQueue returns the pending-request queue for lane i.
func (e *Endpoint) PendingQueue(i int) *pending.Queue { return e.pendingQ[i] }

// ComputeLaneMaps derives RMALanesMap from each lane's advertised RMA
// capability (PutShort, PutBcopy or GetBcopy). AMOLanesMap is left zero:
// this core's Lane/IfaceCaps surface never advertises atomic-memory-
// operation support, so there is never a bit to set — the field is kept
// because spec.md §3 names it, not because any lane here populates it.
func ComputeLaneMaps(lanes []ifaces.Lane) (rmaMap uint64, amoMap uint64) {
	for i, lane := range lanes {
		if i >= 64 {
			break
		}
		caps := lane.Caps()
		if caps.PutShort || caps.PutBcopy || caps.GetBcopy {
			rmaMap |= 1 << uint(i)
		}
	}
	return rmaMap, 0
}

// Table is the worker-scoped set of live endpoints, indexed both by
// destination UUID (spec.md §4.1's create-from-address lookup) and by
// local numeric id (the UCP_WORKER_GET_EP_BY_ID pattern rendezvous needs
// to route an RTS's sreq.ep_id back to an *Endpoint — see DESIGN.md).
//
// Table does not lock internally; callers hold the owning worker's
// single mutex around every Table method, per spec.md §5's
// single-threaded-per-worker model.
type Table struct {
	byUUID map[uint64]*Endpoint
	byID   map[uint64]*Endpoint
	nextID uint64
}

// NewTable returns an empty endpoint table.
func NewTable() *Table {
	return &Table{
		byUUID: make(map[uint64]*Endpoint),
		byID:   make(map[uint64]*Endpoint),
	}
}

// Create builds an endpoint over lanes bound to destUUID/peerName. If an
// endpoint for destUUID already exists, Create returns that endpoint
// instead of constructing a new one — spec.md §9 leaves open whether
// this returned endpoint is guaranteed complete (fully wired up) or may
// still be a stub; this implementation preserves that ambiguity rather
// than resolving it (see DESIGN.md's "existing-incomplete-endpoint"
// decision).
func (t *Table) Create(destUUID uint64, peerName string, lanes []ifaces.Lane, cfgIndex, amLane int) (*Endpoint, error) {
	if existing, ok := t.byUUID[destUUID]; ok {
		return existing, nil
	}
	if len(lanes) > constants.MaxLanes {
		return nil, errTooManyLanes
	}

	rmaMap, amoMap := ComputeLaneMaps(lanes)
	ep := &Endpoint{
		DestUUID:      destUUID,
		PeerName:      peerName,
		Lanes:         lanes,
		CfgIndex:      cfgIndex,
		AMLane:        amLane,
		WireupMsgLane: constants.NullLane,
		RMALanesMap:   rmaMap,
		AMOLanesMap:   amoMap,
		pendingQ:      make([]*pending.Queue, len(lanes)),
	}
	for i := range ep.pendingQ {
		ep.pendingQ[i] = pending.New()
	}

	ep.id = atomic.AddUint64(&t.nextID, 1)
	t.byUUID[destUUID] = ep
	t.byID[ep.id] = ep
	return ep, nil
}

// CreateStub builds a stub endpoint bound to a single stand-in lane,
// used before wireup has resolved any real transport address, per
// ucp_ep_create_stub. cfgIndex must come from interning the stub's
// Config (see config.StubKey/worker.CreateStubEndpoint) per spec.md
// §4.1's "cfg_index is obtained by interning the stub key" — it is
// never constants.NullResource, since NullResource identifies an unset
// lane resource, not an unset config index.
func (t *Table) CreateStub(destUUID uint64, stubLane ifaces.Lane, cfgIndex int) (*Endpoint, error) {
	ep, err := t.Create(destUUID, "", []ifaces.Lane{stubLane}, cfgIndex, constants.NullLane)
	if err != nil {
		return nil, err
	}
	ep.Flags |= FlagStub
	return ep, nil
}

// ByUUID looks up a live endpoint by destination UUID.
func (t *Table) ByUUID(destUUID uint64) (*Endpoint, bool) {
	ep, ok := t.byUUID[destUUID]
	return ep, ok
}

// ByID looks up a live endpoint by local numeric id, the
// UCP_WORKER_GET_EP_BY_ID pattern: a miss is not an error, callers treat
// it as "endpoint already torn down, drop this message".
func (t *Table) ByID(id uint64) (*Endpoint, bool) {
	ep, ok := t.byID[id]
	return ep, ok
}

// Destroy purges, for every lane, both the endpoint's own pending queue
// and the lane's PendingPurge queue (invoking release for each
// still-queued request), then destroys that lane, and finally removes the
// endpoint from the table. Per spec.md §5, this is not safe to call concurrently
// with a send on the same endpoint — no additional locking is added here
// to paper over that.
func (t *Table) Destroy(ep *Endpoint, release func(ifaces.PendingRequest)) error {
	var firstErr error
	for i, lane := range ep.Lanes {
		ep.pendingQ[i].Purge(release)
		lane.PendingPurge(release)
		if err := lane.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	delete(t.byUUID, ep.DestUUID)
	delete(t.byID, ep.id)
	return firstErr
}

// Len reports the number of live endpoints.
func (t *Table) Len() int { return len(t.byUUID) }

// Range calls fn for every live endpoint, in unspecified order. Used by
// the worker's progress loop to drive pending retries across all
// endpoints it owns.
func (t *Table) Range(fn func(*Endpoint)) {
	for _, ep := range t.byUUID {
		fn(ep)
	}
}

var errTooManyLanes = tooManyLanesError{}

type tooManyLanesError struct{}

func (tooManyLanesError) Error() string { return "endpoint: lane count exceeds constants.MaxLanes" }

// Package ifaces defines the collaborator contracts the endpoint and
// rendezvous core consume: transport lanes, protection domains, the
// worker, the tag-match structure and the address codec. Keeping these
// as interfaces here (rather than in the packages that implement them)
// avoids import cycles between internal/endpoint, internal/config,
// internal/rendezvous and the concrete lane packages.
package ifaces

import "github.com/kbridge-dev/go-rdx/internal/wire"

// PendingRequest is the narrow shape a lane needs to enqueue and later
// retry a send. Concrete send/receive requests in the upper layer embed
// this via composition rather than C-style container_of pointer math.
type PendingRequest interface {
	// Progress is invoked to (re)attempt the operation. It returns nil
	// when the operation completed, or a non-nil error (typically
	// ErrBusy-like) when it should remain pending.
	Progress() error
}

// IfaceCaps describes the capability flags and maxima a lane's interface
// advertises, the Go-side analogue of uct_iface_attr_t.
type IfaceCaps struct {
	AMShort  bool
	AMBcopy  bool
	AMZcopy  bool
	PutShort bool
	PutBcopy bool
	GetBcopy bool

	MaxAMShort  int
	MaxAMBcopy  int
	MaxAMZcopy  int
	MaxPutZcopy int
	MaxGetZcopy int
	MaxPutShort int
	MaxPutBcopy int
	MaxGetBcopy int

	// Bandwidth in bytes/sec, used by the auto zero-copy threshold formula.
	Bandwidth float64
}

// RegCost is a linear memory-registration cost model: cost = Overhead +
// Growth*size, the Go analogue of uct_pd_attr_t.reg_cost.
type RegCost struct {
	Overhead float64
	Growth   float64
}

// ProtectionDomain is the collaborator contract for a transport's memory
// registration domain.
type ProtectionDomain interface {
	// SupportsReg reports whether memory registration (and therefore
	// zero-copy) is available under this domain.
	SupportsReg() bool
	RegCost() RegCost
}

// Lane is the narrow operation set the endpoint core calls on a
// transport endpoint, corresponding to uct_ep_t in the original: a
// sealed set of lane variants (shm, tcpconn, stub) dispatched through
// this single interface at the call site, rather than a C vtable.
type Lane interface {
	// PendingAdd enqueues req on this lane if the lane is currently busy.
	// Returns true if the request was queued (caller must not retry
	// immediately); false if the lane rejected the enqueue, in which
	// case the caller is expected to invoke req.Progress() itself.
	PendingAdd(req PendingRequest) (queued bool, err error)

	// PendingPurge drains all requests queued via PendingAdd, invoking
	// release for each one, used during endpoint destruction.
	PendingPurge(release func(PendingRequest))

	// AMBcopy packs a message via packCB into the lane's own buffer and
	// sends it as an active message with the given id.
	AMBcopy(id uint8, packCB func(dst []byte) int) (sent int, err error)

	// Destroy releases the lane's underlying transport resources.
	Destroy() error

	// Caps returns the lane's advertised capabilities.
	Caps() IfaceCaps

	// ResourceIndex identifies the worker-scoped transport resource this
	// lane is bound to, or constants.NullResource for a stub.
	ResourceIndex() int

	// RemoteEndpointID resolves (and caches) the wire-visible id of this
	// lane's peer endpoint, used to stamp sreq.ep_id on outgoing RTS
	// headers. Exists so send_start_rndv can "resolve the remote
	// endpoint identifier" per spec.md §4.4.3 step 1.
	RemoteEndpointID() (uint64, error)
}

// TagMatch is the collaborator contract for the tag-matching structure:
// the expected-receive queue plus the unexpected-message list.
type TagMatch interface {
	// ExpSearch looks up (and removes) a posted receive matching tag, or
	// returns found=false if none is posted.
	ExpSearch(tag uint64) (req *wire.RecvRequest, found bool)

	// UnexpListForTag returns the unexpected descriptors currently
	// parked for tag, for cancellation scanning.
	UnexpListForTag(tag uint64) []*wire.RecvDescriptor

	// UnexpRecv links a newly arrived unexpected descriptor into the
	// tag-match structure.
	UnexpRecv(rdesc *wire.RecvDescriptor)

	// UnexpRemove unlinks rdesc (found via UnexpListForTag) from the
	// tag-match structure.
	UnexpRemove(rdesc *wire.RecvDescriptor)
}

// AddressCodec is the collaborator contract for the address-exchange /
// wireup protocol. Real wireup negotiation is out of scope (spec.md §1);
// internal/addrcodec.Codec implements it. The root package calls the
// concrete codec directly; nothing in the core consumes this interface.
type AddressCodec interface {
	// Unpack decodes a peer's packed address into its identity and the
	// list of transport addresses it advertises.
	Unpack(blob []byte) (destUUID uint64, peerName string, addrs []AddressEntry, err error)
}

// AddressEntry is one transport address a peer advertised, e.g. "this
// peer has a SysV segment at shmid X" or "this peer listens on TCP
// host:port".
type AddressEntry struct {
	Transport string // "shm" or "tcp"
	Payload   []byte
}

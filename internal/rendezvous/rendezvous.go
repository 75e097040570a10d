// Package rendezvous implements the tag rendezvous protocol: the
// sender-side RTS transmission and the receiver-side RTS processing,
// expected/unexpected matching dispatch, and symmetric cancellation.
// Grounded on original_source's tag_rndv.c
// (ucp_tag_send_start_rndv/ucp_tag_rndv_process_rts/
// ucp_rndv_send_cancel_ack).
package rendezvous

import (
	"errors"

	"github.com/kbridge-dev/go-rdx/internal/endpoint"
	"github.com/kbridge-dev/go-rdx/internal/ifaces"
	"github.com/kbridge-dev/go-rdx/internal/logging"
	"github.com/kbridge-dev/go-rdx/internal/tagmatch"
	"github.com/kbridge-dev/go-rdx/internal/wire"
)

// AM ids used to carry rendezvous headers over a lane's active-message
// path; arbitrary but fixed, the way tag_rndv.c reserves UCP_AM_ID_RNDV_RTS
// and UCP_AM_ID_RNDV_ATS.
const (
	AMIDRTS uint8 = 1
	AMIDATS uint8 = 2
)

// ErrNoLane is returned when a Request names a lane index the endpoint
// does not have.
var ErrNoLane = errors.New("rendezvous: lane index out of range")

// Stats is the narrow counter surface rendezvous bumps on a match,
// implemented by internal/worker.Worker.
type Stats interface {
	BumpEXP()
}

// Request is the send-side rendezvous request: spec.md §3's Request,
// narrowed to the fields the RTS/ATS/cancel paths need.
type Request struct {
	ID        uint64
	Tag       uint64
	Size      uint64
	LaneIndex int
	Canceled  bool
	sent      bool
}

// SendStartRndv resolves the remote endpoint id for req's lane and
// transmits an RTS header over it, per spec.md §4.4.3 step 1
// ("resolve the remote endpoint identifier") and step 2 (transmit).
// A busy lane returns pending.ErrBusy-wrapping error from AMBcopy; the
// caller (internal/worker) is responsible for queuing req via
// endpoint.Endpoint.PendingQueue when that happens.
func SendStartRndv(ep *endpoint.Endpoint, req *Request) error {
	lane, err := laneFor(ep, req.LaneIndex)
	if err != nil {
		return err
	}

	remoteEPID, err := lane.RemoteEndpointID()
	if err != nil {
		return err
	}

	hdr := &wire.RTSHeader{
		Opcode: wire.OpTagOK,
		Size:   req.Size,
		SReq:   wire.SendReqID{EndpointID: remoteEPID, RequestID: req.ID},
		Tag:    req.Tag,
	}
	buf := wire.MarshalRTSHeader(hdr)

	_, err = lane.AMBcopy(AMIDRTS, func(dst []byte) int { return copy(dst, buf) })
	if err == nil {
		req.sent = true
	}
	return err
}

// rtsPending adapts a (*endpoint.Endpoint, *Request) pair into
// ifaces.PendingRequest so a busy RTS send can be queued and retried by
// the owning lane's pending queue.
type rtsPending struct {
	ep  *endpoint.Endpoint
	req *Request
}

func (p *rtsPending) Progress() error { return SendStartRndv(p.ep, p.req) }

// CompleteCanceled marks the queued request Canceled when it is purged
// during endpoint destruction.
func (p *rtsPending) CompleteCanceled() { p.req.Canceled = true }

// RTSProgress wraps req as a retryable pending request, per spec.md
// §4.4.3's "retry via the pending-request discipline" behavior.
func RTSProgress(ep *endpoint.Endpoint, req *Request) ifaces.PendingRequest {
	return &rtsPending{ep: ep, req: req}
}

// Cancel marks req canceled and, if its RTS already reached the wire,
// transmits a TAG_CANCELED RTS carrying the same SReq so the receiver
// can drop a still-unexpected entry — spec.md §4.4.4's symmetric
// ID-keyed cancellation.
func Cancel(ep *endpoint.Endpoint, req *Request) error {
	req.Canceled = true
	if !req.sent {
		return nil
	}

	lane, err := laneFor(ep, req.LaneIndex)
	if err != nil {
		return err
	}
	remoteEPID, err := lane.RemoteEndpointID()
	if err != nil {
		return err
	}

	hdr := &wire.RTSHeader{
		Opcode: wire.OpTagCanceled,
		Size:   req.Size,
		SReq:   wire.SendReqID{EndpointID: remoteEPID, RequestID: req.ID},
		Tag:    req.Tag,
	}
	buf := wire.MarshalRTSHeader(hdr)
	_, err = lane.AMBcopy(AMIDRTS, func(dst []byte) int { return copy(dst, buf) })
	return err
}

// ProcessDeps bundles the receive-side collaborators ProcessRTS needs:
// the tag-match structure to search/link against, the endpoint table to
// route an ATS back to the original sender, and the stats sink to bump
// on a successful match.
type ProcessDeps struct {
	TagMatch   *tagmatch.Table
	Endpoints  *endpoint.Table
	Stats      Stats
	SourceUUID uint64
	// OnMatch, if set, is invoked with the matched receive request once
	// an RTS is paired with a posted receive (dispatch point for copying
	// payload in a fuller implementation; kept as a hook here since
	// actual bulk data movement is out of this core's scope).
	OnMatch func(req *wire.RecvRequest)
	// Log receives diagnostic messages (e.g. the log-and-return-success
	// no-op spec.md §4.4.2 step 1 calls for); defaults to
	// logging.Default() when nil.
	Log *logging.Logger
}

func (deps ProcessDeps) logger() *logging.Logger {
	if deps.Log != nil {
		return deps.Log
	}
	return logging.Default()
}

// ProcessRTS implements spec.md §4.4.2: an arriving RTS either cancels a
// still-unexpected prior RTS (TAG_CANCELED), matches a posted receive
// (stamp sender_tag/length, dispatch, ack, bump EXP), or — finding
// neither — is parked as a new unexpected descriptor.
func ProcessRTS(deps ProcessDeps, hdr *wire.RTSHeader) error {
	if hdr.Opcode == wire.OpTagCanceled {
		for _, d := range deps.TagMatch.UnexpListForTag(hdr.Tag) {
			if d.RTS.SReq == hdr.SReq {
				deps.TagMatch.UnexpRemove(d)
				// Acknowledge the cancellation, built fresh rather than
				// reusing whatever state the (now-removed) descriptor
				// held, matching ucp_rndv_send_cancel_ack's shape.
				return sendCancelAck(deps, hdr.SReq)
			}
		}
		// No matching unexpected descriptor: either it was already
		// matched to a posted receive (the normal payload protocol
		// proceeds; no ack owed here) or it never arrived. Per spec.md
		// §4.4.2, this is a log-and-return-success no-op.
		deps.logger().Debug("rendezvous: TAG_CANCELED with no matching unexpected descriptor",
			"tag", hdr.Tag, "ep_id", hdr.SReq.EndpointID, "req_id", hdr.SReq.RequestID)
		return nil
	}

	if req, found := deps.TagMatch.ExpSearch(hdr.Tag); found {
		req.MarkMatched(hdr.Tag, hdr.Size)
		if deps.OnMatch != nil {
			deps.OnMatch(req)
		}
		if deps.Stats != nil {
			deps.Stats.BumpEXP()
		}
		return sendATS(deps, hdr.SReq, wire.StatusOK)
	}

	rdesc := &wire.RecvDescriptor{
		RTS:        *hdr,
		Tag:        hdr.Tag,
		SourceUUID: deps.SourceUUID,
		Flags:      wire.FlagRNDV,
	}
	deps.TagMatch.UnexpRecv(rdesc)
	return nil
}

// sendCancelAck builds a fresh ATS carrying StatusCanceled, matching
// ucp_rndv_send_cancel_ack's "allocate a new local request" shape rather
// than reusing the (possibly already-freed) original request.
func sendCancelAck(deps ProcessDeps, sreq wire.SendReqID) error {
	return sendATS(deps, sreq, wire.StatusCanceled)
}

func sendATS(deps ProcessDeps, sreq wire.SendReqID, status wire.Status) error {
	ep, found := deps.Endpoints.ByID(sreq.EndpointID)
	if !found {
		// Endpoint already torn down; nothing to ack.
		return nil
	}
	if ep.AMLane < 0 || ep.AMLane >= ep.NumLanes() {
		return ErrNoLane
	}
	lane := ep.Lanes[ep.AMLane]

	hdr := &wire.ATSHeader{RequestID: sreq.RequestID, Status: status}
	buf := wire.MarshalATSHeader(hdr)
	_, err := lane.AMBcopy(AMIDATS, func(dst []byte) int { return copy(dst, buf) })
	return err
}

func laneFor(ep *endpoint.Endpoint, idx int) (ifaces.Lane, error) {
	if idx < 0 || idx >= ep.NumLanes() {
		return nil, ErrNoLane
	}
	return ep.Lanes[idx], nil
}

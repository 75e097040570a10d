// Package pending implements the pending-request discipline a lane uses
// when a send cannot complete immediately: queue the request and retry it
// on later progress calls, instead of blocking the caller.
package pending

import (
	"errors"

	"github.com/kbridge-dev/go-rdx/internal/constants"
	"github.com/kbridge-dev/go-rdx/internal/ifaces"
)

// ErrBusy is returned by a lane's send path when the underlying transport
// cannot accept more work right now. The caller then queues the request
// with Queue.Add rather than propagating the error.
var ErrBusy = errors.New("pending: lane busy")

// Queue is a single lane's FIFO of requests awaiting retry, the Go
// analogue of uct_pending_queue_t (a linked list threaded through each
// request in the original; here a plain slice since Go has no
// container_of to thread through).
type Queue struct {
	reqs []ifaces.PendingRequest
}

// New returns an empty pending queue.
func New() *Queue {
	return &Queue{}
}

// Add appends req to the queue unconditionally. Callers first attempt the
// operation directly; Add is only reached once that attempt reports
// ErrBusy, mirroring uct_ep_pending_add's contract of being called on the
// failure path.
func (q *Queue) Add(req ifaces.PendingRequest) {
	q.reqs = append(q.reqs, req)
}

// Len reports the number of requests currently queued.
func (q *Queue) Len() int {
	return len(q.reqs)
}

// Progress retries queued requests in FIFO order, stopping at the first
// one whose Progress returns an error (head-of-line ordering must be
// preserved so a stalled request does not get starved by requests behind
// it completing out of order).
func (q *Queue) Progress() (completed int) {
	for len(q.reqs) > 0 {
		req := q.reqs[0]
		if err := req.Progress(); err != nil {
			break
		}
		q.reqs = q.reqs[1:]
		completed++
	}
	return completed
}

// Purge drains every queued request, invoking release for each — used
// during endpoint/lane destruction when queued requests can no longer be
// serviced.
func (q *Queue) Purge(release func(ifaces.PendingRequest)) {
	for _, req := range q.reqs {
		release(req)
	}
	q.reqs = nil
}

// AddBlocking repeatedly calls op, driving progress between attempts,
// until op succeeds or returns a non-ErrBusy error. This is "the only
// place the core explicitly spins on progress": a synchronous send path
// that cannot return control to the caller with an in-flight request.
func AddBlocking(op func() error, progress func() error) error {
	for {
		err := op()
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrBusy) {
			return err
		}
		if err := progress(); err != nil {
			return err
		}
	}
}

// PollInterval is the interval AddBlocking's callers may sleep between
// progress calls when progress itself does not block.
const PollInterval = constants.ProgressPollInterval

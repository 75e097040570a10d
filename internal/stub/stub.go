// Package stub implements the stand-in lane and protection domain used
// by an endpoint before wireup has resolved a real transport address,
// grounded on original_source's ucp_stub_ep_create (ucp_ep.c).
package stub

import (
	"fmt"

	"github.com/kbridge-dev/go-rdx/internal/ifaces"
	"github.com/kbridge-dev/go-rdx/internal/pending"
)

// ErrNotWiredUp is returned by every send-path method on Lane: a stub
// lane exists only to hold an endpoint's place in its lane list until a
// real lane replaces it. It wraps pending.ErrBusy, so a send on a stub
// endpoint is queued for retry rather than failed.
var ErrNotWiredUp = fmt.Errorf("stub: lane not wired up yet: %w", pending.ErrBusy)

// Lane is a placeholder ifaces.Lane. It advertises no capabilities and
// queues everything via PendingAdd, since "busy" is the only state a
// pre-wireup lane can report — there is nothing to retry until the
// endpoint's real lane replaces it.
type Lane struct {
	q *pending.Queue
}

// New returns an empty stub lane.
func New() *Lane {
	return &Lane{q: pending.New()}
}

func (l *Lane) PendingAdd(req ifaces.PendingRequest) (bool, error) {
	l.q.Add(req)
	return true, nil
}

func (l *Lane) PendingPurge(release func(ifaces.PendingRequest)) {
	l.q.Purge(release)
}

func (l *Lane) AMBcopy(uint8, func([]byte) int) (int, error) {
	return 0, ErrNotWiredUp
}

func (l *Lane) Destroy() error { return nil }

func (l *Lane) Caps() ifaces.IfaceCaps { return ifaces.IfaceCaps{} }

func (l *Lane) ResourceIndex() int { return -1 }

func (l *Lane) RemoteEndpointID() (uint64, error) {
	return 0, ErrNotWiredUp
}

// ProtectionDomain is the stub lane's protection domain: it never
// supports registration, so internal/config's auto zero-copy threshold
// always saturates to "never" for a stub-only endpoint.
type ProtectionDomain struct{}

func (ProtectionDomain) SupportsReg() bool          { return false }
func (ProtectionDomain) RegCost() ifaces.RegCost    { return ifaces.RegCost{} }

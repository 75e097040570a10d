//go:build giouring

package tcpconn

import (
	"github.com/pawelgaczynski/giouring"
)

// ringPoller batches completion notification for a lane's socket through
// one io_uring instance, so a worker's Progress() tick drains many
// ready sends/recvs via a single io_uring_enter instead of one syscall
// per fd.
type ringPoller struct {
	ring *giouring.Ring
}

func newPoller() Poller {
	ring, err := giouring.CreateRing(64)
	if err != nil {
		// Falls back to uncoalesced completion; the lane's direct
		// unix.Write/Read error path still functions without a ring.
		return nopPoller{}
	}
	return &ringPoller{ring: ring}
}

func (p *ringPoller) Poll() {
	if p.ring == nil {
		return
	}
	for {
		cqe, err := p.ring.PeekCQE()
		if err != nil || cqe == nil {
			return
		}
		p.ring.CQESeen(cqe)
	}
}

func (p *ringPoller) Close() {
	if p.ring != nil {
		p.ring.QueueExit()
	}
}

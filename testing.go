package rdx

import (
	"errors"
	"sync"

	"github.com/kbridge-dev/go-rdx/internal/ifaces"
	"github.com/kbridge-dev/go-rdx/internal/pending"
)

// MockLane provides a mock implementation of ifaces.Lane for testing
// code that composes endpoints, the rendezvous-core analogue of the
// teacher's MockBackend: it implements the full Lane contract and
// tracks method calls for verification.
type MockLane struct {
	mu sync.RWMutex

	caps       ifaces.IfaceCaps
	remoteID   uint64
	remoteErr  error
	resourceID int

	busy        bool // when true, PendingAdd always queues rather than sending
	amErr       error
	amBusyCount int // AMBcopy returns pending.ErrBusy this many more times before succeeding
	sent        []MockSentAM
	pending     []ifaces.PendingRequest
	purges      int
	destroyed   bool
}

// MockSentAM records one AMBcopy call's id and packed payload.
type MockSentAM struct {
	ID      uint8
	Payload []byte
}

// NewMockLane creates a mock lane with the given advertised capabilities
// and a resolved remote endpoint id, useful for exercising
// internal/rendezvous and internal/endpoint without a real transport.
func NewMockLane(caps ifaces.IfaceCaps, remoteEndpointID uint64) *MockLane {
	return &MockLane{caps: caps, remoteID: remoteEndpointID, resourceID: -1}
}

// SetBusy controls whether PendingAdd queues (true) or lets the caller
// retry immediately (false), modeling a transport that is momentarily
// unable to send per spec.md §4.3.
func (l *MockLane) SetBusy(busy bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.busy = busy
}

// SetAMError makes AMBcopy return err on every subsequent call, for
// exercising error propagation paths.
func (l *MockLane) SetAMError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.amErr = err
}

// SetAMBusyCountdown makes AMBcopy return pending.ErrBusy for the next n
// calls before succeeding, modeling a lane that momentarily cannot send —
// used to exercise the blocking pending-enqueue retry loop (spec.md
// §4.3) without the caller having to toggle SetAMError itself between
// attempts.
func (l *MockLane) SetAMBusyCountdown(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.amBusyCount = n
}

// SetResourceIndex sets the value ResourceIndex reports (e.g.
// constants.NullResource to simulate a stub-like lane for config
// derivation tests).
func (l *MockLane) SetResourceIndex(idx int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resourceID = idx
}

func (l *MockLane) PendingAdd(req ifaces.PendingRequest) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.busy {
		l.pending = append(l.pending, req)
		return true, nil
	}
	return false, nil
}

func (l *MockLane) PendingPurge(release func(ifaces.PendingRequest)) {
	l.mu.Lock()
	pending := l.pending
	l.pending = nil
	l.purges++
	l.mu.Unlock()

	for _, req := range pending {
		release(req)
	}
}

func (l *MockLane) AMBcopy(id uint8, packCB func(dst []byte) int) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.amErr != nil {
		return 0, l.amErr
	}
	if l.amBusyCount > 0 {
		l.amBusyCount--
		return 0, pending.ErrBusy
	}
	buf := make([]byte, 4096)
	n := packCB(buf)
	l.sent = append(l.sent, MockSentAM{ID: id, Payload: append([]byte(nil), buf[:n]...)})
	return n, nil
}

func (l *MockLane) Destroy() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.destroyed = true
	return nil
}

func (l *MockLane) Caps() ifaces.IfaceCaps {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.caps
}

func (l *MockLane) ResourceIndex() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.resourceID
}

func (l *MockLane) RemoteEndpointID() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.remoteErr != nil {
		return 0, l.remoteErr
	}
	return l.remoteID, nil
}

// Sent returns a copy of every active message sent through AMBcopy so
// far, in order.
func (l *MockLane) Sent() []MockSentAM {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]MockSentAM(nil), l.sent...)
}

// PendingLen reports how many requests are currently queued via
// PendingAdd.
func (l *MockLane) PendingLen() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.pending)
}

// PurgeCount reports how many times PendingPurge has been called.
func (l *MockLane) PurgeCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.purges
}

// IsDestroyed reports whether Destroy has been called.
func (l *MockLane) IsDestroyed() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.destroyed
}

var _ ifaces.Lane = (*MockLane)(nil)

// MockProtectionDomain implements ifaces.ProtectionDomain for testing
// internal/config's auto zero-copy threshold derivation against
// arbitrary registration-cost models.
type MockProtectionDomain struct {
	Reg  bool
	Cost ifaces.RegCost
}

func (p MockProtectionDomain) SupportsReg() bool         { return p.Reg }
func (p MockProtectionDomain) RegCost() ifaces.RegCost   { return p.Cost }

var _ ifaces.ProtectionDomain = MockProtectionDomain{}

// ErrMockLaneUnreachable is a stand-in error MockLane.RemoteEndpointID
// can be configured to return via SetRemoteErr, for exercising wireup
// failure paths.
var ErrMockLaneUnreachable = errors.New("rdx: mock lane unreachable")

// SetRemoteErr makes RemoteEndpointID fail with ErrMockLaneUnreachable.
func (l *MockLane) SetRemoteErr(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.remoteErr = err
}

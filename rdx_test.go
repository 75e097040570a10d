package rdx

import (
	"testing"
	"time"

	"github.com/kbridge-dev/go-rdx/internal/constants"
	"github.com/kbridge-dev/go-rdx/internal/ifaces"
	"github.com/kbridge-dev/go-rdx/internal/rendezvous"
	"github.com/kbridge-dev/go-rdx/internal/wire"
)

func fullCaps() ifaces.IfaceCaps {
	return ifaces.IfaceCaps{
		AMShort: true, AMBcopy: true,
		MaxAMShort: 256, MaxAMBcopy: 4096, MaxAMZcopy: 1 << 20,
		Bandwidth: 10e9,
	}
}

func TestConnectCreatesEndpoint(t *testing.T) {
	w := NewWorker(nil)
	lane := NewMockLane(fullCaps(), 42)

	ep, err := w.Connect(DefaultParams(1, "peer-a", []ifaces.Lane{lane}, MockProtectionDomain{}))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if ep.DestUUID() != 1 {
		t.Errorf("DestUUID = %d, want 1", ep.DestUUID())
	}
	if ep.NumLanes() != 1 {
		t.Errorf("NumLanes = %d, want 1", ep.NumLanes())
	}
	if ep.IsStub() {
		t.Error("expected non-stub endpoint")
	}
}

func TestConnectReturnsExistingEndpoint(t *testing.T) {
	w := NewWorker(nil)
	lane := NewMockLane(fullCaps(), 42)
	params := DefaultParams(7, "peer-b", []ifaces.Lane{lane}, MockProtectionDomain{})

	first, err := w.Connect(params)
	if err != nil {
		t.Fatalf("first Connect failed: %v", err)
	}
	second, err := w.Connect(params)
	if err != nil {
		t.Fatalf("second Connect failed: %v", err)
	}
	if first.ep != second.ep {
		t.Error("expected Connect to return the same endpoint for a repeated DestUUID")
	}
}

func TestConnectRejectsTooManyLanes(t *testing.T) {
	w := NewWorker(nil)
	lanes := make([]ifaces.Lane, MaxLanes+1)
	for i := range lanes {
		lanes[i] = NewMockLane(fullCaps(), uint64(i))
	}
	_, err := w.Connect(DefaultParams(9, "peer-c", lanes, MockProtectionDomain{}))
	if err == nil {
		t.Fatal("expected error for too many lanes")
	}
	if !IsCode(err, ErrCodeNoMemory) {
		t.Errorf("expected ErrCodeNoMemory, got %v", err)
	}
}

func TestConnectStubBuffersUntilWireup(t *testing.T) {
	w := NewWorker(nil)
	ep, err := w.ConnectStub(55)
	if err != nil {
		t.Fatalf("ConnectStub failed: %v", err)
	}
	if !ep.IsStub() {
		t.Error("expected stub endpoint")
	}

	req := &rendezvous.Request{ID: 1, Tag: 0xA, Size: 64, LaneIndex: 0}
	if err := ep.SendRendezvous(req); err != nil {
		t.Fatalf("SendRendezvous on a stub lane should queue, not fail: %v", err)
	}
}

// TestStubEndpointConfigDefaultsMaxBcopy is spec.md §8's boundary
// property: "Stub endpoint: is_stub(ep) = true, and max_am_bcopy
// defaults to 256." Config() must also not panic on a stub endpoint —
// cfg_index is obtained by interning the stub key (spec.md §4.1), never
// left as an out-of-range sentinel.
func TestStubEndpointConfigDefaultsMaxBcopy(t *testing.T) {
	w := NewWorker(nil)
	ep, err := w.ConnectStub(56)
	if err != nil {
		t.Fatalf("ConnectStub failed: %v", err)
	}
	if !ep.IsStub() {
		t.Fatal("expected stub endpoint")
	}
	cfg := ep.Config()
	if cfg.MaxBcopy != constants.StubBcopyMax {
		t.Errorf("stub MaxBcopy = %d, want %d", cfg.MaxBcopy, constants.StubBcopyMax)
	}
}

// TestStubEndpointsShareInternedConfig asserts two stub endpoints
// (different DestUUID, no lane in common) intern the same Config index,
// per spec.md §4.1 "cfg_index is obtained by interning the stub key."
func TestStubEndpointsShareInternedConfig(t *testing.T) {
	w := NewWorker(nil)
	first, err := w.ConnectStub(57)
	if err != nil {
		t.Fatalf("ConnectStub failed: %v", err)
	}
	second, err := w.ConnectStub(58)
	if err != nil {
		t.Fatalf("ConnectStub failed: %v", err)
	}
	if first.Info().CfgIndex != second.Info().CfgIndex {
		t.Errorf("expected both stub endpoints to share an interned config, got %d vs %d",
			first.Info().CfgIndex, second.Info().CfgIndex)
	}
}

// TestSendRendezvousBlockingRetriesUntilLaneAdmits exercises spec.md
// §4.3's blocking pending-enqueue variant end to end: a lane that is
// busy for the first few attempts eventually admits the send once
// SendRendezvousBlocking's retry loop drives enough progress.
func TestSendRendezvousBlockingRetriesUntilLaneAdmits(t *testing.T) {
	w := NewWorker(nil)
	lane := NewMockLane(fullCaps(), 7)
	lane.SetAMBusyCountdown(3)

	ep, err := w.Connect(DefaultParams(10, "peer-d", []ifaces.Lane{lane}, MockProtectionDomain{}))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	req := &rendezvous.Request{ID: 1, Tag: 0xB, Size: 128, LaneIndex: 0}
	if err := ep.SendRendezvousBlocking(req); err != nil {
		t.Fatalf("SendRendezvousBlocking() error = %v", err)
	}
	if len(lane.Sent()) != 1 {
		t.Fatalf("expected exactly one RTS eventually sent, got %d", len(lane.Sent()))
	}
}

func TestConnectFromAddressRejectsTruncatedBlob(t *testing.T) {
	// A malformed address blob should surface ErrCodeProtocol rather than
	// panicking.
	w := NewWorker(nil)
	_, err := w.ConnectFromAddress([]byte{1, 2, 3}, MockProtectionDomain{})
	if err == nil {
		t.Fatal("expected error for truncated address blob")
	}
	if !IsCode(err, ErrCodeProtocol) {
		t.Errorf("expected ErrCodeProtocol, got %v", err)
	}
}

func TestEndpointConfigDerivesFromLaneCaps(t *testing.T) {
	w := NewWorker(nil)
	lane := NewMockLane(fullCaps(), 42)
	ep, err := w.Connect(DefaultParams(3, "peer-d", []ifaces.Lane{lane}, MockProtectionDomain{Reg: true}))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	cfg := ep.Config()
	if cfg.MaxBcopy != 4096 {
		t.Errorf("MaxBcopy = %d, want 4096", cfg.MaxBcopy)
	}
	if cfg.RndvThresh != cfg.MaxBcopy {
		t.Errorf("RndvThresh = %d, want %d (default to MaxBcopy)", cfg.RndvThresh, cfg.MaxBcopy)
	}
}

func TestSendRendezvousQueuesOnBusyLane(t *testing.T) {
	w := NewWorker(nil)
	lane := NewMockLane(fullCaps(), 42)
	lane.SetBusy(true)

	ep, err := w.Connect(DefaultParams(4, "peer-e", []ifaces.Lane{lane}, MockProtectionDomain{}))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	req := &rendezvous.Request{ID: 1, Tag: 0x1, Size: 128, LaneIndex: 0}
	if err := ep.SendRendezvous(req); err != nil {
		t.Fatalf("expected busy send to queue rather than error: %v", err)
	}
	if lane.PendingLen() != 1 {
		t.Errorf("PendingLen = %d, want 1 after busy send", lane.PendingLen())
	}

	lane.SetBusy(false)
	if n := w.Progress(); n != 1 {
		t.Errorf("Progress() = %d, want 1 completed retry", n)
	}
	if got := len(lane.Sent()); got != 1 {
		t.Errorf("expected 1 AM sent after progress drained the queue, got %d", got)
	}
}

func TestDestroyPurgesPendingRequests(t *testing.T) {
	w := NewWorker(nil)
	lane := NewMockLane(fullCaps(), 42)
	lane.SetBusy(true)

	ep, err := w.Connect(DefaultParams(5, "peer-f", []ifaces.Lane{lane}, MockProtectionDomain{}))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	req := &rendezvous.Request{ID: 1, Tag: 0x1, Size: 32, LaneIndex: 0}
	if err := ep.SendRendezvous(req); err != nil {
		t.Fatalf("SendRendezvous failed: %v", err)
	}

	if err := ep.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if !lane.IsDestroyed() {
		t.Error("expected lane to be destroyed")
	}
	if lane.PurgeCount() != 1 {
		t.Errorf("PurgeCount = %d, want 1", lane.PurgeCount())
	}
	snap := w.MetricsSnapshot()
	if snap.PendingPurged != 1 {
		t.Errorf("PendingPurged = %d, want 1", snap.PendingPurged)
	}
}

func TestProcessRTSMatchesExpectedAndSendsATS(t *testing.T) {
	w := NewWorker(nil)
	ackLane := NewMockLane(fullCaps(), 99)
	senderEP, err := w.Connect(DefaultParams(10, "sender", []ifaces.Lane{ackLane}, MockProtectionDomain{}))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	w.PostRecv(0x77, 0, nil)

	hdr := &wire.RTSHeader{
		Opcode: wire.OpTagOK,
		Size:   128,
		SReq:   wire.SendReqID{EndpointID: senderEP.ep.ID(), RequestID: 5},
		Tag:    0x77,
	}

	matched := false
	if err := w.ProcessRTS(hdr, 10, func(req *wire.RecvRequest) { matched = true }); err != nil {
		t.Fatalf("ProcessRTS failed: %v", err)
	}
	if !matched {
		t.Error("expected onMatch to be invoked")
	}
	if got := len(ackLane.Sent()); got != 1 {
		t.Fatalf("expected 1 ATS sent, got %d", got)
	}
	ats, err := wire.UnmarshalATSHeader(ackLane.Sent()[0].Payload)
	if err != nil {
		t.Fatalf("UnmarshalATSHeader failed: %v", err)
	}
	if ats.Status != wire.StatusOK {
		t.Errorf("Status = %v, want StatusOK", ats.Status)
	}
	if ats.RequestID != 5 {
		t.Errorf("RequestID = %d, want 5", ats.RequestID)
	}

	stats := w.Stats()
	if stats.ExpectedMatches != 1 {
		t.Errorf("ExpectedMatches = %d, want 1", stats.ExpectedMatches)
	}
}

func TestProcessRTSParksUnexpectedThenCancels(t *testing.T) {
	w := NewWorker(nil)
	ackLane := NewMockLane(fullCaps(), 99)
	senderEP, err := w.Connect(DefaultParams(11, "sender", []ifaces.Lane{ackLane}, MockProtectionDomain{}))
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	sreq := wire.SendReqID{EndpointID: senderEP.ep.ID(), RequestID: 9}
	rtsHdr := &wire.RTSHeader{Opcode: wire.OpTagOK, Size: 64, SReq: sreq, Tag: 0x55}
	if err := w.ProcessRTS(rtsHdr, 11, nil); err != nil {
		t.Fatalf("ProcessRTS (park) failed: %v", err)
	}
	stats := w.Stats()
	if stats.NumUnexpected != 1 {
		t.Fatalf("NumUnexpected = %d, want 1", stats.NumUnexpected)
	}

	cancelHdr := &wire.RTSHeader{Opcode: wire.OpTagCanceled, Size: 64, SReq: sreq, Tag: 0x55}
	if err := w.ProcessRTS(cancelHdr, 11, nil); err != nil {
		t.Fatalf("ProcessRTS (cancel) failed: %v", err)
	}

	stats = w.Stats()
	if stats.NumUnexpected != 0 {
		t.Errorf("NumUnexpected = %d, want 0 after cancellation", stats.NumUnexpected)
	}
	if got := len(ackLane.Sent()); got != 1 {
		t.Fatalf("expected 1 cancel ack, got %d", got)
	}
	ats, err := wire.UnmarshalATSHeader(ackLane.Sent()[0].Payload)
	if err != nil {
		t.Fatalf("UnmarshalATSHeader failed: %v", err)
	}
	if ats.Status != wire.StatusCanceled {
		t.Errorf("Status = %v, want StatusCanceled", ats.Status)
	}
}

func TestWorkerRunStopsOnContextCancel(t *testing.T) {
	w := NewWorker(nil)
	done := make(chan error, 1)
	go func() { done <- w.Run(time.Millisecond) }()

	w.Stop()
	select {
	case err := <-done:
		if err == nil {
			t.Error("expected Run to return a non-nil context error on Stop")
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

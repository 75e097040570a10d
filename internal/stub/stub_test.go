package stub

import (
	"errors"
	"testing"
)

func TestLaneRejectsSendsUntilWiredUp(t *testing.T) {
	l := New()
	if _, err := l.AMBcopy(1, func([]byte) int { return 0 }); !errors.Is(err, ErrNotWiredUp) {
		t.Fatalf("AMBcopy() error = %v, want ErrNotWiredUp", err)
	}
	if _, err := l.RemoteEndpointID(); !errors.Is(err, ErrNotWiredUp) {
		t.Fatalf("RemoteEndpointID() error = %v, want ErrNotWiredUp", err)
	}
}

func TestLaneQueuesEverything(t *testing.T) {
	l := New()
	queued, err := l.PendingAdd(fakeReq{})
	if err != nil || !queued {
		t.Fatalf("PendingAdd() = %v, %v; want true, nil", queued, err)
	}
}

func TestProtectionDomainNeverRegisters(t *testing.T) {
	pd := ProtectionDomain{}
	if pd.SupportsReg() {
		t.Fatal("stub ProtectionDomain should never support registration")
	}
}

type fakeReq struct{}

func (fakeReq) Progress() error { return nil }

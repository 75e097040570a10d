package tcpconn

import (
	"testing"

	"golang.org/x/sys/unix"

	"github.com/kbridge-dev/go-rdx/internal/wire"
)

func TestInterfaceSeqNumIncrements(t *testing.T) {
	iface := NewInterface()
	a := iface.nextSeqNum()
	b := iface.nextSeqNum()
	if b != a+1 {
		t.Fatalf("sequence numbers = %d, %d; want strictly incrementing", a, b)
	}
}

func TestLaneCapsAdvertiseFrameBudget(t *testing.T) {
	l := newLane(NewInterface(), -1, 7)
	caps := l.Caps()
	if caps.MaxAMBcopy != 1500-wire.TCPAMHeaderWireSize {
		t.Fatalf("MaxAMBcopy = %d, want %d", caps.MaxAMBcopy, 1500-wire.TCPAMHeaderWireSize)
	}
}

func TestLaneRemoteEndpointID(t *testing.T) {
	l := newLane(NewInterface(), -1, 42)
	id, err := l.RemoteEndpointID()
	if err != nil || id != 42 {
		t.Fatalf("RemoteEndpointID() = %d, %v; want 42, nil", id, err)
	}
}

func TestDialAcceptRoundTrip(t *testing.T) {
	serverIface := NewInterface()
	addr := &unix.SockaddrInet4{Port: 0, Addr: [4]byte{127, 0, 0, 1}}
	listenFD, err := serverIface.Listen(addr, 1)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer unix.Close(listenFD)

	bound, err := unix.Getsockname(listenFD)
	if err != nil {
		t.Fatalf("Getsockname failed: %v", err)
	}
	boundAddr, ok := bound.(*unix.SockaddrInet4)
	if !ok {
		t.Fatalf("unexpected sockaddr type %T", bound)
	}

	clientIface := NewInterface()
	dialAddr := &unix.SockaddrInet4{Port: boundAddr.Port, Addr: [4]byte{127, 0, 0, 1}}
	client, err := clientIface.Dial(dialAddr, 1)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Destroy()

	server, err := serverIface.Accept(listenFD, 2)
	if err != nil {
		t.Fatalf("Accept failed: %v", err)
	}
	defer server.Destroy()

	if server.ResourceIndex() == client.ResourceIndex() {
		t.Error("expected distinct fds for the two ends of the connection")
	}
}

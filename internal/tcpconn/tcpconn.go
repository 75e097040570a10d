// Package tcpconn implements the TCP lane surface: an interface/endpoint
// pair exchanging active messages framed by a TCP AM header, grounded on
// original_source/src/uct/tcp/tcp.h's uct_tcp_iface_t/uct_tcp_ep_t.
// Socket setup uses golang.org/x/sys/unix the way the teacher's
// internal/queue/runner.go uses raw unix.* calls for queue memory, rather
// than net.Conn, so TCP_NODELAY and non-blocking semantics are explicit.
package tcpconn

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/kbridge-dev/go-rdx/internal/ifaces"
	"github.com/kbridge-dev/go-rdx/internal/pending"
	"github.com/kbridge-dev/go-rdx/internal/wire"
)

// Interface is the listening/connecting side's shared configuration, the
// Go analogue of uct_tcp_iface_t: socket buffer sizing and the debug
// sequence-number counter tcp.h documents as UCS_DEBUG_DATA(sn).
type Interface struct {
	SendBufSize int
	RecvBufSize int

	mu     sync.Mutex
	seqNum uint32
}

// NewInterface returns an Interface with representative default socket
// buffer sizes.
func NewInterface() *Interface {
	return &Interface{SendBufSize: 64 * 1024, RecvBufSize: 64 * 1024}
}

func (i *Interface) nextSeqNum() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.seqNum++
	return i.seqNum
}

// Dial opens a non-blocking TCP connection to addr (host:port already
// resolved to an unix.Sockaddr by the caller's address codec) and wraps
// it as a Lane.
func (i *Interface) Dial(sa unix.Sockaddr, remoteEndpointID uint64) (*Lane, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("tcpconn: socket: %w", err)
	}
	if err := unix.Connect(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcpconn: connect: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcpconn: setsockopt TCP_NODELAY: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcpconn: set nonblocking: %w", err)
	}

	return newLane(i, fd, remoteEndpointID), nil
}

// Listen opens a listening socket bound to sa, the accept-side
// counterpart to Dial.
func (i *Interface) Listen(sa unix.Sockaddr, backlog int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, fmt.Errorf("tcpconn: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("tcpconn: setsockopt SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("tcpconn: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("tcpconn: listen: %w", err)
	}
	return fd, nil
}

// Accept blocks until a connection arrives on listenFD and wraps it as a
// Lane, the accept-side counterpart to Dial.
func (i *Interface) Accept(listenFD int, remoteEndpointID uint64) (*Lane, error) {
	connFD, _, err := unix.Accept(listenFD)
	if err != nil {
		return nil, fmt.Errorf("tcpconn: accept: %w", err)
	}
	if err := unix.SetsockoptInt(connFD, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(connFD)
		return nil, fmt.Errorf("tcpconn: setsockopt TCP_NODELAY: %w", err)
	}
	if err := unix.SetNonblock(connFD, true); err != nil {
		unix.Close(connFD)
		return nil, fmt.Errorf("tcpconn: set nonblocking: %w", err)
	}
	return newLane(i, connFD, remoteEndpointID), nil
}

// Lane implements ifaces.Lane over a connected TCP socket: sends are
// framed with a TCPAMHeader and either go out immediately or, on EAGAIN,
// fail with pending.ErrBusy for the caller to queue and retry.
type Lane struct {
	iface         *Interface
	fd            int
	remoteEPID    uint64
	remoteEPKnown bool
	q             *pending.Queue
	poller        Poller
}

func newLane(iface *Interface, fd int, remoteEndpointID uint64) *Lane {
	return &Lane{
		iface:         iface,
		fd:            fd,
		remoteEPID:    remoteEndpointID,
		remoteEPKnown: true,
		q:             pending.New(),
		poller:        newPoller(),
	}
}

func (l *Lane) PendingAdd(req ifaces.PendingRequest) (bool, error) {
	l.q.Add(req)
	return true, nil
}

func (l *Lane) PendingPurge(release func(ifaces.PendingRequest)) {
	l.q.Purge(release)
}

// AMBcopy packs the caller's payload after a TCPAMHeader and writes the
// framed buffer to the socket. EAGAIN on the non-blocking fd is reported
// as pending.ErrBusy so the caller queues the request for retry, exactly
// as any other lane's busy send path does.
func (l *Lane) AMBcopy(id uint8, packCB func(dst []byte) int) (int, error) {
	payload := make([]byte, 1500-wire.TCPAMHeaderWireSize)
	n := packCB(payload)
	payload = payload[:n]

	hdr := &wire.TCPAMHeader{
		AMID:   uint16(id),
		Length: uint16(n),
		SeqNum: l.iface.nextSeqNum(),
	}
	frame := append(wire.MarshalTCPAMHeader(hdr), payload...)

	written, err := unix.Write(l.fd, frame)
	if err == unix.EAGAIN {
		return 0, pending.ErrBusy
	}
	if err != nil {
		return 0, fmt.Errorf("tcpconn: write: %w", err)
	}
	return written, nil
}

func (l *Lane) Destroy() error {
	l.poller.Close()
	return unix.Close(l.fd)
}

func (l *Lane) Caps() ifaces.IfaceCaps {
	return ifaces.IfaceCaps{
		AMBcopy:    true,
		MaxAMBcopy: 1500 - wire.TCPAMHeaderWireSize,
		Bandwidth:  1e9, // representative 1GbE link
	}
}

func (l *Lane) ResourceIndex() int { return l.fd }

// FD exposes the lane's underlying socket descriptor for callers that
// need to read incoming bytes directly (the core itself never reads;
// AM dispatch on the receive side is an external collaborator's job per
// spec.md §6, so this is the narrow hook a demo or test harness uses to
// drain the peer side of a loopback pair).
func (l *Lane) FD() int { return l.fd }

func (l *Lane) RemoteEndpointID() (uint64, error) {
	if !l.remoteEPKnown {
		return 0, fmt.Errorf("tcpconn: remote endpoint id not resolved")
	}
	return l.remoteEPID, nil
}

// Progress drains completion notifications from the lane's poller and
// retries any pending sends, mirroring the worker's call into a lane's
// completion queue each progress tick.
func (l *Lane) Progress() int {
	l.poller.Poll()
	return l.q.Progress()
}

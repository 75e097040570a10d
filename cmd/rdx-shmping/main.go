// Command rdx-shmping demonstrates the rendezvous protocol end to end
// within a single process: two Workers stand in for two peers, a SysV
// segment plays the shared-memory lane, and a thin loopback wrapper
// delivers the packed active messages directly to the peer's Worker
// instead of crossing a real process boundary.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kbridge-dev/go-rdx"
	"github.com/kbridge-dev/go-rdx/internal/ifaces"
	"github.com/kbridge-dev/go-rdx/internal/logging"
	"github.com/kbridge-dev/go-rdx/internal/rendezvous"
	"github.com/kbridge-dev/go-rdx/internal/shm"
	"github.com/kbridge-dev/go-rdx/internal/wire"
)

const (
	senderUUID   = 1
	receiverUUID = 2
)

// loopbackLane wraps a shm.Lane so AMBcopy also hands the packed bytes
// to deliver, simulating the wire hop a real transport would perform.
// Everything else (PendingAdd, PendingPurge, Destroy, Caps,
// ResourceIndex) is the embedded shm.Lane's own behavior.
type loopbackLane struct {
	*shm.Lane
	remoteID uint64
	deliver  func(amID uint8, payload []byte)
}

func (l *loopbackLane) AMBcopy(id uint8, packCB func(dst []byte) int) (int, error) {
	buf := make([]byte, l.Lane.Caps().MaxAMBcopy)
	n := packCB(buf)
	if l.deliver != nil {
		l.deliver(id, buf[:n])
	}
	return n, nil
}

func (l *loopbackLane) RemoteEndpointID() (uint64, error) { return l.remoteID, nil }

var _ ifaces.Lane = (*loopbackLane)(nil)

func main() {
	var (
		verbose  = flag.Bool("v", false, "Verbose output")
		segBytes = flag.Int64("size", 1<<16, "SysV segment size in bytes")
		tag      = flag.Uint64("tag", 0xC0FFEE, "Tag used for the rendezvous message")
		msgSize  = flag.Uint64("msg-size", 256, "Advertised message size in the RTS")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	receiver := rdx.NewWorker(&rdx.Options{Logger: logger})
	sender := rdx.NewWorker(&rdx.Options{Logger: logger})

	recvSeg, err := shm.Allocate(*segBytes, shm.AllocFlags{})
	if err != nil {
		logger.Error("allocate shm segment failed", "error", err)
		os.Exit(1)
	}
	sendSeg, err := shm.UnpackAndAttach(shm.PackRkey(recvSeg))
	if err != nil {
		logger.Error("attach shm segment failed", "error", err)
		os.Exit(1)
	}

	pd := shm.ProtectionDomain{Overhead: 50, Growth: 0.001}

	recvLane := &loopbackLane{Lane: shm.NewLane(recvSeg, 0)}
	recvLane.deliver = func(amID uint8, payload []byte) {
		if amID != rendezvous.AMIDATS {
			return
		}
		ats, err := wire.UnmarshalATSHeader(payload)
		if err != nil {
			logger.Error("malformed ATS", "error", err)
			return
		}
		fmt.Printf("ack received: request=%d status=%v\n", ats.RequestID, ats.Status)
	}

	recvEP, err := receiver.Connect(rdx.DefaultParams(senderUUID, "sender", []ifaces.Lane{recvLane}, pd))
	if err != nil {
		logger.Error("receiver connect failed", "error", err)
		os.Exit(1)
	}

	sendLane := &loopbackLane{Lane: shm.NewLane(sendSeg, 0), remoteID: recvEP.ID()}
	sendLane.deliver = func(amID uint8, payload []byte) {
		if amID != rendezvous.AMIDRTS {
			return
		}
		hdr, err := wire.UnmarshalRTSHeader(payload)
		if err != nil {
			logger.Error("malformed RTS", "error", err)
			return
		}
		if err := receiver.ProcessRTS(hdr, senderUUID, func(req *wire.RecvRequest) {
			fmt.Printf("matched receive: sender_tag=%#x length=%d\n", req.SenderTag, req.Length)
		}); err != nil {
			logger.Error("ProcessRTS failed", "error", err)
		}
	}

	sendEP, err := sender.Connect(rdx.DefaultParams(receiverUUID, "receiver", []ifaces.Lane{sendLane}, pd))
	if err != nil {
		logger.Error("sender connect failed", "error", err)
		os.Exit(1)
	}

	receiver.PostRecv(*tag, 0, nil)

	req := &rendezvous.Request{ID: 1, Tag: *tag, Size: *msgSize, LaneIndex: 0}
	if err := sendEP.SendRendezvous(req); err != nil {
		logger.Error("SendRendezvous failed", "error", err)
		os.Exit(1)
	}

	snap := sender.MetricsSnapshot()
	fmt.Printf("sender metrics: rts_sent=%d bytes_sent=%d\n", snap.RTSSent, snap.BytesSent)
	recvSnap := receiver.MetricsSnapshot()
	fmt.Printf("receiver metrics: rts_received=%d expected_matches=%d\n", recvSnap.RTSReceived, recvSnap.ExpectedMatches)

	if err := sendEP.Destroy(); err != nil {
		logger.Error("sender endpoint destroy failed", "error", err)
	}
	if err := recvEP.Destroy(); err != nil {
		logger.Error("receiver endpoint destroy failed", "error", err)
	}
}

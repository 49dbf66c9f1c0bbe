// Package uplink implements the uplink receiver: a blocking receive
// loop on the tunnel (GTP-U) socket that handles echo in place and
// enqueues everything else for the pipeline workers.
package uplink

import (
	"net"

	"go.uber.org/zap"

	"github.com/your-org/5g-upf/internal/counters"
	"github.com/your-org/5g-upf/internal/queue"
	"github.com/your-org/5g-upf/internal/tunnelcodec"
)

// Receiver owns the tunnel-facing UDP socket's receive path.
type Receiver struct {
	Conn       *net.UDPConn
	Queue      *queue.Queue
	Counters   *counters.Counters
	BufferSize int
	Logger     *zap.Logger
}

// Run blocks reading datagrams from Conn until stop is closed or the
// socket is closed out from under it.
func (r *Receiver) Run(stop <-chan struct{}) {
	bufSize := r.BufferSize
	if bufSize <= 0 {
		bufSize = 65535
	}
	buf := make([]byte, bufSize)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, addr, err := r.Conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-stop:
				return
			default:
			}
			r.Logger.Warn("uplink: read failed", zap.Error(err))
			continue
		}

		switch {
		case tunnelcodec.IsEchoRequest(buf[:n]):
			tunnelcodec.HandleEchoRequest(r.Conn, buf[:n], addr)
			r.Counters.IncEchoRequests()
		case tunnelcodec.IsEchoResponse(buf[:n]):
			r.Counters.IncEchoResponses()
		default:
			data := make([]byte, n)
			copy(data, buf[:n])
			if !r.Queue.Enqueue(queue.Packet{Data: data, Peer: addr}) {
				r.Counters.IncQueueFullDrop()
			}
		}
	}
}

// Package orchestrator implements the process wiring: binds the PFCP
// and GTP-U sockets, opens the TUN device, and spawns the control,
// uplink, downlink, worker, NAT-reaper and stats-sampler threads behind
// a single cooperative stop flag.
package orchestrator

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/your-org/5g-upf/internal/accounting"
	"github.com/your-org/5g-upf/internal/adminserver"
	"github.com/your-org/5g-upf/internal/config"
	"github.com/your-org/5g-upf/internal/counters"
	"github.com/your-org/5g-upf/internal/downlink"
	"github.com/your-org/5g-upf/internal/nat"
	"github.com/your-org/5g-upf/internal/natreaper"
	"github.com/your-org/5g-upf/internal/pfcpcontrol"
	"github.com/your-org/5g-upf/internal/pipeline"
	"github.com/your-org/5g-upf/internal/queue"
	"github.com/your-org/5g-upf/internal/session"
	"github.com/your-org/5g-upf/internal/statsampler"
	"github.com/your-org/5g-upf/internal/tundev"
	"github.com/your-org/5g-upf/internal/uplink"
)

// Orchestrator owns every long-lived resource of one UPF process.
type Orchestrator struct {
	cfg    *config.Config
	logger *zap.Logger

	pfcpConn *net.UDPConn
	gtpuConn *net.UDPConn
	tun      tundev.Device

	store      *session.Store
	natTable   *nat.Table
	counters   *counters.Counters
	accounting accounting.Sink
	pfcp       *pfcpcontrol.Handler
	admin      *adminserver.Server

	stop chan struct{}
	wg   sync.WaitGroup
}

// New builds an Orchestrator, binding sockets and opening TUN. Nothing
// is serving traffic yet; call Run to start every thread.
func New(cfg *config.Config, logger *zap.Logger) (*Orchestrator, error) {
	pfcpAddr, err := net.ResolveUDPAddr("udp", cfg.GetPFCPAddress())
	if err != nil {
		return nil, err
	}
	pfcpConn, err := net.ListenUDP("udp", pfcpAddr)
	if err != nil {
		return nil, err
	}

	gtpuAddr, err := net.ResolveUDPAddr("udp", cfg.GetN3Address())
	if err != nil {
		pfcpConn.Close()
		return nil, err
	}
	gtpuConn, err := net.ListenUDP("udp", gtpuAddr)
	if err != nil {
		pfcpConn.Close()
		return nil, err
	}

	mtu := cfg.N6.MTU
	if mtu <= 0 {
		mtu = 1500
	}
	tun, err := tundev.Open(cfg.N6.InterfaceName, mtu)
	if err != nil {
		pfcpConn.Close()
		gtpuConn.Close()
		return nil, err
	}

	store := session.NewStore(cfg.Forwarding.MaxSessions)
	natTable := nat.NewTable(cfg.Forwarding.NATEntries, cfg.Forwarding.NATIdleTimeout)
	c := counters.New()
	acctSink := accounting.NewSink(cfg.Accounting, logger)

	pfcpHandler := &pfcpcontrol.Handler{
		Store:           store,
		NAT:             natTable,
		Counters:        c,
		Logger:          logger,
		NodeID:          cfg.PFCP.NodeID,
		StartTime:       time.Now(),
		DefaultTunnelID: cfg.Forwarding.DefaultTunnelID,
	}

	admin := adminserver.New(cfg.GetAdminAddress(), cfg.PFCP.NodeID, store, natTable, c, logger)

	return &Orchestrator{
		cfg:        cfg,
		logger:     logger,
		pfcpConn:   pfcpConn,
		gtpuConn:   gtpuConn,
		tun:        tun,
		store:      store,
		natTable:   natTable,
		counters:   c,
		accounting: acctSink,
		pfcp:       pfcpHandler,
		admin:      admin,
		stop:       make(chan struct{}),
	}, nil
}

// Run spawns every worker thread and returns once they are started;
// Stop ends them.
func (o *Orchestrator) Run() {
	externalIP := net.ParseIP(o.cfg.N6.ExternalIP)

	q := queue.New(o.cfg.Forwarding.QueueCapacity)

	pl := pipeline.NewPipeline(pipeline.Pipeline{
		Store:      o.store,
		NAT:        o.natTable,
		Counters:   o.counters,
		Conn:       o.gtpuConn,
		TunnelPort: o.cfg.N3.Port,
		ExternalIP: externalIP,
		TUN:        o.tun,
		Accounting: o.accounting,
		Logger:     o.logger,
	})

	up := &uplink.Receiver{
		Conn:       o.gtpuConn,
		Queue:      q,
		Counters:   o.counters,
		BufferSize: o.cfg.Forwarding.BufferSize,
		Logger:     o.logger,
	}

	down := &downlink.Receiver{
		TUN:        o.tun,
		Store:      o.store,
		NAT:        o.natTable,
		Conn:       o.gtpuConn,
		TunnelPort: o.cfg.N3.Port,
		Counters:   o.counters,
		MTU:        o.cfg.N6.MTU,
		Logger:     o.logger,
	}

	reaper := &natreaper.Reaper{
		Table:    o.natTable,
		Interval: o.cfg.Forwarding.NATReapInterval,
		Logger:   o.logger,
	}

	sampler := &statsampler.Sampler{
		Store:    o.store,
		NAT:      o.natTable,
		Counters: o.counters,
		Interval: o.cfg.Forwarding.SamplerInterval,
		Logger:   o.logger,
	}

	o.spawn(func() { o.runControlLoop() })
	o.spawn(func() { up.Run(o.stop) })
	o.spawn(func() { down.Run(o.stop) })
	o.spawn(func() { reaper.Run(o.stop) })
	o.spawn(func() { sampler.Run(o.stop) })

	workers := o.cfg.Forwarding.Workers
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		id := i
		o.spawn(func() { pl.RunWorker(id, q, o.stop) })
	}

	o.spawn(func() {
		if err := o.admin.Start(); err != nil {
			o.logger.Error("orchestrator: admin server error", zap.Error(err))
		}
	})

	o.logger.Info("orchestrator: all threads started",
		zap.String("pfcp_address", o.cfg.GetPFCPAddress()),
		zap.String("n3_address", o.cfg.GetN3Address()),
		zap.String("admin_address", o.cfg.GetAdminAddress()),
		zap.Int("workers", workers))
}

func (o *Orchestrator) spawn(fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn()
	}()
}

// runControlLoop is the single control-plane thread: blocking reads on
// the PFCP socket, dispatch, and a reply write for whatever the handler
// hands back.
func (o *Orchestrator) runControlLoop() {
	buf := make([]byte, 65535)
	for {
		select {
		case <-o.stop:
			return
		default:
		}

		n, peer, err := o.pfcpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-o.stop:
				return
			default:
			}
			o.logger.Warn("orchestrator: pfcp read failed", zap.Error(err))
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		resp := o.pfcp.HandleMessage(data, peer)
		if resp == nil {
			continue
		}
		if _, err := o.pfcpConn.WriteToUDP(resp, peer); err != nil {
			o.logger.Warn("orchestrator: pfcp write failed", zap.Error(err))
		}
	}
}

// Stop signals every thread to exit, closes the sockets and TUN device
// to unblock their reads, shuts down the admin server and accounting
// sink, and then waits for the threads. This is a cooperative stop, not a graceful
// drain: in-flight packets are abandoned, matching the data plane's
// no-drain shutdown policy.
func (o *Orchestrator) Stop() {
	close(o.stop)
	o.pfcpConn.Close()
	o.gtpuConn.Close()
	if o.tun != nil {
		o.tun.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.admin.Stop(shutdownCtx); err != nil {
		o.logger.Warn("orchestrator: admin server shutdown error", zap.Error(err))
	}

	o.accounting.Stop()

	o.wg.Wait()
}

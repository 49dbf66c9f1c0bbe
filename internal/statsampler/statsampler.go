// Package statsampler implements the periodic statistics log: a
// ticker that reads a point-in-time counters snapshot and logs it,
// independent of the always-on Prometheus exposition.
package statsampler

import (
	"time"

	"go.uber.org/zap"

	"github.com/your-org/5g-upf/internal/counters"
	"github.com/your-org/5g-upf/internal/metrics"
	"github.com/your-org/5g-upf/internal/nat"
	"github.com/your-org/5g-upf/internal/session"
)

// Sampler periodically logs a snapshot of session/NAT/counter state and
// derives the uplink/downlink throughput gauges from the byte counters'
// delta since the previous sample.
type Sampler struct {
	Store    *session.Store
	NAT      *nat.Table
	Counters *counters.Counters
	Interval time.Duration
	Logger   *zap.Logger

	lastSampleAt      time.Time
	lastUplinkBytes   uint64
	lastDownlinkBytes uint64
}

// Run blocks until stop is closed, logging a snapshot every Interval.
func (s *Sampler) Run(stop <-chan struct{}) {
	interval := s.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	snap := s.Counters.Snapshot()
	s.recordThroughput(snap.UplinkBytes, snap.DownlinkBytes)
	s.Logger.Info("statsampler: snapshot",
		zap.Int("live_sessions", s.Store.LiveCount()),
		zap.Int("live_nat_entries", s.NAT.LiveCount()),
		zap.Uint64("received", snap.Received),
		zap.Uint64("qos_passed", snap.QoSPassed),
		zap.Uint64("qos_mbr_dropped", snap.QoSMBRDropped),
		zap.Uint64("qos_pps_dropped", snap.QoSPPSDropped),
		zap.Uint64("urr_quota_exceeded", snap.URRQuotaExceeded),
		zap.Uint64("session_miss", snap.SessionMiss),
		zap.Uint64("pdr_miss", snap.PDRMiss),
		zap.Uint64("far_miss", snap.FARMiss),
		zap.Uint64("malformed", snap.Malformed),
		zap.Uint64("queue_full_drop", snap.QueueFullDrop),
		zap.Uint64("nat_miss", snap.NATMiss),
	)
}

// recordThroughput sets the uplink/downlink bps gauges from the byte
// counters' growth since the previous sample. The first call after
// Sampler is constructed has no prior sample to diff against, so it
// only seeds the baseline.
func (s *Sampler) recordThroughput(uplinkBytes, downlinkBytes uint64) {
	now := time.Now()
	if s.lastSampleAt.IsZero() {
		s.lastSampleAt = now
		s.lastUplinkBytes = uplinkBytes
		s.lastDownlinkBytes = downlinkBytes
		return
	}

	elapsed := now.Sub(s.lastSampleAt).Seconds()
	if elapsed > 0 {
		upBps := float64(uplinkBytes-s.lastUplinkBytes) * 8 / elapsed
		downBps := float64(downlinkBytes-s.lastDownlinkBytes) * 8 / elapsed
		metrics.SetUplinkThroughput(upBps)
		metrics.SetDownlinkThroughput(downBps)
	}

	s.lastSampleAt = now
	s.lastUplinkBytes = uplinkBytes
	s.lastDownlinkBytes = downlinkBytes
}

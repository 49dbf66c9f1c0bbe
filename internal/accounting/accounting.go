// Package accounting implements the optional usage-event sink: an
// async, non-blocking writer that persists usage-rule threshold and
// quota transitions to ClickHouse. This data is diagnostic and never
// required for a pipeline decision, so the sink buffers on a channel
// and drops rather than blocks the data path under overload.
package accounting

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Config configures the optional ClickHouse accounting sink.
type Config struct {
	Enabled     bool     `yaml:"enabled"`
	Addresses   []string `yaml:"addresses"`
	Database    string   `yaml:"database"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	QueueLength int      `yaml:"queue_length"`
}

// Event is one usage-rule transition worth recording.
type Event struct {
	EventID        string
	Time           time.Time
	SessionLocalID uint64
	UsageRuleID    uint16
	UplinkBytes    uint64
	DownlinkBytes  uint64
	TotalBytes     uint64
	QuotaExceeded  bool
	ReportPending  bool
}

// Sink is the minimal interface the pipeline depends on, so it never
// needs to know whether ClickHouse is configured.
type Sink interface {
	Push(e Event)
	Stop()
}

// noopSink drops every event; used when accounting is disabled.
type noopSink struct{}

func (noopSink) Push(Event) {}
func (noopSink) Stop()      {}

// NewSink returns a working ClickHouse-backed sink when cfg.Enabled,
// else a noop. Connection errors at startup are logged and fall back
// to noop rather than failing the whole process — accounting is
// diagnostic, not load-bearing.
func NewSink(cfg Config, logger *zap.Logger) Sink {
	if !cfg.Enabled {
		return noopSink{}
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
	})
	if err != nil {
		logger.Error("accounting: failed to connect to clickhouse, disabling sink", zap.Error(err))
		return noopSink{}
	}

	queueLen := cfg.QueueLength
	if queueLen <= 0 {
		queueLen = 1024
	}

	s := &chSink{
		conn:   conn,
		logger: logger,
		events: make(chan Event, queueLen),
		stop:   make(chan struct{}),
	}
	go s.run()
	return s
}

type chSink struct {
	conn   clickhouse.Conn
	logger *zap.Logger
	events chan Event
	stop   chan struct{}
}

// Push enqueues e without blocking; a full queue drops the event and
// logs a warning, since accounting must never add backpressure to the
// pipeline.
func (s *chSink) Push(e Event) {
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	select {
	case s.events <- e:
	default:
		s.logger.Warn("accounting: event queue full, dropping usage event",
			zap.Uint64("session", e.SessionLocalID),
			zap.Uint16("usage_rule", e.UsageRuleID))
	}
}

// Stop drains no further events and closes the connection.
func (s *chSink) Stop() {
	close(s.stop)
}

func (s *chSink) run() {
	const insertStmt = `
		INSERT INTO upf.usage_events (
			event_id, event_time, session_local_id, usage_rule_id,
			uplink_bytes, downlink_bytes, total_bytes,
			quota_exceeded, report_pending
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	for {
		select {
		case e := <-s.events:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.conn.Exec(ctx, insertStmt,
				e.EventID, e.Time, e.SessionLocalID, e.UsageRuleID,
				e.UplinkBytes, e.DownlinkBytes, e.TotalBytes,
				e.QuotaExceeded, e.ReportPending,
			)
			cancel()
			if err != nil {
				s.logger.Error("accounting: insert failed", zap.Error(err))
			}
		case <-s.stop:
			s.conn.Close()
			return
		}
	}
}

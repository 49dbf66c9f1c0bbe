package natreaper

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/your-org/5g-upf/internal/nat"
)

func TestRun_ExpiresIdleEntriesOnTick(t *testing.T) {
	table := nat.NewTable(4, 5*time.Millisecond)
	table.GetOrCreate(net.ParseIP("10.45.0.1"), 5000, 17, 1)

	r := &Reaper{Table: table, Interval: 10 * time.Millisecond, Logger: zap.NewNop()}
	stop := make(chan struct{})
	go r.Run(stop)
	defer close(stop)

	assert.Eventually(t, func() bool {
		return table.LiveCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestRun_StopsOnSignal(t *testing.T) {
	table := nat.NewTable(1, time.Minute)
	r := &Reaper{Table: table, Interval: 5 * time.Millisecond, Logger: zap.NewNop()}
	stop := make(chan struct{})
	done := make(chan struct{})

	go func() {
		r.Run(stop)
		close(done)
	}()

	close(stop)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after stop was closed")
	}
}

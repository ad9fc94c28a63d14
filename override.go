package otgw

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Setpoint overrides outside this range are refused.
const (
	minSetpoint = 10.0
	maxSetpoint = 100.0
)

// overrideState is the mediator's per-transaction view of the override box.
type overrideState struct {
	setpoint    float64
	hasSetpoint bool
	chEnable    bool
	hasCHEnable bool
	control     bool
	fresh       bool
}

// overrideBox is the shared command record written by external collaborators
// and read once per transaction by the mediator. All access is under a short
// critical section.
type overrideBox struct {
	clk clock.Clock

	mu          sync.Mutex
	setpoint    float64
	hasSetpoint bool
	chEnable    bool
	hasCHEnable bool
	control     bool
	heartbeat   float64
	heartbeatAt time.Time
	updatedAt   time.Time
}

func newOverrideBox(clk clock.Clock) *overrideBox {
	return &overrideBox{clk: clk}
}

func (b *overrideBox) setSetpoint(celsius float64) error {
	if celsius < minSetpoint || celsius > maxSetpoint {
		return fmt.Errorf("setpoint %.1f°C outside [%v, %v]", celsius, minSetpoint, maxSetpoint)
	}
	b.mu.Lock()
	b.setpoint = celsius
	b.hasSetpoint = true
	b.updatedAt = b.clk.Now()
	b.mu.Unlock()
	return nil
}

func (b *overrideBox) setCHEnable(enable bool) {
	b.mu.Lock()
	b.chEnable = enable
	b.hasCHEnable = true
	b.updatedAt = b.clk.Now()
	b.mu.Unlock()
}

func (b *overrideBox) setControl(enable bool) {
	b.mu.Lock()
	b.control = enable
	b.updatedAt = b.clk.Now()
	b.mu.Unlock()
}

// touch refreshes the freshness timestamp. The value itself is only kept for
// observability.
func (b *overrideBox) touch(value float64) {
	b.mu.Lock()
	b.heartbeat = value
	b.heartbeatAt = b.clk.Now()
	b.mu.Unlock()
}

// state captures the box under the lock. The command source is fresh when a
// heartbeat arrived within the timeout; a stale source disables overrides for
// the transaction being decided.
func (b *overrideBox) state(heartbeatTimeout time.Duration) overrideState {
	b.mu.Lock()
	defer b.mu.Unlock()
	fresh := !b.heartbeatAt.IsZero() && b.clk.Now().Sub(b.heartbeatAt) <= heartbeatTimeout
	return overrideState{
		setpoint:    b.setpoint,
		hasSetpoint: b.hasSetpoint,
		chEnable:    b.chEnable,
		hasCHEnable: b.hasCHEnable,
		control:     b.control,
		fresh:       fresh,
	}
}

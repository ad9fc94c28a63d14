package otgw

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
)

// Role selects which frame shapes a Port treats as valid receptions.
type Role uint8

const (
	// Master sends requests and awaits responses; the gateway's boiler side.
	Master Role = iota
	// Slave awaits requests and sends responses; the gateway's thermostat side.
	Slave
)

func (r Role) String() string {
	if r == Master {
		return "master"
	}
	return "slave"
}

// PortState is the receive/transmit state of a Port.
type PortState int32

// Port states.
const (
	StateIdle PortState = iota
	StateSending
	StateAwaitingStart
	StateReceivingBits
	StateFrameReady
	StateFrameInvalid
	StateInterFrameDelay
)

func (s PortState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateSending:
		return "Sending"
	case StateAwaitingStart:
		return "AwaitingStart"
	case StateReceivingBits:
		return "ReceivingBits"
	case StateFrameReady:
		return "FrameReady"
	case StateFrameInvalid:
		return "FrameInvalid"
	case StateInterFrameDelay:
		return "InterFrameDelay"
	}
	return "Unknown"
}

const (
	// Quiet period a slave keeps after a reception before it may respond, and
	// a master keeps before its next request.
	slaveInterFrame  = 20 * time.Millisecond
	masterInterFrame = 100 * time.Millisecond
	// Idle guarantee after any transmission.
	txIdle = 20 * time.Millisecond
)

// rxResult is what the capture goroutine posts to the Port mailbox: either a
// decoded candidate frame or the decode failure.
type rxResult struct {
	frame Frame
	err   *DecodeError
	at    time.Time
}

/*
Port is one side of the gateway: a line driver plus framing. It exposes
SendFrame and AwaitFrame and maintains the per-side statistics.

A Port is bound to its GPIOs for its entire lifetime and must not be copied.
Send and Await calls must come from a single owning task; concurrent misuse is
refused with a PortError rather than queued.
*/
type Port struct {
	name string
	role Role
	line *lineDriver
	clk  clock.Clock
	log  *logrus.Entry

	stats *statsManager
	// Single-slot mailbox from the capture goroutine. Posting overwrites any
	// unread result so the owner never sees a stale frame.
	mbox   chan rxResult
	closed chan struct{}

	state int32

	// Owner-side fields; only ever touched from Send/Await calls.
	stabilised bool
	stabilise  time.Duration
	readyAt    time.Time
}

func newPort(name string, role Role, line *lineDriver, clk clock.Clock, log *logrus.Entry, stabilise time.Duration) *Port {
	return &Port{
		name:      name,
		role:      role,
		line:      line,
		clk:       clk,
		log:       log.WithField("port", name),
		stats:     newStatsManager(),
		mbox:      make(chan rxResult, 1),
		closed:    make(chan struct{}),
		stabilise: stabilise,
	}
}

// start claims the GPIOs and launches the capture goroutine.
func (p *Port) start() error {
	if err := p.line.init(); err != nil {
		return err
	}
	go p.captureLoop()
	return nil
}

// halt releases any pending wait and stops the capture goroutine. The Port
// cannot be restarted.
func (p *Port) halt() {
	select {
	case <-p.closed:
		return
	default:
	}
	close(p.closed)
	// Unblocks the capture goroutine out of WaitForEdge.
	if err := p.line.in.Halt(); err != nil {
		p.log.WithError(err).Warn("halting input pin")
	}
}

// Role returns the role the Port was constructed with.
func (p *Port) Role() Role {
	return p.role
}

// State returns the Port's current state.
func (p *Port) State() PortState {
	return PortState(atomic.LoadInt32(&p.state))
}

// Stats returns a copy of the Port's counters.
func (p *Port) Stats() Stats {
	return p.stats.getStats()
}

// EventLog returns the most recent Port events, newest first.
func (p *Port) EventLog() []PortEvent {
	return p.stats.getEventLog()
}

func (p *Port) casState(from, to PortState) bool {
	return atomic.CompareAndSwapInt32(&p.state, int32(from), int32(to))
}

func (p *Port) setState(to PortState) {
	atomic.StoreInt32(&p.state, int32(to))
}

func (p *Port) interFrame() time.Duration {
	if p.role == Slave {
		return slaveInterFrame
	}
	return masterInterFrame
}

// SendFrame emits the frame on the wire. It fails if the Port is mid-send or
// mid-receive; it blocks through the bus-stabilisation delay on the first
// send and through any remaining inter-frame delay.
func (p *Port) SendFrame(f Frame) error {
	select {
	case <-p.closed:
		return ClosedErrorF("%v port is closed", p.name)
	default:
	}
	if !p.casState(StateIdle, StateSending) && !p.casState(StateInterFrameDelay, StateSending) {
		return BusyErrorF("%v port cannot send in state %v", p.name, p.State())
	}
	defer p.setState(StateIdle)

	if !p.stabilised {
		p.clk.Sleep(p.stabilise)
		p.stabilised = true
	}
	if wait := p.readyAt.Sub(p.clk.Now()); wait > 0 {
		p.clk.Sleep(wait)
	}
	if err := p.line.transmit(f); err != nil {
		return err
	}
	p.stats.sent()
	p.readyAt = p.clk.Now().Add(txIdle)
	return nil
}

// AwaitFrame blocks until a frame arrives, the timeout expires, or the Port
// shuts down. A decoded frame that fails structural validation for the Port's
// role is returned alongside an Invalid ReceiveError; a timeout is reported
// through a Timeout ReceiveError. Neither failure tears the Port down.
func (p *Port) AwaitFrame(timeout time.Duration) (Frame, error) {
	select {
	case <-p.closed:
		return 0, ClosedErrorF("%v port is closed", p.name)
	default:
	}
	if !p.casState(StateIdle, StateAwaitingStart) && !p.casState(StateInterFrameDelay, StateAwaitingStart) {
		return 0, BusyErrorF("%v port cannot receive in state %v", p.name, p.State())
	}

	timer := p.clk.Timer(timeout)
	defer timer.Stop()

	select {
	case <-p.closed:
		p.setState(StateIdle)
		return 0, ClosedErrorF("%v port is closed", p.name)
	case <-timer.C:
		p.setState(StateIdle)
		p.stats.timeout()
		return 0, TimeoutErrorF("%v port: no frame within %v", p.name, timeout)
	case r := <-p.mbox:
		p.readyAt = p.clk.Now().Add(p.interFrame())
		p.setState(StateInterFrameDelay)
		if r.err != nil {
			p.stats.parseError()
			return 0, InvalidErrorF("%v port: %v", p.name, r.err)
		}
		valid := r.frame.ValidResponse()
		if p.role == Slave {
			valid = r.frame.ValidRequest()
		}
		if !valid {
			p.stats.parseError()
			return r.frame, InvalidErrorF("%v port: frame %v is not a valid %v reception", p.name, r.frame, p.role)
		}
		p.stats.received()
		return r.frame, nil
	}
}

// captureLoop watches the input pin, assembles edges into symbol runs and
// posts every completed decode attempt to the mailbox. It never logs or
// blocks on the hot path between edges.
func (p *Port) captureLoop() {
	asm := &edgeAssembler{}
	for {
		select {
		case <-p.closed:
			return
		default:
		}
		if p.line.in.WaitForEdge(frameGap) {
			at := p.clk.Now()
			level := p.line.read()
			if !asm.active {
				p.casState(StateAwaitingStart, StateReceivingBits)
			}
			asm.edge(level, at)
			continue
		}
		if syms, ok := asm.flush(p.clk.Now()); ok {
			p.deliver(syms)
		}
	}
}

func (p *Port) deliver(syms []symbol) {
	f, err := decodeSymbols(syms)
	r := rxResult{frame: f, at: p.clk.Now()}
	if err != nil {
		r.err = err.(*DecodeError)
		p.casState(StateReceivingBits, StateFrameInvalid)
		p.log.WithFields(logrus.Fields{
			"reason":  r.err.Reason,
			"bit":     r.err.Bit,
			"symbols": len(syms),
		}).Debug("reception failed to decode")
	} else {
		p.casState(StateReceivingBits, StateFrameReady)
	}
	// Overwrite semantics: drop the unread result, never block.
	for {
		select {
		case p.mbox <- r:
			return
		default:
			select {
			case <-p.mbox:
			default:
			}
		}
	}
}

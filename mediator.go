package otgw

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/xid"
	"github.com/sirupsen/logrus"
)

type writeReply struct {
	frame Frame
	err   error
}

type writeReq struct {
	frame Frame
	reply chan writeReply
}

// enginePort is the Port surface the mediator drives. It exists so the
// forwarding logic can be exercised against scripted ports.
type enginePort interface {
	start() error
	halt()
	SendFrame(Frame) error
	AwaitFrame(timeout time.Duration) (Frame, error)
	Stats() Stats
}

// gateway is the mediator: it owns both Ports and drives forwarding,
// diagnostic injection and override policy from a single task.
type gateway struct {
	cfg  Config
	clk  clock.Clock
	log  *logrus.Entry
	hook *logDispatcher

	thermostat enginePort
	boiler     enginePort
	tele       *telemetry
	box        *overrideBox
	sched      *diagSchedule

	mode   int32
	writes chan writeReq
	closed chan struct{}
	done   chan struct{}

	// Loop-private state; only the mediator goroutine touches it.
	id0Counter int

	// Shared with Status() readers.
	mu          sync.Mutex
	started     bool
	fallback    bool
	ctrlActive  bool
	outageSince time.Time
	lastSuccess time.Time
}

// New assembles a Gateway from the configuration. Nothing touches the GPIOs
// until Start.
func New(cfg Config) (Gateway, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log := cfg.Logger.WithField("component", "otgw")
	g := &gateway{
		cfg:    cfg,
		clk:    cfg.Clock,
		log:    log,
		hook:   newLogDispatcher(cfg.Hook),
		tele:   newTelemetry(cfg.Clock),
		box:    newOverrideBox(cfg.Clock),
		sched:  newDiagSchedule(cfg.DiagnosticIDs),
		mode:   int32(cfg.Mode),
		writes: make(chan writeReq),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	g.thermostat = newPort("thermostat", Slave, &lineDriver{
		in:        cfg.ThermostatIn,
		out:       cfg.ThermostatOut,
		invertIn:  cfg.ThermostatInvertIn,
		invertOut: cfg.ThermostatInvertOut,
		clk:       cfg.Clock,
	}, cfg.Clock, log, cfg.StabilisationDelay)
	g.boiler = newPort("boiler", Master, &lineDriver{
		in:        cfg.BoilerIn,
		out:       cfg.BoilerOut,
		invertIn:  cfg.BoilerInvertIn,
		invertOut: cfg.BoilerInvertOut,
		clk:       cfg.Clock,
	}, cfg.Clock, log, cfg.StabilisationDelay)
	return g, nil
}

func (g *gateway) Start() error {
	g.mu.Lock()
	if g.started {
		g.mu.Unlock()
		return BusyErrorF("gateway already started")
	}
	g.started = true
	g.mu.Unlock()

	if err := g.thermostat.start(); err != nil {
		return err
	}
	if err := g.boiler.start(); err != nil {
		g.thermostat.halt()
		return err
	}
	go g.run()
	g.log.WithField("mode", g.Mode()).Info("gateway started")
	return nil
}

func (g *gateway) Close() error {
	select {
	case <-g.closed:
		return nil
	default:
	}
	close(g.closed)
	g.thermostat.halt()
	g.boiler.halt()
	g.mu.Lock()
	started := g.started
	g.mu.Unlock()
	if started {
		<-g.done
	} else {
		close(g.done)
	}
	g.hook.close()
	g.log.Info("gateway stopped")
	return nil
}

func (g *gateway) Mode() Mode {
	return Mode(atomic.LoadInt32(&g.mode))
}

func (g *gateway) SetMode(m Mode) {
	atomic.StoreInt32(&g.mode, int32(m))
}

func (g *gateway) Telemetry() TelemetrySnapshot {
	return g.tele.snapshot()
}

func (g *gateway) SetSetpoint(celsius float64) error {
	return g.box.setSetpoint(celsius)
}

func (g *gateway) SetCHEnable(enable bool) {
	g.box.setCHEnable(enable)
}

func (g *gateway) SetControlMode(enable bool) {
	g.box.setControl(enable)
}

func (g *gateway) Heartbeat(value float64) {
	g.box.touch(value)
}

func (g *gateway) Status() StatusSnapshot {
	ov := g.box.state(g.cfg.HeartbeatTimeout)
	g.mu.Lock()
	fallback := g.fallback
	ctrlActive := g.ctrlActive
	lastSuccess := g.lastSuccess
	g.mu.Unlock()

	// Fallback is visible both for a boiler outage and for a stale command
	// source while Control mode is asked for.
	if g.Mode() == Control && ov.control && !ov.fresh {
		fallback = true
	}
	s := StatusSnapshot{
		Mode:           g.Mode(),
		ControlEnabled: ov.control,
		ControlActive:  ctrlActive,
		FallbackActive: fallback,
		OverrideFresh:  ov.fresh,
		SetpointC:      ov.setpoint,
		HasSetpoint:    ov.hasSetpoint,
		CHEnable:       ov.chEnable,
		HasCHEnable:    ov.hasCHEnable,
		Thermostat:     g.thermostat.Stats(),
		Boiler:         g.boiler.Stats(),
	}
	if !lastSuccess.IsZero() {
		s.LastTransaction = g.clk.Now().Sub(lastSuccess)
		s.HasTransaction = true
	}
	return s
}

// WriteData sends a gateway-originated WriteData frame to the boiler between
// transactions and returns the boiler's reply.
func (g *gateway) WriteData(id DataID, value int, timeout time.Duration) (Frame, error) {
	w := writeReq{BuildRequest(WriteData, id, value), make(chan writeReply, 1)}
	timer := g.clk.Timer(timeout)
	defer timer.Stop()
	select {
	case <-g.closed:
		return 0, ClosedErrorF("gateway is closed")
	case <-timer.C:
		return 0, TimeoutErrorF("no transaction slot within %v", timeout)
	case g.writes <- w:
	}
	select {
	case <-g.closed:
		return 0, ClosedErrorF("gateway is closed")
	case <-timer.C:
		return 0, TimeoutErrorF("no boiler reply within %v", timeout)
	case r := <-w.reply:
		return r.frame, r.err
	}
}

// run is the mediator main loop: wait for a thermostat request, service it,
// and use quiet periods for gateway-originated traffic.
func (g *gateway) run() {
	defer close(g.done)
	idle := false
	for {
		select {
		case <-g.closed:
			return
		default:
		}

		// Manual writes slot in between transactions.
		select {
		case w := <-g.writes:
			g.serviceWrite(w)
			continue
		default:
		}

		window := g.cfg.ThermostatWindow
		if idle {
			// Keep diagnostics flowing while the thermostat stays silent,
			// without giving up the prompt return to forwarding.
			window = g.cfg.IdleWindow
		}
		req, err := g.thermostat.AwaitFrame(window)
		switch {
		case err == nil:
			idle = false
			g.transact(req)
		case IsInvalid(err):
			idle = false
			g.hook.post(MessageRecord{
				XID:       xid.New().String(),
				Direction: DirDropped,
				Source:    SourceThermostatBoiler,
				Frame:     req,
				Reason:    err.Error(),
			})
			g.log.WithError(err).Warn("discarding invalid thermostat frame")
		case IsTimeout(err):
			idle = true
			g.injectDiagnostic()
		default:
			// Port shut down underneath us.
			return
		}
	}
}

// transact services one thermostat request end to end. Every request
// produces exactly one thermostat-bound response.
func (g *gateway) transact(req Frame) {
	txid := xid.New().String()
	g.hook.post(MessageRecord{XID: txid, Direction: DirRequest, Source: SourceThermostatBoiler, Frame: req})

	mode := g.Mode()
	g.mu.Lock()
	if g.fallback {
		mode = Passthrough
	}
	g.mu.Unlock()

	fwd := req
	overridden := false
	if mode == Control {
		fwd, overridden = g.applyOverrides(req)
	}
	g.setControlActive(overridden)

	if mode == Proxy && g.interceptDue(req) {
		if raw, ok := g.tele.statusFresh(statusCacheWindow); ok {
			g.interceptStatus(txid, req, raw)
			return
		}
	}

	resp, ok := g.exchange(txid, fwd, SourceThermostatBoiler)
	if !ok {
		// The thermostat still deserves an answer. An overridden write is
		// acknowledged as applied - the gateway is enforcing the value
		// itself - everything else degrades to DataInvalid.
		if overridden && fwd.Type() == WriteData {
			resp = BuildResponse(WriteAck, fwd.ID(), fwd.Value())
		} else {
			resp = BuildResponse(DataInvalid, req.ID(), 0)
		}
		g.hook.post(MessageRecord{XID: txid, Direction: DirResponse, Source: SourceThermostatGateway, Frame: resp})
	}
	g.deliver(resp)
}

// applyOverrides rewrites a request under a fresh Control-mode override. A
// stale command source leaves the request untouched for this transaction.
func (g *gateway) applyOverrides(req Frame) (Frame, bool) {
	ov := g.box.state(g.cfg.HeartbeatTimeout)
	if !ov.control || !ov.fresh {
		return req, false
	}
	switch {
	case req.Type() == WriteData && req.ID() == IDTSet && ov.hasSetpoint:
		return BuildRequest(WriteData, IDTSet, TemperatureData(ov.setpoint)), true
	case req.ID() == IDStatus && ov.hasCHEnable:
		// CH enable is bit 0 of the master status high byte.
		v := req.Value() &^ 0x100
		if ov.chEnable {
			v |= 0x100
		}
		if v == req.Value() {
			return req, false
		}
		return BuildRequest(req.Type(), IDStatus, v), true
	}
	return req, false
}

// interceptDue counts thermostat status requests and fires every Nth one.
// Rates below 2 never intercept; the thermostat must keep seeing genuine
// boiler status at a minimum cadence.
func (g *gateway) interceptDue(req Frame) bool {
	if g.cfg.InterceptRate < 2 {
		return false
	}
	if req.ID() != IDStatus || req.Type() != ReadData {
		return false
	}
	g.id0Counter++
	return g.id0Counter%g.cfg.InterceptRate == 0
}

// interceptStatus spends the thermostat's status slot on an extra diagnostic
// read and answers the thermostat from the cached boiler status.
func (g *gateway) interceptStatus(txid string, req Frame, cachedStatus int) {
	id := g.sched.advance()
	diag := BuildRequest(ReadData, id, 0)
	g.hook.post(MessageRecord{XID: txid, Direction: DirRequest, Source: SourceGatewayBoiler, Frame: diag})
	g.exchange(txid, diag, SourceGatewayBoiler)

	resp := BuildResponse(ReadAck, IDStatus, cachedStatus)
	g.hook.post(MessageRecord{XID: txid, Direction: DirResponse, Source: SourceThermostatGateway, Frame: resp})
	g.deliver(resp)
}

// injectDiagnostic opportunistically polls the boiler while the thermostat
// is silent. Passthrough mode never originates traffic.
func (g *gateway) injectDiagnostic() {
	if g.Mode() == Passthrough {
		return
	}
	txid := xid.New().String()
	id := g.sched.advance()
	req := BuildRequest(ReadData, id, 0)
	g.hook.post(MessageRecord{XID: txid, Direction: DirRequest, Source: SourceGatewayBoiler, Frame: req})
	g.exchange(txid, req, SourceGatewayBoiler)
}

// exchange performs one boiler transaction: send, await, account. On success
// the response is recorded in telemetry and logged.
func (g *gateway) exchange(txid string, req Frame, source Source) (Frame, bool) {
	if err := g.boiler.SendFrame(req); err != nil {
		g.log.WithError(err).Warn("boiler send failed")
		g.noteFailure()
		return 0, false
	}
	resp, err := g.boiler.AwaitFrame(g.cfg.BoilerTimeout)
	if err != nil {
		g.log.WithError(err).Warn("boiler exchange failed")
		g.noteFailure()
		return 0, false
	}
	g.noteSuccess()
	g.tele.update(resp)
	g.hook.post(MessageRecord{XID: txid, Direction: DirResponse, Source: source, Frame: resp})
	return resp, true
}

// deliver sends the thermostat its response for the current transaction.
func (g *gateway) deliver(resp Frame) {
	if err := g.thermostat.SendFrame(resp); err != nil {
		g.log.WithError(err).Warn("response delivery failed")
	}
}

func (g *gateway) serviceWrite(w writeReq) {
	txid := xid.New().String()
	g.hook.post(MessageRecord{XID: txid, Direction: DirRequest, Source: SourceGatewayBoiler, Frame: w.frame})
	resp, ok := g.exchange(txid, w.frame, SourceGatewayBoiler)
	if !ok {
		w.reply <- writeReply{err: TimeoutErrorF("no boiler response to manual write")}
		return
	}
	w.reply <- writeReply{frame: resp}
}

func (g *gateway) setControlActive(active bool) {
	g.mu.Lock()
	g.ctrlActive = active
	g.mu.Unlock()
}

// noteFailure tracks a boiler-side failure. Once failures have persisted past
// the outage threshold the mediator forces Passthrough behaviour until a
// transaction succeeds again.
func (g *gateway) noteFailure() {
	now := g.clk.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.outageSince.IsZero() {
		g.outageSince = now
		return
	}
	if !g.fallback && now.Sub(g.outageSince) > g.cfg.OutageThreshold {
		g.fallback = true
		g.log.WithField("since", now.Sub(g.outageSince)).Error("boiler unresponsive, forcing passthrough")
	}
}

func (g *gateway) noteSuccess() {
	now := g.clk.Now()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.outageSince = time.Time{}
	g.lastSuccess = now
	if g.fallback {
		g.fallback = false
		g.log.Info("boiler recovered, resuming configured mode")
	}
}

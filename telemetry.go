package otgw

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

/*
This file contains the telemetry store: the latest observed value for each
data-id, with its interpretation table and the plausibility checks applied at
write time.
*/

// valueFormat selects how a data-value is interpreted for telemetry.
type valueFormat uint8

const (
	fmtF88 valueFormat = iota
	fmtS16
	fmtU16
	fmtTwoByte
)

// telemetryRule is the static interpretation of one data-id. Readings
// outside [min, max] are rejected as implausible; a rule with min == max == 0
// accepts everything.
type telemetryRule struct {
	format   valueFormat
	min, max float64
}

func (r telemetryRule) bounded() bool {
	return r.min != 0 || r.max != 0
}

// Interpretation and plausibility windows per data-id. Sensors that cannot
// physically read zero or below reject such values rather than store them.
var telemetryRules = map[DataID]telemetryRule{
	IDTSet:              {fmtF88, 1.0 / 256, 100},
	IDASFFlags:          {fmtTwoByte, 0, 0},
	IDMaxCapacityMinMod: {fmtTwoByte, 0, 0},
	IDRelModLevel:       {fmtF88, 0, 100},
	// Pressure and flow rate only reject negatives; 128 is the f8.8 ceiling.
	IDCHPressure:        {fmtF88, 0, 128},
	IDDHWFlowRate:       {fmtF88, 0, 128},
	IDTBoiler:           {fmtF88, -40, 150},
	IDTdhw:              {fmtF88, 1.0 / 256, 150},
	IDToutside:          {fmtF88, -60, 60},
	IDTret:              {fmtF88, -40, 150},
	IDTstorage:          {fmtF88, 1.0 / 256, 150},
	IDTcollector:        {fmtF88, 1.0 / 256, 300},
	IDTflowCH2:          {fmtF88, 1.0 / 256, 150},
	IDTdhw2:             {fmtF88, 1.0 / 256, 150},
	IDTexhaust:          {fmtS16, -40, 500},
	IDTheatExchanger:    {fmtF88, 1.0 / 256, 500},
	IDFanSpeed:          {fmtTwoByte, 0, 0},
	IDMaxTSet:           {fmtF88, 0, 127},
	IDCO2Exhaust:        {fmtU16, 0, 0},
	IDRPMExhaust:        {fmtU16, 0, 0},
	IDRPMSupply:         {fmtU16, 0, 0},
	IDOEMDiagnosticCode: {fmtU16, 0, 0},
	IDBurnerStarts:      {fmtU16, 0, 0},
	IDCHPumpStarts:      {fmtU16, 0, 0},
	IDDHWPumpStarts:     {fmtU16, 0, 0},
	IDDHWBurnerStarts:   {fmtU16, 0, 0},
	IDBurnerHours:       {fmtU16, 0, 0},
	IDCHPumpHours:       {fmtU16, 0, 0},
	IDDHWPumpHours:      {fmtU16, 0, 0},
	IDDHWBurnerHours:    {fmtU16, 0, 0},
}

// Reading is the latest accepted value for one data-id. For two-byte ids
// Value holds the high byte and Low the low byte; otherwise Low is zero.
type Reading struct {
	Raw   int
	Value float64
	Low   float64
	At    time.Time
}

// StatusFlags are the slave status bits decomposed from a data-id 0 response.
type StatusFlags struct {
	Fault     bool
	CHActive  bool
	DHWActive bool
	FlameOn   bool
}

// TelemetryReading is one entry of a telemetry snapshot.
type TelemetryReading struct {
	Raw   int
	Value float64
	Low   float64
	Age   time.Duration
}

// TelemetrySnapshot is a point-in-time copy of the telemetry store handed to
// observers. It shares no state with the engine.
type TelemetrySnapshot struct {
	Readings  map[DataID]TelemetryReading
	Status    StatusFlags
	StatusAge time.Duration
	HasStatus bool
}

// telemetry is written only by the mediator; observers read snapshots under
// a reader lock and never hold it across I/O.
type telemetry struct {
	clk clock.Clock

	mu        sync.RWMutex
	readings  map[DataID]Reading
	status    StatusFlags
	statusRaw int
	statusAt  time.Time
	hasStatus bool
}

func newTelemetry(clk clock.Clock) *telemetry {
	return &telemetry{clk: clk, readings: make(map[DataID]Reading)}
}

// update records the response's value if the response is a positive Ack and
// the value passes the data-id's plausibility window. It reports whether a
// reading was stored.
func (t *telemetry) update(f Frame) bool {
	if !f.Ack() {
		return false
	}
	id := f.ID()
	if id == IDStatus {
		t.mu.Lock()
		t.status = StatusFlags{
			Fault:     f.Fault(),
			CHActive:  f.CHActive(),
			DHWActive: f.DHWActive(),
			FlameOn:   f.FlameOn(),
		}
		t.statusRaw = f.Value()
		t.statusAt = t.clk.Now()
		t.hasStatus = true
		t.mu.Unlock()
		return true
	}

	rule, ok := telemetryRules[id]
	if !ok {
		rule = telemetryRule{fmtU16, 0, 0}
	}
	r := Reading{Raw: f.Value(), At: t.clk.Now()}
	switch rule.format {
	case fmtF88:
		r.Value = f.Float()
	case fmtS16:
		r.Value = float64(f.Int16())
	case fmtU16:
		r.Value = float64(f.Value())
	case fmtTwoByte:
		r.Value = float64(f.HighByte())
		r.Low = float64(f.LowByte())
	}
	if rule.bounded() && (r.Value < rule.min || r.Value > rule.max) {
		return false
	}

	t.mu.Lock()
	t.readings[id] = r
	t.mu.Unlock()
	return true
}

// snapshot copies the store for observers, with per-entry ages.
func (t *telemetry) snapshot() TelemetrySnapshot {
	now := t.clk.Now()

	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := TelemetrySnapshot{
		Readings:  make(map[DataID]TelemetryReading, len(t.readings)),
		Status:    t.status,
		HasStatus: t.hasStatus,
	}
	if t.hasStatus {
		snap.StatusAge = now.Sub(t.statusAt)
	}
	for id, r := range t.readings {
		snap.Readings[id] = TelemetryReading{
			Raw:   r.Raw,
			Value: r.Value,
			Low:   r.Low,
			Age:   now.Sub(r.At),
		}
	}
	return snap
}

// statusFresh reports whether a status response has been seen within the
// window, returning its raw data-value; used to decide whether an intercepted
// status request can be answered from cache.
func (t *telemetry) statusFresh(window time.Duration) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if !t.hasStatus || t.clk.Now().Sub(t.statusAt) > window {
		return 0, false
	}
	return t.statusRaw, true
}

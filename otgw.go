/*
Package otgw implements the protocol engine of an OpenTherm man-in-the-middle
gateway: a device wired between a heating thermostat (the protocol master) and
a boiler (the slave) that forwards every frame in both directions, observes
the traffic for telemetry, injects its own diagnostic reads while the bus is
quiet, and can rewrite thermostat commands under external control.

The engine owns two Ports, one per physical side. The thermostat-facing Port
runs in the slave role (it receives requests and sends responses), the
boiler-facing Port in the master role. Each Port drives one RX/TX GPIO pair
carrying the 34-bit Manchester-encoded OpenTherm line protocol with 500µs
half-bits.

Constructing a gateway requires the four claimed GPIO pins and little else:

	cfg := otgw.Config{
		ThermostatIn:  gpioreg.ByName("GPIO25"),
		ThermostatOut: gpioreg.ByName("GPIO26"),
		BoilerIn:      gpioreg.ByName("GPIO13"),
		BoilerOut:     gpioreg.ByName("GPIO14"),
		Mode:          otgw.Proxy,
	}
	gw, _ := otgw.New(cfg)
	gw.Start()

External collaborators read telemetry through Telemetry and Status snapshots
and write overrides through SetSetpoint, SetCHEnable, SetControlMode and
Heartbeat. How those capabilities are exposed to the outside world - MQTT,
HTTP, anything else - is not this package's concern.
*/
package otgw

import "time"

// StatusSnapshot is the point-in-time gateway status handed to observers.
type StatusSnapshot struct {
	// Mode is the configured operating mode.
	Mode Mode
	// ControlEnabled reports whether the external source asked for Control.
	ControlEnabled bool
	// ControlActive reports whether the last transaction was rewritten.
	ControlActive bool
	// FallbackActive reports whether the mediator is forcing Passthrough
	// behaviour, due to a boiler outage or a stale command source.
	FallbackActive bool
	// OverrideFresh reports whether the command heartbeat is within bounds.
	OverrideFresh bool

	SetpointC   float64
	HasSetpoint bool
	CHEnable    bool
	HasCHEnable bool

	// LastTransaction is the age of the last successful boiler transaction.
	LastTransaction time.Duration
	HasTransaction  bool

	// Per-side Port counters.
	Thermostat Stats
	Boiler     Stats
}

/*
Gateway is the running protocol engine. Start claims the GPIOs and launches
the mediator task; Close releases every pending wait within a tick and shuts
the engine down.

The snapshot methods and the override writers are safe from any goroutine;
they are the engine's only shared-mutable boundaries.
*/
type Gateway interface {
	// Start claims the GPIOs and starts the mediator main loop.
	Start() error
	// Close stops the mediator and de-initialises both Ports.
	Close() error

	// Mode returns the configured operating mode.
	Mode() Mode
	// SetMode changes the operating mode for subsequent transactions.
	SetMode(Mode)

	// Telemetry returns a copy of the latest per-data-id readings.
	Telemetry() TelemetrySnapshot
	// Status returns the gateway status and per-Port counters.
	Status() StatusSnapshot

	// SetSetpoint overrides the CH setpoint in °C, within [10, 100].
	SetSetpoint(celsius float64) error
	// SetCHEnable overrides the central-heating enable bit.
	SetCHEnable(enable bool)
	// SetControlMode asks the mediator to apply overrides while fresh.
	SetControlMode(enable bool)
	// Heartbeat refreshes the command source's freshness timestamp.
	Heartbeat(value float64)

	// WriteData sends a gateway-originated WriteData request to the boiler
	// between transactions and returns the boiler's reply.
	WriteData(id DataID, value int, timeout time.Duration) (Frame, error)
}

package otgw

import (
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/gpio"
)

// Mode is the mediator's operating mode.
type Mode uint8

// Operating modes.
const (
	// Proxy is passthrough plus telemetry capture and optional interception
	// of status requests for extra diagnostics. The default.
	Proxy Mode = iota
	// Passthrough forwards every frame byte-for-byte and originates no traffic
	// of its own; a failed boiler exchange is still answered with DataInvalid.
	Passthrough
	// Control applies fresh external overrides to TSet and status requests.
	Control
)

func (m Mode) String() string {
	switch m {
	case Passthrough:
		return "PASSTHROUGH"
	case Proxy:
		return "PROXY"
	case Control:
		return "CONTROL"
	}
	return "UNKNOWN"
}

// Config is the static boot configuration of the gateway engine. Pin
// resolution from names or numbers is the caller's concern; the engine takes
// claimed pins.
type Config struct {
	// The thermostat-facing (slave role) line.
	ThermostatIn  gpio.PinIn
	ThermostatOut gpio.PinOut
	// The boiler-facing (master role) line.
	BoilerIn  gpio.PinIn
	BoilerOut gpio.PinOut

	// Polarity compensation for inverting adapter circuits, per side.
	ThermostatInvertIn  bool
	ThermostatInvertOut bool
	BoilerInvertIn      bool
	BoilerInvertOut     bool

	Mode Mode

	// InterceptRate replaces every Nth thermostat status request with a
	// gateway diagnostic read in Proxy mode. Rates below 2, including the
	// default 0, disable interception.
	InterceptRate int

	// DiagnosticIDs overrides the polling order; nil selects the default.
	DiagnosticIDs []DataID

	// HeartbeatTimeout bounds the age of the last override heartbeat before
	// Control mode falls back to Passthrough behaviour. Default 90s.
	HeartbeatTimeout time.Duration

	// ThermostatWindow is the top-of-loop wait for a thermostat request.
	// Default 1100ms, just over the protocol's 1s master cadence.
	ThermostatWindow time.Duration

	// IdleWindow is the shortened wait used between diagnostic injections
	// while the thermostat remains silent. Default 100ms.
	IdleWindow time.Duration

	// BoilerTimeout bounds the wait for a boiler response. Default 800ms.
	BoilerTimeout time.Duration

	// OutageThreshold is how long boiler-side failures must persist before
	// the mediator forces Passthrough. Default 60s.
	OutageThreshold time.Duration

	// StabilisationDelay is the quiet period before the first transmission
	// on either line. Default 1s.
	StabilisationDelay time.Duration

	// Clock defaults to the wall clock; tests inject a mock.
	Clock clock.Clock

	// Logger defaults to logrus.StandardLogger().
	Logger *logrus.Logger

	// Hook optionally observes every request, response, injected diagnostic
	// and dropped frame.
	Hook MessageHook
}

// How often an intercepted status request must still be answered from a
// genuinely fresh boiler status for the thermostat not to notice.
const statusCacheWindow = 10 * time.Second

func (c *Config) setDefaults() {
	if c.HeartbeatTimeout == 0 {
		c.HeartbeatTimeout = 90 * time.Second
	}
	if c.ThermostatWindow == 0 {
		c.ThermostatWindow = 1100 * time.Millisecond
	}
	if c.IdleWindow == 0 {
		c.IdleWindow = 100 * time.Millisecond
	}
	if c.BoilerTimeout == 0 {
		c.BoilerTimeout = 800 * time.Millisecond
	}
	if c.OutageThreshold == 0 {
		c.OutageThreshold = 60 * time.Second
	}
	if c.StabilisationDelay == 0 {
		c.StabilisationDelay = time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
}

func (c *Config) validate() error {
	if c.ThermostatIn == nil || c.ThermostatOut == nil {
		return errors.New("thermostat-side pins are required")
	}
	if c.BoilerIn == nil || c.BoilerOut == nil {
		return errors.New("boiler-side pins are required")
	}
	if c.InterceptRate < 0 {
		return errors.New("intercept rate cannot be negative")
	}
	if c.Mode > Control {
		return errors.New("unknown operating mode")
	}
	return nil
}

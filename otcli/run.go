package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/host"

	"github.com/rolfl/otgw"
)

// RunCommand starts the gateway engine and keeps it running until SIGINT.
type RunCommand struct {
	Config string `long:"config" short:"c" default:"otgw.yaml" description:"Path to the gateway configuration file"`
}

// fileConfig is the YAML shape of the configuration file. Pins are named the
// way the host registers them (e.g. GPIO25).
type fileConfig struct {
	ThermostatIn  string `yaml:"thermostat_in"`
	ThermostatOut string `yaml:"thermostat_out"`
	BoilerIn      string `yaml:"boiler_in"`
	BoilerOut     string `yaml:"boiler_out"`

	ThermostatInvertIn  bool `yaml:"thermostat_invert_in"`
	ThermostatInvertOut bool `yaml:"thermostat_invert_out"`
	BoilerInvertIn      bool `yaml:"boiler_invert_in"`
	BoilerInvertOut     bool `yaml:"boiler_invert_out"`

	Mode                    string `yaml:"mode"`
	InterceptRate           int    `yaml:"intercept_rate"`
	HeartbeatTimeoutSeconds int    `yaml:"heartbeat_timeout_seconds"`
	OutageThresholdSeconds  int    `yaml:"outage_threshold_seconds"`
}

func (fc *fileConfig) mode() (otgw.Mode, error) {
	switch fc.Mode {
	case "", "proxy":
		return otgw.Proxy, nil
	case "passthrough":
		return otgw.Passthrough, nil
	case "control":
		return otgw.Control, nil
	}
	return 0, fmt.Errorf("unknown mode %q", fc.Mode)
}

func pinIn(name string) (gpio.PinIn, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no such pin %q", name)
	}
	return p, nil
}

func pinOut(name string) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("no such pin %q", name)
	}
	return p, nil
}

func (cmd *RunCommand) Execute(args []string) error {
	raw, err := os.ReadFile(cmd.Config)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	fc := fileConfig{}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	mode, err := fc.mode()
	if err != nil {
		return err
	}

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("initialising host: %w", err)
	}

	cfg := otgw.Config{
		Mode:                mode,
		InterceptRate:       fc.InterceptRate,
		HeartbeatTimeout:    time.Duration(fc.HeartbeatTimeoutSeconds) * time.Second,
		OutageThreshold:     time.Duration(fc.OutageThresholdSeconds) * time.Second,
		ThermostatInvertIn:  fc.ThermostatInvertIn,
		ThermostatInvertOut: fc.ThermostatInvertOut,
		BoilerInvertIn:      fc.BoilerInvertIn,
		BoilerInvertOut:     fc.BoilerInvertOut,
		Logger:              logrus.StandardLogger(),
	}
	if cfg.ThermostatIn, err = pinIn(fc.ThermostatIn); err != nil {
		return err
	}
	if cfg.ThermostatOut, err = pinOut(fc.ThermostatOut); err != nil {
		return err
	}
	if cfg.BoilerIn, err = pinIn(fc.BoilerIn); err != nil {
		return err
	}
	if cfg.BoilerOut, err = pinOut(fc.BoilerOut); err != nil {
		return err
	}

	if clicmd.Verbose {
		cfg.Hook = func(r otgw.MessageRecord) {
			entry := logrus.WithFields(logrus.Fields{
				"xid":    r.XID,
				"source": r.Source,
			})
			if r.Direction == otgw.DirDropped {
				entry.WithField("reason", r.Reason).Warn("DROPPED")
				return
			}
			entry.Infof("%v | %v", r.Direction, r.Frame)
		}
	}

	gw, err := otgw.New(cfg)
	if err != nil {
		return err
	}
	if err := gw.Start(); err != nil {
		return err
	}
	defer gw.Close()

	prometheus.MustRegister(otgw.NewCollector("otgw", gw))

	logrus.WithField("mode", mode).Info("gateway running, ^C to stop")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	return nil
}

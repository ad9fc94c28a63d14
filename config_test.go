package otgw

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.setDefaults()

	assert.Equal(t, 90*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 1100*time.Millisecond, cfg.ThermostatWindow)
	assert.Equal(t, 800*time.Millisecond, cfg.BoilerTimeout)
	assert.Equal(t, 60*time.Second, cfg.OutageThreshold)
	assert.Equal(t, time.Second, cfg.StabilisationDelay)
	assert.NotNil(t, cfg.Clock)
	assert.NotNil(t, cfg.Logger)
}

func TestNewRejectsMissingPins(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	cfg := Config{
		ThermostatIn:  &gpiotest.Pin{N: "TI", EdgesChan: make(chan gpio.Level)},
		ThermostatOut: &gpiotest.Pin{N: "TO"},
	}
	_, err = New(cfg)
	require.Error(t, err, "boiler pins are still missing")

	cfg.BoilerIn = &gpiotest.Pin{N: "BI", EdgesChan: make(chan gpio.Level)}
	cfg.BoilerOut = &gpiotest.Pin{N: "BO"}
	cfg.Logger = testLogger().Logger
	gw, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, Proxy, gw.Mode(), "proxy is the default mode")
}

func TestNewRejectsNegativeInterceptRate(t *testing.T) {
	cfg := Config{
		ThermostatIn:  &gpiotest.Pin{N: "TI", EdgesChan: make(chan gpio.Level)},
		ThermostatOut: &gpiotest.Pin{N: "TO"},
		BoilerIn:      &gpiotest.Pin{N: "BI", EdgesChan: make(chan gpio.Level)},
		BoilerOut:     &gpiotest.Pin{N: "BO"},
		InterceptRate: -1,
	}
	_, err := New(cfg)
	require.Error(t, err)
}

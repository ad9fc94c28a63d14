package main

/*
This program runs the gateway engine against simulated lines instead of real
GPIOs. A scripted thermostat bit-bangs a handful of requests onto the
thermostat-side input pin with real OpenTherm timing; the boiler side is left
unanswered, so the engine's timeout synthesis is visible too.

Useful as a smoke test of the whole receive path without any hardware
attached.
*/

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"

	"github.com/rolfl/otgw"
)

// emit bit-bangs a frame onto a test pin with 500µs half-bit pacing, the way
// a real thermostat would drive the line.
func emit(pin *gpiotest.Pin, f otgw.Frame) {
	bits := make([]bool, 0, 34)
	bits = append(bits, true)
	for i := 31; i >= 0; i-- {
		bits = append(bits, (f>>uint(i))&1 == 1)
	}
	bits = append(bits, true)

	level := gpio.High
	half := func(l gpio.Level) {
		if l != level {
			pin.EdgesChan <- l
			level = l
		}
		time.Sleep(500 * time.Microsecond)
	}
	for _, b := range bits {
		if b {
			half(gpio.High)
			half(gpio.Low)
		} else {
			half(gpio.Low)
			half(gpio.High)
		}
	}
	if level != gpio.High {
		pin.EdgesChan <- gpio.High
	}
}

func main() {
	fmt.Printf("Starting OpenTherm gateway simulation\n")

	thermIn := &gpiotest.Pin{N: "THERM_IN", Num: 25, EdgesChan: make(chan gpio.Level)}
	thermOut := &gpiotest.Pin{N: "THERM_OUT", Num: 26}
	boilerIn := &gpiotest.Pin{N: "BOILER_IN", Num: 13, EdgesChan: make(chan gpio.Level)}
	boilerOut := &gpiotest.Pin{N: "BOILER_OUT", Num: 14}

	cfg := otgw.Config{
		ThermostatIn:  thermIn,
		ThermostatOut: thermOut,
		BoilerIn:      boilerIn,
		BoilerOut:     boilerOut,
		Mode:          otgw.Passthrough,
		// The simulated boiler never answers; keep the boiler wait short.
		BoilerTimeout:      300 * time.Millisecond,
		StabilisationDelay: 10 * time.Millisecond,
		Logger:             logrus.StandardLogger(),
		Hook: func(r otgw.MessageRecord) {
			fmt.Printf("  %-8v %-19v %v\n", r.Direction, r.Source, r.Frame)
		},
	}

	gw, err := otgw.New(cfg)
	if err != nil {
		fmt.Printf("Error building gateway: %v\n", err)
		return
	}
	if err := gw.Start(); err != nil {
		fmt.Printf("Error starting gateway: %v\n", err)
		return
	}
	defer gw.Close()

	requests := []otgw.Frame{
		otgw.StatusRequest(true, true, false, false, false),
		otgw.SetpointRequest(40),
		otgw.BuildRequest(otgw.ReadData, otgw.IDTBoiler, 0),
	}
	for _, req := range requests {
		fmt.Printf("Thermostat sends %v\n", req)
		emit(thermIn, req)
		// Leave room for the boiler timeout and the synthesized reply.
		time.Sleep(500 * time.Millisecond)
	}

	status := gw.Status()
	fmt.Printf("\nThermostat side: sent=%v received=%v errors=%v timeouts=%v\n",
		status.Thermostat.Sent, status.Thermostat.Received,
		status.Thermostat.ParseErrors, status.Thermostat.Timeouts)
	fmt.Printf("Boiler side:     sent=%v received=%v errors=%v timeouts=%v\n",
		status.Boiler.Sent, status.Boiler.Received,
		status.Boiler.ParseErrors, status.Boiler.Timeouts)

	tele := gw.Telemetry()
	fmt.Printf("Telemetry entries: %v\n", len(tele.Readings))
}

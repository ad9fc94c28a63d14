package otgw

/*
This file contains the Manchester line layer: the transmit waveform, the
symbol classifier shared by the edge-time and symbol-buffer decoders, and the
edge assembler that turns timestamped input edges into symbols.

All logic here operates on logical levels. The idle level is mark (high); a
logical 1 is mark then space with the transition at mid-bit, a logical 0 is
space then mark. Polarity-inverting adapter circuits are compensated at the
pin boundary and nowhere else.
*/

import (
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"periph.io/x/periph/conn/gpio"
)

const (
	// halfBit is the nominal half-bit period: 500µs, two per 1ms bit.
	halfBit = 500 * time.Microsecond
	// A level run between minHalfBit and maxHalfBit is one half-bit; between
	// maxHalfBit and maxFullBit it is two. Anything else fails the frame.
	minHalfBit = 300 * time.Microsecond
	maxHalfBit = 700 * time.Microsecond
	maxFullBit = 1300 * time.Microsecond
	// Runs shorter than noiseFloor are glitches and are skipped outright.
	noiseFloor = 100 * time.Microsecond
	// frameGap is the quiet interval that closes a reception: well past the
	// longest legal run, well short of the 20ms inter-frame idle.
	frameGap = 2 * time.Millisecond
	// frameBits is start + 32 data + stop.
	frameBits = 34
)

// symbol is one observed line level and how long it was held.
type symbol struct {
	level gpio.Level
	dur   time.Duration
}

// DecodeError reports why an edge sequence failed to produce a frame. Bit is
// the frame bit being assembled when the failure was detected (0 = start,
// 1-32 = data, 33 = stop, 34 = parity failure after a complete frame).
type DecodeError struct {
	Reason string
	Bit    int
}

func (err *DecodeError) Error() string {
	return fmt.Sprintf("decode failed: %v at bit %v", err.Reason, err.Bit)
}

// Decode failure reasons.
const (
	reasonNoTransition = "no transition"
	reasonBadStart     = "bad start"
	reasonBadStop      = "bad stop"
	reasonBadDuration  = "bad duration"
	reasonIncomplete   = "incomplete"
	reasonParity       = "parity"
)

// encodeFrame expands a frame into its transmission waveform: start bit, the
// 32 data bits MSB first, stop bit, with adjacent equal half-bit levels
// merged into single runs exactly as they appear on the wire.
func encodeFrame(f Frame) []symbol {
	var full uint64
	full |= 1 << 33
	full |= uint64(f) << 1
	full |= 1

	syms := make([]symbol, 0, 2*frameBits)
	push := func(level gpio.Level) {
		if n := len(syms); n > 0 && syms[n-1].level == level {
			syms[n-1].dur += halfBit
			return
		}
		syms = append(syms, symbol{level, halfBit})
	}
	for i := frameBits - 1; i >= 0; i-- {
		if full>>uint(i)&1 == 1 {
			push(gpio.High)
			push(gpio.Low)
		} else {
			push(gpio.Low)
			push(gpio.High)
		}
	}
	return syms
}

// decodeSymbols reassembles a frame from a symbol stream. It accepts streams
// from either decoder front-end: the first mark half-bit of the start bit may
// be explicit (hardware capture) or merged into the preceding idle (edge
// capture), and the stop bit's trailing half may be cut short when the
// capture window closes on the inter-frame gap.
func decodeSymbols(syms []symbol) (Frame, error) {
	var raw uint32
	bit := 0
	half := 0          // half-bits consumed within the current frame bit
	first := gpio.High // level of the current bit's first half, when half == 1

	// A leading mark run is the start bit's first half, however long the
	// preceding idle stretched it. Consume it whole; classification starts
	// at the mid-bit transition.
	if len(syms) > 0 && syms[0].level == gpio.High {
		syms = syms[1:]
		first = gpio.High
		half = 1
	}

	take := func(level gpio.Level) *DecodeError {
		if half == 0 {
			first = level
			half = 1
			return nil
		}
		if first == level {
			return &DecodeError{reasonNoTransition, bit}
		}
		one := first == gpio.High
		switch {
		case bit == 0 && !one:
			return &DecodeError{reasonBadStart, bit}
		case bit == frameBits-1 && !one:
			return &DecodeError{reasonBadStop, bit}
		}
		if bit >= 1 && bit <= 32 {
			raw <<= 1
			if one {
				raw |= 1
			}
		}
		bit++
		half = 0
		return nil
	}

	for _, s := range syms {
		if bit >= frameBits {
			break
		}
		if s.dur < noiseFloor {
			continue
		}
		halves := 0
		switch {
		case s.dur >= minHalfBit && s.dur < maxHalfBit:
			halves = 1
		case s.dur >= maxHalfBit && s.dur <= maxFullBit:
			halves = 2
		default:
			return 0, &DecodeError{reasonBadDuration, bit}
		}
		for ; halves > 0; halves-- {
			if err := take(s.level); err != nil {
				return 0, err
			}
			if bit >= frameBits {
				break
			}
		}
	}

	// The stop bit's space half produces no further edge before the line
	// returns to idle; infer it when the mark half was seen.
	if bit == frameBits-1 && half == 1 && first == gpio.High {
		bit++
	}

	if bit != frameBits {
		return 0, &DecodeError{reasonIncomplete, bit}
	}
	if oddParity(raw) {
		return 0, &DecodeError{reasonParity, frameBits}
	}
	return Frame(raw), nil
}

// edgeAssembler accumulates timestamped input edges into a symbol run. It is
// driven from the capture goroutine only and needs no locking.
type edgeAssembler struct {
	active bool
	level  gpio.Level
	since  time.Time
	syms   []symbol
}

// edge records a transition to the given level at the given instant.
func (a *edgeAssembler) edge(level gpio.Level, at time.Time) {
	if !a.active {
		a.active = true
		a.level = level
		a.since = at
		a.syms = a.syms[:0]
		if level == gpio.Low {
			// The line fell out of idle mark: the first observable edge is
			// the start bit's mid-bit transition, so its mark half is
			// implicit. Record it so the decoder sees a whole start bit.
			a.syms = append(a.syms, symbol{gpio.High, halfBit})
		}
		return
	}
	if level == a.level {
		// Missed edge; extend the current run and let the classifier decide.
		return
	}
	a.syms = append(a.syms, symbol{a.level, at.Sub(a.since)})
	a.level = level
	a.since = at
}

// flush closes the reception at the inter-frame gap, returning the collected
// symbols. The final run is included only if the line was left at space; a
// trailing mark run is the idle level, not frame content.
func (a *edgeAssembler) flush(at time.Time) ([]symbol, bool) {
	if !a.active {
		return nil, false
	}
	syms := a.syms
	if a.level == gpio.Low {
		syms = append(syms, symbol{gpio.Low, at.Sub(a.since)})
	}
	a.active = false
	a.syms = nil
	if len(syms) == 0 {
		return nil, false
	}
	return syms, true
}

// lineDriver binds one RX/TX GPIO pair, compensating adapter polarity.
type lineDriver struct {
	in        gpio.PinIn
	out       gpio.PinOut
	invertIn  bool
	invertOut bool
	clk       clock.Clock
}

func (ld *lineDriver) init() error {
	if err := ld.in.In(gpio.PullNoChange, gpio.BothEdges); err != nil {
		return fmt.Errorf("input pin %v: %w", ld.in, err)
	}
	if err := ld.write(gpio.High); err != nil {
		return fmt.Errorf("output pin %v: %w", ld.out, err)
	}
	return nil
}

// read returns the logical input level.
func (ld *lineDriver) read() gpio.Level {
	l := ld.in.Read()
	if ld.invertIn {
		return !l
	}
	return l
}

// write asserts a logical level on the output.
func (ld *lineDriver) write(level gpio.Level) error {
	if ld.invertOut {
		level = !level
	}
	return ld.out.Out(level)
}

// transmit plays a frame's waveform onto the output and returns the line to
// idle mark. The caller is responsible for serialising transmissions.
func (ld *lineDriver) transmit(f Frame) error {
	for _, s := range encodeFrame(f) {
		if err := ld.write(s.level); err != nil {
			return err
		}
		ld.clk.Sleep(s.dur)
	}
	return ld.write(gpio.High)
}

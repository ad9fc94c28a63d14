package otgw

import (
	"io"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpiotest"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger.WithField("component", "test")
}

func testPort(role Role) (*Port, *gpiotest.Pin, *gpiotest.Pin) {
	in := &gpiotest.Pin{N: "IN", Num: 1, EdgesChan: make(chan gpio.Level)}
	out := &gpiotest.Pin{N: "OUT", Num: 2}
	ld := &lineDriver{in: in, out: out, clk: clock.New()}
	p := newPort("test", role, ld, clock.New(), testLogger(), 0)
	return p, in, out
}

func TestAwaitFrameTimeout(t *testing.T) {
	p, _, _ := testPort(Slave)
	_, err := p.AwaitFrame(20 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, 1, p.Stats().Timeouts)
	assert.Equal(t, StateIdle, p.State())
}

func TestAwaitFrameDelivered(t *testing.T) {
	p, _, _ := testPort(Slave)
	want := BuildRequest(ReadData, IDStatus, 0x0300)
	p.deliver(encodeFrame(want))

	got, err := p.AwaitFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 1, p.Stats().Received)
	assert.Equal(t, StateInterFrameDelay, p.State())
}

func TestAwaitFrameRoleValidation(t *testing.T) {
	// A slave port receives requests; a response shape is invalid there.
	p, _, _ := testPort(Slave)
	p.deliver(encodeFrame(BuildResponse(ReadAck, IDStatus, 0x030a)))

	_, err := p.AwaitFrame(time.Second)
	require.Error(t, err)
	assert.True(t, IsInvalid(err))
	assert.Equal(t, 1, p.Stats().ParseErrors)

	// The same frame is a perfectly valid master-side reception.
	m, _, _ := testPort(Master)
	m.deliver(encodeFrame(BuildResponse(ReadAck, IDStatus, 0x030a)))
	_, err = m.AwaitFrame(time.Second)
	require.NoError(t, err)
}

func TestAwaitFrameDecodeError(t *testing.T) {
	p, _, _ := testPort(Master)
	syms := encodeFrame(BuildResponse(ReadAck, IDStatus, 0x030a))
	p.deliver(syms[:8])

	_, err := p.AwaitFrame(time.Second)
	require.Error(t, err)
	assert.True(t, IsInvalid(err))
	assert.Equal(t, 1, p.Stats().ParseErrors)
}

func TestMailboxOverwrite(t *testing.T) {
	p, _, _ := testPort(Slave)
	stale := BuildRequest(ReadData, IDStatus, 0)
	fresh := BuildRequest(ReadData, IDTBoiler, 0)
	p.deliver(encodeFrame(stale))
	p.deliver(encodeFrame(fresh))

	got, err := p.AwaitFrame(time.Second)
	require.NoError(t, err)
	assert.Equal(t, fresh, got, "an unread frame must be replaced by the newer one")
}

func TestSendFrame(t *testing.T) {
	p, _, out := testPort(Master)
	err := p.SendFrame(BuildRequest(ReadData, IDTBoiler, 0))
	require.NoError(t, err)
	assert.Equal(t, gpio.High, out.Read(), "line must return to idle mark")
	assert.Equal(t, 1, p.Stats().Sent)
	assert.Equal(t, StateIdle, p.State())
}

func TestSendFrameInvertedOutput(t *testing.T) {
	p, _, out := testPort(Master)
	p.line.invertOut = true
	require.NoError(t, p.SendFrame(BuildRequest(ReadData, IDTBoiler, 0)))
	assert.Equal(t, gpio.Low, out.Read(), "idle mark is electrically low on an inverting adapter")
}

func TestSendWhileAwaitingIsRefused(t *testing.T) {
	p, _, _ := testPort(Slave)
	done := make(chan error, 1)
	go func() {
		_, err := p.AwaitFrame(300 * time.Millisecond)
		done <- err
	}()
	// Give the await a moment to take the port.
	time.Sleep(20 * time.Millisecond)

	err := p.SendFrame(BuildResponse(ReadAck, IDStatus, 0))
	var perr *PortError
	require.ErrorAs(t, err, &perr)

	p.deliver(encodeFrame(BuildRequest(ReadData, IDStatus, 0)))
	require.NoError(t, <-done)
}

func TestInterFrameDelayBeforeResponse(t *testing.T) {
	p, _, _ := testPort(Slave)
	p.deliver(encodeFrame(BuildRequest(ReadData, IDStatus, 0x0300)))
	_, err := p.AwaitFrame(time.Second)
	require.NoError(t, err)

	begin := time.Now()
	require.NoError(t, p.SendFrame(BuildResponse(ReadAck, IDStatus, 0x030a)))
	// 20ms inter-frame delay plus the 34ms emission.
	assert.GreaterOrEqual(t, time.Since(begin), 50*time.Millisecond)
}

func TestPortClosed(t *testing.T) {
	p, _, _ := testPort(Master)
	p.halt()

	_, err := p.AwaitFrame(time.Second)
	var perr *PortError
	require.ErrorAs(t, err, &perr)
	require.ErrorAs(t, p.SendFrame(BuildRequest(ReadData, IDStatus, 0)), &perr)
}

func TestCaptureLoopFlushesOnGap(t *testing.T) {
	p, in, _ := testPort(Master)
	require.NoError(t, p.start())
	defer p.halt()

	// A burst of edges with no plausible bit timing must surface as an
	// invalid reception once the inter-frame gap closes it.
	in.EdgesChan <- gpio.Low
	in.EdgesChan <- gpio.High
	in.EdgesChan <- gpio.Low

	_, err := p.AwaitFrame(500 * time.Millisecond)
	require.Error(t, err)
	assert.True(t, IsInvalid(err))
}

func TestStabilisationDelayBeforeFirstSend(t *testing.T) {
	in := &gpiotest.Pin{N: "IN", Num: 1, EdgesChan: make(chan gpio.Level)}
	out := &gpiotest.Pin{N: "OUT", Num: 2}
	ld := &lineDriver{in: in, out: out, clk: clock.New()}
	p := newPort("test", Master, ld, clock.New(), testLogger(), 100*time.Millisecond)

	begin := time.Now()
	require.NoError(t, p.SendFrame(BuildRequest(ReadData, IDStatus, 0)))
	assert.GreaterOrEqual(t, time.Since(begin), 100*time.Millisecond)

	// Only the first transmission pays the stabilisation delay.
	begin = time.Now()
	require.NoError(t, p.SendFrame(BuildRequest(ReadData, IDStatus, 0)))
	assert.Less(t, time.Since(begin), 100*time.Millisecond)
}

func TestPortEventLog(t *testing.T) {
	p, _, _ := testPort(Slave)
	p.deliver(encodeFrame(BuildRequest(ReadData, IDStatus, 0)))
	_, err := p.AwaitFrame(time.Second)
	require.NoError(t, err)
	_, err = p.AwaitFrame(10 * time.Millisecond)
	require.Error(t, err)

	events := p.EventLog()
	require.Len(t, events, 2)
	// Newest first.
	assert.Equal(t, EventTimeout, events[0])
	assert.Equal(t, EventReceived, events[1])
}

package otgw

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildRequestRoundTrip(t *testing.T) {
	types := []MsgType{ReadData, WriteData, InvalidData, Reserved, ReadAck, WriteAck, DataInvalid, UnknownDataID}
	ids := []DataID{0, 1, 25, 57, 127, 200, 255}
	values := []int{0, 1, 0x0300, 0x3700, 0x8000, 0xffff}

	for _, mt := range types {
		for _, id := range ids {
			for _, v := range values {
				f := BuildRequest(mt, id, v)
				assert.True(t, f.ValidParity(), "parity must be even for %v/%v/0x%04x", mt, id, v)
				assert.Equal(t, mt, f.Type())
				assert.Equal(t, id, f.ID())
				assert.Equal(t, v, f.Value())
			}
		}
	}
}

func TestBuildResponseParity(t *testing.T) {
	f := BuildResponse(ReadAck, IDStatus, 0x030a)
	require.True(t, f.ValidParity())
	// Flipping any single bit flips parity.
	for bit := 0; bit < 32; bit++ {
		flipped := f ^ Frame(1)<<uint(bit)
		assert.False(t, flipped.ValidParity(), "bit %d", bit)
	}
}

func TestBuildRequestRejectsOversizedValue(t *testing.T) {
	assert.Panics(t, func() { BuildRequest(ReadData, IDStatus, 0x10000) })
	assert.Panics(t, func() { BuildRequest(ReadData, IDStatus, -1) })
}

func TestValidRequestShapes(t *testing.T) {
	assert.True(t, BuildRequest(ReadData, 25, 0).ValidRequest())
	assert.True(t, BuildRequest(WriteData, 1, 0x2800).ValidRequest())
	assert.True(t, BuildRequest(InvalidData, 0, 0).ValidRequest())
	assert.False(t, BuildResponse(ReadAck, 25, 0).ValidRequest())

	// Parity corruption invalidates an otherwise well-shaped request.
	f := BuildRequest(ReadData, 25, 0) ^ 1
	assert.False(t, f.ValidRequest())
}

func TestValidResponseShapes(t *testing.T) {
	assert.True(t, BuildResponse(ReadAck, 0, 0x030a).ValidResponse())
	assert.True(t, BuildResponse(WriteAck, 1, 0x3700).ValidResponse())
	assert.True(t, BuildResponse(DataInvalid, 25, 0).ValidResponse())
	assert.True(t, BuildResponse(UnknownDataID, 99, 0).ValidResponse())
	assert.False(t, BuildRequest(ReadData, 0, 0).ValidResponse())
}

func TestFloatInterpretation(t *testing.T) {
	assert.InDelta(t, 55.0, BuildResponse(ReadAck, IDTSet, 0x3700).Float(), 0.001)
	assert.InDelta(t, 40.0, BuildRequest(WriteData, IDTSet, 0x2800).Float(), 0.001)
	assert.InDelta(t, 0.5, BuildResponse(ReadAck, IDTBoiler, 0x0080).Float(), 0.001)
	// Negative f8.8: -1.5°C is 0xfe80.
	assert.InDelta(t, -1.5, BuildResponse(ReadAck, IDToutside, 0xfe80).Float(), 0.001)
}

func TestByteAccessors(t *testing.T) {
	f := BuildResponse(ReadAck, IDFanSpeed, 0x2a15)
	assert.Equal(t, 0x2a, f.HighByte())
	assert.Equal(t, 0x15, f.LowByte())
	assert.Equal(t, 0x2a15, f.Value())
}

func TestStatusRequest(t *testing.T) {
	f := StatusRequest(true, true, false, false, false)
	assert.Equal(t, ReadData, f.Type())
	assert.Equal(t, IDStatus, f.ID())
	assert.Equal(t, 0x0300, f.Value())
	assert.True(t, f.ValidParity())
}

func TestStatusResponseFlags(t *testing.T) {
	f := BuildResponse(ReadAck, IDStatus, 0x030a)
	assert.True(t, f.FlameOn())
	assert.True(t, f.CHActive())
	assert.False(t, f.DHWActive())
	assert.False(t, f.Fault())
}

func TestSetpointRequest(t *testing.T) {
	f := SetpointRequest(55.0)
	assert.Equal(t, WriteData, f.Type())
	assert.Equal(t, IDTSet, f.ID())
	assert.Equal(t, 0x3700, f.Value())

	// Out-of-range temperatures clamp rather than wrap.
	assert.Equal(t, 0, SetpointRequest(-5).Value())
	assert.Equal(t, 100*256, SetpointRequest(300).Value())
}

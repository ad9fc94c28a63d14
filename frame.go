package otgw

/*
This file contains the OpenTherm frame codec: building requests and responses,
parity, and the per-field accessors.
*/

import "fmt"

// MsgType is the 3-bit message type carried in bits 30-28 of a frame. The
// first four types originate from the master, the last four from the slave.
type MsgType uint8

// The eight OpenTherm message types.
const (
	ReadData      MsgType = 0
	WriteData     MsgType = 1
	InvalidData   MsgType = 2
	Reserved      MsgType = 3
	ReadAck       MsgType = 4
	WriteAck      MsgType = 5
	DataInvalid   MsgType = 6
	UnknownDataID MsgType = 7
)

func (t MsgType) String() string {
	switch t {
	case ReadData:
		return "READ_DATA"
	case WriteData:
		return "WRITE_DATA"
	case InvalidData:
		return "INVALID_DATA"
	case Reserved:
		return "RESERVED"
	case ReadAck:
		return "READ_ACK"
	case WriteAck:
		return "WRITE_ACK"
	case DataInvalid:
		return "DATA_INVALID"
	case UnknownDataID:
		return "UNKNOWN_DATA_ID"
	}
	return fmt.Sprintf("MsgType(%d)", uint8(t))
}

// DataID identifies which quantity a frame's data-value refers to.
type DataID uint8

// Data-ids the gateway knows how to interpret. The full OpenTherm id space is
// 0-255; ids absent here are still forwarded verbatim.
const (
	IDStatus            DataID = 0   // flag8/flag8 master and slave status
	IDTSet              DataID = 1   // f8.8 control setpoint (°C)
	IDASFFlags          DataID = 5   // flag8/u8 fault flags and OEM fault code
	IDMaxCapacityMinMod DataID = 15  // u8/u8 max capacity (kW) / min modulation (%)
	IDRelModLevel       DataID = 17  // f8.8 relative modulation level (%)
	IDCHPressure        DataID = 18  // f8.8 CH water pressure (bar)
	IDDHWFlowRate       DataID = 19  // f8.8 DHW flow rate (l/min)
	IDTBoiler           DataID = 25  // f8.8 boiler flow temperature (°C)
	IDTdhw              DataID = 26  // f8.8 DHW temperature (°C)
	IDToutside          DataID = 27  // f8.8 outside temperature (°C)
	IDTret              DataID = 28  // f8.8 return water temperature (°C)
	IDTstorage          DataID = 29  // f8.8 solar storage temperature (°C)
	IDTcollector        DataID = 30  // f8.8 solar collector temperature (°C)
	IDTflowCH2          DataID = 31  // f8.8 CH2 flow temperature (°C)
	IDTdhw2             DataID = 32  // f8.8 DHW2 temperature (°C)
	IDTexhaust          DataID = 33  // s16 exhaust temperature (°C)
	IDTheatExchanger    DataID = 34  // f8.8 heat exchanger temperature (°C)
	IDFanSpeed          DataID = 35  // u8/u8 fan speed setpoint / actual
	IDMaxTSet           DataID = 57  // f8.8 max CH water setpoint (°C)
	IDCO2Exhaust        DataID = 79  // u16 exhaust CO2 (ppm)
	IDRPMExhaust        DataID = 84  // u16 exhaust fan speed (rpm)
	IDRPMSupply         DataID = 85  // u16 supply fan speed (rpm)
	IDOEMDiagnosticCode DataID = 115 // u16 OEM diagnostic/service code
	IDBurnerStarts      DataID = 116 // u16 successful burner starts
	IDCHPumpStarts      DataID = 117 // u16 CH pump starts
	IDDHWPumpStarts     DataID = 118 // u16 DHW pump/valve starts
	IDDHWBurnerStarts   DataID = 119 // u16 burner starts in DHW mode
	IDBurnerHours       DataID = 120 // u16 burner operation hours
	IDCHPumpHours       DataID = 121 // u16 CH pump hours
	IDDHWPumpHours      DataID = 122 // u16 DHW pump/valve hours
	IDDHWBurnerHours    DataID = 123 // u16 burner hours in DHW mode
)

var dataIDNames = map[DataID]string{
	IDStatus:            "Status",
	IDTSet:              "TSet",
	IDASFFlags:          "ASFflags",
	IDMaxCapacityMinMod: "MaxCapacityMinModLevel",
	IDRelModLevel:       "RelModLevel",
	IDCHPressure:        "CHPressure",
	IDDHWFlowRate:       "DHWFlowRate",
	IDTBoiler:           "Tboiler",
	IDTdhw:              "Tdhw",
	IDToutside:          "Toutside",
	IDTret:              "Tret",
	IDTstorage:          "Tstorage",
	IDTcollector:        "Tcollector",
	IDTflowCH2:          "TflowCH2",
	IDTdhw2:             "Tdhw2",
	IDTexhaust:          "Texhaust",
	IDTheatExchanger:    "TboilerHeatExchanger",
	IDFanSpeed:          "BoilerFanSpeed",
	IDMaxTSet:           "MaxTSet",
	IDCO2Exhaust:        "CO2exhaust",
	IDRPMExhaust:        "RPMexhaust",
	IDRPMSupply:         "RPMsupply",
	IDOEMDiagnosticCode: "OEMDiagnosticCode",
	IDBurnerStarts:      "BurnerStarts",
	IDCHPumpStarts:      "CHPumpStarts",
	IDDHWPumpStarts:     "DHWPumpStarts",
	IDDHWBurnerStarts:   "DHWBurnerStarts",
	IDBurnerHours:       "BurnerHours",
	IDCHPumpHours:       "CHPumpHours",
	IDDHWPumpHours:      "DHWPumpHours",
	IDDHWBurnerHours:    "DHWBurnerHours",
}

func (id DataID) String() string {
	if name, ok := dataIDNames[id]; ok {
		return name
	}
	return fmt.Sprintf("DataID(%d)", uint8(id))
}

/*
Frame is one 32-bit OpenTherm data word. Layout, MSB first: bit 31 parity
(chosen so the whole word has even parity), bits 30-28 message type, bits
27-24 spare, bits 23-16 data-id, bits 15-0 data-value.

Frames are plain values and are copied freely.
*/
type Frame uint32

// BuildRequest assembles a master-originated frame with even parity. The
// value must fit in 16 bits; out-of-range values panic.
func BuildRequest(t MsgType, id DataID, value int) Frame {
	return build(t, id, value)
}

// BuildResponse assembles a slave-originated frame. The layout and parity
// rule are identical to requests; the split exists to keep call sites honest
// about which direction they are fabricating.
func BuildResponse(t MsgType, id DataID, value int) Frame {
	return build(t, id, value)
}

func build(t MsgType, id DataID, value int) Frame {
	raw := uint32(t&7)<<28 | uint32(id)<<16 | uint32(wordPanic(value))
	if oddParity(raw) {
		raw |= 1 << 31
	}
	return Frame(raw)
}

// StatusRequest builds the data-id 0 status request a master sends to
// advertise its enable bits (high byte of the data-value).
func StatusRequest(ch, dhw, cooling, otc, ch2 bool) Frame {
	data := 0
	if ch {
		data |= 1
	}
	if dhw {
		data |= 2
	}
	if cooling {
		data |= 4
	}
	if otc {
		data |= 8
	}
	if ch2 {
		data |= 16
	}
	return BuildRequest(ReadData, IDStatus, data<<8)
}

// SetpointRequest builds the WriteData frame that commands the boiler flow
// setpoint. The temperature is clamped to [0, 100] °C.
func SetpointRequest(celsius float64) Frame {
	return BuildRequest(WriteData, IDTSet, TemperatureData(celsius))
}

// TemperatureData converts a temperature in °C to the f8.8 wire value,
// clamping to the [0, 100] range the protocol allows for setpoints.
func TemperatureData(celsius float64) int {
	if celsius < 0 {
		celsius = 0
	}
	if celsius > 100 {
		celsius = 100
	}
	return int(celsius * 256)
}

// Type extracts the 3-bit message type.
func (f Frame) Type() MsgType {
	return MsgType((f >> 28) & 7)
}

// ID extracts the 8-bit data-id.
func (f Frame) ID() DataID {
	return DataID((f >> 16) & 0xff)
}

// Value extracts the 16-bit data-value.
func (f Frame) Value() int {
	return int(f & 0xffff)
}

// HighByte extracts bits 15-8 of the data-value.
func (f Frame) HighByte() int {
	return int((f >> 8) & 0xff)
}

// LowByte extracts bits 7-0 of the data-value.
func (f Frame) LowByte() int {
	return int(f & 0xff)
}

// Int16 interprets the data-value as a signed 16-bit integer.
func (f Frame) Int16() int {
	return int(int16(f & 0xffff))
}

// Float interprets the data-value as signed f8.8 fixed point.
func (f Frame) Float() float64 {
	return float64(f.Int16()) / 256
}

// ValidParity reports whether the full 32-bit word has even parity.
func (f Frame) ValidParity() bool {
	return !oddParity(uint32(f))
}

// ValidRequest reports whether the frame is a well-formed master-to-slave
// frame: even parity and a master-originated message type.
func (f Frame) ValidRequest() bool {
	if !f.ValidParity() {
		return false
	}
	switch f.Type() {
	case ReadData, WriteData, InvalidData:
		return true
	}
	return false
}

// ValidResponse reports whether the frame is a well-formed slave-to-master
// frame: even parity and a slave-originated message type.
func (f Frame) ValidResponse() bool {
	if !f.ValidParity() {
		return false
	}
	switch f.Type() {
	case ReadAck, WriteAck, DataInvalid, UnknownDataID:
		return true
	}
	return false
}

// Ack reports whether the frame is a positive slave acknowledgement.
func (f Frame) Ack() bool {
	return f.Type() == ReadAck || f.Type() == WriteAck
}

// Slave status bits, valid on a data-id 0 response (low byte).

// Fault reports the slave fault indication bit.
func (f Frame) Fault() bool { return f&0x01 != 0 }

// CHActive reports the central-heating-active bit.
func (f Frame) CHActive() bool { return f&0x02 != 0 }

// DHWActive reports the domestic-hot-water-active bit.
func (f Frame) DHWActive() bool { return f&0x04 != 0 }

// FlameOn reports the flame status bit.
func (f Frame) FlameOn() bool { return f&0x08 != 0 }

// CoolingActive reports the cooling status bit.
func (f Frame) CoolingActive() bool { return f&0x10 != 0 }

// Diagnostic reports the diagnostic indication bit.
func (f Frame) Diagnostic() bool { return f&0x40 != 0 }

func (f Frame) String() string {
	return fmt.Sprintf("%s id=%v value=0x%04x", f.Type(), f.ID(), f.Value())
}

package otgw

// diagSchedule round-robins over the data-ids the gateway polls on its own
// when the thermostat leaves the bus quiet. Owned by the mediator task.
type diagSchedule struct {
	ids  []DataID
	next int
}

// DefaultDiagnosticIDs is the built-in polling order: the frequently moving
// temperatures first, the lifetime counters last.
func DefaultDiagnosticIDs() []DataID {
	return []DataID{
		IDTBoiler,
		IDMaxTSet,
		IDTret,
		IDTdhw,
		IDTSet,
		IDRelModLevel,
		IDCHPressure,
		IDToutside,
		IDTexhaust,
		IDTheatExchanger,
		IDDHWFlowRate,
		IDASFFlags,
		IDOEMDiagnosticCode,
		IDMaxCapacityMinMod,
		IDFanSpeed,
		IDTdhw2,
		IDTflowCH2,
		IDTstorage,
		IDTcollector,
		IDCO2Exhaust,
		IDRPMExhaust,
		IDRPMSupply,
		IDBurnerStarts,
		IDDHWBurnerStarts,
		IDCHPumpStarts,
		IDDHWPumpStarts,
		IDBurnerHours,
		IDDHWBurnerHours,
		IDCHPumpHours,
		IDDHWPumpHours,
	}
}

func newDiagSchedule(ids []DataID) *diagSchedule {
	if len(ids) == 0 {
		ids = DefaultDiagnosticIDs()
	}
	return &diagSchedule{ids: ids}
}

// advance returns the next data-id to poll, wrapping around the list.
func (s *diagSchedule) advance() DataID {
	id := s.ids[s.next]
	s.next = (s.next + 1) % len(s.ids)
	return id
}

// peek returns the id advance would produce, without consuming it.
func (s *diagSchedule) peek() DataID {
	return s.ids[s.next]
}

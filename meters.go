package envoy

// resolveMetering derives the metering capability from the /ivp/meters
// array. Some firmware intermittently answers an empty array; prior
// values are retained in that case so a transient empty response cannot
// make an installed CT disappear from downstream consumers.
func resolveMetering(configs []MeterConfig, prev MeteringCapability) MeteringCapability {
	if len(configs) == 0 {
		return prev
	}
	var cap MeteringCapability
	for _, mc := range configs {
		enabled := mc.State == meterStateEnabled
		switch mc.MeasurementType {
		case measurementProduction:
			cap.ProductionMetering = enabled
			cap.ProductionPhases = mc.PhaseCount
		case measurementNetConsumption, measurementTotalConsumption:
			cap.ConsumptionMetering = enabled
			cap.ConsumptionPhases = mc.PhaseCount
			cap.NetConsumption = mc.MeasurementType == measurementNetConsumption
		}
	}
	return cap
}

// meterIndex records the EIDs of the production and consumption meters
// so their /ivp/meters/readings entries can be matched by identity
// instead of position. Zero means unknown.
type meterIndex struct {
	production  int64
	consumption int64
}

func indexMeters(configs []MeterConfig, prev meterIndex) meterIndex {
	if len(configs) == 0 {
		return prev
	}
	var idx meterIndex
	for _, mc := range configs {
		switch mc.MeasurementType {
		case measurementProduction:
			idx.production = mc.EID
		case measurementNetConsumption, measurementTotalConsumption:
			idx.consumption = mc.EID
		}
	}
	return idx
}

// matchReading finds the reading for a meter EID, falling back to the
// conventional position (0 production, 1 consumption) when the EID is
// unknown.
func matchReading(readings []MeterReading, eid int64, fallbackIdx int) *MeterReading {
	for i := range readings {
		if eid != 0 && readings[i].EID == eid {
			return &readings[i]
		}
	}
	if eid == 0 && fallbackIdx >= 0 && fallbackIdx < len(readings) {
		return &readings[fallbackIdx]
	}
	return nil
}

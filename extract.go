package envoy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Metric extraction: pure functions of the detected profile, the
// metering capability, and the cached snapshots. Extractors never issue
// requests; missing or malformed payloads surface as errNoData (or nil
// for phase sub-queries), structurally-inapplicable metrics as
// UnavailableError sentinels.

var errNotDetected = fmt.Errorf("%w: model not detected yet", ErrModelDetection)

const (
	deviceTypeEIM       = "eim"
	deviceTypeInverters = "inverters"
)

func (r *Reader) snapshotJSON(id endpointID, v any) bool {
	snap := r.cache.snapshot(id)
	if snap == nil || snap.Status != http.StatusOK {
		return false
	}
	return json.Unmarshal(snap.Body, v) == nil
}

func (r *Reader) productionJSON() (*ProductionResponse, bool) {
	var pr ProductionResponse
	if !r.snapshotJSON(endpointProductionJSON, &pr) {
		return nil, false
	}
	return &pr, true
}

func (r *Reader) v1Production() (*V1Production, bool) {
	var v1 V1Production
	if !r.snapshotJSON(endpointProductionV1, &v1) {
		return nil, false
	}
	return &v1, true
}

func (r *Reader) meterReadings() ([]MeterReading, bool) {
	var readings []MeterReading
	if !r.snapshotJSON(endpointMetersReadings, &readings) {
		return nil, false
	}
	return readings, true
}

func (r *Reader) legacyPage() (string, bool) {
	snap := r.cache.snapshot(endpointProductionHTML)
	if snap == nil || snap.Status != http.StatusOK {
		return "", false
	}
	return string(snap.Body), true
}

func (r *Reader) productionReading() *MeterReading {
	if !r.capability.ProductionMetering {
		return nil
	}
	readings, ok := r.meterReadings()
	if !ok {
		return nil
	}
	return matchReading(readings, r.meterEIDs.production, 0)
}

func (r *Reader) consumptionReading() *MeterReading {
	if !r.capability.ConsumptionMetering {
		return nil
	}
	readings, ok := r.meterReadings()
	if !ok {
		return nil
	}
	return matchReading(readings, r.meterEIDs.consumption, 1)
}

// referenceReading is the meter used for grid-level electrical values:
// the consumption CT sits at the service entrance, so it wins when
// installed.
func (r *Reader) referenceReading() *MeterReading {
	if rd := r.consumptionReading(); rd != nil {
		return rd
	}
	return r.productionReading()
}

// selectByType finds a production.json measurement by device type,
// falling back to the conventional index when no type matches.
func selectByType(list []Measurement, typ string, fallback int) *Measurement {
	for i := range list {
		if list[i].Type == typ {
			return &list[i]
		}
	}
	if fallback >= 0 && fallback < len(list) {
		return &list[fallback]
	}
	return nil
}

// selectConsumption finds a consumption measurement by measurementType.
// Index order varies across firmware, so matching by type is the
// documented contract; position 0 is only a fallback for the gross
// figure on firmware that omits the type field.
func selectConsumption(list []Measurement, measurementType string) *Measurement {
	for i := range list {
		if list[i].MeasurementType == measurementType {
			return &list[i]
		}
	}
	if measurementType == measurementTotalConsumption && len(list) > 0 {
		return &list[0]
	}
	return nil
}

// productionEnergy extracts one production figure across the three
// model generations.
func (r *Reader) productionEnergy(eim func(*Measurement) float64, v1 func(*V1Production) float64, legacy func(string) (int64, error)) (int64, error) {
	if r.profile == nil {
		return 0, errNotDetected
	}
	switch r.profile.Kind {
	case ModelMetered:
		if r.capability.ProductionMetering {
			pr, ok := r.productionJSON()
			if !ok {
				return 0, errNoData
			}
			m := selectByType(pr.Production, deviceTypeEIM, 1)
			if m == nil {
				return 0, errNoData
			}
			return int64(eim(m)), nil
		}
		fallthrough
	case ModelProductionOnly:
		v, ok := r.v1Production()
		if !ok {
			return 0, errNoData
		}
		return int64(v1(v)), nil
	case ModelLegacy:
		page, ok := r.legacyPage()
		if !ok {
			return 0, errNoData
		}
		return legacy(page)
	}
	return 0, errNoData
}

// Production returns the current production power in watts.
func (r *Reader) Production() (int64, error) {
	v, err := r.productionEnergy(
		func(m *Measurement) float64 { return m.WNow },
		func(v *V1Production) float64 { return v.WattsNow },
		func(page string) (int64, error) { return scrapeLegacyValue(legacyProductionRegex, page) },
	)
	if err == errNoData && r.profile != nil && r.profile.Kind == ModelMetered && r.capability.ProductionMetering {
		// Hosts that skip production.json read the CT directly.
		if rd := r.productionReading(); rd != nil {
			return int64(rd.ActivePower), nil
		}
	}
	return v, err
}

// DailyProduction returns today's produced energy in watt-hours.
func (r *Reader) DailyProduction() (int64, error) {
	return r.productionEnergy(
		func(m *Measurement) float64 { return m.WhToday },
		func(v *V1Production) float64 { return v.WattHoursToday },
		func(page string) (int64, error) { return scrapeLegacyValue(legacyDailyRegex, page) },
	)
}

// SevenDaysProduction returns the produced energy of the past seven
// days in watt-hours.
func (r *Reader) SevenDaysProduction() (int64, error) {
	return r.productionEnergy(
		func(m *Measurement) float64 { return m.WhLastSevenDays },
		func(v *V1Production) float64 { return v.WattHoursSevenDays },
		func(page string) (int64, error) { return scrapeLegacyValue(legacyWeeklyRegex, page) },
	)
}

// LifetimeProduction returns the energy produced since installation in
// watt-hours.
func (r *Reader) LifetimeProduction() (int64, error) {
	return r.productionEnergy(
		func(m *Measurement) float64 { return m.WhLifetime },
		func(v *V1Production) float64 { return v.WattHoursLifetime },
		func(page string) (int64, error) { return scrapeLegacyValue(legacyLifetimeRegex, page) },
	)
}

// consumptionMeasurement guards the consumption family: only metered
// gateways with an enabled consumption CT carry these figures.
func (r *Reader) consumptionMeasurement(measurementType string) (*Measurement, error) {
	if r.profile == nil {
		return nil, errNotDetected
	}
	if r.profile.Kind != ModelMetered || !r.capability.ConsumptionMetering {
		return nil, ErrConsumptionUnavailable
	}
	pr, ok := r.productionJSON()
	if !ok {
		return nil, errNoData
	}
	m := selectConsumption(pr.Consumption, measurementType)
	if m == nil {
		return nil, errNoData
	}
	return m, nil
}

// Consumption returns the current gross house load in watts.
func (r *Reader) Consumption() (int64, error) {
	m, err := r.consumptionMeasurement(measurementTotalConsumption)
	if err != nil {
		return 0, err
	}
	return int64(m.WNow), nil
}

// NetConsumption returns the current net flow at the grid tie point in
// watts. Requires a consumption CT wired for net metering.
func (r *Reader) NetConsumption() (int64, error) {
	if r.profile == nil {
		return 0, errNotDetected
	}
	if r.profile.Kind != ModelMetered || !r.capability.ConsumptionMetering || !r.capability.NetConsumption {
		return 0, ErrConsumptionUnavailable
	}
	if pr, ok := r.productionJSON(); ok {
		if m := selectConsumption(pr.Consumption, measurementNetConsumption); m != nil {
			return int64(m.WNow), nil
		}
	}
	if rd := r.consumptionReading(); rd != nil {
		return int64(rd.ActivePower), nil
	}
	return 0, errNoData
}

// DailyConsumption returns today's consumed energy in watt-hours.
func (r *Reader) DailyConsumption() (int64, error) {
	m, err := r.consumptionMeasurement(measurementTotalConsumption)
	if err != nil {
		return 0, err
	}
	return int64(m.WhToday), nil
}

// SevenDaysConsumption returns the consumed energy of the past seven
// days in watt-hours.
func (r *Reader) SevenDaysConsumption() (int64, error) {
	m, err := r.consumptionMeasurement(measurementTotalConsumption)
	if err != nil {
		return 0, err
	}
	return int64(m.WhLastSevenDays), nil
}

// LifetimeConsumption returns the energy consumed since installation in
// watt-hours.
func (r *Reader) LifetimeConsumption() (int64, error) {
	m, err := r.consumptionMeasurement(measurementTotalConsumption)
	if err != nil {
		return 0, err
	}
	return int64(m.WhLifetime), nil
}

// netRegister guards and reads one cumulative register of the
// net-wired consumption CT.
func (r *Reader) netRegister(f func(*MeterReading) float64) (int64, error) {
	if r.profile == nil {
		return 0, errNotDetected
	}
	if r.profile.Kind != ModelMetered || !r.capability.ConsumptionMetering || !r.capability.NetConsumption {
		return 0, ErrConsumptionUnavailable
	}
	rd := r.consumptionReading()
	if rd == nil {
		return 0, errNoData
	}
	return int64(f(rd)), nil
}

// LifetimeNetConsumption returns the lifetime energy imported from the
// grid in watt-hours (the consumption CT's delivered register).
func (r *Reader) LifetimeNetConsumption() (int64, error) {
	return r.netRegister(func(rd *MeterReading) float64 { return rd.ActEnergyDlvd })
}

// LifetimeNetProduction returns the lifetime energy exported to the
// grid in watt-hours (the consumption CT's received register).
func (r *Reader) LifetimeNetProduction() (int64, error) {
	return r.netRegister(func(rd *MeterReading) float64 { return rd.ActEnergyRcvd })
}

// phaseValue reads one line of a polyphase measurement. Nil when the
// requested phase exceeds the wired phase count or the payload carries
// no line detail.
func phaseValue(m *Measurement, ph Phase, phases int, f func(*Line) float64) *int64 {
	if ph < L1 || (phases > 0 && int(ph) >= phases) {
		return nil
	}
	if m == nil || int(ph) >= len(m.Lines) {
		return nil
	}
	v := int64(f(&m.Lines[ph]))
	return &v
}

// productionPhase resolves a phase-scoped production figure. Models
// without production line detail yield nil, not an error.
func (r *Reader) productionPhase(ph Phase, f func(*Line) float64) (*int64, error) {
	if r.profile == nil {
		return nil, errNotDetected
	}
	if r.profile.Kind != ModelMetered || !r.capability.ProductionMetering {
		return nil, nil
	}
	pr, ok := r.productionJSON()
	if !ok {
		return nil, errNoData
	}
	m := selectByType(pr.Production, deviceTypeEIM, 1)
	return phaseValue(m, ph, r.capability.ProductionPhases, f), nil
}

// consumptionPhase resolves a phase-scoped consumption figure. The
// consumption family keeps its sentinel on models without a CT.
func (r *Reader) consumptionPhase(ph Phase, f func(*Line) float64) (*int64, error) {
	m, err := r.consumptionMeasurement(measurementTotalConsumption)
	if err != nil {
		return nil, err
	}
	return phaseValue(m, ph, r.capability.ConsumptionPhases, f), nil
}

func (r *Reader) ProductionPhase(ph Phase) (*int64, error) {
	return r.productionPhase(ph, func(l *Line) float64 { return l.WNow })
}

func (r *Reader) DailyProductionPhase(ph Phase) (*int64, error) {
	return r.productionPhase(ph, func(l *Line) float64 { return l.WhToday })
}

func (r *Reader) SevenDaysProductionPhase(ph Phase) (*int64, error) {
	return r.productionPhase(ph, func(l *Line) float64 { return l.WhLastSevenDays })
}

func (r *Reader) LifetimeProductionPhase(ph Phase) (*int64, error) {
	return r.productionPhase(ph, func(l *Line) float64 { return l.WhLifetime })
}

func (r *Reader) ConsumptionPhase(ph Phase) (*int64, error) {
	return r.consumptionPhase(ph, func(l *Line) float64 { return l.WNow })
}

func (r *Reader) DailyConsumptionPhase(ph Phase) (*int64, error) {
	return r.consumptionPhase(ph, func(l *Line) float64 { return l.WhToday })
}

func (r *Reader) SevenDaysConsumptionPhase(ph Phase) (*int64, error) {
	return r.consumptionPhase(ph, func(l *Line) float64 { return l.WhLastSevenDays })
}

func (r *Reader) LifetimeConsumptionPhase(ph Phase) (*int64, error) {
	return r.consumptionPhase(ph, func(l *Line) float64 { return l.WhLifetime })
}

// electrical reads one instantaneous value from the reference meter,
// with a production.json fallback for firmware lacking the readings
// endpoint.
func (r *Reader) electrical(read func(*MeterReading) float64, fallback func(*ProductionResponse) (float64, bool)) (float64, error) {
	if r.profile == nil {
		return 0, errNotDetected
	}
	if r.profile.Kind != ModelMetered {
		return 0, errNoData
	}
	if rd := r.referenceReading(); rd != nil {
		return read(rd), nil
	}
	if fallback != nil {
		if pr, ok := r.productionJSON(); ok {
			if v, ok := fallback(pr); ok {
				return v, nil
			}
		}
	}
	return 0, errNoData
}

// Voltage returns the grid voltage in volts.
func (r *Reader) Voltage() (float64, error) {
	return r.electrical(
		func(rd *MeterReading) float64 { return rd.Voltage },
		func(pr *ProductionResponse) (float64, bool) {
			if m := selectConsumption(pr.Consumption, measurementTotalConsumption); m != nil && m.RmsVoltage > 0 {
				return m.RmsVoltage, true
			}
			if m := selectByType(pr.Production, deviceTypeEIM, 1); m != nil && m.RmsVoltage > 0 {
				return m.RmsVoltage, true
			}
			return 0, false
		},
	)
}

// Frequency returns the grid frequency in hertz.
func (r *Reader) Frequency() (float64, error) {
	return r.electrical(func(rd *MeterReading) float64 { return rd.Freq }, nil)
}

// PowerFactor returns the power factor at the reference meter.
func (r *Reader) PowerFactor() (float64, error) {
	return r.electrical(
		func(rd *MeterReading) float64 { return rd.PwrFactor },
		func(pr *ProductionResponse) (float64, bool) {
			if m := selectConsumption(pr.Consumption, measurementTotalConsumption); m != nil && m.PwrFactor != 0 {
				return m.PwrFactor, true
			}
			return 0, false
		},
	)
}

// ProductionCurrent returns the production CT current in amperes.
func (r *Reader) ProductionCurrent() (float64, error) {
	if r.profile == nil {
		return 0, errNotDetected
	}
	if rd := r.productionReading(); rd != nil {
		return rd.Current, nil
	}
	if pr, ok := r.productionJSON(); ok {
		if m := selectByType(pr.Production, deviceTypeEIM, 1); m != nil && m.RmsCurrent > 0 {
			return m.RmsCurrent, nil
		}
	}
	return 0, errNoData
}

// ConsumptionCurrent returns the consumption CT current in amperes.
func (r *Reader) ConsumptionCurrent() (float64, error) {
	if r.profile == nil {
		return 0, errNotDetected
	}
	if r.profile.Kind != ModelMetered || !r.capability.ConsumptionMetering {
		return 0, ErrConsumptionUnavailable
	}
	if rd := r.consumptionReading(); rd != nil {
		return rd.Current, nil
	}
	if pr, ok := r.productionJSON(); ok {
		if m := selectConsumption(pr.Consumption, measurementTotalConsumption); m != nil && m.RmsCurrent > 0 {
			return m.RmsCurrent, nil
		}
	}
	return 0, errNoData
}

// channelValue reads one per-phase channel of a meter reading.
func channelValue(rd *MeterReading, ph Phase, f func(*MeterChannel) float64) *float64 {
	if rd == nil || ph < L1 || int(ph) >= len(rd.Channels) {
		return nil
	}
	v := f(&rd.Channels[ph])
	return &v
}

func (r *Reader) VoltagePhase(ph Phase) (*float64, error) {
	if r.profile == nil {
		return nil, errNotDetected
	}
	return channelValue(r.referenceReading(), ph, func(c *MeterChannel) float64 { return c.Voltage }), nil
}

func (r *Reader) FrequencyPhase(ph Phase) (*float64, error) {
	if r.profile == nil {
		return nil, errNotDetected
	}
	return channelValue(r.referenceReading(), ph, func(c *MeterChannel) float64 { return c.Freq }), nil
}

func (r *Reader) PowerFactorPhase(ph Phase) (*float64, error) {
	if r.profile == nil {
		return nil, errNotDetected
	}
	return channelValue(r.referenceReading(), ph, func(c *MeterChannel) float64 { return c.PwrFactor }), nil
}

// BatteryStorage returns AC battery data from production.json, falling
// back to Encharge devices in the ensemble inventory. Malformed or
// missing battery telemetry yields nil, not an error: real devices
// intermittently omit these fields.
func (r *Reader) BatteryStorage() (any, error) {
	if r.profile == nil {
		return nil, errNotDetected
	}
	if r.profile.Kind != ModelMetered {
		return nil, ErrBatteryUnavailable
	}
	pr, ok := r.productionJSON()
	if !ok {
		return nil, nil
	}
	if len(pr.Storage) > 0 && pr.Storage[0].PercentFull != nil {
		s := pr.Storage[0]
		return &s, nil
	}
	// Encharge batteries report through the ensemble API instead.
	var inventory InventoryResponse
	if r.snapshotJSON(endpointEnsemble, &inventory) {
		if len(inventory) > 0 && len(inventory[0].Batteries) > 0 {
			return inventory[0].Batteries, nil
		}
	}
	return nil, ErrBatteryUnavailable
}

// TotalBatteryPercentage returns the average state of charge across all
// installed batteries.
func (r *Reader) TotalBatteryPercentage() (float64, error) {
	v, err := r.BatteryStorage()
	if err != nil {
		return 0, err
	}
	switch b := v.(type) {
	case *Storage:
		return float64(*b.PercentFull), nil
	case []Battery:
		if len(b) == 0 {
			return 0, ErrBatteryUnavailable
		}
		var sum float64
		for _, bat := range b {
			sum += float64(bat.PercentFull)
		}
		return sum / float64(len(b)), nil
	}
	return 0, ErrBatteryUnavailable
}

// CurrentBatteryCapacity returns the currently stored energy in
// watt-hours, summed across all installed batteries.
func (r *Reader) CurrentBatteryCapacity() (int64, error) {
	v, err := r.BatteryStorage()
	if err != nil {
		return 0, err
	}
	switch b := v.(type) {
	case *Storage:
		return int64(b.WhNow), nil
	case []Battery:
		var sum float64
		for _, bat := range b {
			sum += float64(bat.EnchargeCapacity) * float64(bat.PercentFull) / 100
		}
		return int64(sum), nil
	}
	return 0, ErrBatteryUnavailable
}

// GridStatus returns the Enpower grid state ("closed" when on grid).
func (r *Reader) GridStatus() (string, error) {
	if r.profile == nil {
		return "", errNotDetected
	}
	var home HomeResponse
	if r.snapshotJSON(endpointHome, &home) && home.Enpower != nil && home.Enpower.GridStatus != "" {
		return home.Enpower.GridStatus, nil
	}
	return "", ErrGridStatusUnavailable
}

// ActiveInverterCount returns the number of currently reporting
// inverters on metered gateways.
func (r *Reader) ActiveInverterCount() (int64, error) {
	if r.profile == nil {
		return 0, errNotDetected
	}
	if r.profile.Kind != ModelMetered {
		return 0, errNoData
	}
	pr, ok := r.productionJSON()
	if !ok {
		return 0, errNoData
	}
	if m := selectByType(pr.Production, deviceTypeInverters, 0); m != nil {
		return int64(m.ActiveCount), nil
	}
	return 0, errNoData
}

// InvertersProduction returns per-inverter detail keyed by serial
// number. Nil on legacy gateways and whenever the payload is missing or
// malformed; inverter telemetry is known to intermittently drop fields.
func (r *Reader) InvertersProduction() (map[string]InverterProduction, error) {
	if r.profile == nil {
		return nil, errNotDetected
	}
	if r.profile.Kind == ModelLegacy {
		return nil, nil
	}
	var inverters []Inverter
	if !r.snapshotJSON(endpointInverters, &inverters) {
		return nil, nil
	}
	out := make(map[string]InverterProduction, len(inverters))
	for _, inv := range inverters {
		if inv.SerialNumber == "" {
			continue
		}
		out[inv.SerialNumber] = InverterProduction{
			Watts:      inv.LastReportWatts,
			ReportTime: time.Unix(inv.LastReportDate, 0).Format("2006-01-02 15:04:05"),
		}
	}
	return out, nil
}

// EnvoyInfo returns a diagnostic mapping. Internal fields are always
// present; device-reported fields are included only when the device
// info snapshot is available.
func (r *Reader) EnvoyInfo() map[string]any {
	kind := ModelUnknown
	usesHTTPS := r.useEnlighten
	if r.profile != nil {
		kind = r.profile.Kind
		usesHTTPS = r.profile.UsesHTTPS
	}
	info := map[string]any{
		"host":                          r.host,
		"gateway_type":                  kind.String(),
		"uses_https":                    usesHTTPS,
		"production_metering_enabled":   r.capability.ProductionMetering,
		"consumption_metering_enabled":  r.capability.ConsumptionMetering,
		"net_consumption_ct":            r.capability.NetConsumption,
		"production_phase_count":        r.capability.ProductionPhases,
		"consumption_phase_count":       r.capability.ConsumptionPhases,
		"grid_status_supported":         r.hasGridStatus,
		"info_refresh_interval_seconds": int(r.cache.interval.Seconds()),
	}
	if di, err := parseDeviceInfo(r.cache.snapshot(endpointDeviceInfo)); err == nil {
		info["serial_number"] = di.Device.Serial
		info["part_number"] = di.Device.PartNum
		info["software_version"] = di.Device.Software
	}
	return info
}

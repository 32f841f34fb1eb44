package envoy

import "fmt"

// Metric identifies one extractable value. The dispatch table below
// maps each identifier to its extractor once at construction; there is
// no name-based lookup at runtime.
type Metric string

const (
	MetricProduction             Metric = "production"
	MetricDailyProduction        Metric = "daily_production"
	MetricSevenDaysProduction    Metric = "seven_days_production"
	MetricLifetimeProduction     Metric = "lifetime_production"
	MetricLifetimeNetProduction  Metric = "lifetime_net_production"
	MetricConsumption            Metric = "consumption"
	MetricNetConsumption         Metric = "net_consumption"
	MetricDailyConsumption       Metric = "daily_consumption"
	MetricSevenDaysConsumption   Metric = "seven_days_consumption"
	MetricLifetimeConsumption    Metric = "lifetime_consumption"
	MetricLifetimeNetConsumption Metric = "lifetime_net_consumption"
	MetricBatteries              Metric = "batteries"
	MetricTotalBatteryPercentage Metric = "total_battery_percentage"
	MetricCurrentBatteryCapacity Metric = "current_battery_capacity"
	MetricPowerFactor            Metric = "pf"
	MetricVoltage                Metric = "voltage"
	MetricFrequency              Metric = "frequency"
	MetricConsumptionCurrent     Metric = "consumption_Current"
	MetricProductionCurrent      Metric = "production_Current"
	MetricActiveInverterCount    Metric = "active_inverter_count"
	MetricInverters              Metric = "inverters"
	MetricGridStatus             Metric = "grid_status"
	MetricEnvoyInfo              Metric = "envoy_info"
)

type metricFunc func() (any, error)

func (r *Reader) buildMetrics() map[Metric]metricFunc {
	m := map[Metric]metricFunc{
		MetricProduction:             func() (any, error) { return r.Production() },
		MetricDailyProduction:        func() (any, error) { return r.DailyProduction() },
		MetricSevenDaysProduction:    func() (any, error) { return r.SevenDaysProduction() },
		MetricLifetimeProduction:     func() (any, error) { return r.LifetimeProduction() },
		MetricLifetimeNetProduction:  func() (any, error) { return r.LifetimeNetProduction() },
		MetricConsumption:            func() (any, error) { return r.Consumption() },
		MetricNetConsumption:         func() (any, error) { return r.NetConsumption() },
		MetricDailyConsumption:       func() (any, error) { return r.DailyConsumption() },
		MetricSevenDaysConsumption:   func() (any, error) { return r.SevenDaysConsumption() },
		MetricLifetimeConsumption:    func() (any, error) { return r.LifetimeConsumption() },
		MetricLifetimeNetConsumption: func() (any, error) { return r.LifetimeNetConsumption() },
		MetricBatteries:              func() (any, error) { return r.BatteryStorage() },
		MetricTotalBatteryPercentage: func() (any, error) { return r.TotalBatteryPercentage() },
		MetricCurrentBatteryCapacity: func() (any, error) { return r.CurrentBatteryCapacity() },
		MetricPowerFactor:            func() (any, error) { return r.PowerFactor() },
		MetricVoltage:                func() (any, error) { return r.Voltage() },
		MetricFrequency:              func() (any, error) { return r.Frequency() },
		MetricConsumptionCurrent:     func() (any, error) { return r.ConsumptionCurrent() },
		MetricProductionCurrent:      func() (any, error) { return r.ProductionCurrent() },
		MetricActiveInverterCount:    func() (any, error) { return r.ActiveInverterCount() },
		MetricInverters:              func() (any, error) { return r.InvertersProduction() },
		MetricGridStatus:             func() (any, error) { return r.GridStatus() },
		MetricEnvoyInfo:              func() (any, error) { return r.EnvoyInfo(), nil },
	}

	phaseFamilies := []struct {
		base Metric
		f    func(Phase) (*int64, error)
	}{
		{MetricProduction, r.ProductionPhase},
		{MetricDailyProduction, r.DailyProductionPhase},
		{MetricSevenDaysProduction, r.SevenDaysProductionPhase},
		{MetricLifetimeProduction, r.LifetimeProductionPhase},
		{MetricConsumption, r.ConsumptionPhase},
		{MetricDailyConsumption, r.DailyConsumptionPhase},
		{MetricSevenDaysConsumption, r.SevenDaysConsumptionPhase},
		{MetricLifetimeConsumption, r.LifetimeConsumptionPhase},
	}
	for _, fam := range phaseFamilies {
		fam := fam
		for ph := L1; ph <= L3; ph++ {
			ph := ph
			key := Metric(fmt.Sprintf("%s_%s", fam.base, ph))
			m[key] = func() (any, error) {
				v, err := fam.f(ph)
				if err != nil || v == nil {
					return nil, err
				}
				return *v, nil
			}
		}
	}
	return m
}

// AllMetrics rebuilds the full metric mapping from the cached
// snapshots. Structurally-inapplicable metrics carry their "not
// available" message; metrics whose data is transiently missing are
// omitted; phase values beyond the wired phase count are nil.
func (r *Reader) AllMetrics() map[Metric]any {
	out := make(map[Metric]any, len(r.metrics))
	for key, f := range r.metrics {
		v, err := f()
		switch {
		case err == nil:
			out[key] = v
		case IsUnavailable(err):
			out[key] = err.Error()
		}
	}
	return out
}

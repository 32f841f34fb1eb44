package envoy

import (
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const meteredProductionFixture = `{
  "production": [
    {"type": "inverters", "activeCount": 12, "readingTime": 1626111437, "wNow": 4020, "whLifetime": 12000000},
    {"type": "eim", "activeCount": 1, "measurementType": "production", "readingTime": 1626111461,
     "wNow": 4105.8, "whLifetime": 12345678, "whToday": 15678, "whLastSevenDays": 123456,
     "rmsCurrent": 17.1, "rmsVoltage": 240.1, "pwrFactor": 1.0,
     "lines": [
       {"wNow": 1368.6, "whLifetime": 4115226, "whToday": 5226, "whLastSevenDays": 41152},
       {"wNow": 1368.6, "whLifetime": 4115226, "whToday": 5226, "whLastSevenDays": 41152},
       {"wNow": 1368.6, "whLifetime": 4115226, "whToday": 5226, "whLastSevenDays": 41152}
     ]}
  ],
  "consumption": [
    {"type": "eim", "measurementType": "total-consumption",
     "wNow": 1500.3, "whLifetime": 9876543, "whToday": 9000, "whLastSevenDays": 80000,
     "rmsCurrent": 6.2, "rmsVoltage": 239.9, "pwrFactor": 0.95,
     "lines": [
       {"wNow": 500.1, "whLifetime": 3292181, "whToday": 3000, "whLastSevenDays": 26666},
       {"wNow": 500.1, "whLifetime": 3292181, "whToday": 3000, "whLastSevenDays": 26666},
       {"wNow": 500.1, "whLifetime": 3292181, "whToday": 3000, "whLastSevenDays": 26666}
     ]},
    {"type": "eim", "measurementType": "net-consumption", "wNow": -2605.5, "whLifetime": 0}
  ],
  "storage": [
    {"type": "acb", "activeCount": 0, "readingTime": 0, "wNow": 0, "whNow": 0, "state": "idle"}
  ]
}`

const meterReadingsFixture = `[
  {"eid": 704643328, "timestamp": 1626111472,
   "actEnergyDlvd": 12345678.9, "actEnergyRcvd": 1.2, "activePower": 4105.8,
   "voltage": 240.1, "current": 17.1, "freq": 50.0, "pwrFactor": 1.0,
   "channels": [
     {"voltage": 240.1, "current": 5.7, "freq": 50.0, "pwrFactor": 1.0},
     {"voltage": 240.1, "current": 5.7, "freq": 50.0, "pwrFactor": 1.0},
     {"voltage": 240.1, "current": 5.7, "freq": 50.0, "pwrFactor": 1.0}
   ]},
  {"eid": 704643584, "timestamp": 1626111472,
   "actEnergyDlvd": 3183793.8, "actEnergyRcvd": 6159628.9, "activePower": -2605.5,
   "voltage": 239.9, "current": 10.9, "freq": 49.9, "pwrFactor": -0.39,
   "channels": [
     {"voltage": 239.9, "current": 3.6, "freq": 49.9, "pwrFactor": -0.39},
     {"voltage": 239.9, "current": 3.6, "freq": 49.9, "pwrFactor": -0.39},
     {"voltage": 239.9, "current": 3.6, "freq": 49.9, "pwrFactor": -0.39}
   ]}
]`

const ensembleFixture = `[
  {"type": "ENCHARGE", "devices": [
    {"serial_num": "122106111111", "percentFull": 84, "encharge_capacity": 3500,
     "temperature": 22, "communicating": true, "part_num": "830-00703-r67"},
    {"serial_num": "122106222222", "percentFull": 86, "encharge_capacity": 3500,
     "temperature": 23, "communicating": true, "part_num": "830-00703-r67"}
  ]}
]`

const homeFixture = `{"enpower": {"grid_status": "closed"}}`

const v1ProductionFixture = `{
  "wattHoursToday": 15000, "wattHoursSevenDays": 120000,
  "wattHoursLifetime": 12345678, "wattsNow": 3800
}`

const invertersFixture = `[
  {"serialNumber": "121907111111", "lastReportDate": 1626111757, "devType": 1,
   "lastReportWatts": 143, "maxReportWatts": 251},
  {"serialNumber": "121907222222", "lastReportDate": 1626111757, "devType": 1,
   "lastReportWatts": 141, "maxReportWatts": 249}
]`

const legacyPageFixture = "<html><body><table>\n" +
	"<tr><td>Currently</td>\n<td>476 W</td></tr>\n" +
	"<tr><td>Today</td>\n<td>1.25 kWh</td></tr>\n" +
	"<tr><td>Past Week</td>\n<td>33.4 kWh</td></tr>\n" +
	"<tr><td>Since Installation</td>\n<td>7.83 MWh</td></tr>\n" +
	"</table></body></html>"

func newTestReader(kind ModelKind) *Reader {
	r := &Reader{
		host:   "envoy.local",
		logger: slog.Default(),
		now:    time.Now,
	}
	r.cache = newEndpointCache(time.Hour, time.Now)
	r.profile = &GatewayProfile{Kind: kind, Host: r.host}
	r.metrics = r.buildMetrics()
	return r
}

func newMeteredTestReader() *Reader {
	r := newTestReader(ModelMetered)
	r.hasGridStatus = true
	r.capability = MeteringCapability{
		ProductionMetering:  true,
		ConsumptionMetering: true,
		NetConsumption:      true,
		ProductionPhases:    3,
		ConsumptionPhases:   3,
	}
	r.meterEIDs = meterIndex{production: 704643328, consumption: 704643584}
	loadSnapshot(r, endpointProductionJSON, meteredProductionFixture)
	loadSnapshot(r, endpointMetersReadings, meterReadingsFixture)
	loadSnapshot(r, endpointEnsemble, ensembleFixture)
	loadSnapshot(r, endpointHome, homeFixture)
	loadSnapshot(r, endpointInverters, invertersFixture)
	return r
}

func loadSnapshot(r *Reader, id endpointID, body string) {
	r.cache.store(id, &Snapshot{Status: http.StatusOK, Body: []byte(body), FetchedAt: time.Now()})
}

func TestMeteredProductionFigures(t *testing.T) {
	r := newMeteredTestReader()

	v, err := r.Production()
	assert.Nil(t, err)
	assert.Equal(t, int64(4105), v)

	v, err = r.DailyProduction()
	assert.Nil(t, err)
	assert.Equal(t, int64(15678), v)

	v, err = r.SevenDaysProduction()
	assert.Nil(t, err)
	assert.Equal(t, int64(123456), v)

	v, err = r.LifetimeProduction()
	assert.Nil(t, err)
	assert.Equal(t, int64(12345678), v)
}

func TestMeteredConsumptionFigures(t *testing.T) {
	r := newMeteredTestReader()

	v, err := r.Consumption()
	assert.Nil(t, err)
	assert.Equal(t, int64(1500), v)

	v, err = r.DailyConsumption()
	assert.Nil(t, err)
	assert.Equal(t, int64(9000), v)

	v, err = r.SevenDaysConsumption()
	assert.Nil(t, err)
	assert.Equal(t, int64(80000), v)

	v, err = r.LifetimeConsumption()
	assert.Nil(t, err)
	assert.Equal(t, int64(9876543), v)

	v, err = r.NetConsumption()
	assert.Nil(t, err)
	assert.Equal(t, int64(-2605), v)
}

func TestNetLifetimeRegisters(t *testing.T) {
	r := newMeteredTestReader()

	v, err := r.LifetimeNetConsumption()
	assert.Nil(t, err)
	assert.Equal(t, int64(3183793), v)

	v, err = r.LifetimeNetProduction()
	assert.Nil(t, err)
	assert.Equal(t, int64(6159628), v)
}

func TestPhaseFigures(t *testing.T) {
	r := newMeteredTestReader()

	v, err := r.ProductionPhase(L1)
	assert.Nil(t, err)
	if assert.NotNil(t, v) {
		assert.Equal(t, int64(1368), *v)
	}

	v, err = r.LifetimeProductionPhase(L3)
	assert.Nil(t, err)
	if assert.NotNil(t, v) {
		assert.Equal(t, int64(4115226), *v)
	}

	v, err = r.ConsumptionPhase(L2)
	assert.Nil(t, err)
	if assert.NotNil(t, v) {
		assert.Equal(t, int64(500), *v)
	}
}

func TestPhaseBeyondWiredCountIsNil(t *testing.T) {
	r := newMeteredTestReader()
	r.capability.ProductionPhases = 1
	r.capability.ConsumptionPhases = 1

	v, err := r.ProductionPhase(L2)
	assert.Nil(t, err)
	assert.Nil(t, v)

	v, err = r.ConsumptionPhase(L3)
	assert.Nil(t, err)
	assert.Nil(t, v)
}

func TestElectricalValues(t *testing.T) {
	r := newMeteredTestReader()

	// The consumption CT sits at the service entrance and wins as the
	// reference meter.
	v, err := r.Voltage()
	assert.Nil(t, err)
	assert.Equal(t, 239.9, v)

	v, err = r.Frequency()
	assert.Nil(t, err)
	assert.Equal(t, 49.9, v)

	v, err = r.PowerFactor()
	assert.Nil(t, err)
	assert.Equal(t, -0.39, v)

	v, err = r.ProductionCurrent()
	assert.Nil(t, err)
	assert.Equal(t, 17.1, v)

	v, err = r.ConsumptionCurrent()
	assert.Nil(t, err)
	assert.Equal(t, 10.9, v)

	pv, err := r.VoltagePhase(L1)
	assert.Nil(t, err)
	if assert.NotNil(t, pv) {
		assert.Equal(t, 239.9, *pv)
	}
}

func TestVoltageFallsBackToProductionJSON(t *testing.T) {
	r := newMeteredTestReader()
	r.cache.store(endpointMetersReadings, nil)

	v, err := r.Voltage()
	assert.Nil(t, err)
	assert.Equal(t, 239.9, v)
}

func TestProductionFromReadingsWithoutProductionJSON(t *testing.T) {
	r := newMeteredTestReader()
	r.cache.store(endpointProductionJSON, nil)

	v, err := r.Production()
	assert.Nil(t, err)
	assert.Equal(t, int64(4105), v)
}

func TestBatteryEnsembleFallback(t *testing.T) {
	r := newMeteredTestReader()

	// The storage block carries no percentFull, so battery data comes
	// from the ensemble inventory.
	v, err := r.BatteryStorage()
	assert.Nil(t, err)
	batteries, ok := v.([]Battery)
	if assert.True(t, ok) {
		assert.Len(t, batteries, 2)
		assert.Equal(t, "122106111111", batteries[0].SerialNum)
	}

	pct, err := r.TotalBatteryPercentage()
	assert.Nil(t, err)
	assert.Equal(t, 85.0, pct)

	cap, err := r.CurrentBatteryCapacity()
	assert.Nil(t, err)
	assert.Equal(t, int64(5950), cap)
}

func TestBatteryFromStorageBlock(t *testing.T) {
	r := newTestReader(ModelMetered)
	loadSnapshot(r, endpointProductionJSON, `{
	  "production": [], "consumption": [],
	  "storage": [
	    {"type": "acb", "activeCount": 3, "wNow": 260, "whNow": 1620, "state": "discharging", "percentFull": 54}
	  ]
	}`)

	v, err := r.BatteryStorage()
	assert.Nil(t, err)
	storage, ok := v.(*Storage)
	if assert.True(t, ok) {
		assert.Equal(t, "discharging", storage.State)
	}

	pct, err := r.TotalBatteryPercentage()
	assert.Nil(t, err)
	assert.Equal(t, 54.0, pct)

	cap, err := r.CurrentBatteryCapacity()
	assert.Nil(t, err)
	assert.Equal(t, int64(1620), cap)
}

func TestBatteryUnavailableOnProductionOnly(t *testing.T) {
	r := newTestReader(ModelProductionOnly)
	loadSnapshot(r, endpointProductionV1, v1ProductionFixture)

	_, err := r.BatteryStorage()
	assert.True(t, IsUnavailable(err))
	assert.Contains(t, err.Error(), "not available")
}

func TestConsumptionUnavailableWithoutCT(t *testing.T) {
	r := newMeteredTestReader()
	r.capability.ConsumptionMetering = false
	r.capability.NetConsumption = false

	_, err := r.Consumption()
	assert.True(t, IsUnavailable(err))

	_, err = r.NetConsumption()
	assert.True(t, IsUnavailable(err))

	_, err = r.LifetimeNetProduction()
	assert.True(t, IsUnavailable(err))
}

func TestGridStatus(t *testing.T) {
	r := newMeteredTestReader()

	status, err := r.GridStatus()
	assert.Nil(t, err)
	assert.Equal(t, "closed", status)

	r.cache.store(endpointHome, nil)
	_, err = r.GridStatus()
	assert.True(t, IsUnavailable(err))
	assert.Contains(t, err.Error(), "not available")
}

func TestActiveInverterCount(t *testing.T) {
	r := newMeteredTestReader()

	count, err := r.ActiveInverterCount()
	assert.Nil(t, err)
	assert.Equal(t, int64(12), count)
}

func TestInvertersProduction(t *testing.T) {
	r := newMeteredTestReader()

	inverters, err := r.InvertersProduction()
	assert.Nil(t, err)
	if assert.Len(t, inverters, 2) {
		assert.Equal(t, 143, inverters["121907111111"].Watts)
		assert.NotEmpty(t, inverters["121907111111"].ReportTime)
	}
}

func TestInvertersProductionMalformed(t *testing.T) {
	r := newMeteredTestReader()
	loadSnapshot(r, endpointInverters, `<html>Unauthorized</html>`)

	inverters, err := r.InvertersProduction()
	assert.Nil(t, err)
	assert.Nil(t, inverters)
}

func TestProductionOnlyFigures(t *testing.T) {
	r := newTestReader(ModelProductionOnly)
	loadSnapshot(r, endpointProductionV1, v1ProductionFixture)

	v, err := r.Production()
	assert.Nil(t, err)
	assert.Equal(t, int64(3800), v)

	v, err = r.DailyProduction()
	assert.Nil(t, err)
	assert.Equal(t, int64(15000), v)

	_, err = r.Consumption()
	assert.True(t, IsUnavailable(err))
}

func TestLegacyFigures(t *testing.T) {
	r := newTestReader(ModelLegacy)
	loadSnapshot(r, endpointProductionHTML, legacyPageFixture)

	v, err := r.Production()
	assert.Nil(t, err)
	assert.Equal(t, int64(476), v)

	v, err = r.DailyProduction()
	assert.Nil(t, err)
	assert.Equal(t, int64(1250), v)

	v, err = r.SevenDaysProduction()
	assert.Nil(t, err)
	assert.Equal(t, int64(33400), v)

	v, err = r.LifetimeProduction()
	assert.Nil(t, err)
	assert.Equal(t, int64(7830000), v)

	inverters, err := r.InvertersProduction()
	assert.Nil(t, err)
	assert.Nil(t, inverters)
}

func TestMetricsBeforeDetection(t *testing.T) {
	r := &Reader{host: "envoy.local", logger: slog.Default(), now: time.Now}
	r.cache = newEndpointCache(time.Hour, time.Now)
	r.metrics = r.buildMetrics()

	_, err := r.Production()
	assert.True(t, errors.Is(err, ErrModelDetection))

	_, err = r.GridStatus()
	assert.True(t, errors.Is(err, ErrModelDetection))
}

func TestEnvoyInfo(t *testing.T) {
	r := newMeteredTestReader()

	info := r.EnvoyInfo()
	assert.Equal(t, "metered", info["gateway_type"])
	assert.Equal(t, true, info["production_metering_enabled"])
	assert.NotContains(t, info, "serial_number")

	loadSnapshot(r, endpointDeviceInfo,
		`<envoy_info><time>1626111757</time><device><sn>121904001234</sn><pn>800-00654-r08</pn><software>D7.0.88</software></device></envoy_info>`)
	info = r.EnvoyInfo()
	assert.Equal(t, "121904001234", info["serial_number"])
	assert.Equal(t, "D7.0.88", info["software_version"])
}

func TestAllMetricsMetered(t *testing.T) {
	r := newMeteredTestReader()

	all := r.AllMetrics()
	assert.Equal(t, int64(4105), all[MetricProduction])
	assert.Equal(t, int64(1500), all[MetricConsumption])
	assert.Equal(t, "closed", all[MetricGridStatus])
	assert.Equal(t, int64(1368), all[Metric("production_l1")])
	assert.Equal(t, int64(500), all[Metric("consumption_l2")])
}

func TestAllMetricsProductionOnly(t *testing.T) {
	r := newTestReader(ModelProductionOnly)
	loadSnapshot(r, endpointProductionV1, v1ProductionFixture)

	all := r.AllMetrics()
	assert.Equal(t, int64(3800), all[MetricProduction])
	// Structurally-inapplicable metrics carry their message instead of
	// a value.
	assert.Equal(t, messageConsumptionNotAvailable, all[MetricConsumption])
	assert.Equal(t, messageBatteryNotAvailable, all[MetricBatteries])
}

package envoy

import (
	"fmt"
	"regexp"
	"strconv"
)

// Ancient firmware (Envoy C before R3.9) has no JSON endpoints at all;
// production figures are scraped from the /production HTML page. Values
// carry unit suffixes and need scaling to integer watts/watt-hours.
// This is the only place unit conversion happens: every JSON endpoint
// already reports normalized units.
var (
	legacyProductionRegex = regexp.MustCompile(`<td>Currentl.*</td>\s+<td>\s*(\d+\.\d+|\d+)\s*(W|kW|MW)</td>`)
	legacyDailyRegex      = regexp.MustCompile(`<td>Today</td>\s+<td>\s*(\d+\.\d+|\d+)\s*(Wh|kWh|MWh)</td>`)
	legacyWeeklyRegex     = regexp.MustCompile(`<td>Past Week</td>\s+<td>\s*(\d+\.\d+|\d+)\s*(Wh|kWh|MWh)</td>`)
	legacyLifetimeRegex   = regexp.MustCompile(`<td>Since Installation</td>\s+<td>\s*(\d+\.\d+|\d+)\s*(Wh|kWh|MWh)</td>`)

	serialNumberRegex = regexp.MustCompile(`Envoy\s*Serial\s*Number:\s*([0-9]+)`)
)

func unitScale(unit string) float64 {
	switch unit {
	case "kW", "kWh":
		return 1000
	case "MW", "MWh":
		return 1000000
	default:
		return 1
	}
}

// scrapeLegacyValue extracts and scales one figure from the legacy
// production page. No match is fatal for the metric: a page that stops
// matching means the device no longer fits the legacy assumptions, not
// a transient glitch.
func scrapeLegacyValue(re *regexp.Regexp, page string) (int64, error) {
	m := re.FindStringSubmatch(page)
	if m == nil {
		return 0, fmt.Errorf("no match in legacy production page")
	}
	val, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, err
	}
	return int64(val * unitScale(m[2])), nil
}

package envoy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

// The inverter option is configuration, not detection state: a legacy
// gateway skips the fetch, but a reset followed by re-detection of a
// newer model must honor the option again.
func TestInverterOptionSurvivesLegacyDetection(t *testing.T) {
	var legacyMode atomic.Bool
	legacyMode.Store(true)

	mux := http.NewServeMux()
	mux.HandleFunc("/production", func(w http.ResponseWriter, _ *http.Request) {
		if !legacyMode.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte("<html><body><table>\n" +
			"<tr><td>Currently</td>\n<td>476 W</td></tr>\n" +
			"</table></body></html>"))
	})
	mux.HandleFunc("/api/v1/production", func(w http.ResponseWriter, _ *http.Request) {
		if legacyMode.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"wattsNow": 3800}`))
	})
	mux.HandleFunc("/api/v1/production/inverters", func(w http.ResponseWriter, _ *http.Request) {
		if legacyMode.Load() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`[{"serialNumber": "121907111111", "lastReportDate": 1626111757, "lastReportWatts": 143}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	r, err := NewReader("envoy.local",
		WithGatewayAddress(srv.URL), WithHoldoff(0), WithInverters())
	if !assert.Nil(t, err) {
		return
	}

	ctx := context.Background()
	assert.Nil(t, r.GetData(ctx))
	if assert.NotNil(t, r.Profile()) {
		assert.Equal(t, ModelLegacy, r.Profile().Kind)
	}
	assert.True(t, r.fetchInverters)

	inverters, err := r.InvertersProduction()
	assert.Nil(t, err)
	assert.Nil(t, inverters)

	// The same host after a firmware upgrade: re-detection finds the v1
	// endpoint and inverter detail comes back.
	r.Reset()
	legacyMode.Store(false)

	assert.Nil(t, r.GetData(ctx))
	if assert.NotNil(t, r.Profile()) {
		assert.Equal(t, ModelProductionOnly, r.Profile().Kind)
	}

	inverters, err = r.InvertersProduction()
	assert.Nil(t, err)
	assert.Contains(t, inverters, "121907111111")
}

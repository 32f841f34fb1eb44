package envoy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"
)

// Snapshot is one cached raw endpoint response.
type Snapshot struct {
	Status    int
	Body      []byte
	FetchedAt time.Time
}

type endpointID string

const (
	endpointProductionJSON endpointID = "production_json"
	endpointProductionV1   endpointID = "production_v1"
	endpointProductionHTML endpointID = "production_html"
	endpointMetersConfig   endpointID = "meters_config"
	endpointMetersReadings endpointID = "meters_readings"
	endpointEnsemble       endpointID = "ensemble_inventory"
	endpointHome           endpointID = "home"
	endpointDeviceInfo     endpointID = "device_info"
	endpointInverters      endpointID = "inverters"
)

func (id endpointID) path() string {
	switch id {
	case endpointProductionJSON:
		return "/production.json?details=1"
	case endpointProductionV1:
		return "/api/v1/production"
	case endpointProductionHTML:
		return "/production"
	case endpointMetersConfig:
		return "/ivp/meters"
	case endpointMetersReadings:
		return "/ivp/meters/readings"
	case endpointEnsemble:
		return "/ivp/ensemble/inventory"
	case endpointHome:
		return "/home.json"
	case endpointDeviceInfo:
		return "/info.xml"
	case endpointInverters:
		return "/api/v1/production/inverters"
	}
	return ""
}

// endpointCache keeps the latest snapshot per endpoint. Most endpoints
// are refreshed every poll; device info and the CT configuration only
// after the refresh interval elapses, since they change rarely.
type endpointCache struct {
	snapshots   map[endpointID]*Snapshot
	nextRefresh map[endpointID]time.Time
	interval    time.Duration
	now         func() time.Time
}

func newEndpointCache(interval time.Duration, now func() time.Time) *endpointCache {
	return &endpointCache{
		snapshots:   make(map[endpointID]*Snapshot),
		nextRefresh: make(map[endpointID]time.Time),
		interval:    interval,
		now:         now,
	}
}

func (c *endpointCache) snapshot(id endpointID) *Snapshot {
	return c.snapshots[id]
}

// store records a fetch result. A nil snapshot (endpoint absent, 404)
// overwrites: absence is a valid observation, unlike a failed fetch,
// which leaves the previous snapshot in place.
func (c *endpointCache) store(id endpointID, snap *Snapshot) {
	c.snapshots[id] = snap
}

// due reports whether an interval-policy endpoint should be refetched.
func (c *endpointCache) due(id endpointID) bool {
	next, ok := c.nextRefresh[id]
	if !ok {
		return true
	}
	return !c.now().Before(next)
}

// markAttempted advances the endpoint's next-refresh time. Called after
// an attempted fetch, successful or not, so a flaky endpoint is not
// hammered every poll.
func (c *endpointCache) markAttempted(id endpointID) {
	c.nextRefresh[id] = c.now().Add(c.interval)
}

func (r *Reader) endpointURL(id endpointID) string {
	return r.gatewayBase() + id.path()
}

// fetchEndpoint fetches one endpoint through the transport and stores
// the result. The cache is only updated on a completed fetch.
func (r *Reader) fetchEndpoint(ctx context.Context, id endpointID) (*Snapshot, error) {
	snap, err := r.transport.fetch(ctx, r.endpointURL(id))
	if err != nil {
		return nil, err
	}
	r.cache.store(id, snap)
	return snap, nil
}

// refreshEndpoints is the per-cycle update for an already-detected
// gateway: refetch every-poll endpoints for the detected model, then
// any interval endpoints whose refresh time has elapsed.
func (r *Reader) refreshEndpoints(ctx context.Context) error {
	switch r.profile.Kind {
	case ModelMetered:
		if !r.skipProductionJSON {
			if _, err := r.fetchEndpoint(ctx, endpointProductionJSON); err != nil {
				return err
			}
		}
		if err := r.refreshMeteredCompanions(ctx); err != nil {
			return err
		}
		if r.cache.due(endpointMetersConfig) {
			r.refreshMeteringConfig(ctx)
		}
	case ModelProductionOnly:
		if _, err := r.fetchEndpoint(ctx, endpointProductionV1); err != nil {
			return err
		}
	case ModelLegacy:
		if _, err := r.fetchEndpoint(ctx, endpointProductionHTML); err != nil {
			return err
		}
	default:
		return ErrModelDetection
	}

	if r.cache.due(endpointDeviceInfo) {
		// Best-effort: device info is diagnostic, a failure must not
		// abort the cycle.
		if _, err := r.fetchEndpoint(ctx, endpointDeviceInfo); err != nil {
			r.logger.Debug("device info refresh failed", "error", err)
		}
		r.cache.markAttempted(endpointDeviceInfo)
	}
	return nil
}

// refreshMeteredCompanions fetches the every-poll endpoints that
// accompany production.json on metered gateways. Also run at the end of
// detection, which has already fetched production.json itself.
func (r *Reader) refreshMeteredCompanions(ctx context.Context) error {
	if _, err := r.fetchEndpoint(ctx, endpointMetersReadings); err != nil {
		return err
	}
	if !r.capability.ProductionMetering {
		// Production figures come from the v1 endpoint when no
		// production CT is installed.
		if _, err := r.fetchEndpoint(ctx, endpointProductionV1); err != nil {
			return err
		}
	}
	if _, err := r.fetchEndpoint(ctx, endpointEnsemble); err != nil {
		return err
	}
	if r.hasGridStatus {
		snap, err := r.fetchEndpoint(ctx, endpointHome)
		if err != nil {
			return err
		}
		if !homeHasGridStatus(snap) {
			// This firmware will never grow an Enpower section; stop
			// spending a request on it.
			r.logger.Debug("home.json lacks grid status, disabling fetch")
			r.hasGridStatus = false
		}
	}
	return nil
}

// refreshMeteringConfig refetches the CT configuration and revalidates
// the metering capability. Failures keep the previous capability.
func (r *Reader) refreshMeteringConfig(ctx context.Context) {
	defer r.cache.markAttempted(endpointMetersConfig)
	snap, err := r.fetchEndpoint(ctx, endpointMetersConfig)
	if err != nil {
		r.logger.Debug("meters config refresh failed", "error", err)
		return
	}
	if configs, ok := decodeMeterConfigs(snap); ok {
		r.capability = resolveMetering(configs, r.capability)
		r.meterEIDs = indexMeters(configs, r.meterEIDs)
	}
}

// refreshInverters fetches per-inverter production. Bearer-mode
// gateways accept the session credentials; older firmware requires
// digest auth with the local username and password.
func (r *Reader) refreshInverters(ctx context.Context) error {
	if r.useEnlighten {
		_, err := r.fetchEndpoint(ctx, endpointInverters)
		return err
	}
	snap, err := r.newDigestTransport().fetch(ctx, r.endpointURL(endpointInverters))
	if err != nil {
		return err
	}
	r.cache.store(endpointInverters, snap)
	return nil
}

func homeHasGridStatus(snap *Snapshot) bool {
	if snap == nil || snap.Status != http.StatusOK {
		return false
	}
	var home HomeResponse
	if err := json.Unmarshal(snap.Body, &home); err != nil {
		return false
	}
	return home.Enpower != nil && home.Enpower.GridStatus != ""
}

func decodeMeterConfigs(snap *Snapshot) ([]MeterConfig, bool) {
	if snap == nil || snap.Status != http.StatusOK {
		return nil, false
	}
	var configs []MeterConfig
	if err := json.Unmarshal(snap.Body, &configs); err != nil {
		return nil, false
	}
	return configs, true
}

var errNoData = errors.New("metric data not present in cached responses")

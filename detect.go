package envoy

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
)

// detectModel probes the gateway's endpoints in priority order and
// classifies its generation. First match wins: the metered
// production.json summary, then the v1 production endpoint, then the
// legacy HTML page. Classification happens once; later cycles reuse the
// profile and a transient failure cannot corrupt it.
func (r *Reader) detectModel(ctx context.Context) error {
	// Opportunistic device-info fetch: populates the serial number used
	// for token issuance and for deriving the default local password.
	// Failures are ignored, detection can proceed without it.
	if info, err := r.fetchDeviceInfo(ctx); err == nil && info != nil && info.Device.Serial != "" {
		r.serial = info.Device.Serial
		r.tokens.setSerial(info.Device.Serial)
		if !r.useEnlighten && r.password == "" {
			r.password = lastSix(info.Device.Serial)
		}
	}

	snap, err := r.fetchEndpoint(ctx, endpointProductionJSON)
	if errors.Is(err, ErrAuthentication) {
		// Right model, missing auth: distinguish from "wrong model" so
		// the host can prompt for Enlighten credentials.
		return fmt.Errorf("%w: metered production endpoint answered 401", ErrNeedsSecureAuth)
	}
	if err == nil && hasProductionAndConsumption(snap) {
		r.profile = &GatewayProfile{Kind: ModelMetered, UsesHTTPS: r.useEnlighten, Host: r.host}
		r.hasGridStatus = true
		r.refreshMeteringConfig(ctx)
		if err := r.refreshMeteredCompanions(ctx); err != nil {
			return err
		}
		r.logger.Debug("detected gateway model", "model", r.profile.Kind)
		return nil
	}

	snap, err = r.fetchEndpoint(ctx, endpointProductionV1)
	if err == nil && snap != nil && snap.Status == http.StatusOK {
		r.profile = &GatewayProfile{Kind: ModelProductionOnly, UsesHTTPS: r.useEnlighten, Host: r.host}
		r.logger.Debug("detected gateway model", "model", r.profile.Kind)
		return nil
	}

	snap, err = r.fetchEndpoint(ctx, endpointProductionHTML)
	if err == nil && snap != nil && snap.Status == http.StatusOK {
		r.profile = &GatewayProfile{Kind: ModelLegacy, UsesHTTPS: false, Host: r.host}
		r.logger.Debug("detected gateway model", "model", r.profile.Kind)
		return nil
	}

	return fmt.Errorf("%w: no probe succeeded for host %q", ErrModelDetection, r.host)
}

// hasProductionAndConsumption checks for both top-level sections by key
// presence, which is what separates metered-class firmware from the
// rest.
func hasProductionAndConsumption(snap *Snapshot) bool {
	if snap == nil || snap.Status != http.StatusOK {
		return false
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(snap.Body, &keys); err != nil {
		return false
	}
	_, hasProduction := keys["production"]
	_, hasConsumption := keys["consumption"]
	return hasProduction && hasConsumption
}

// fetchDeviceInfo fetches and parses /info.xml, advancing the info
// refresh clock.
func (r *Reader) fetchDeviceInfo(ctx context.Context) (*deviceInfo, error) {
	defer r.cache.markAttempted(endpointDeviceInfo)
	snap, err := r.fetchEndpoint(ctx, endpointDeviceInfo)
	if err != nil {
		return nil, err
	}
	return parseDeviceInfo(snap)
}

func parseDeviceInfo(snap *Snapshot) (*deviceInfo, error) {
	if snap == nil || snap.Status != http.StatusOK {
		return nil, errNoData
	}
	var info deviceInfo
	if err := xml.Unmarshal(snap.Body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetFullSerialNumber fetches the gateway serial number independently
// of the poll cycle. Used by hosts for first-time unique-ID assignment.
func (r *Reader) GetFullSerialNumber(ctx context.Context) (string, error) {
	snap, err := r.transport.fetch(ctx, r.gatewayBase()+endpointDeviceInfo.path())
	if err != nil {
		return "", err
	}
	if snap == nil {
		return "", errNoData
	}
	if info, err := parseDeviceInfo(snap); err == nil && info.Device.Serial != "" {
		return info.Device.Serial, nil
	}
	// Very old firmware serves an HTML page instead of the XML
	// document.
	if m := serialNumberRegex.FindSubmatch(snap.Body); m != nil {
		return string(m[1]), nil
	}
	return "", fmt.Errorf("no serial number in device info response")
}

package envoy

import (
	"fmt"
	"net"
	"strings"
)

// ModelKind classifies the gateway generation. It determines which
// endpoints exist and which metrics can be extracted.
type ModelKind int

const (
	ModelUnknown ModelKind = iota
	// ModelMetered answers production.json with both production and
	// consumption sections (Envoy S / IQ Gateway class).
	ModelMetered
	// ModelProductionOnly answers /api/v1/production (Envoy C class,
	// firmware R3.9 or newer).
	ModelProductionOnly
	// ModelLegacy only serves the old /production HTML page.
	ModelLegacy
)

func (k ModelKind) String() string {
	switch k {
	case ModelMetered:
		return "metered"
	case ModelProductionOnly:
		return "production-only"
	case ModelLegacy:
		return "legacy"
	default:
		return "unknown"
	}
}

// GatewayProfile identifies a detected gateway. It is set once by model
// detection and never mutated; forcing re-detection produces a new
// instance.
type GatewayProfile struct {
	Kind      ModelKind
	UsesHTTPS bool
	Host      string
}

// NormalizeHost lowercases the host and wraps bare IPv6 literals in
// brackets so they can be spliced into URLs.
func NormalizeHost(host string) (string, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "", fmt.Errorf("empty host")
	}
	if strings.ContainsAny(host, "/ ") || strings.Contains(host, "://") {
		return "", fmt.Errorf("invalid host %q", host)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		return host, nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.To4() == nil {
		return "[" + host + "]", nil
	}
	return host, nil
}

// Phase selects one electrical phase of a polyphase installation.
type Phase int

const (
	L1 Phase = iota
	L2
	L3
)

func (p Phase) String() string {
	return fmt.Sprintf("l%d", int(p)+1)
}

// ParsePhase maps the wire selector ("l1", "l2", "l3") to a Phase.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToLower(s) {
	case "l1":
		return L1, nil
	case "l2":
		return L2, nil
	case "l3":
		return L3, nil
	}
	return 0, fmt.Errorf("invalid phase selector %q", s)
}

// MeteringCapability describes the installed current transformers, as
// reported by /ivp/meters. It rarely changes and is revalidated on the
// info refresh interval rather than every poll.
type MeteringCapability struct {
	ProductionMetering  bool
	ConsumptionMetering bool
	// NetConsumption is true when the consumption CT measures net flow
	// at the grid tie point rather than gross house load.
	NetConsumption    bool
	ProductionPhases  int
	ConsumptionPhases int
}

// Package envoy polls an Enphase Envoy gateway's local HTTP endpoints,
// normalizes the firmware-dependent response shapes into a stable
// metric set, and manages the Enlighten token lifecycle needed to reach
// secured endpoints.
package envoy

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/icholy/digest"
)

const (
	defaultUsername    = "envoy"
	defaultTimeout     = 30 * time.Second
	defaultRetries     = 3
	defaultHoldoff     = time.Second
	defaultInfoRefresh = time.Hour
)

// Reader reads production and consumption values from one Envoy
// gateway on the local network. One instance serves one gateway and is
// driven by one scheduler at a time: a poll cycle (GetData) runs
// sequentially, and the metric accessors only read state cached by the
// most recent cycle.
type Reader struct {
	host          string
	username      string
	password      string
	enlightenUser string
	enlightenPass string
	serial        string
	useEnlighten  bool

	fetchInverters     bool
	skipProductionJSON bool
	retries            int
	holdoff            time.Duration
	timeout            time.Duration
	infoInterval       time.Duration
	refreshBuffer      time.Duration
	enlightenBase      string
	baseOverride       string

	logger       *slog.Logger
	debug        bool
	notification Notification
	store        TokenStore

	cred      *Credential
	tokens    *tokenManager
	transport *transport
	cache     *endpointCache

	profile       *GatewayProfile
	capability    MeteringCapability
	meterEIDs     meterIndex
	hasGridStatus bool

	metrics map[Metric]metricFunc
	now     func() time.Time
}

// NewReader builds a reader for the gateway at host. The default
// configuration speaks plain HTTP with the local "envoy" user; pass
// WithEnlightenCredentials to switch to bearer-token auth for firmware
// 7 and later.
func NewReader(host string, opts ...OptionFunc) (*Reader, error) {
	r := &Reader{
		username:      defaultUsername,
		retries:       defaultRetries,
		holdoff:       defaultHoldoff,
		timeout:       defaultTimeout,
		infoInterval:  defaultInfoRefresh,
		enlightenBase: defaultEnlightenBase,
		logger:        slog.Default(),
		notification:  NilNotification,
		now:           time.Now,
	}
	for _, o := range opts {
		if err := o(r); err != nil {
			return nil, err
		}
	}

	normalized, err := NormalizeHost(host)
	if err != nil {
		return nil, fmt.Errorf("invalid envoy host: %w", err)
	}
	r.host = normalized
	if r.useEnlighten && (r.enlightenUser == "" || r.enlightenPass == "") {
		return nil, fmt.Errorf("enlighten auth selected but credentials missing")
	}

	r.cred = &Credential{}
	r.restoreCredential()

	r.tokens = &tokenManager{
		enlightenBase: r.enlightenBase,
		gatewayBase:   r.gatewayBase,
		username:      r.enlightenUser,
		password:      r.enlightenPass,
		serial:        r.serial,
		refreshBuffer: r.refreshBuffer,
		timeout:       r.timeout,
		cred:          r.cred,
		notification:  r.notification,
		logger:        r.logger,
		local:         newInsecureClient(r.timeout),
		now:           r.now,
	}

	r.transport = &transport{
		client:  newInsecureClient(r.timeout),
		retries: r.retries,
		holdoff: r.holdoff,
		logger:  r.logger,
		debug:   r.debug,
	}
	if r.useEnlighten {
		r.transport.authorize = r.authorizeRequest
		r.transport.refresh = r.tokens.refreshCredentials
	}

	r.cache = newEndpointCache(r.infoInterval, r.now)
	r.metrics = r.buildMetrics()
	return r, nil
}

func (r *Reader) gatewayBase() string {
	if r.baseOverride != "" {
		return r.baseOverride
	}
	scheme := "http"
	if r.useEnlighten {
		scheme = "https"
	}
	return scheme + "://" + r.host
}

// authorizeRequest attaches the bearer header and the session cookies
// granted by the gateway's token validation endpoint.
func (r *Reader) authorizeRequest(req *http.Request) {
	if tok := r.cred.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for _, c := range r.cred.Cookies() {
		req.AddCookie(c)
	}
}

// restoreCredential adopts a persisted token, if any. Expired tokens
// are adopted too: the expiry check before the first cycle triggers the
// re-login.
func (r *Reader) restoreCredential() {
	if r.store == nil {
		return
	}
	blob, err := r.store.Load()
	if err != nil {
		r.logger.Warn("loading persisted token failed", "error", err)
		return
	}
	raw := blob[storeKeyToken]
	if raw == "" {
		return
	}
	expires, err := GetJWTExpired(raw)
	if err != nil {
		r.logger.Warn("persisted token is not a parsable JWT, discarding", "error", err)
		return
	}
	r.cred.restore(raw, *expires)
	r.logger.Debug("restored persisted token", "expires", expires)
}

// GetData runs one poll cycle: ensure a valid credential, detect the
// model on the first cycle, refresh the cached endpoint snapshots, and
// flush a changed credential to the token store. Connectivity and
// authentication failures propagate; snapshots fetched before the
// failure remain cached and are reused next cycle.
func (r *Reader) GetData(ctx context.Context) error {
	// Flush runs even when the cycle fails: a token obtained during a
	// partially failed cycle must survive a restart.
	defer func() {
		if err := r.cred.flush(r.store); err != nil {
			r.logger.Warn("persisting credential failed", "error", err)
		}
	}()

	if r.useEnlighten {
		if err := r.tokens.ensure(ctx); err != nil {
			return err
		}
	}

	var err error
	if r.profile == nil {
		err = r.detectModel(ctx)
	} else {
		err = r.refreshEndpoints(ctx)
	}
	if err != nil {
		return err
	}

	// Legacy firmware gates inverter detail behind an auth scheme this
	// reader does not speak.
	if r.fetchInverters && r.profile.Kind != ModelLegacy {
		if err := r.refreshInverters(ctx); err != nil {
			return err
		}
	}
	return nil
}

// newDigestTransport builds a transport using HTTP digest auth with the
// current local credentials. Built per call: the password may have been
// derived from the serial number during detection.
func (r *Reader) newDigestTransport() *transport {
	return &transport{
		client: &http.Client{
			Timeout: r.timeout,
			Transport: &digest.Transport{
				Username: r.username,
				Password: r.password,
				Transport: &http.Transport{
					TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
				},
			},
		},
		retries: r.retries,
		holdoff: r.holdoff,
		logger:  r.logger,
		debug:   r.debug,
	}
}

// Profile returns the detected gateway profile, or nil before the first
// successful detection.
func (r *Reader) Profile() *GatewayProfile {
	return r.profile
}

// Capability returns the most recently resolved metering capability.
func (r *Reader) Capability() MeteringCapability {
	return r.capability
}

// Reset discards the detected profile, capability, and all cached
// snapshots, forcing full re-detection on the next cycle. The
// credential survives.
func (r *Reader) Reset() {
	r.profile = nil
	r.capability = MeteringCapability{}
	r.meterEIDs = meterIndex{}
	r.hasGridStatus = false
	r.cache = newEndpointCache(r.infoInterval, r.now)
}

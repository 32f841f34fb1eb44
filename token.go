package envoy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/html"
)

const defaultEnlightenBase = "https://enlighten.enphaseenergy.com"

// tokenManager owns the bearer credential lifecycle: empty or expired
// credentials trigger the two-step Enlighten login, freshly issued
// tokens are exchanged for session cookies at the gateway's local
// validation endpoint, and expiry is tracked from the token's own
// claims minus a configurable buffer.
type tokenManager struct {
	mu sync.Mutex

	enlightenBase string
	gatewayBase   func() string
	username      string
	password      string
	serial        string
	refreshBuffer time.Duration
	timeout       time.Duration

	cred         *Credential
	notification Notification
	logger       *slog.Logger
	// local is the TLS-permissive client used for the gateway-side
	// check_jwt round-trip.
	local *http.Client

	now func() time.Time
}

func (m *tokenManager) setSerial(serial string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.serial == "" {
		m.serial = serial
	}
}

func (m *tokenManager) expired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cred.Expired(m.now(), m.refreshBuffer)
}

// ensure guarantees a structurally valid token before a poll cycle
// starts. Session cookies are refreshed lazily through the 401 path.
func (m *tokenManager) ensure(ctx context.Context) error {
	if !m.expired() {
		return nil
	}
	m.logger.Debug("bearer token empty or expired, logging in")
	return m.login(ctx)
}

// refreshCredentials is the transport's 401 hook: first try to turn the
// existing token into fresh session cookies; if the gateway no longer
// accepts the token, run a full login.
func (m *tokenManager) refreshCredentials(ctx context.Context) error {
	ok, err := m.refreshCookies(ctx)
	if err == nil && ok {
		return nil
	}
	if err != nil {
		m.logger.Debug("cookie refresh failed, escalating to login", "error", err)
	}
	return m.login(ctx)
}

// login runs the Enlighten flow: fetch the login form, post the
// credentials with the form's single-use authenticity token, then
// request a token issued against the gateway serial number.
func (m *tokenManager) login(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.username == "" || m.password == "" {
		return fmt.Errorf("%w: missing enlighten credentials", ErrAuthentication)
	}
	if m.serial == "" {
		return fmt.Errorf("%w: missing gateway serial number", ErrAuthentication)
	}

	jar, _ := cookiejar.New(nil)
	client := &http.Client{Jar: jar, Timeout: m.timeout}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.enlightenBase, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching enlighten login form: %w: %w", ErrConnectivity, err)
	}
	formBody := readAllAndClose(resp)
	action, authenticityToken, err := findLoginForm(formBody)
	if err != nil {
		m.notifyJWTError(err)
		return fmt.Errorf("%w: parsing enlighten login form: %v", ErrAuthentication, err)
	}

	form := url.Values{
		"authenticity_token": {authenticityToken},
		"user[email]":        {m.username},
		"user[password]":     {m.password},
	}
	loginResp, _, err := postForm(ctx, client, m.enlightenBase+action, form, m.logger)
	if err != nil {
		return err
	}
	if loginResp.StatusCode >= http.StatusBadRequest {
		err := fmt.Errorf("%w: enlighten login rejected (status %d)", ErrAuthentication, loginResp.StatusCode)
		m.notifyJWTError(err)
		return err
	}

	tokenURL := fmt.Sprintf("%s/entrez-auth-token?serial_num=%s", m.enlightenBase, m.serial)
	req, err = http.NewRequestWithContext(ctx, http.MethodGet, tokenURL, nil)
	if err != nil {
		return err
	}
	resp, err = client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching enlighten token: %w: %w", ErrConnectivity, err)
	}
	body := readAllAndClose(resp)

	var tokenResponse TokenResponse
	if err := json.Unmarshal(body, &tokenResponse); err != nil {
		m.notifyJWTError(err)
		return fmt.Errorf("%w: decoding enlighten token response: %v", ErrAuthentication, err)
	}
	if tokenResponse.Token == "" {
		err := fmt.Errorf("%w: no token in enlighten response", ErrAuthentication)
		m.notifyJWTError(err)
		return err
	}
	expires, err := GetJWTExpired(tokenResponse.Token)
	if err != nil {
		m.notifyJWTError(err)
		return fmt.Errorf("%w: decoding token expiry: %v", ErrAuthentication, err)
	}
	m.cred.SetToken(tokenResponse.Token, *expires)
	if m.notification != nil {
		m.notification.JWTRefreshed(tokenResponse.Token)
	}
	m.logger.Debug("obtained enlighten token", "expires", expires)

	// Exchange the token for session cookies. A failure here is not
	// retried: the 401 path escalates if the cookies turn out to be
	// needed and missing.
	if ok, err := m.refreshCookiesLocked(ctx); err != nil || !ok {
		m.logger.Warn("token obtained but local validation failed", "error", err)
	}
	return nil
}

func (m *tokenManager) refreshCookies(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCookiesLocked(ctx)
}

// refreshCookiesLocked round-trips the bearer token through the
// gateway's check_jwt page and stores the granted session cookies.
func (m *tokenManager) refreshCookiesLocked(ctx context.Context) (bool, error) {
	if m.cred.Empty() {
		return false, nil
	}
	checkURL := fmt.Sprintf("%s/auth/check_jwt", m.gatewayBase())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, checkURL, nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Authorization", "Bearer "+m.cred.Token())
	resp, err := m.local.Do(req)
	if err != nil {
		return false, fmt.Errorf("validating token at gateway: %w: %w", ErrConnectivity, err)
	}
	body := readAllAndClose(resp)
	if resp.StatusCode != http.StatusOK || !tokenValidationOK(body) {
		m.notifySessionError(fmt.Errorf("gateway rejected token (status %d)", resp.StatusCode))
		return false, nil
	}
	m.cred.SetCookies(resp.Cookies())
	if m.notification != nil {
		m.notification.SessionRefreshed(m.cred.Token())
	}
	m.logger.Debug("session cookies refreshed")
	return true, nil
}

func (m *tokenManager) notifyJWTError(err error) {
	if m.notification != nil {
		m.notification.JWTError(err)
	}
}

func (m *tokenManager) notifySessionError(err error) {
	if m.notification != nil {
		m.notification.SessionError(err)
	}
}

func readAllAndClose(resp *http.Response) []byte {
	defer func() {
		_ = resp.Body.Close()
	}()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return buf.Bytes()
}

// findLoginForm extracts the single-use authenticity token and the form
// action from the Enlighten login page.
func findLoginForm(body []byte) (action, token string, err error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	var walk func(n *html.Node, formAction string) bool
	walk = func(n *html.Node, formAction string) bool {
		if n.Type == html.ElementNode {
			if n.Data == "form" {
				formAction = htmlAttr(n, "action")
			}
			if n.Data == "input" && htmlAttr(n, "name") == "authenticity_token" {
				token = htmlAttr(n, "value")
				action = formAction
				return true
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c, formAction) {
				return true
			}
		}
		return false
	}
	if !walk(doc, "") {
		return "", "", fmt.Errorf("authenticity_token input not found in login page")
	}
	return action, token, nil
}

func htmlAttr(n *html.Node, name string) string {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

// tokenValidationOK checks the check_jwt HTML page for the gateway's
// "Valid token." verdict.
func tokenValidationOK(body []byte) bool {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return false
	}
	var verdict string
	var walk func(n *html.Node) bool
	walk = func(n *html.Node) bool {
		if n.Type == html.ElementNode && n.Data == "h2" && n.FirstChild != nil {
			verdict = strings.TrimSpace(n.FirstChild.Data)
			return true
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(doc)
	return verdict == "Valid token."
}

package envoy

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// transport is a thin GET wrapper around net/http with bounded retries,
// a fixed holdoff between attempts, and a 401 escape hatch that asks the
// token manager for fresh credentials before resubmitting the same URL.
type transport struct {
	client  *http.Client
	retries int
	holdoff time.Duration
	logger  *slog.Logger
	// debug additionally traces response status and body.
	debug bool

	// authorize decorates an outgoing request with the current bearer
	// header and session cookies. Nil in local-auth mode.
	authorize func(*http.Request)
	// refresh is invoked at most once per 401 on a non-final attempt.
	// Nil when no credential refresh is possible.
	refresh func(context.Context) error
}

// newInsecureClient builds an HTTP client that accepts the gateway's
// self-signed certificate. No cookie jar: session cookies are attached
// explicitly from the Credential.
func newInsecureClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
}

// fetch GETs url and returns the raw response. A 404 returns (nil, nil):
// many endpoints legitimately do not exist on older firmware. A 401 on a
// non-final attempt triggers one credential refresh and a resubmit;
// connection-level failures sleep the holdoff and retry up to the
// configured count.
func (t *transport) fetch(ctx context.Context, rawURL string) (*Snapshot, error) {
	attempts := t.retries
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, err
		}
		if t.authorize != nil {
			t.authorize(req)
		}
		t.logger.Debug("http get", "url", rawURL, "attempt", attempt+1)

		resp, err := t.client.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if attempt == attempts-1 {
				break
			}
			select {
			case <-time.After(t.holdoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if attempt == attempts-1 {
				break
			}
			select {
			case <-time.After(t.holdoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}

		if t.debug {
			t.logger.Debug("http response", "url", rawURL, "status", resp.StatusCode, "body", string(body))
		}
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			if attempt < attempts-1 && t.refresh != nil {
				t.logger.Debug("received 401, refreshing credentials", "url", rawURL)
				if err := t.refresh(ctx); err != nil {
					return nil, fmt.Errorf("refreshing credentials for %s: %w", rawURL, err)
				}
				continue
			}
			return nil, fmt.Errorf("get %s: %w", rawURL, ErrAuthentication)
		case http.StatusNotFound:
			return nil, nil
		}
		return &Snapshot{Status: resp.StatusCode, Body: body, FetchedAt: time.Now()}, nil
	}
	return nil, fmt.Errorf("get %s: %w: %w", rawURL, ErrConnectivity, lastErr)
}

// postForm posts an urlencoded form. Used only by login flows, which
// manage their own cookie jars and have no 401 retry semantics.
func postForm(ctx context.Context, client *http.Client, rawURL string, form url.Values, logger *slog.Logger) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	logger.Debug("http post", "url", rawURL)
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("post %s: %w: %w", rawURL, ErrConnectivity, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

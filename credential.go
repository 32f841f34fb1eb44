package envoy

import (
	"net/http"
	"time"
)

// TokenStore persists the bearer token across process restarts. The
// reader treats the mapping as an opaque blob and only reads/writes the
// "token" key; the host owns the storage format and location.
type TokenStore interface {
	Load() (map[string]string, error)
	Save(map[string]string) error
}

const storeKeyToken = "token"

// Credential holds the bearer token, its decoded expiry, and the
// session cookies granted by the gateway after local validation.
// Mutations mark it dirty; the reader flushes dirty credentials to the
// TokenStore at the end of a poll cycle rather than on every change.
type Credential struct {
	token   string
	expires time.Time
	cookies []*http.Cookie
	dirty   bool
}

func (c *Credential) Token() string { return c.token }

func (c *Credential) Empty() bool { return c.token == "" }

// Expired reports whether the token expiry, minus buffer, has passed.
func (c *Credential) Expired(now time.Time, buffer time.Duration) bool {
	if c.token == "" {
		return true
	}
	return c.expires.Add(-buffer).Before(now)
}

func (c *Credential) SetToken(raw string, expires time.Time) {
	c.token = raw
	c.expires = expires
	c.cookies = nil
	c.dirty = true
}

func (c *Credential) Cookies() []*http.Cookie { return c.cookies }

func (c *Credential) SetCookies(cookies []*http.Cookie) {
	c.cookies = cookies
}

// Invalidate clears the credential after the gateway rejected it. The
// next ensure() run performs a full login.
func (c *Credential) Invalidate() {
	c.token = ""
	c.expires = time.Time{}
	c.cookies = nil
	c.dirty = true
}

func (c *Credential) Dirty() bool { return c.dirty }

// restore adopts a persisted token without marking the credential
// dirty, so a restart does not trigger a spurious save.
func (c *Credential) restore(raw string, expires time.Time) {
	c.token = raw
	c.expires = expires
}

// flush writes the token through the store if anything changed since
// the last flush.
func (c *Credential) flush(store TokenStore) error {
	if store == nil || !c.dirty {
		return nil
	}
	if err := store.Save(map[string]string{storeKeyToken: c.token}); err != nil {
		return err
	}
	c.dirty = false
	return nil
}

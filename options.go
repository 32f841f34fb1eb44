package envoy

import (
	"fmt"
	"log/slog"
	"time"
)

type OptionFunc func(*Reader) error

// WithLocalCredentials sets the username and password for local auth
// (digest on the inverters endpoint). When the password is empty it is
// derived from the last six digits of the serial number during
// detection.
func WithLocalCredentials(username, password string) OptionFunc {
	return func(r *Reader) error {
		if username != "" {
			r.username = username
		}
		r.password = password
		return nil
	}
}

// WithEnlightenCredentials selects bearer-token auth: tokens are issued
// by the Enlighten cloud against these account credentials and the
// gateway is reached over HTTPS.
func WithEnlightenCredentials(username, password string) OptionFunc {
	return func(r *Reader) error {
		r.enlightenUser = username
		r.enlightenPass = password
		r.useEnlighten = true
		return nil
	}
}

// WithSerial sets the gateway serial number used for token issuance.
// Without it the serial is read from the device info endpoint during
// detection.
func WithSerial(serial string) OptionFunc {
	return func(r *Reader) error {
		r.serial = serial
		return nil
	}
}

func WithTimeout(timeout time.Duration) OptionFunc {
	return func(r *Reader) error {
		if timeout <= 0 {
			return fmt.Errorf("invalid fetch timeout %v", timeout)
		}
		r.timeout = timeout
		return nil
	}
}

// WithRetries sets the number of attempts per request.
func WithRetries(retries int) OptionFunc {
	return func(r *Reader) error {
		if retries < 1 {
			return fmt.Errorf("invalid retry count %d", retries)
		}
		r.retries = retries
		return nil
	}
}

// WithHoldoff sets the fixed sleep between retry attempts.
func WithHoldoff(holdoff time.Duration) OptionFunc {
	return func(r *Reader) error {
		if holdoff < 0 {
			return fmt.Errorf("invalid holdoff %v", holdoff)
		}
		r.holdoff = holdoff
		return nil
	}
}

// WithInfoRefreshInterval sets how often the device info and CT
// configuration endpoints are refetched.
func WithInfoRefreshInterval(interval time.Duration) OptionFunc {
	return func(r *Reader) error {
		if interval <= 0 {
			return fmt.Errorf("invalid info refresh interval %v", interval)
		}
		r.infoInterval = interval
		return nil
	}
}

// WithTokenRefreshBuffer renews the bearer token this long before its
// actual expiry.
func WithTokenRefreshBuffer(buffer time.Duration) OptionFunc {
	return func(r *Reader) error {
		if buffer < 0 {
			return fmt.Errorf("invalid token refresh buffer %v", buffer)
		}
		r.refreshBuffer = buffer
		return nil
	}
}

// WithInverters enables fetching per-inverter production detail.
func WithInverters() OptionFunc {
	return func(r *Reader) error {
		r.fetchInverters = true
		return nil
	}
}

// WithoutProductionJSON skips the production.json endpoint on metered
// gateways; current figures then come from the meter readings.
func WithoutProductionJSON() OptionFunc {
	return func(r *Reader) error {
		r.skipProductionJSON = true
		return nil
	}
}

// WithTokenStore persists the bearer token across restarts.
func WithTokenStore(store TokenStore) OptionFunc {
	return func(r *Reader) error {
		r.store = store
		return nil
	}
}

func WithNotification(notification Notification) OptionFunc {
	return func(r *Reader) error {
		if notification == nil {
			notification = NilNotification
		}
		r.notification = notification
		return nil
	}
}

func WithLogger(logger *slog.Logger) OptionFunc {
	return func(r *Reader) error {
		if logger == nil {
			return fmt.Errorf("nil logger")
		}
		r.logger = logger
		return nil
	}
}

func WithDebug(debug bool) OptionFunc {
	return func(r *Reader) error {
		r.debug = debug
		return nil
	}
}

// WithEnlightenBase overrides the Enlighten portal base URL.
func WithEnlightenBase(enlightenBase string) OptionFunc {
	return func(r *Reader) error {
		r.enlightenBase = enlightenBase
		return nil
	}
}

// WithGatewayAddress overrides the gateway base URL, scheme included.
// Mostly useful against test servers.
func WithGatewayAddress(address string) OptionFunc {
	return func(r *Reader) error {
		r.baseOverride = address
		return nil
	}
}

package envoy

import (
	"errors"
)

// Failure classes surfaced by GetData. Callers match with errors.Is to
// decide between retrying, prompting for credentials, or re-running
// model detection.
var (
	// ErrConnectivity wraps transport-level failures that survived the
	// configured retries.
	ErrConnectivity = errors.New("unable to connect to envoy")

	// ErrAuthentication wraps a 401 that could not be resolved by a
	// token/cookie refresh, or a failed Enlighten login.
	ErrAuthentication = errors.New("envoy authentication failed")

	// ErrModelDetection means none of the detection probes succeeded.
	ErrModelDetection = errors.New("could not determine envoy model")

	// ErrNeedsSecureAuth means the metered probe answered 401: the
	// gateway runs firmware that requires Enlighten credentials.
	ErrNeedsSecureAuth = errors.New("envoy requires enlighten credentials")
)

// Messages returned verbatim to downstream consumers when a metric is
// structurally inapplicable to the detected gateway. Consumers detect
// them by checking for "not available" in the value.
const (
	messageBatteryNotAvailable     = "Battery storage data not available for your Envoy device."
	messageConsumptionNotAvailable = "Consumption data not available for your Envoy device."
	messageGridStatusNotAvailable  = "Grid status not available for your Envoy device."
)

// UnavailableError reports that a metric does not apply to the detected
// model or metering configuration. It is not a transient condition.
type UnavailableError struct {
	msg string
}

func (e *UnavailableError) Error() string { return e.msg }

var (
	ErrBatteryUnavailable     = &UnavailableError{messageBatteryNotAvailable}
	ErrConsumptionUnavailable = &UnavailableError{messageConsumptionNotAvailable}
	ErrGridStatusUnavailable  = &UnavailableError{messageGridStatusNotAvailable}
)

// IsUnavailable reports whether err marks a structurally-inapplicable
// metric as opposed to a transient fetch or parse problem.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

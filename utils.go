package envoy

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// GetJWTExpired returns the expiry timestamp encoded in the token's
// claims. The signature is not verified: the issuer is trusted
// transitively via TLS, we only need the "exp" claim.
func GetJWTExpired(rawToken string) (*time.Time, error) {
	token, err := parseUnverified(rawToken)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid or missing claims")
	}
	unixTs, ok := claims["exp"].(float64)
	if !ok {
		return nil, fmt.Errorf("invalid or missing 'exp' claim: %+v", claims)
	}
	tm := time.Unix(int64(unixTs), 0)
	return &tm, nil
}

func parseUnverified(rawToken string) (*jwt.Token, error) {
	token, _, err := new(jwt.Parser).ParseUnverified(rawToken, jwt.MapClaims{})
	return token, err
}

// lastSix returns the last six digits of a serial number, the default
// local password on pre-token firmware.
func lastSix(serial string) string {
	if len(serial) <= 6 {
		return serial
	}
	return serial[len(serial)-6:]
}

package webhook

import (
	"crypto/subtle"
)

const modeSubscribe = "subscribe"

// VerifySubscription answers the provider's GET handshake. It returns the
// challenge to echo when mode is "subscribe" and token matches expected.
func VerifySubscription(mode, token, challenge, expected string) (string, bool) {
	if mode != modeSubscribe || expected == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return "", false
	}
	return challenge, true
}

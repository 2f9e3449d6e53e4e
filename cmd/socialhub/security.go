package main

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"socialhub/internal/constants"
)

var (
	errMissingSignature = errors.New("missing signature header")
	errSignatureFormat  = errors.New("invalid signature format")
	errSignatureInvalid = errors.New("signature mismatch")
	errSecretRequired   = errors.New("webhook app secret is required in production mode")
)

// verifySignature reads the body and checks the sha256 HMAC carried in
// X-Hub-Signature-256. An empty secret skips the check outside production.
// The body is restored on the request so it can be decoded afterwards.
func verifySignature(r *http.Request, appSecret string) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	if appSecret == "" {
		if isProduction() {
			return nil, errSecretRequired
		}
		return body, nil
	}

	header := r.Header.Get(constants.WebhookSignatureHeader)
	if header == "" {
		return nil, errMissingSignature
	}
	algo, sig, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(algo, "sha256") {
		return nil, errSignatureFormat
	}
	expected, err := hex.DecodeString(sig)
	if err != nil {
		return nil, errSignatureFormat
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return nil, errSignatureInvalid
	}
	return body, nil
}

func isProduction() bool {
	return os.Getenv("SOCIALHUB_ENV") == "production"
}

// apiKeyFromRequest accepts "Authorization: Bearer <key>" or X-API-Key
func apiKeyFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		scheme, token, ok := strings.Cut(auth, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get("X-API-Key"))
}

func validAPIKey(got, want string) bool {
	if want == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

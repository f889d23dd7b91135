// Package crypto provides HMAC authentication for collaborator APIs,
// encrypted-at-rest secret storage, and signature-based caller
// identification for the public marketplace API.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"strconv"
	"time"
)

// HMACAuth holds the credentials for HMAC-authenticated requests against the
// custody registry and payment gateway.
type HMACAuth struct {
	Key    string // API key
	Secret string // API secret
}

// Headers returns the HTTP headers for an authenticated collaborator
// request. The signature is HMAC-SHA256(secret, timestamp+method+path+body)
// encoded as base64.
//
// Returned header keys:
//   - GAVEL-API-KEY
//   - GAVEL-TIMESTAMP
//   - GAVEL-SIGNATURE
func (h *HMACAuth) Headers(method, path, body string) map[string]string {
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	message := ts + method + path + body
	sig := hmacSHA256Base64([]byte(h.Secret), message)

	return map[string]string{
		"GAVEL-API-KEY":   h.Key,
		"GAVEL-TIMESTAMP": ts,
		"GAVEL-SIGNATURE": sig,
	}
}

// Verify checks a signature produced by Headers against the same inputs.
// Comparison is constant-time.
func (h *HMACAuth) Verify(ts, method, path, body, signature string) bool {
	want := hmacSHA256Base64([]byte(h.Secret), ts+method+path+body)
	return subtle.ConstantTimeCompare([]byte(want), []byte(signature)) == 1
}

// hmacSHA256Base64 computes HMAC-SHA256 over message and returns the digest
// base64-encoded.
func hmacSHA256Base64(secret []byte, message string) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(message))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

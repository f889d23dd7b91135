package middleware

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gavelmarket/gavel/internal/crypto"
	"github.com/gavelmarket/gavel/internal/domain"
)

// Request signature headers. Clients sign each request with their secp256k1
// key; the server recovers the signer address and uses it as the caller
// identity for every ownership check.
const (
	HeaderSignature = "X-Gavel-Signature"
	HeaderTimestamp = "X-Gavel-Timestamp"
)

// defaultSignatureSkew bounds how stale a signed timestamp may be when no
// skew is configured, limiting replay of captured requests.
const defaultSignatureSkew = 5 * time.Minute

type callerKey struct{}

// CallerFrom returns the authenticated caller account stored by SigAuth.
func CallerFrom(ctx context.Context) (domain.Account, bool) {
	acct, ok := ctx.Value(callerKey{}).(domain.Account)
	return acct, ok
}

// SigAuth returns middleware that recovers the caller identity from the
// request signature headers and stores it in the request context. Requests
// without signature headers pass through unauthenticated; handlers that need
// a caller reject those. Requests with invalid or stale signatures are
// rejected outright. A non-positive maxSkew falls back to the default.
func SigAuth(logger *slog.Logger, maxSkew time.Duration) func(http.Handler) http.Handler {
	if maxSkew <= 0 {
		maxSkew = defaultSignatureSkew
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(HeaderSignature)
			ts := r.Header.Get(HeaderTimestamp)
			if sig == "" && ts == "" {
				next.ServeHTTP(w, r)
				return
			}
			if sig == "" || ts == "" {
				writeAuthError(w, "both signature and timestamp headers are required")
				return
			}

			unix, err := strconv.ParseInt(ts, 10, 64)
			if err != nil {
				writeAuthError(w, "malformed timestamp header")
				return
			}
			if skew := time.Since(time.Unix(unix, 0)); skew > maxSkew || skew < -maxSkew {
				writeAuthError(w, "signature timestamp outside accepted window")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
			if err != nil {
				writeAuthError(w, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			addr, err := crypto.RecoverAccount(sig, ts, r.Method, r.URL.Path, body)
			if err != nil {
				logger.Warn("request signature rejected",
					slog.String("path", r.URL.Path), slog.String("error", err.Error()))
				writeAuthError(w, "invalid request signature")
				return
			}

			caller, err := domain.ParseAccount(addr)
			if err != nil {
				writeAuthError(w, "invalid signer address")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), callerKey{}, caller)))
		})
	}
}

// writeAuthError sends a 401 response with a JSON error body.
func writeAuthError(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + msg + `"}`))
}

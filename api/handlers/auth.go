package handlers

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/mr-tron/base58"

	"github.com/aspis-finance/treasury/api/metrics"
	"github.com/aspis-finance/treasury/vault/pkg/vault"
)

const (
	HeaderActor     = "X-Treasury-Actor"
	HeaderTimestamp = "X-Treasury-Timestamp"
	HeaderSignature = "X-Treasury-Signature"

	maxBodyBytes = 1 << 20
)

type contextKey string

const actorContextKey contextKey = "treasury-actor"

// ActorFromContext returns the authenticated actor set by the Authenticated
// middleware.
func ActorFromContext(ctx context.Context) (vault.Address, bool) {
	actor, ok := ctx.Value(actorContextKey).(vault.Address)
	return actor, ok
}

// SignRequest computes the signature payload for a request. Clients sign
// this with their ed25519 private key and send it base64-encoded in the
// signature header. Exported so test and CLI clients stay in lockstep with
// the verifier.
func SignRequest(method, path, timestamp string, body []byte) []byte {
	bodyHash := sha256.Sum256(body)
	msg := fmt.Sprintf("%s\n%s\n%s\n%s", method, path, timestamp, hex.EncodeToString(bodyHash[:]))
	return []byte(msg)
}

// Authenticated verifies the request signature and stores the actor address
// in the request context. The actor header carries a base58-encoded ed25519
// public key, which doubles as the actor's address.
func (a *API) Authenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actorHeader := r.Header.Get(HeaderActor)
		if actorHeader == "" {
			a.authReject(w, "missing_actor", "missing "+HeaderActor+" header")
			return
		}
		pubkeyBytes, err := base58.Decode(actorHeader)
		if err != nil || len(pubkeyBytes) != ed25519.PublicKeySize {
			a.authReject(w, "bad_actor", "invalid actor public key")
			return
		}
		actor, err := vault.AddressFromBytes(pubkeyBytes)
		if err != nil {
			a.authReject(w, "bad_actor", "invalid actor address")
			return
		}

		if a.cfg.AllowUnsigned {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorContextKey, actor)))
			return
		}

		tsHeader := r.Header.Get(HeaderTimestamp)
		sigHeader := r.Header.Get(HeaderSignature)
		if tsHeader == "" || sigHeader == "" {
			a.authReject(w, "missing_signature", "missing signature headers")
			return
		}

		tsUnix, err := strconv.ParseInt(tsHeader, 10, 64)
		if err != nil {
			a.authReject(w, "bad_timestamp", "invalid timestamp")
			return
		}
		skew := time.Since(time.Unix(tsUnix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > a.cfg.MaxClockSkew {
			a.authReject(w, "stale_timestamp", "request timestamp outside allowed window")
			return
		}

		sig, err := base64.StdEncoding.DecodeString(sigHeader)
		if err != nil || len(sig) != ed25519.SignatureSize {
			a.authReject(w, "bad_signature", "invalid signature encoding")
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			a.authReject(w, "bad_body", "failed to read request body")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		msg := SignRequest(r.Method, r.URL.Path, tsHeader, body)
		if !ed25519.Verify(ed25519.PublicKey(pubkeyBytes), msg, sig) {
			a.authReject(w, "verify_failed", "signature verification failed")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), actorContextKey, actor)))
	})
}

func (a *API) authReject(w http.ResponseWriter, reason, msg string) {
	metrics.AuthFailuresTotal.WithLabelValues(reason).Inc()
	a.writeJSON(w, http.StatusUnauthorized, errorResponse{Error: msg})
}

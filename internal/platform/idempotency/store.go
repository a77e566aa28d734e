package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"
)

// DefaultTTL bounds how long a stored response stays replayable.
const DefaultTTL = 24 * time.Hour

// ErrFingerprintMismatch flags a key reused for a different request.
var ErrFingerprintMismatch = errors.New("idempotency: key reused for a different request")

// ClaimState describes who owns an idempotency key after a claim attempt.
type ClaimState int

const (
	// ClaimAccepted means the caller now holds the key and should run the handler.
	ClaimAccepted ClaimState = iota
	// ClaimReplay means a stored response exists and should be returned as-is.
	ClaimReplay
	// ClaimInFlight means another request holds the key and has not finished.
	ClaimInFlight
)

// Record is the persisted state behind one idempotency key.
type Record struct {
	Key             string
	Fingerprint     string
	Stored          bool
	ResponseStatus  int
	ResponseHeaders map[string][]string
	ResponseBody    []byte
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ExpiresAt       time.Time
}

// Claim is the outcome of claiming a key.
type Claim struct {
	State  ClaimState
	Record Record
}

// Response is the handler output captured for replay.
type Response struct {
	Status  int
	Headers http.Header
	Body    []byte
}

// Store persists idempotency claims and their captured responses. The
// first request under a key claims it; duplicates replay or wait.
type Store interface {
	Claim(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Claim, error)
	Complete(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error
	Forget(ctx context.Context, key, fingerprint string) error
	PurgeExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// recordID keeps arbitrary caller keys safe to use as document ids.
func recordID(key string) string {
	return hashHex([]byte(strings.TrimSpace(key)))
}

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// storableHeaders drops transport-level headers that must not be
// replayed against a later connection.
func storableHeaders(header http.Header) map[string][]string {
	if len(header) == 0 {
		return nil
	}

	kept := make(map[string][]string, len(header))
	for name, values := range header {
		canonical := http.CanonicalHeaderKey(name)
		if skipStoredHeader(canonical) {
			continue
		}
		kept[canonical] = append([]string(nil), values...)
	}
	if len(kept) == 0 {
		return nil
	}
	return kept
}

func skipStoredHeader(name string) bool {
	switch strings.ToLower(name) {
	case "content-length", "date", "connection", "keep-alive",
		"proxy-authenticate", "proxy-authorization", "te", "trailers",
		"transfer-encoding", "upgrade":
		return true
	}
	return false
}

func restoreHeaders(values map[string][]string) http.Header {
	header := make(http.Header, len(values))
	for name, vals := range values {
		header[name] = append([]string(nil), vals...)
	}
	return header
}

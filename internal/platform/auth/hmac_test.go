package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newSignedRequest(t *testing.T, secret, path, body string, at time.Time) *http.Request {
	t.Helper()
	timestamp := at.UTC().Format(time.RFC3339)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set(defaultTimestampHeader, timestamp)
	req.Header.Set(defaultSignatureHeader, SignRequest(secret, http.MethodPost, path, timestamp, []byte(body)))
	return req
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestRequireHMACAcceptsValidSignature(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	validator := NewHMACValidator(func(key string) (string, bool) {
		if key == "nzpost" {
			return "topsecret", true
		}
		return "", false
	}, WithHMACClock(fixedClock(now)))

	called := false
	handler := validator.RequireHMAC(func(*http.Request) string { return "NZPOST" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			w.WriteHeader(http.StatusNoContent)
		}),
	)

	req := newSignedRequest(t, "topsecret", "/webhooks/carriers/nzpost", `{"event":"delivered"}`, now)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("expected handler to be invoked")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestRequireHMACRejectsBadSignature(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	validator := NewHMACValidator(func(string) (string, bool) {
		return "topsecret", true
	}, WithHMACClock(fixedClock(now)))

	handler := validator.RequireHMAC(func(*http.Request) string { return "nzpost" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run for a forged signature")
		}),
	)

	req := newSignedRequest(t, "wrongsecret", "/webhooks/carriers/nzpost", `{"event":"delivered"}`, now)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestRequireHMACRejectsStaleTimestamp(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	validator := NewHMACValidator(func(string) (string, bool) {
		return "topsecret", true
	}, WithHMACClock(fixedClock(now)), WithHMACClockSkew(time.Minute))

	handler := validator.RequireHMAC(func(*http.Request) string { return "nzpost" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run for a stale timestamp")
		}),
	)

	req := newSignedRequest(t, "topsecret", "/webhooks/carriers/nzpost", "{}", now.Add(-10*time.Minute))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

func TestRequireHMACRejectsUnknownSender(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	validator := NewHMACValidator(func(string) (string, bool) {
		return "", false
	}, WithHMACClock(fixedClock(now)))

	handler := validator.RequireHMAC(func(*http.Request) string { return "mystery" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler must not run for an unknown sender")
		}),
	)

	req := newSignedRequest(t, "topsecret", "/webhooks/carriers/mystery", "{}", now)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
}

package idempotency

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

var storeNow = time.Date(2025, time.March, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return storeNow }

func doGuarded(t *testing.T, handler http.Handler, key, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Idempotency-Key", key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func errorCode(t *testing.T, payload []byte) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(payload, &body); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return body.Error
}

func TestIdempotencyRequiresKey(t *testing.T) {
	called := false
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))

	rec := doGuarded(t, handler, "", `{"buyer_id":"user_kea"}`)
	if called {
		t.Fatal("handler ran without an idempotency key")
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "idempotency_key_required" {
		t.Fatalf("error code %q", code)
	}
}

func TestIdempotencySkipsReadRequests(t *testing.T) {
	called := false
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("called=%v status=%d", called, rec.Code)
	}
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	calls := 0
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"order":{"id":"ord_01ABC"}}`))
	}))

	first := doGuarded(t, handler, "key-01", `{"buyer_id":"user_kea"}`)
	if first.Code != http.StatusCreated || calls != 1 {
		t.Fatalf("first call: status=%d calls=%d", first.Code, calls)
	}

	second := doGuarded(t, handler, "key-01", `{"buyer_id":"user_kea"}`)
	if calls != 1 {
		t.Fatalf("duplicate reran the handler, calls=%d", calls)
	}
	if second.Code != http.StatusCreated {
		t.Fatalf("replay status %d", second.Code)
	}
	if second.Header().Get("X-Idempotent-Replay") != "true" {
		t.Fatal("replay marker header missing")
	}
	if second.Header().Get("Content-Type") != "application/json" {
		t.Fatalf("replayed content type %q", second.Header().Get("Content-Type"))
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body %q, want %q", second.Body.String(), first.Body.String())
	}
}

func TestIdempotencyKeyReuseConflicts(t *testing.T) {
	handler := Middleware(NewMemoryStore(), WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	if rec := doGuarded(t, handler, "key-02", `{"buyer_id":"user_kea"}`); rec.Code != http.StatusOK {
		t.Fatalf("first request status %d", rec.Code)
	}

	rec := doGuarded(t, handler, "key-02", `{"buyer_id":"user_tui"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "idempotency_key_conflict" {
		t.Fatalf("error code %q", code)
	}
}

func TestIdempotencyInFlightConflicts(t *testing.T) {
	store := NewMemoryStore()
	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatal("handler must not run while the key is in flight")
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", bytes.NewBufferString(`{"buyer_id":"user_kea"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", "key-03")

	body, err := bufferRequestBody(req)
	if err != nil {
		t.Fatalf("buffer body: %v", err)
	}
	identity := requesterIdentity(req.Context())
	fingerprint := requestDigest(req, body, identity)
	if _, err := store.Claim(req.Context(), scopeKey("key-03", identity), fingerprint, storeNow, time.Hour); err != nil {
		t.Fatalf("seed claim: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "idempotency_in_progress" {
		t.Fatalf("error code %q", code)
	}
}

func TestIdempotencyStoreFailureReleasesClaim(t *testing.T) {
	store := &failingStore{failComplete: true}
	handler := Middleware(store, WithClock(fixedClock))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("ok"))
	}))

	rec := doGuarded(t, handler, "key-04", `{"buyer_id":"user_kea"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status %d", rec.Code)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "idempotency_store_error" {
		t.Fatalf("error code %q", code)
	}
	if !store.forgot {
		t.Fatal("claim was not released after the store failure")
	}
}

func TestMemoryStoreExpiredKeyIsReclaimable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Claim(ctx, "key-05", "fp", storeNow, time.Minute); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := store.Complete(ctx, "key-05", "fp", Response{Status: http.StatusOK}, storeNow, time.Minute); err != nil {
		t.Fatalf("complete: %v", err)
	}

	later := storeNow.Add(2 * time.Minute)
	claim, err := store.Claim(ctx, "key-05", "fp", later, time.Minute)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if claim.State != ClaimAccepted {
		t.Fatalf("state %v, want accepted after expiry", claim.State)
	}
}

type failingStore struct {
	failComplete bool
	forgot       bool
}

func (s *failingStore) Claim(context.Context, string, string, time.Time, time.Duration) (Claim, error) {
	return Claim{State: ClaimAccepted}, nil
}

func (s *failingStore) Complete(context.Context, string, string, Response, time.Time, time.Duration) error {
	if s.failComplete {
		return errors.New("backend unavailable")
	}
	return nil
}

func (s *failingStore) Forget(context.Context, string, string) error {
	s.forgot = true
	return nil
}

func (s *failingStore) PurgeExpired(context.Context, time.Time, int) (int, error) {
	return 0, nil
}

package signer

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"healthy":true,"epoch":3}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	status, err := c.Health(t.Context())
	if err != nil {
		t.Fatalf("Health() error: %v", err)
	}
	if !status.Healthy || status.Epoch != 3 {
		t.Errorf("Health() = %+v, want healthy=true epoch=3", status)
	}
}

func TestClientHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 5*time.Second)
	_, err := c.Health(t.Context())
	if err == nil {
		t.Fatal("expected error from 500 response")
	}
	if !IsUnreachable(err) {
		t.Errorf("expected IsUnreachable(err) to be true, got %v", err)
	}
}

func TestClientSignBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/republish" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"ipnsName":"k51q...","success":true,"newSequenceNumber":"6"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "s3cret", 5*time.Second)
	prev := 1
	results, err := c.SignBatch(t.Context(), []BatchEntry{
		{
			EncryptedIPNSKey: []byte("sealed"),
			KeyEpoch:         1,
			IPNSName:         "k51q...",
			LatestCID:        "bafy...",
			SequenceNumber:   "5",
			CurrentEpoch:     2,
			PreviousEpoch:    &prev,
		},
	})
	if err != nil {
		t.Fatalf("SignBatch() error: %v", err)
	}
	if len(results) != 1 || !results[0].Success || results[0].NewSequenceNumber != "6" {
		t.Errorf("SignBatch() = %+v, want one successful result with seq 6", results)
	}
}

func TestClientBearerAuth(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"healthy":true,"epoch":1}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "s3cret", 5*time.Second)
	if _, err := c.Health(t.Context()); err != nil {
		t.Fatalf("Health() error: %v", err)
	}
	if gotAuth != "Bearer s3cret" {
		t.Errorf("Authorization header = %q, want %q", gotAuth, "Bearer s3cret")
	}
}

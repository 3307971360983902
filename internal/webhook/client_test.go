package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type record struct {
	Code string `json:"code"`
}

func TestWebhookSend(t *testing.T) {
	secret := "my-secret"

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		body, _ := io.ReadAll(r.Body)
		var p struct {
			Timestamp int64    `json:"timestamp"`
			Records   []record `json:"records"`
		}
		assert.NoError(t, json.Unmarshal(body, &p))
		assert.Equal(t, []record{{Code: "ABC"}}, p.Records)
		assert.NotZero(t, p.Timestamp)

		assert.Equal(t, Sign([]byte(secret), body), r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(Config{URL: ts.URL, Secret: secret})
	assert.NoError(t, client.Send(context.Background(), []record{{Code: "ABC"}}))
}

func TestWebhook_NoSecretNoSignature(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	assert.NoError(t, NewClient(Config{URL: ts.URL}).Send(context.Background(), []record{}))
}

func TestWebhook_Retry(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(Config{
		URL:            ts.URL,
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})

	assert.NoError(t, client.Send(context.Background(), []record{{Code: "A"}}))
	assert.Equal(t, int32(2), atomic.LoadInt32(&attempts))
}

func TestWebhook_GivesUpAfterMaxAttempts(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	client := NewClient(Config{URL: ts.URL, MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond})
	err := client.Send(context.Background(), []record{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), atomic.LoadInt32(&attempts))
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	var attempts int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(Config{URL: ts.URL, MaxAttempts: 5, InitialBackoff: time.Millisecond})
	err := client.Send(context.Background(), []record{})
	assert.ErrorContains(t, err, "status 400")
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts))
}

func TestWebhook_ContextCancel(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewClient(Config{URL: ts.URL, MaxAttempts: 3})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.Send(ctx, []record{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerify(t *testing.T) {
	body := []byte(`{"records":[]}`)
	sig := Sign([]byte("secret"), body)

	assert.True(t, Verify([]byte("secret"), body, sig))
	assert.False(t, Verify([]byte("other"), body, sig))
	assert.False(t, Verify([]byte("secret"), []byte(`{}`), sig))
	assert.False(t, Verify([]byte("secret"), body, "not-hex"))
}

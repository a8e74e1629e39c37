package queue

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDispatcherEnqueue(t *testing.T) {
	// Given a queue service capturing publishes
	var mu sync.Mutex
	var gotPath, gotAuth string
	var gotMsg Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		gotPath = r.URL.EscapedPath()
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotMsg))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(HTTPDispatcherConfig{
		PublishURL: srv.URL + "/v2/publish",
		WorkerURL:  "https://worker.example.com/api/worker/step",
		Token:      "qtoken",
	})

	// When enqueuing a batch
	err := d.Enqueue(context.Background(), "j1", []string{"a", "b"})

	// Then the message lands at publish/{escaped worker url} with auth
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "Bearer qtoken", gotAuth)
	assert.True(t, strings.HasPrefix(gotPath, "/v2/publish/"))
	assert.Contains(t, gotPath, url.QueryEscape("https://worker.example.com/api/worker/step"))
	assert.Equal(t, "j1", gotMsg.JobID)
	assert.Equal(t, []string{"a", "b"}, gotMsg.ItemIDs)
}

func TestHTTPDispatcherServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(HTTPDispatcherConfig{
		PublishURL: srv.URL,
		WorkerURL:  "https://worker.example.com/step",
	})

	err := d.Enqueue(context.Background(), "j1", []string{"a"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestHTTPDispatcherPacing(t *testing.T) {
	// Given a dispatcher paced to 20 publishes per second
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(HTTPDispatcherConfig{
		PublishURL:       srv.URL,
		WorkerURL:        "https://worker.example.com/step",
		PublishPerSecond: 20,
	})

	// When publishing three batches back to back
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Enqueue(context.Background(), "j1", []string{"a"}))
	}

	// Then the second and third waited for their tokens
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestNopDispatcher(t *testing.T) {
	assert.NoError(t, NewNop().Enqueue(context.Background(), "j1", []string{"a"}))
}

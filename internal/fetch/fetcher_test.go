package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFetcher(ua string) *Fetcher {
	log, _ := test.NewNullLogger()
	return New(context.Background(), Options{UserAgent: ua, Timeout: 5 * time.Second}, log)
}

func TestGet_SendsUserAgent(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("hello"))
	}))
	defer server.Close()

	f := newTestFetcher("retrospect-test/1.0")
	resp, err := f.Get(context.Background(), server.URL+"/page")
	require.NoError(t, err)

	assert.Equal(t, "retrospect-test/1.0", gotUA)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, resp.OK())
	assert.Equal(t, "hello", string(resp.Body))
	assert.Equal(t, "text/plain", resp.Header.Get("Content-Type"))
}

func TestGet_ReturnsErrorStatusAsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	f := newTestFetcher("UA")
	resp, err := f.Get(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.False(t, resp.OK())
}

func TestGet_SameURLTwice(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	f := newTestFetcher("UA")
	for i := 0; i < 2; i++ {
		_, err := f.Get(context.Background(), server.URL)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, hits)
}

func TestGet_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	f := newTestFetcher("UA")
	_, err := f.Get(context.Background(), url)
	assert.Error(t, err)
}

func TestGet_CancelledContext(t *testing.T) {
	log, _ := test.NewNullLogger()
	f := New(context.Background(), Options{RequestsPerSecond: 0.001}, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Get(ctx, "http://127.0.0.1:1/")
	assert.Error(t, err)
}

func TestStatusError(t *testing.T) {
	err := &StatusError{URL: "http://x/", StatusCode: 503}
	assert.Contains(t, err.Error(), "503")
}

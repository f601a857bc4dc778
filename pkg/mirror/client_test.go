package mirror

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	header http.Header
	body   []byte
}

func recordingServer(t *testing.T, status int) (*httptest.Server, func() []recordedRequest) {
	t.Helper()
	var mu sync.Mutex
	var requests []recordedRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		mu.Lock()
		requests = append(requests, recordedRequest{
			method: r.Method,
			path:   r.URL.Path,
			header: r.Header.Clone(),
			body:   body,
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	return srv, func() []recordedRequest {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedRequest(nil), requests...)
	}
}

func TestNewClient_InvalidBaseURL(t *testing.T) {
	_, err := NewClient("", nil)
	assert.ErrorIs(t, err, ErrInvalidBaseURL)

	_, err = NewClient("not-a-url", nil)
	assert.ErrorIs(t, err, ErrInvalidBaseURL)

	_, err = NewClient("http://collector.local:9090", nil)
	assert.NoError(t, err)
}

func TestClient_PostBody(t *testing.T) {
	srv, recorded := recordingServer(t, http.StatusOK)
	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)
	defer c.Close()

	headers := http.Header{}
	headers.Set("Content-Type", "text/plain")
	headers.Set("X-Labels", `{"app":"test"}`)

	err = c.PostBody(context.Background(), "/body", headers, strings.NewReader("[/dummy response]"))
	require.NoError(t, err)

	reqs := recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, http.MethodPost, reqs[0].method)
	assert.Equal(t, "/body", reqs[0].path)
	assert.Equal(t, "text/plain", reqs[0].header.Get("Content-Type"))
	assert.Equal(t, `{"app":"test"}`, reqs[0].header.Get("X-Labels"))
	assert.Equal(t, "[/dummy response]", string(reqs[0].body))
}

func TestClient_PostBody_StreamsFromPipe(t *testing.T) {
	srv, recorded := recordingServer(t, http.StatusCreated)
	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)
	defer c.Close()

	pr, pw := io.Pipe()
	go func() {
		pw.Write([]byte("chunk-one "))
		pw.Write([]byte("chunk-two"))
		pw.Close()
	}()

	err = c.PostBody(context.Background(), "/body", nil, pr)
	require.NoError(t, err)

	reqs := recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "chunk-one chunk-two", string(reqs[0].body))
}

func TestClient_PostMeta(t *testing.T) {
	srv, recorded := recordingServer(t, http.StatusOK)
	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)
	defer c.Close()

	headers := http.Header{}
	headers.Set("Content-Type", "application/json")

	err = c.PostMeta(context.Background(), "/meta", headers, []byte(`{"timestamp":1}`))
	require.NoError(t, err)

	reqs := recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/meta", reqs[0].path)
	assert.Equal(t, "application/json", reqs[0].header.Get("Content-Type"))
	assert.JSONEq(t, `{"timestamp":1}`, string(reqs[0].body))
}

func TestClient_NonSuccessStatus(t *testing.T) {
	srv, _ := recordingServer(t, http.StatusInternalServerError)
	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)
	defer c.Close()

	err = c.PostMeta(context.Background(), "/meta", nil, []byte(`{}`))
	assert.ErrorIs(t, err, ErrCollectorStatus)
}

func TestClient_ContextCancellationAbortsBody(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-release
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})

	c, err := NewClient(srv.URL, nil)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	pr, pw := io.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- c.PostBody(ctx, "/body", nil, pr)
	}()

	pw.Write([]byte("partial"))
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrDelivery)
	case <-time.After(5 * time.Second):
		t.Fatal("PostBody did not return after cancellation")
	}
	pw.Close()
}

func TestClient_TrailingSlashBase(t *testing.T) {
	srv, recorded := recordingServer(t, http.StatusOK)
	c, err := NewClient(srv.URL+"/", nil)
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.PostMeta(context.Background(), "/meta", nil, []byte(`{}`)))

	reqs := recorded()
	require.Len(t, reqs, 1)
	assert.Equal(t, "/meta", reqs[0].path)
}

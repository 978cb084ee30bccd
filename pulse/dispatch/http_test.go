package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/internal/httpclient"
	"github.com/teranos/cadence/pulse/schedule"
)

func newHTTPStrategy(t *testing.T) *HTTPStrategy {
	return NewHTTPStrategy(httpclient.New(httpclient.Options{Timeout: 2 * time.Second}), zaptest.NewLogger(t).Sugar())
}

func httpPayload(t *testing.T, p HTTPPayload) json.RawMessage {
	b, err := json.Marshal(p)
	require.NoError(t, err)
	return b
}

func TestHTTPStrategy_GetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "abc", r.Header.Get("X-Token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"healthy":true}`))
	}))
	defer srv.Close()

	out, err := newHTTPStrategy(t).Execute(context.Background(),
		httpPayload(t, HTTPPayload{URL: srv.URL, Headers: map[string]string{"X-Token": "abc"}}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"healthy":true}`, string(out))
}

func TestHTTPStrategy_PostBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"n":7}`, string(body))
		_, _ = w.Write([]byte("accepted"))
	}))
	defer srv.Close()

	out, err := newHTTPStrategy(t).Execute(context.Background(),
		httpPayload(t, HTTPPayload{URL: srv.URL, Method: "post", Body: json.RawMessage(`{"n":7}`)}))
	require.NoError(t, err)
	assert.Equal(t, `"accepted"`, string(out), "non-JSON body is wrapped as a string")
}

func TestHTTPStrategy_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("maintenance"))
	}))
	defer srv.Close()

	_, err := newHTTPStrategy(t).Execute(context.Background(), httpPayload(t, HTTPPayload{URL: srv.URL}))
	var remote *schedule.RemoteCallError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusServiceUnavailable, remote.StatusCode)
	assert.Equal(t, "maintenance", remote.Body)
	assert.True(t, schedule.IsRetryable(err))
}

func TestHTTPStrategy_BadPayload(t *testing.T) {
	s := newHTTPStrategy(t)

	_, err := s.Execute(context.Background(), json.RawMessage(`{}`))
	assert.Equal(t, "execution", schedule.ErrorType(err))

	_, err = s.Execute(context.Background(), json.RawMessage(`[1,2`))
	assert.Equal(t, "execution", schedule.ErrorType(err))
}

func TestHTTPStrategy_ContextCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newHTTPStrategy(t).Execute(ctx, httpPayload(t, HTTPPayload{URL: srv.URL}))
	require.Error(t, err)
	assert.Equal(t, "execution", schedule.ErrorType(err))
}

package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateURL(t *testing.T) {
	strict := New(Options{Timeout: time.Second, BlockPrivateIP: true})
	open := New(Options{Timeout: time.Second})

	tests := []struct {
		name    string
		client  *SaferClient
		url     string
		wantErr string
	}{
		{"public https", strict, "https://example.com/hook", ""},
		{"ftp scheme", strict, "ftp://example.com/file", "not allowed"},
		{"userinfo", strict, "http://evil.com@localhost/", "userinfo"},
		{"missing host", strict, "http:///path", "missing hostname"},
		{"localhost blocked", strict, "http://localhost:8080/", "localhost"},
		{"sub.localhost blocked", strict, "http://api.localhost/", "localhost"},
		{"loopback blocked", strict, "http://127.0.0.1/", "private IP"},
		{"rfc1918 blocked", strict, "http://10.1.2.3/", "private IP"},
		{"ipv6 loopback blocked", strict, "http://[::1]/", "private IP"},
		{"localhost allowed when open", open, "http://localhost:8080/", ""},
		{"private allowed when open", open, "http://192.168.1.1/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.client.ValidateURL(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{"10.0.0.1", "172.16.5.4", "192.168.0.10", "127.0.0.1", "169.254.1.1",
		"0.1.2.3", "224.0.0.1", "250.1.1.1", "::1", "fe80::1", "fd00::1", "fec0::1", "::"}
	public := []string{"8.8.8.8", "1.1.1.1", "2606:4700:4700::1111"}

	for _, s := range private {
		assert.True(t, isPrivateIP(net.ParseIP(s)), s)
	}
	for _, s := range public {
		assert.False(t, isPrivateIP(net.ParseIP(s)), s)
	}
}

func TestDo(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	t.Run("open client reaches local server", func(t *testing.T) {
		client := New(Options{Timeout: time.Second})
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("strict client refuses local server", func(t *testing.T) {
		client := New(Options{Timeout: time.Second, BlockPrivateIP: true})
		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)

		_, err = client.Do(req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "SSRF")
	})

	t.Run("rate limit wait honours context", func(t *testing.T) {
		client := New(Options{Timeout: time.Second, RequestsPerSecond: 0.001, Burst: 1})

		req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()

		// Burst exhausted; the next token is ~16 minutes away
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
		require.NoError(t, err)
		_, err = client.Do(req)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "rate limit")
	})
}

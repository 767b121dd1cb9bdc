package telegram

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakyTransport struct {
	failures int
	calls    int
	err      error
}

func (f *flakyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.err
	}
	return http.DefaultTransport.RoundTrip(req)
}

func dialError() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}
}

func TestHTTPClientRetriesDialErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	base := &flakyTransport{failures: 2, err: dialError()}
	client := BuildHTTPClient(HTTPClientOptions{RetryAttempts: 3, RetryBackoff: time.Millisecond, Base: base})

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, 3, base.calls)
}

func TestHTTPClientGivesUp(t *testing.T) {
	base := &flakyTransport{failures: 10, err: dialError()}
	client := BuildHTTPClient(HTTPClientOptions{RetryAttempts: 1, RetryBackoff: time.Millisecond, Base: base})

	_, err := client.Get("http://127.0.0.1:1/")
	require.Error(t, err)
	assert.Equal(t, 2, base.calls)
}

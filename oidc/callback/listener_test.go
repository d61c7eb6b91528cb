// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yhat/scrape"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

func TestListen(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		host      string
		ports     []int
		path      string
		wantHost  string
		wantPath  string
		wantErr   bool
		wantIsErr error
	}{
		{
			name:     "defaults",
			wantHost: "localhost",
			wantPath: DefaultPath,
		},
		{
			name:     "ipv4-loopback",
			host:     "127.0.0.1",
			path:     "/oauth/cb",
			wantHost: "127.0.0.1",
			wantPath: "/oauth/cb",
		},
		{
			name:      "not-loopback",
			host:      "example.com",
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "public-ip",
			host:      "8.8.8.8",
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "relative-path",
			path:      "callback",
			wantErr:   true,
			wantIsErr: ErrInvalidParameter,
		},
		{
			name:      "out-of-range-port",
			ports:     []int{70000},
			wantErr:   true,
			wantIsErr: ErrPortUnavailable,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			l, err := Listen(tt.host, tt.ports, tt.path)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			t.Cleanup(func() { _ = l.Close() })
			assert.NotZero(l.Port())
			assert.Equal(fmt.Sprintf("http://%s:%d%s", tt.wantHost, l.Port(), tt.wantPath), l.RedirectURL())
		})
	}
}

func TestListen_PortSet(t *testing.T) {
	t.Parallel()
	t.Run("first-free-port", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		busy := testBusyPort(t)
		free := testFreePort(t)

		l, err := Listen("localhost", []int{busy, free}, "")
		require.NoError(err)
		defer l.Close()
		assert.Equal(free, l.Port())
	})
	t.Run("all-ports-busy", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		busy := testBusyPort(t)

		l, err := Listen("localhost", []int{busy}, "")
		require.Error(err)
		assert.Nil(l)
		assert.Truef(errors.Is(err, ErrPortUnavailable), "wanted \"%s\" but got \"%s\"", ErrPortUnavailable, err)
	})
	t.Run("second-listener-same-port", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		first, err := Listen("localhost", nil, "")
		require.NoError(err)
		defer first.Close()

		_, err = Listen("localhost", []int{first.Port()}, "")
		require.Error(err)
		assert.True(errors.Is(err, ErrPortUnavailable))
	})
}

func TestListener_Result(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	l, err := Listen("localhost", nil, "/callback")
	require.NoError(err)
	defer l.Close()

	base := fmt.Sprintf("http://127.0.0.1:%d", l.Port())

	// stray browser requests are not delivered
	resp, err := http.Get(base + "/favicon.ico")
	require.NoError(err)
	resp.Body.Close()
	assert.Equal(http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(base + "/callback?code=abc123&state=st")
	require.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
	assert.Equal("no-store", resp.Header.Get("Cache-Control"))

	root, err := html.Parse(resp.Body)
	require.NoError(err)
	title, ok := scrape.Find(root, scrape.ByTag(atom.Title))
	require.True(ok)
	assert.Equal("Authentication Received", scrape.Text(title))

	select {
	case got := <-l.Result():
		assert.Equal(fmt.Sprintf("http://localhost:%d/callback?code=abc123&state=st", l.Port()), got)
	case <-time.After(5 * time.Second):
		require.FailNow("timed out waiting for callback url")
	}
}

func TestListener_AtMostOnce(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	var calls atomic.Int32
	l, err := Listen("localhost", nil, "", WithResponseFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, "ok")
	}))
	require.NoError(err)
	defer l.Close()

	// hold a keep-alive connection open so the second request reaches the
	// handler even though the listener shuts down after the first delivery.
	client := &http.Client{Transport: &http.Transport{MaxIdleConnsPerHost: 1}}
	target := fmt.Sprintf("http://127.0.0.1:%d/callback?code=first&state=st", l.Port())
	resp, err := client.Get(target)
	require.NoError(err)
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)

	resp, err = client.Get(fmt.Sprintf("http://127.0.0.1:%d/callback?code=second&state=st", l.Port()))
	if err == nil {
		resp.Body.Close()
		assert.Equal(http.StatusGone, resp.StatusCode)
	}

	got := <-l.Result()
	assert.Contains(got, "code=first")
	select {
	case extra := <-l.Result():
		assert.Failf("unexpected second delivery", "got %s", extra)
	default:
	}
	assert.Equal(int32(1), calls.Load())
}

func TestListener_Close(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	l, err := Listen("localhost", nil, "")
	require.NoError(err)
	port := l.Port()

	require.NoError(l.Close())
	// idempotent
	assert.NotPanics(func() { _ = l.Close() })

	// the port was released and can be bound again
	again, err := Listen("localhost", []int{port}, "")
	require.NoError(err)
	assert.Equal(port, again.Port())
	require.NoError(again.Close())
}

func TestListener_CloseIdleConnection(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		callback bool
	}{
		{name: "no-callback"},
		{name: "after-callback", callback: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert, require := assert.New(t), require.New(t)
			l, err := Listen("localhost", nil, "")
			require.NoError(err)
			addr := fmt.Sprintf("127.0.0.1:%d", l.Port())

			// a browser preconnect: the connection is opened but no request
			// is ever sent on it.
			idle, err := net.Dial("tcp", addr)
			require.NoError(err)
			defer idle.Close()

			if tt.callback {
				resp, err := http.Get("http://" + addr + "/callback?code=abc&state=st")
				require.NoError(err)
				resp.Body.Close()
				<-l.Result()
			}

			start := time.Now()
			require.NoError(l.Close())
			assert.Less(time.Since(start), time.Second)
		})
	}
}

// testBusyPort returns a port that's bound for the remainder of the test.
func testBusyPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })
	return ln.Addr().(*net.TCPAddr).Port
}

// testFreePort returns a port that was free at the time of the call.
func testFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	require.NoError(t, ln.Close())
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package callback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrPortUnavailable  = errors.New("no callback port available")
)

const (
	// DefaultPath is the callback path used when none is provided.
	DefaultPath = "/callback"

	// DefaultHost is the redirect host used when none is provided.
	DefaultHost = "localhost"

	// closeGracePeriod bounds how long Close waits for in-flight responses.
	// Idle connections, such as a browser's speculative preconnects, are
	// dropped once it passes.
	closeGracePeriod  = 250 * time.Millisecond
	readHeaderTimeout = 10 * time.Second
)

// Listener is a loopback http listener which receives exactly one oauth
// redirect.  The raw redirect URL (including its query) is delivered on the
// channel returned by Result() at most once; every later request to the
// callback path is rejected.
//
// Close must be called for every Listener created, which releases the socket.
type Listener struct {
	host   string
	path   string
	port   int
	logger hclog.Logger
	respFn ResponseFunc

	ln        net.Listener
	srv       *http.Server
	resultCh  chan string
	deliver   sync.Once
	closeOnce sync.Once
	serveDone chan struct{}
}

// Listen binds a loopback listener to the first available port from ports
// (a port of 0 means an ephemeral port chosen by the OS) and starts serving
// the callback path.  It returns ErrPortUnavailable when none of the ports
// can be bound.  Listen returns only after the socket is bound, so a redirect
// arriving right after it returns is never missed.
//
// Supported options: WithLogger, WithResponseFunc
func Listen(host string, ports []int, path string, opt ...Option) (*Listener, error) {
	const op = "callback.Listen"
	opts := getListenerOpts(opt...)
	if host == "" {
		host = DefaultHost
	}
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%s: path %q must start with /: %w", op, path, ErrInvalidParameter)
	}
	bindAddr, err := loopbackAddr(host)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(ports) == 0 {
		ports = []int{0}
	}

	var retErr *multierror.Error
	var ln net.Listener
	for _, p := range ports {
		if p < 0 || p > 65535 {
			retErr = multierror.Append(retErr, fmt.Errorf("port %d is out of range: %w", p, ErrInvalidParameter))
			continue
		}
		ln, err = net.Listen("tcp", net.JoinHostPort(bindAddr, strconv.Itoa(p)))
		if err != nil {
			retErr = multierror.Append(retErr, err)
			continue
		}
		break
	}
	if ln == nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrPortUnavailable, retErr.ErrorOrNil())
	}

	l := &Listener{
		host:      host,
		path:      path,
		port:      ln.Addr().(*net.TCPAddr).Port,
		logger:    opts.withLogger,
		respFn:    opts.withResponseFunc,
		ln:        ln,
		resultCh:  make(chan string, 1),
		serveDone: make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", l.handle)
	l.srv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	go func() {
		defer close(l.serveDone)
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("callback listener stopped", "error", err)
		}
	}()
	l.logger.Debug("callback listener started", "port", l.port, "path", l.path)
	return l, nil
}

// Port returns the port the listener is bound to.
func (l *Listener) Port() int { return l.port }

// RedirectURL returns the redirect URL served by the listener.
func (l *Listener) RedirectURL() string {
	return fmt.Sprintf("http://%s%s", net.JoinHostPort(strings.Trim(l.host, "[]"), strconv.Itoa(l.port)), l.path)
}

// Result returns the one-shot channel on which the redirect URL is delivered.
func (l *Listener) Result() <-chan string { return l.resultCh }

// Close stops the listener and releases its socket.  A response still being
// written to the browser is given a short grace period to complete, after
// which any remaining connection is closed.  It's safe to call Close more than
// once and from multiple go routines.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		l.srv.SetKeepAlivesEnabled(false)
		ctx, cancel := context.WithTimeout(context.Background(), closeGracePeriod)
		defer cancel()
		if shutdownErr := l.srv.Shutdown(ctx); shutdownErr != nil {
			if closeErr := l.srv.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
				err = closeErr
			}
		}
		<-l.serveDone
		l.logger.Debug("callback listener closed", "port", l.port)
	})
	return err
}

func (l *Listener) handle(w http.ResponseWriter, req *http.Request) {
	if req.URL.Path != l.path {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Referrer-Policy", "no-referrer")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	delivered := false
	l.deliver.Do(func() {
		delivered = true
		l.respFn(w, req)
		// the request's Host header is ignored, so the url reflects where the
		// redirect was actually received.
		l.resultCh <- fmt.Sprintf("http://%s%s", net.JoinHostPort(strings.Trim(l.host, "[]"), strconv.Itoa(l.port)), req.URL.RequestURI())
	})
	if !delivered {
		l.logger.Warn("ignoring additional callback request", "port", l.port)
		http.Error(w, "callback already received", http.StatusGone)
		return
	}
	go func() { _ = l.Close() }()
}

// loopbackAddr returns the address to bind for the redirect host, rejecting
// any host that is not a loopback host.
func loopbackAddr(host string) (string, error) {
	switch h := strings.Trim(host, "[]"); {
	case h == "localhost":
		return "127.0.0.1", nil
	default:
		ip := net.ParseIP(h)
		if ip == nil || !ip.IsLoopback() {
			return "", fmt.Errorf("host %q is not a loopback host: %w", host, ErrInvalidParameter)
		}
		return ip.String(), nil
	}
}

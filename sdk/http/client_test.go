// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"context"
	"encoding/pem"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestNewClient(t *testing.T) {
	t.Parallel()
	tlsSrv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(tlsSrv.Close)
	srvCA := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: tlsSrv.Certificate().Raw}))

	tests := []struct {
		name      string
		caPEM     string
		wantErr   bool
		wantIsErr error
		wantTLSOk bool
	}{
		{name: "system-roots"},
		{name: "provider-ca", caPEM: srvCA, wantTLSOk: true},
		{name: "bad-pem", caPEM: "not a cert", wantErr: true, wantIsErr: ErrInvalidCertificatePem},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c, err := NewClient(tt.caPEM)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				return
			}
			require.NoError(err)
			require.NotNil(c.CheckRedirect)
			if tt.wantTLSOk {
				resp, err := c.Get(tlsSrv.URL)
				require.NoError(err)
				resp.Body.Close()
				assert.Equal(http.StatusNoContent, resp.StatusCode)
			}
		})
	}
}

func TestNewClient_NoRedirects(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	var followed bool
	target := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		followed = true
	}))
	t.Cleanup(target.Close)
	redirector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Redirect(w, req, target.URL, http.StatusTemporaryRedirect)
	}))
	t.Cleanup(redirector.Close)

	c, err := NewClient("")
	require.NoError(err)
	resp, err := c.Post(redirector.URL, "application/x-www-form-urlencoded", nil)
	require.NoError(err)
	resp.Body.Close()
	assert.Equal(http.StatusTemporaryRedirect, resp.StatusCode)
	assert.False(followed)
}

func TestOidcClientContext(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	c, err := NewClient("")
	require.NoError(t, err)
	ctx := OidcClientContext(context.Background(), c)
	assert.Equal(c, ctx.Value(oauth2.HTTPClient))
}

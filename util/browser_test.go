// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package util

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenURL(t *testing.T) {
	// not parallel: swaps the package level startFn
	var started []string
	startErr := errors.New("no browser")
	var failStart bool
	orig := startFn
	startFn = func(input string) error {
		if failStart {
			return startErr
		}
		started = append(started, input)
		return nil
	}
	t.Cleanup(func() { startFn = orig })

	tests := []struct {
		name      string
		url       string
		failStart bool
		wantErr   bool
		wantIsErr error
	}{
		{name: "https", url: "https://idp.example.com/authorize?client_id=app&state=s"},
		{name: "http", url: "http://localhost:8080/authorize"},
		{name: "file-scheme", url: "file:///etc/passwd", wantErr: true, wantIsErr: ErrInvalidURL},
		{name: "relative", url: "/authorize", wantErr: true, wantIsErr: ErrInvalidURL},
		{name: "unparsable", url: "https://[::1", wantErr: true, wantIsErr: ErrInvalidURL},
		{name: "launch-failure", url: "https://idp.example.com", failStart: true, wantErr: true, wantIsErr: startErr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			started = nil
			failStart = tt.failStart
			err := OpenURL(tt.url)
			if tt.wantErr {
				require.Error(err)
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
				assert.Empty(started)
				return
			}
			require.NoError(err)
			assert.Equal([]string{tt.url}, started)
		})
	}
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package tokenstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/adrg/xdg"
	"github.com/hashicorp/cap-desktop/oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testToken() *oidc.Token {
	return &oidc.Token{
		AccessToken:  "access-secret",
		TokenType:    "Bearer",
		RefreshToken: "refresh-secret",
		IDToken:      "id-secret",
		Expiry:       time.Now().Add(time.Hour).Truncate(time.Second).UTC(),
	}
}

func TestFileStore_SaveLoadDelete(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "nested", "tokens")
	s := NewFileStore(WithDir(dir))
	assert.Equal(dir, s.Dir())
	key := Key("client", "https://idp.example.com/token/")
	assert.Equal("client@https://idp.example.com/token", key)

	_, err := s.Load(ctx, key)
	require.Error(err)
	assert.True(errors.Is(err, ErrNotFound))

	want := testToken()
	require.NoError(s.Save(ctx, key, want))
	got, err := s.Load(ctx, key)
	require.NoError(err)
	assert.Equal(want.AccessToken, got.AccessToken)
	assert.Equal(want.RefreshToken, got.RefreshToken)
	assert.Equal(want.IDToken, got.IDToken)
	assert.Equal(want.TokenType, got.TokenType)
	assert.True(want.Expiry.Equal(got.Expiry))

	// the file holds the secrets, not their redacted form
	raw, err := os.ReadFile(s.path(key))
	require.NoError(err)
	assert.Contains(string(raw), "access-secret")
	assert.NotContains(string(raw), oidc.RedactedAccessToken)

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(s.path(key))
		require.NoError(err)
		assert.Equal(os.FileMode(fileMode), fi.Mode().Perm())
		di, err := os.Stat(dir)
		require.NoError(err)
		assert.Equal(os.FileMode(dirMode), di.Mode().Perm())
	}

	// saving again replaces the token and leaves no temp files behind
	replacement := testToken()
	replacement.AccessToken = "rotated"
	require.NoError(s.Save(ctx, key, replacement))
	got, err = s.Load(ctx, key)
	require.NoError(err)
	assert.Equal(oidc.AccessToken("rotated"), got.AccessToken)
	entries, err := os.ReadDir(dir)
	require.NoError(err)
	require.Len(entries, 1)
	assert.False(strings.HasPrefix(entries[0].Name(), ".token-"))

	// other keys are independent
	other := Key("other-client", "https://idp.example.com/token")
	_, err = s.Load(ctx, other)
	assert.True(errors.Is(err, ErrNotFound))

	require.NoError(s.Delete(ctx, key))
	_, err = s.Load(ctx, key)
	assert.True(errors.Is(err, ErrNotFound))
	// deleting again is fine
	require.NoError(s.Delete(ctx, key))
}

func TestFileStore_errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	canceled, cancel := context.WithCancel(ctx)
	cancel()
	s := NewFileStore(WithDir(t.TempDir()))
	key := Key("client", "https://idp.example.com/token")

	tests := []struct {
		name    string
		fn      func() error
		wantErr error
	}{
		{"save-empty-key", func() error { return s.Save(ctx, "", testToken()) }, ErrInvalidParameter},
		{"save-nil-token", func() error { return s.Save(ctx, key, nil) }, ErrNilParameter},
		{"save-no-access-token", func() error { return s.Save(ctx, key, &oidc.Token{TokenType: "Bearer"}) }, ErrInvalidParameter},
		{"save-canceled", func() error { return s.Save(canceled, key, testToken()) }, context.Canceled},
		{"load-empty-key", func() error { _, err := s.Load(ctx, ""); return err }, ErrInvalidParameter},
		{"load-canceled", func() error { _, err := s.Load(canceled, key); return err }, context.Canceled},
		{"delete-empty-key", func() error { return s.Delete(ctx, "") }, ErrInvalidParameter},
		{"delete-canceled", func() error { return s.Delete(canceled, key) }, context.Canceled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			require.Error(t, err)
			assert.Truef(t, errors.Is(err, tt.wantErr), "wanted %q and got %q", tt.wantErr, err)
		})
	}
}

func TestFileStore_corrupt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewFileStore(WithDir(t.TempDir()))
	key := Key("client", "https://idp.example.com/token")
	require.NoError(t, s.Save(ctx, key, testToken()))

	tests := []struct {
		name    string
		content string
	}{
		{"not-json", "{"},
		{"other-key", `{"key":"someone-else","access_token":"at"}`},
		{"no-access-token", `{"key":"` + key + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(s.path(key), []byte(tt.content), fileMode))
			_, err := s.Load(ctx, key)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorrupt))
		})
	}
}

func TestRoot(t *testing.T) {
	t.Parallel()
	assert.Equal(t, filepath.Join("data", "cap-desktop", "tokens"), Root("data"))
	assert.Equal(t, Root(xdg.DataHome), DefaultRoot())
}

func TestConfigKey(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		config *oidc.Config
		want   string
	}{
		{
			name:   "issuer",
			config: &oidc.Config{ClientID: "client", Issuer: "https://idp.example.com/"},
			want:   "client@https://idp.example.com",
		},
		{
			name:   "issuer-after-discovery",
			config: &oidc.Config{ClientID: "client", Issuer: "https://idp.example.com", TokenURL: "https://idp.example.com/oauth2/token"},
			want:   "client@https://idp.example.com",
		},
		{
			name:   "token-url",
			config: &oidc.Config{ClientID: "client", TokenURL: "https://idp.example.com/token"},
			want:   "client@https://idp.example.com/token",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ConfigKey(tt.config))
		})
	}
}

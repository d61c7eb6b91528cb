// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package tokenstore persists tokens returned by a successful authentication
// attempt, so a desktop application doesn't have to authenticate again on
// every start.
package tokenstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/hashicorp/cap-desktop/oidc"
	"github.com/hashicorp/go-hclog"
)

var (
	ErrNotFound         = errors.New("token not found")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrCorrupt          = errors.New("stored token is corrupt")
)

const (
	dirMode  = 0o700
	fileMode = 0o600
)

// Store saves, loads and deletes tokens by key.
type Store interface {
	Save(ctx context.Context, key string, t *oidc.Token) error
	Load(ctx context.Context, key string) (*oidc.Token, error)
	Delete(ctx context.Context, key string) error
}

// Key derives a store key for a client of a provider's token endpoint.
func Key(clientID, endpoint string) string {
	return clientID + "@" + strings.TrimRight(endpoint, "/")
}

// ConfigKey derives the store key for a config's client.  The provider is
// identified by its issuer when one is configured, and by its token endpoint
// otherwise, so discovery doesn't change the key.
func ConfigKey(c *oidc.Config) string {
	if c.Issuer != "" {
		return Key(c.ClientID, c.Issuer)
	}
	return Key(c.ClientID, c.TokenURL)
}

// Root returns the token directory within the given data home directory.
func Root(dataHome string) string {
	return filepath.Join(dataHome, "cap-desktop", "tokens")
}

// DefaultRoot returns the token directory using XDG base directory
// conventions.
func DefaultRoot() string {
	return Root(xdg.DataHome)
}

// FileStore stores one json file per key, readable only by the current user.
// It implements the Store interface.
type FileStore struct {
	dir    string
	logger hclog.Logger
}

// ensure that FileStore implements the Store interface
var _ Store = (*FileStore)(nil)

// record is the on-disk form of a token.  oidc.Token redacts its secrets when
// marshaled, so the secrets are stored as plain strings.
type record struct {
	Key          string    `json:"key"`
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	IDToken      string    `json:"id_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitzero"`
}

// NewFileStore creates a FileStore.  The directory is created when the first
// token is saved.
//
// Supported options: WithDir, WithLogger
func NewFileStore(opt ...Option) *FileStore {
	opts := getStoreOpts(opt...)
	return &FileStore{
		dir:    opts.withDir,
		logger: opts.withLogger,
	}
}

// Dir returns the store's directory.
func (s *FileStore) Dir() string { return s.dir }

// Save the token for key, replacing any existing token.  The file is written
// to a temp file and renamed, so readers never see a partial token.
func (s *FileStore) Save(ctx context.Context, key string, t *oidc.Token) error {
	const op = "FileStore.Save"
	switch {
	case key == "":
		return fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	case t == nil:
		return fmt.Errorf("%s: token is nil: %w", op, ErrNilParameter)
	case t.AccessToken == "":
		return fmt.Errorf("%s: access token is empty: %w", op, ErrInvalidParameter)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	raw, err := json.Marshal(record{
		Key:          key,
		AccessToken:  string(t.AccessToken),
		TokenType:    t.TokenType,
		RefreshToken: string(t.RefreshToken),
		IDToken:      string(t.IDToken),
		Expiry:       t.Expiry,
	})
	if err != nil {
		return fmt.Errorf("%s: unable to encode token: %w", op, err)
	}

	if err := os.MkdirAll(s.dir, dirMode); err != nil {
		return fmt.Errorf("%s: unable to create token dir: %w", op, err)
	}
	tmp, err := os.CreateTemp(s.dir, ".token-*")
	if err != nil {
		return fmt.Errorf("%s: unable to create temp file: %w", op, err)
	}
	defer os.Remove(tmp.Name())
	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("%s: unable to set token file mode: %w", op, err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("%s: unable to write token: %w", op, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%s: unable to write token: %w", op, err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("%s: unable to store token: %w", op, err)
	}
	s.logger.Debug("token saved", "path", s.path(key), "expiry", t.Expiry)
	return nil
}

// Load the token for key.  ErrNotFound is returned when there's no token.
func (s *FileStore) Load(ctx context.Context, key string) (*oidc.Token, error) {
	const op = "FileStore.Load"
	if key == "" {
		return nil, fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	raw, err := os.ReadFile(s.path(key))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("%s: %w", op, ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("%s: unable to read token: %w", op, err)
	}
	var r record
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrCorrupt, err)
	}
	// a different key hashing to the same file isn't our token
	if r.Key != key || r.AccessToken == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrCorrupt)
	}
	return &oidc.Token{
		AccessToken:  oidc.AccessToken(r.AccessToken),
		TokenType:    r.TokenType,
		RefreshToken: oidc.RefreshToken(r.RefreshToken),
		IDToken:      oidc.IDToken(r.IDToken),
		Expiry:       r.Expiry,
	}, nil
}

// Delete the token for key.  Deleting a missing token isn't an error.
func (s *FileStore) Delete(ctx context.Context, key string) error {
	const op = "FileStore.Delete"
	if key == "" {
		return fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: unable to delete token: %w", op, err)
	}
	s.logger.Debug("token deleted", "path", s.path(key))
	return nil
}

func (s *FileStore) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(s.dir, hex.EncodeToString(sum[:])+".json")
}

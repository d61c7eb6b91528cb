// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/cap-desktop/oidc"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "CAP_DESKTOP_"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrInvalidSettings  = errors.New("invalid settings")
)

// Settings are the desktop application's authentication settings.  Values
// are layered: defaults, then an optional yaml file, then an optional dotenv
// file, then the process environment.
type Settings struct {
	// ClientID is the public client's id (required).
	ClientID string `yaml:"client_id" env:"CLIENT_ID"`

	// Issuer is an optional OIDC issuer to discover.
	Issuer string `yaml:"issuer" env:"ISSUER"`

	// AuthURL and TokenURL are the provider's endpoints.  Both may be empty
	// when Issuer is set.
	AuthURL  string `yaml:"auth_url" env:"AUTH_URL"`
	TokenURL string `yaml:"token_url" env:"TOKEN_URL"`

	// RedirectURL is an optional fixed loopback redirect URL.
	RedirectURL string `yaml:"redirect_url" env:"REDIRECT_URL"`

	Scopes        []string `yaml:"scopes" env:"SCOPES" envSeparator:","`
	CallbackPorts []int    `yaml:"callback_ports" env:"CALLBACK_PORTS" envSeparator:","`
	CallbackPath  string   `yaml:"callback_path" env:"CALLBACK_PATH"`

	// ProviderCAFile is an optional PEM file of CA certs to trust when
	// talking to the provider.
	ProviderCAFile string `yaml:"provider_ca_file" env:"PROVIDER_CA_FILE"`

	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	// TokenDir overrides where tokens are stored.
	TokenDir string `yaml:"token_dir" env:"TOKEN_DIR"`

	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`
}

// Load returns Settings from the optional yaml file and dotenv file, and the
// environment.  A missing file is an error when its path was provided.
//
// Supported options: WithFile, WithEnvFile, WithEnvironment
func Load(opt ...Option) (*Settings, error) {
	const op = "config.Load"
	opts := getLoadOpts(opt...)
	s := defaults()

	if opts.withFile != "" {
		raw, err := os.ReadFile(opts.withFile)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read config file: %w", op, err)
		}
		if err := decodeYAML(raw, s); err != nil {
			return nil, fmt.Errorf("%s: config file %q: %w", op, opts.withFile, err)
		}
	}

	environment := opts.withEnvironment
	if environment == nil {
		environment = env.ToMap(os.Environ())
	}
	if opts.withEnvFile != "" {
		dotenv, err := godotenv.Read(opts.withEnvFile)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read env file: %w", op, err)
		}
		merged := make(map[string]string, len(dotenv)+len(environment))
		for k, v := range dotenv {
			merged[k] = v
		}
		// the process environment wins over the dotenv file
		for k, v := range environment {
			merged[k] = v
		}
		environment = merged
	}

	if err := env.ParseWithOptions(s, env.Options{Prefix: EnvPrefix, Environment: environment}); err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrInvalidSettings, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return s, nil
}

func defaults() *Settings {
	return &Settings{
		CallbackPath: "/callback",
		Timeout:      oidc.DefaultTimeout,
		LogLevel:     "info",
	}
}

// decodeYAML decodes raw into s, rejecting unknown fields.  An empty file
// leaves s unchanged.
func decodeYAML(raw []byte, s *Settings) error {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %w", ErrInvalidSettings, err)
	}
	return nil
}

// Validate the settings which can be checked without building an oidc.Config.
func (s *Settings) Validate() error {
	const op = "Settings.Validate"
	switch {
	case s == nil:
		return fmt.Errorf("%s: settings are nil: %w", op, ErrInvalidParameter)
	case strings.TrimSpace(s.ClientID) == "":
		return fmt.Errorf("%s: client id is empty (set %sCLIENT_ID): %w", op, EnvPrefix, ErrInvalidSettings)
	case s.Issuer == "" && (s.AuthURL == "" || s.TokenURL == ""):
		return fmt.Errorf("%s: either an issuer or both auth and token urls are required: %w", op, ErrInvalidSettings)
	case s.Timeout < 0:
		return fmt.Errorf("%s: timeout %s is negative: %w", op, s.Timeout, ErrInvalidSettings)
	}
	return nil
}

// OIDCConfig builds the oidc.Config the settings describe, reading the
// provider CA file when one is set.
func (s *Settings) OIDCConfig() (*oidc.Config, error) {
	const op = "Settings.OIDCConfig"
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	opts := []oidc.Option{
		oidc.WithScopes(s.Scopes...),
		oidc.WithTimeout(s.Timeout),
	}
	if s.Issuer != "" {
		opts = append(opts, oidc.WithIssuer(s.Issuer))
	}
	if s.RedirectURL != "" {
		opts = append(opts, oidc.WithRedirectURL(s.RedirectURL))
	}
	if len(s.CallbackPorts) > 0 {
		opts = append(opts, oidc.WithCallbackPorts(s.CallbackPorts...))
	}
	if s.CallbackPath != "" {
		opts = append(opts, oidc.WithCallbackPath(s.CallbackPath))
	}
	if s.ProviderCAFile != "" {
		ca, err := os.ReadFile(s.ProviderCAFile)
		if err != nil {
			return nil, fmt.Errorf("%s: unable to read provider ca file: %w", op, err)
		}
		opts = append(opts, oidc.WithProviderCA(string(ca)))
	}
	c, err := oidc.NewConfig(s.ClientID, s.AuthURL, s.TokenURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

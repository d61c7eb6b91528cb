// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/oauth2"
)

// expirySkew is subtracted from a token's expiry so a token isn't used right
// before it expires.
const expirySkew = 10 * time.Second

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string { return RedactedAccessToken }

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedAccessToken) }

// RefreshToken is an oauth refresh_token
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token
func (t RefreshToken) String() string { return RedactedRefreshToken }

// MarshalJSON will redact the token
func (t RefreshToken) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedRefreshToken) }

// IDToken is an oidc id_token
type IDToken string

// RedactedIDToken is the redacted string or json for an oidc id_token
const RedactedIDToken = "[REDACTED: id_token]"

// String will redact the token
func (t IDToken) String() string { return RedactedIDToken }

// MarshalJSON will redact the token
func (t IDToken) MarshalJSON() ([]byte, error) { return json.Marshal(RedactedIDToken) }

// Token is the result of a successful authentication attempt.  Ownership
// passes to the caller; the secret fields redact themselves when printed or
// marshaled, so use string conversions (e.g. string(t.AccessToken)) to get
// their values.
type Token struct {
	AccessToken  AccessToken  `json:"access_token"`
	TokenType    string       `json:"token_type,omitempty"`
	RefreshToken RefreshToken `json:"refresh_token,omitempty"`
	IDToken      IDToken      `json:"id_token,omitempty"`
	Expiry       time.Time    `json:"expiry,omitzero"`
}

// NewToken creates a Token from an oauth2 token response.  It returns
// ErrMalformedTokenResponse when the response has no access_token.
func NewToken(t *oauth2.Token) (*Token, error) {
	const op = "NewToken"
	if t == nil {
		return nil, fmt.Errorf("%s: oauth2 token is nil: %w", op, ErrNilParameter)
	}
	if t.AccessToken == "" {
		return nil, fmt.Errorf("%s: access_token is missing: %w", op, ErrMalformedTokenResponse)
	}
	tk := &Token{
		AccessToken:  AccessToken(t.AccessToken),
		TokenType:    t.Type(),
		RefreshToken: RefreshToken(t.RefreshToken),
		Expiry:       t.Expiry,
	}
	if raw, ok := t.Extra("id_token").(string); ok {
		tk.IDToken = IDToken(raw)
	}
	return tk, nil
}

// Expired will return true if the token is expired.  Tokens without an
// expiry never expire.
func (t *Token) Expired() bool {
	if t.Expiry.IsZero() {
		return false
	}
	return t.Expiry.Round(0).Before(time.Now().Add(expirySkew))
}

// Valid will return true if the token has an access_token and isn't expired.
func (t *Token) Valid() bool {
	if t == nil {
		return false
	}
	if t.AccessToken == "" {
		return false
	}
	return !t.Expired()
}

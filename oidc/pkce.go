// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// ChallengeMethod represents PKCE code challenge methods (a.k.a.
// code_challenge_method).  See:
// https://www.rfc-editor.org/rfc/rfc7636#section-4.3
type ChallengeMethod string

const (
	// S256 is the SHA-256 code challenge method and the only method supported.
	S256 ChallengeMethod = "S256"
)

// verifierBytes is the number of random bytes in a verifier; base64url
// encoded they become 43 characters, the minimum length allowed by RFC 7636.
const verifierBytes = 32

// CodeVerifier represents an OAuth PKCE code verifier.
//
// See: https://www.rfc-editor.org/rfc/rfc7636#section-4.1
type CodeVerifier interface {
	// Verifier returns the code verifier (see:
	// https://www.rfc-editor.org/rfc/rfc7636#section-4.1)
	Verifier() string

	// Challenge returns the code verifier's code challenge (see:
	// https://www.rfc-editor.org/rfc/rfc7636#section-4.2)
	Challenge() string

	// Method returns the code verifier's challenge method (see
	// https://www.rfc-editor.org/rfc/rfc7636#section-4.2)
	Method() ChallengeMethod

	// Copy returns a copy of the verifier
	Copy() CodeVerifier
}

// S256Verifier represents an OAuth PKCE code verifier that uses the S256
// challenge method.  It implements the CodeVerifier interface.
type S256Verifier struct {
	verifier  string
	challenge string
	method    ChallengeMethod
}

// ensure that S256Verifier implements the CodeVerifier interface
var _ CodeVerifier = (*S256Verifier)(nil)

// NewCodeVerifier creates a new CodeVerifier (*S256Verifier) from a
// cryptographically secure random source.
//
// See: https://www.rfc-editor.org/rfc/rfc7636#section-4.1
func NewCodeVerifier() *S256Verifier {
	b := make([]byte, verifierBytes)
	// crypto/rand.Read never returns an error, it crashes the program
	// irrecoverably instead.
	_, _ = rand.Read(b)
	v := base64.RawURLEncoding.EncodeToString(b)
	return &S256Verifier{
		verifier:  v,
		challenge: s256Challenge(v),
		method:    S256,
	}
}

func (v *S256Verifier) Verifier() string        { return v.verifier }  // Verifier implements the CodeVerifier.Verifier() interface function.
func (v *S256Verifier) Challenge() string       { return v.challenge } // Challenge implements the CodeVerifier.Challenge() interface function.
func (v *S256Verifier) Method() ChallengeMethod { return v.method }    // Method implements the CodeVerifier.Method() interface function.

// Copy returns a copy of the verifier.
func (v *S256Verifier) Copy() CodeVerifier {
	return &S256Verifier{
		verifier:  v.verifier,
		challenge: v.challenge,
		method:    v.method,
	}
}

// CreateCodeChallenge creates a code challenge from the verifier. Supported
// ChallengeMethods: S256
//
// See: https://www.rfc-editor.org/rfc/rfc7636#section-4.2
func CreateCodeChallenge(method ChallengeMethod, v CodeVerifier) (string, error) {
	const op = "CreateCodeChallenge"
	if v == nil {
		return "", fmt.Errorf("%s: verifier is nil: %w", op, ErrNilParameter)
	}
	switch method {
	case S256:
		return s256Challenge(v.Verifier()), nil
	default:
		return "", fmt.Errorf("%s: %s is not a supported challenge method: %w", op, method, ErrUnsupportedChallengeMethod)
	}
}

// s256Challenge is base64url(sha256(verifier)) without padding.
func s256Challenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// NewCSRFToken returns a new opaque anti-forgery token, suitable for use as
// the oauth "state" parameter.
func NewCSRFToken() string {
	return rand.Text() + rand.Text()
}

// GenerateMaterial generates the per-attempt cryptographic material: a CSRF
// token and a PKCE verifier (with its S256 challenge).  Every call returns
// fresh material.
func GenerateMaterial() (csrfToken string, verifier *S256Verifier) {
	return NewCSRFToken(), NewCodeVerifier()
}

// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"errors"
	"fmt"

	"github.com/hashicorp/cap-desktop/oidc/callback"
)

var (
	ErrInvalidParameter           = errors.New("invalid parameter")
	ErrNilParameter               = errors.New("nil parameter")
	ErrInvalidConfig              = errors.New("invalid client configuration")
	ErrInvalidCACert              = errors.New("invalid CA certificate")
	ErrUnsupportedChallengeMethod = errors.New("unsupported PKCE challenge method")
	ErrBrowserLaunch              = errors.New("unable to launch browser")
	ErrPortUnavailable            = callback.ErrPortUnavailable
	ErrTimeout                    = errors.New("timed out waiting for callback")
	ErrCanceled                   = errors.New("authentication attempt canceled")
	ErrCSRFMismatch               = errors.New("callback state does not match")
	ErrMalformedCallback          = errors.New("malformed callback")
	ErrLoginFailed                = errors.New("login failed")
	ErrExchangeNetwork            = errors.New("token endpoint unreachable")
	ErrExchangeRejected           = errors.New("token request rejected")
	ErrMalformedTokenResponse     = errors.New("malformed token response")
	ErrIDTokenVerificationFailed  = errors.New("id_token verification failed")
	ErrAttemptInProgress          = errors.New("authentication attempt already in progress")
	ErrInternal                   = errors.New("internal error")
)

// RejectedError is returned when the token endpoint answers with an error
// response (invalid_grant, invalid_client, etc).  It matches
// ErrExchangeRejected via errors.Is.  See:
// https://www.rfc-editor.org/rfc/rfc6749#section-5.2
type RejectedError struct {
	StatusCode  int
	Code        string
	Description string
	URI         string
}

// Error implements the error interface
func (e *RejectedError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("%s (%d): %s: %s", ErrExchangeRejected, e.StatusCode, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s (%d): %s", ErrExchangeRejected, e.StatusCode, e.Code)
	default:
		return fmt.Sprintf("%s (%d)", ErrExchangeRejected, e.StatusCode)
	}
}

// Is reports whether target is ErrExchangeRejected
func (e *RejectedError) Is(target error) bool { return target == ErrExchangeRejected }

// LoginError represents an authorization error redirect from the provider.
// It matches ErrLoginFailed via errors.Is.  See:
// https://www.rfc-editor.org/rfc/rfc6749#section-4.1.2.1
type LoginError struct {
	Code        string
	Description string
	URI         string
}

// Error implements the error interface
func (e *LoginError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s: %s", ErrLoginFailed, e.Code, e.Description)
	}
	return fmt.Sprintf("%s: %s", ErrLoginFailed, e.Code)
}

// Is reports whether target is ErrLoginFailed
func (e *LoginError) Is(target error) bool { return target == ErrLoginFailed }

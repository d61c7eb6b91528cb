// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package oidc

import (
	"crypto/subtle"
	"fmt"
	"net/url"
)

// CallbackQuery is the validated query of an authorization code redirect.
type CallbackQuery struct {
	// Code is the authorization code.  It's only populated once the redirect's
	// state matched the expected CSRF token.
	Code string

	// State is the redirect's state parameter.
	State string
}

// ValidateCallback parses the redirect URL received by the callback listener
// and verifies its state against expectedState before the authorization code
// is trusted.  It returns:
//
//   - ErrMalformedCallback when the URL can't be parsed, has no query, repeats
//     a parameter, or is missing the code or state;
//   - *LoginError (ErrLoginFailed) when the provider redirected with an
//     error and a matching state;
//   - ErrCSRFMismatch when the state doesn't match.
//
// See: https://www.rfc-editor.org/rfc/rfc6749#section-4.1.2
func ValidateCallback(rawURL, expectedState string) (*CallbackQuery, error) {
	const op = "ValidateCallback"
	if expectedState == "" {
		return nil, fmt.Errorf("%s: expected state is empty: %w", op, ErrInvalidParameter)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse callback url: %w", op, ErrMalformedCallback)
	}
	if u.RawQuery == "" {
		return nil, fmt.Errorf("%s: callback url has no query: %w", op, ErrMalformedCallback)
	}
	q, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse callback query: %w", op, ErrMalformedCallback)
	}
	for k, v := range q {
		if len(v) > 1 {
			return nil, fmt.Errorf("%s: parameter %q appears more than once: %w", op, k, ErrMalformedCallback)
		}
	}

	state := q.Get("state")
	if errCode := q.Get("error"); errCode != "" {
		if state == "" {
			return nil, fmt.Errorf("%s: error redirect without state: %w", op, ErrMalformedCallback)
		}
		if !stateMatches(state, expectedState) {
			return nil, fmt.Errorf("%s: %w", op, ErrCSRFMismatch)
		}
		return nil, fmt.Errorf("%s: %w", op, &LoginError{
			Code:        errCode,
			Description: q.Get("error_description"),
			URI:         q.Get("error_uri"),
		})
	}

	code := q.Get("code")
	switch {
	case code == "":
		return nil, fmt.Errorf("%s: missing code: %w", op, ErrMalformedCallback)
	case state == "":
		return nil, fmt.Errorf("%s: missing state: %w", op, ErrMalformedCallback)
	}
	if !stateMatches(state, expectedState) {
		return nil, fmt.Errorf("%s: %w", op, ErrCSRFMismatch)
	}
	return &CallbackQuery{Code: code, State: state}, nil
}

// stateMatches compares the states in constant time.
func stateMatches(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

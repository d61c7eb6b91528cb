// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package util contains helpers shared by the cap-desktop command line tools.
package util

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/skratchdot/open-golang/open"
)

var ErrInvalidURL = errors.New("invalid url")

// startFn launches the system's url handler without waiting for it to exit.
var startFn = open.Start

// OpenURL opens the url with the user's default browser.  Only absolute http
// and https urls are opened; anything else is rejected before a process is
// started.
func OpenURL(rawURL string) error {
	const op = "util.OpenURL"
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: %q is not an absolute http(s) url: %w", op, u.Redacted(), ErrInvalidURL)
	}
	if err := startFn(u.String()); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

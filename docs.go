// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// cap-desktop provides a collection of related packages which let a desktop
// application authenticate a user with an OAuth 2.0 / OIDC provider, using the
// authorization code flow with PKCE and a loopback redirect (RFC 8252).
//
//	oidc            authenticator, authorization URL, callback validation and
//	                token exchange
//	oidc/callback   the one-shot loopback redirect listener
//	config          settings from yaml, dotenv files and the environment
//	tokenstore      per-user storage of the resulting tokens
//
// See oidc/examples/cli for a command line application built with them.
package cap

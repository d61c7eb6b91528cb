// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

/*
Package oidc authenticates a desktop application's user with the OAuth 2.0
authorization code flow and PKCE, delegating the login to the user's system
browser.  The application is a public client: it never holds a client secret.

Primary types provided by the package

* Config: the client configuration (client id, provider endpoints or an OIDC
issuer, scopes, callback ports and path, timeout).

* Authenticator: runs authentication attempts.  An attempt generates a fresh
CSRF token and PKCE verifier, binds a loopback callback listener, opens the
browser to the provider's authorization URL, waits for the redirect (or a
timeout), validates the redirect's state and exchanges the authorization code
for a Token.

* Token: the access_token (plus optional refresh_token and id_token) returned by
the provider.  Its secrets are redacted when printed or marshaled.

* Exchanger: the token endpoint client used by an Authenticator.

* TestProvider: a local provider for writing tests.

The oidc/callback package

The callback package provides the one-shot loopback Listener which receives
the provider's redirect.
*/
package oidc

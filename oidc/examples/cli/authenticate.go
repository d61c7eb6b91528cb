// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"
	"github.com/hashicorp/cap-desktop/oidc"
	"github.com/hashicorp/cap-desktop/util"
	"github.com/spf13/cobra"
)

// authenticate flags
var (
	timeout    time.Duration
	scopes     []string
	noStore    bool
	showClaims bool
	printRaw   bool
)

func newAuthenticateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authenticate",
		Short: "Log in with your browser and store the resulting tokens",
		Long: `Log in with your browser and store the resulting tokens.

The authorization URL is opened in your default browser and cap-desktop waits
for the provider to redirect back.  Press ctrl-c to give up.

Examples:
  cap-desktop authenticate --config settings.yaml
  cap-desktop authenticate --env-file .env --scopes email,profile --timeout 5m
  cap-desktop authenticate --no-store --show-claims`,
		Args: cobra.NoArgs,
		RunE: runAuthenticate,
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "how long to wait for the browser redirect")
	cmd.Flags().StringSliceVar(&scopes, "scopes", nil, "comma separated list of additional scopes to request")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "don't store the tokens")
	cmd.Flags().BoolVar(&showClaims, "show-claims", false, "print the id_token's claims")
	cmd.Flags().BoolVar(&printRaw, "print-access-token", false, "print only the access token, for use in scripts")
	return cmd
}

func runAuthenticate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	s, err := loadSettings()
	if err != nil {
		return err
	}
	if timeout != 0 {
		s.Timeout = timeout
	}
	if len(scopes) > 0 {
		s.Scopes = scopes
	}
	logger, err := newLogger(s)
	if err != nil {
		return err
	}
	c, err := s.OIDCConfig()
	if err != nil {
		return err
	}

	sp := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	defer sp.Stop()

	a, err := oidc.NewAuthenticator(c,
		oidc.WithLogger(logger),
		oidc.WithBrowser(browser(cmd.ErrOrStderr())),
		oidc.WithTransitionHook(progress(sp)),
	)
	if err != nil {
		return err
	}
	defer a.Done()

	tk, err := a.Authenticate(ctx)
	sp.Stop()
	if err != nil {
		if errors.Is(err, oidc.ErrCanceled) {
			fmt.Fprintln(cmd.ErrOrStderr(), "Interrupted")
			return err
		}
		return &authFailedError{reason: oidc.ReasonOf(err), err: err}
	}

	out := cmd.OutOrStdout()
	if printRaw {
		fmt.Fprintln(out, string(tk.AccessToken))
	} else {
		fmt.Fprintln(out, "Authentication succeeded.")
		printToken(out, tk)
		if showClaims {
			printClaims(out, tk.IDToken)
		}
	}
	if noStore {
		return nil
	}
	store := newStore(s, logger)
	if err := store.Save(context.WithoutCancel(ctx), storeKey(s), tk); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Tokens stored in %s\n", store.Dir())
	return nil
}

// browser opens the authorization URL in the default browser, printing it so
// it can be visited manually.
func browser(w io.Writer) oidc.BrowserFunc {
	return func(_ context.Context, authURL string) error {
		fmt.Fprintf(w, "Complete the login via your OIDC provider. Launching browser to:\n\n    %s\n\n", authURL)
		if err := util.OpenURL(authURL); err != nil {
			fmt.Fprintf(w, "Error attempting to automatically open browser: '%s'.\n", err)
			return err
		}
		return nil
	}
}

// progress reports an attempt's transitions with the spinner.
func progress(sp *spinner.Spinner) func(oidc.Transition) {
	return func(tr oidc.Transition) {
		switch tr.To {
		case oidc.AwaitingCallback:
			sp.Suffix = " Waiting for the browser login..."
			sp.Start()
		case oidc.Validating, oidc.Exchanging:
			sp.Lock()
			sp.Suffix = " Completing the login..."
			sp.Unlock()
		default:
			sp.Stop()
		}
	}
}

func printToken(w io.Writer, tk *oidc.Token) {
	expires := "never"
	if !tk.Expiry.IsZero() {
		expires = tk.Expiry.Local().Format(time.RFC1123)
	}
	fmt.Fprintf(w, "  token type:    %s\n", tk.TokenType)
	fmt.Fprintf(w, "  access token:  %s\n", tk.AccessToken)
	fmt.Fprintf(w, "  expires:       %s\n", expires)
	fmt.Fprintf(w, "  refresh token: %t\n", tk.RefreshToken != "")
	fmt.Fprintf(w, "  id token:      %t\n", tk.IDToken != "")
}

// printClaims prints the id_token's claims.  The id_token was verified by the
// authenticator when an issuer is configured, so they're only decoded here.
func printClaims(w io.Writer, raw oidc.IDToken) {
	const op = "printClaims"
	if raw == "" {
		fmt.Fprintln(w, "IDToken claims: none (no id_token received)")
		return
	}
	parsed, err := jwt.ParseSigned(string(raw), []jose.SignatureAlgorithm{
		jose.RS256, jose.RS384, jose.RS512,
		jose.ES256, jose.ES384, jose.ES512,
		jose.PS256, jose.PS384, jose.PS512,
		jose.EdDSA,
	})
	if err != nil {
		fmt.Fprintf(w, "%s: unable to parse id_token: %s\n", op, err)
		return
	}
	var claims map[string]interface{}
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		fmt.Fprintf(w, "%s: unable to decode id_token claims: %s\n", op, err)
		return
	}
	data, err := json.MarshalIndent(claims, "", "    ")
	if err != nil {
		fmt.Fprintf(w, "%s: %s\n", op, err)
		return
	}
	fmt.Fprintf(w, "IDToken claims:%s\n", data)
}

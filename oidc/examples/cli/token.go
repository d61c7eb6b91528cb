// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"errors"
	"fmt"

	"github.com/hashicorp/cap-desktop/tokenstore"
	"github.com/spf13/cobra"
)

func newTokenCmd() *cobra.Command {
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Inspect or remove the stored tokens",
	}
	tokenCmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Show a summary of the stored tokens",
			Args:  cobra.NoArgs,
			RunE:  runTokenShow,
		},
		&cobra.Command{
			Use:   "delete",
			Short: "Delete the stored tokens",
			Args:  cobra.NoArgs,
			RunE:  runTokenDelete,
		},
	)
	return tokenCmd
}

func runTokenShow(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger, err := newLogger(s)
	if err != nil {
		return err
	}
	tk, err := newStore(s, logger).Load(cmd.Context(), storeKey(s))
	switch {
	case errors.Is(err, tokenstore.ErrNotFound):
		return fmt.Errorf("no stored tokens; run \"cap-desktop authenticate\" first")
	case err != nil:
		return err
	}
	out := cmd.OutOrStdout()
	if !tk.Valid() {
		fmt.Fprintln(out, "The stored access token has expired.")
	}
	printToken(out, tk)
	return nil
}

func runTokenDelete(cmd *cobra.Command, _ []string) error {
	s, err := loadSettings()
	if err != nil {
		return err
	}
	logger, err := newLogger(s)
	if err != nil {
		return err
	}
	if err := newStore(s, logger).Delete(cmd.Context(), storeKey(s)); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Stored tokens deleted.")
	return nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/devhost/internal/plugin"
)

// NewValidateCmd creates the validate subcommand.
func NewValidateCmd() *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "validate <plugin-dir>",
		Short: "Check whether a directory holds a plugin devhost can host",
		Long: `Check that <plugin-dir> contains a package.json declaring a theiaPlugin
frontend or backend entry. With --strict, also validate the manifest
against the schema, the package name and version, and check that the
declared entry files exist.

Exits with code 0 on success, non-zero on failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, args[0], strict)
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "validate the full manifest and entry files")
	return cmd
}

func runValidate(cmd *cobra.Command, location string, strict bool) error {
	if !strict {
		if !plugin.IsValid(location) {
			return oops.Code("INVALID_PLUGIN").
				With("location", location).
				Errorf("%s does not declare a theiaPlugin frontend or backend entry", location)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: valid plugin\n", location)
		return nil
	}

	m, err := plugin.Load(location)
	if err != nil {
		return err
	}
	if m.Version != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: valid plugin %s@%s\n", location, m.Name, m.Version)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: valid plugin %s\n", location, m.Name)
	}
	return nil
}

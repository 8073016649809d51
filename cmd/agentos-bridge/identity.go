// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/pflag"

	"github.com/agentos-dev/agentos/lib/config"
	"github.com/agentos-dev/agentos/lib/identity"
)

// runIdentity prints the device identity, creating it when missing, so
// an operator can pair the device with the relay before the first run.
func runIdentity(args []string, stdout io.Writer) error {
	var configPath, identityPath string
	flagSet := pflag.NewFlagSet("agentos-bridge identity", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "config file (default: $"+config.EnvironmentVariable+")")
	flagSet.StringVar(&identityPath, "identity", "", "device identity file")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if identityPath == "" {
		var cfg *config.Config
		var err error
		if configPath != "" {
			cfg, err = config.LoadFile(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return err
		}
		identityPath = cfg.Identity.Path
	}

	id, err := identity.LoadOrCreate(identityPath, newLogger(false))
	if err != nil {
		return err
	}
	return printIdentity(stdout, identityPath, id)
}

func printIdentity(w io.Writer, path string, id *identity.Identity) error {
	authorizedKey, fingerprint, err := id.AuthorizedKey()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Device ID:   %s\n", id.DeviceID)
	fmt.Fprintf(w, "Public key:  %s\n", id.PublicKeyRawBase64URL())
	fmt.Fprintf(w, "SSH key:     %s\n", authorizedKey)
	fmt.Fprintf(w, "Fingerprint: %s\n", fingerprint)
	fmt.Fprintf(w, "Created:     %s\n", id.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "File:        %s\n", path)
	return nil
}

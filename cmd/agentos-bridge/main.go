// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"os"

	"github.com/agentos-dev/agentos/lib/process"
	"github.com/agentos-dev/agentos/lib/version"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		process.Fatal(err)
	}
}

// run dispatches to a subcommand. Without one, or when the first
// argument is a flag, it runs the bridge.
func run(args []string, stdout io.Writer) error {
	command := "run"
	if len(args) > 0 && len(args[0]) > 0 && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	switch command {
	case "run":
		return runBridge(args)
	case "identity":
		return runIdentity(args, stdout)
	case "version":
		fmt.Fprintf(stdout, "%s %s\n", version.Product, version.Full())
		return nil
	case "help":
		printUsage(stdout)
		return nil
	}
	printUsage(os.Stderr)
	return fmt.Errorf("unknown command %q", command)
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `agentos-bridge - relay local agent runtimes to AgentOS

USAGE
    agentos-bridge [run] [flags]
    agentos-bridge identity [flags]
    agentos-bridge version

COMMANDS
    run         Connect to the relay and serve chats (default)
    identity    Show the device identity, creating it if missing
    version     Print version information

Run "agentos-bridge run --help" for the bridge flags.

CONFIGURATION
    Settings come from the file named by --config or $AGENTOS_CONFIG
    (YAML, or JSON with comments). Flags override the file.
`)
}

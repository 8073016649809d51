// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors returned by run().
func Fatal(err error) {
	writeFatal(os.Stderr, err)
	os.Exit(1)
}

func writeFatal(w io.Writer, err error) {
	fmt.Fprintf(w, "error: %v\n", err)
}

// SignalContext returns a context cancelled on the first SIGINT or
// SIGTERM. A second signal is left to the default handler, so an
// operator can always force an exit while shutdown is in progress.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		stop()
	}()
	return ctx, stop
}

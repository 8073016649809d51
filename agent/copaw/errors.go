// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package copaw

import (
	"fmt"
	"net/http"

	"github.com/agentos-dev/agentos/lib/netutil"
)

// HTTPError is a non-200 response from the runtime. Its message is what
// the relay shows the user, so it carries no package prefix.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("CoPaw HTTP %d: %s", e.StatusCode, e.Body)
}

// RunError is a RUN_ERROR event. Message is the runtime's text
// verbatim.
type RunError struct {
	Message string
}

func (e *RunError) Error() string {
	return e.Message
}

func readHTTPError(response *http.Response) error {
	return &HTTPError{
		StatusCode: response.StatusCode,
		Body:       netutil.ErrorBody(response.Body),
	}
}

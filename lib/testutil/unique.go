// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"strconv"
	"sync/atomic"
)

var uniqueCounter atomic.Uint64

// UniqueID returns "prefix-N" with N increasing across the test binary.
//
//	conversationID := testutil.UniqueID("conv") // "conv-1", "conv-2", ...
func UniqueID(prefix string) string {
	return prefix + "-" + strconv.FormatUint(uniqueCounter.Add(1), 10)
}

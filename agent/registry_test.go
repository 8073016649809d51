// Copyright 2026 The AgentOS Authors
// SPDX-License-Identifier: Apache-2.0

package agent_test

import (
	"testing"

	"github.com/agentos-dev/agentos/agent"
	"github.com/agentos-dev/agentos/agent/agenttest"
)

func TestRegistryReplaceCleansUpPrevious(t *testing.T) {
	t.Parallel()

	var registry agent.Registry
	first := agenttest.New()
	second := agenttest.New()

	registry.Register("user-1", first)
	registry.Register("user-1", first)
	if first.Cleanups() != 0 {
		t.Fatalf("re-registering the same adapter cleaned it up")
	}

	registry.Register("user-1", second)
	if first.Disconnects() != 1 || first.Cleanups() != 1 {
		t.Errorf("replaced adapter: disconnects=%d cleanups=%d, want 1 and 1",
			first.Disconnects(), first.Cleanups())
	}
	got, ok := registry.Lookup("user-1")
	if !ok || got != second {
		t.Errorf("Lookup returned %v, %v; want the replacement", got, ok)
	}
	if registry.Len() != 1 {
		t.Errorf("Len = %d, want 1", registry.Len())
	}
}

func TestRegistryRemoveAndClose(t *testing.T) {
	t.Parallel()

	var registry agent.Registry
	a, b := agenttest.New(), agenttest.New()
	registry.Register("b", b)
	registry.Register("a", a)

	if owners := registry.Owners(); len(owners) != 2 || owners[0] != "a" || owners[1] != "b" {
		t.Fatalf("Owners = %v, want [a b]", owners)
	}
	if !registry.Remove("a") {
		t.Fatal("Remove(a) reported nothing removed")
	}
	if registry.Remove("a") {
		t.Fatal("second Remove(a) reported a removal")
	}
	if a.Cleanups() != 1 {
		t.Errorf("removed adapter cleanups = %d, want 1", a.Cleanups())
	}

	registry.Close()
	if registry.Len() != 0 || b.Cleanups() != 1 {
		t.Errorf("after Close: Len=%d, b cleanups=%d", registry.Len(), b.Cleanups())
	}
}

func TestSupportsOptionalInterfaces(t *testing.T) {
	t.Parallel()

	plain := agenttest.New()
	if _, ok := agent.SupportsSkills(plain); ok {
		t.Error("plain fake reports skill support")
	}
	if _, ok := agent.SupportsHealth(plain); ok {
		t.Error("plain fake reports health support")
	}

	if _, ok := agent.SupportsSkills(agenttest.WithSkills(agenttest.New())); !ok {
		t.Error("skill fake does not report skill support")
	}
	if _, ok := agent.SupportsHealth(agenttest.WithHealth(agenttest.New())); !ok {
		t.Error("health fake does not report health support")
	}
}

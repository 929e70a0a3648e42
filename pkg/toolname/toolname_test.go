package toolname

import "testing"

func TestCanonicalSplitRoundTrip(t *testing.T) {
	c := Canonical("filesystem", "list_directory")
	if c != "filesystem__list_directory" {
		t.Fatalf("unexpected canonical form: %s", c)
	}

	server, tool, ok := Split(c)
	if !ok || server != "filesystem" || tool != "list_directory" {
		t.Fatalf("split mismatch: server=%s tool=%s ok=%v", server, tool, ok)
	}
}

func TestWire(t *testing.T) {
	if got := Wire("filesystem__list_directory"); got != "filesystem_list_directory" {
		t.Fatalf("unexpected wire form: %s", got)
	}
	// Non-canonical input passes through unchanged.
	if got := Wire("bare_tool"); got != "bare_tool" {
		t.Fatalf("expected passthrough, got %s", got)
	}
}

func TestResolvePrefersPrefixedVariant(t *testing.T) {
	catalog := []string{"playwright_navigate", "navigate"}
	got := Resolve("playwright", "navigate", catalog)
	if got != "playwright__navigate" {
		t.Fatalf("expected prefixed resolution, got %s", got)
	}
}

func TestResolveAlreadyCanonical(t *testing.T) {
	got := Resolve("playwright", "playwright__browser_navigate", nil)
	if got != "playwright__browser_navigate" {
		t.Fatalf("expected passthrough for already-canonical input, got %s", got)
	}
}

func TestResolveBareToolName(t *testing.T) {
	catalog := []string{"list_directory"}
	got := Resolve("filesystem", "list_directory", catalog)
	if got != "filesystem__list_directory" {
		t.Fatalf("unexpected resolution: %s", got)
	}
}

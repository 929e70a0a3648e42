// Package toolname converts between the orchestrator's canonical tool
// name form and the forms used on the MCP wire.
//
// Canonical form is "server__tool" (double underscore). The wire
// typically uses "server_tool" (single underscore) or the bare tool
// name. Conversion is total in the canonical -> wire direction; the
// wire -> canonical direction needs a live catalog to resolve
// ambiguity, see Resolve.
package toolname

import "strings"

const sep = "__"

// Canonical builds the canonical "server__tool" name.
func Canonical(server, tool string) string {
	return server + sep + tool
}

// Split splits a canonical name back into server and tool. ok is false
// if name does not contain the canonical separator.
func Split(name string) (server, tool string, ok bool) {
	idx := strings.Index(name, sep)
	if idx < 0 {
		return "", "", false
	}
	return name[:idx], name[idx+len(sep):], true
}

// Wire converts a canonical name to the single-underscore wire form
// MCP servers commonly expect: "server_tool".
func Wire(canonical string) string {
	server, tool, ok := Split(canonical)
	if !ok {
		return canonical
	}
	return server + "_" + tool
}

// Resolve normalizes an arbitrary incoming tool reference (canonical,
// "server_tool", or a bare tool name) to canonical form, consulting the
// server's live catalog to break ties.
//
// Per spec.md §4.2: if both "server_tool" and "tool" exist in the
// catalog, prefer the prefixed variant. A short tool name containing
// underscores of its own is treated as an opaque suffix — the split is
// only ever attempted against the front of the input, matched against
// the given server prefix, never against embedded underscores generally.
func Resolve(server, raw string, catalog []string) string {
	if server == "" {
		return raw
	}

	// Already canonical for this server.
	if strings.HasPrefix(raw, server+sep) {
		return raw
	}

	catalogSet := make(map[string]bool, len(catalog))
	for _, name := range catalog {
		catalogSet[name] = true
	}

	prefixed := server + "_" + raw
	// Exact wire-prefixed match takes priority over a bare name, per spec.
	if catalogSet[prefixed] || strings.HasPrefix(raw, server+"_") {
		tool := strings.TrimPrefix(raw, server+"_")
		return Canonical(server, tool)
	}

	if catalogSet[raw] {
		return Canonical(server, raw)
	}

	// Default: treat the whole input as the tool's own (possibly
	// underscore-containing) short name.
	return Canonical(server, raw)
}

// IsCanonical reports whether name already carries the double
// underscore separator.
func IsCanonical(name string) bool {
	_, _, ok := Split(name)
	return ok
}

package orchestrator

import "context"

// Vault is the filesystem sink spec §1 Non-goals calls out as an external
// collaborator: "the vault writer (filesystem sink for markdown+frontmatter
// output)", contract only. This module builds the artifact and trace
// bundle content, paths, and collision handling (spec §6's layout rules);
// Vault only ever receives a finished path and byte slice to persist.
type Vault interface {
	// Write durably stores content at path, creating any needed parent
	// directories, overwriting an existing file at that exact path. Write
	// itself need not be atomic against a mid-write crash; callers that
	// require the temp-then-rename guarantee of spec §4.7 (trace writing)
	// perform it themselves by writing a temp path before the final one.
	Write(ctx context.Context, path string, content []byte) error
	// Exists reports whether path is already occupied, used to resolve
	// artifact filename collisions (spec §6: "resolved by suffixing
	// -2, -3, …").
	Exists(ctx context.Context, path string) (bool, error)
}

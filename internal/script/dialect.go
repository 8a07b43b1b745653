// Package script implements the evaluator and loader for .axl scripts:
// parsing, evaluating under a capability-bearing global environment, and
// recursively resolving load(...) references with cycle detection and
// caching (spec.md §3, §4.4).
package script

import (
	"go.starlark.net/resolve"
	"go.starlark.net/syntax"
)

// dialectOptions returns the full-featured Starlark dialect used for task
// scripts: definitions, lambdas, load, top-level control flow, and global
// reassignment are all enabled, matching spec.md §4.4's description of the
// evaluator's dialect configuration. Starlark-Go has no separate toggles for
// keyword-only/positional-only parameters or f-strings: the former are
// expressed with `*`/`**` in `def` as in Python, and the latter aren't part
// of the Starlark grammar at all (ordinary string formatting covers the use
// case), so there is nothing further to configure for those two.
func dialectOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:               true,
		While:             true,
		TopLevelControl:   true,
		GlobalReassign:    true,
		LoadBindsGlobally: false,
		Recursion:         false,
	}
}

func init() {
	// Starlark-Go's legacy global resolver flags mirror a subset of
	// FileOptions; keep them in sync so both the AST-level checks in
	// internal/moduledesc and the full evaluator agree on what top-level
	// constructs are legal.
	resolve.AllowSet = true
	resolve.AllowGlobalReassign = true
	resolve.AllowRecursion = false
}

// Package axlerr collects the core error kinds surfaced to users, each
// carrying the context a human needs to fix the problem (spec.md §7).
package axlerr

import "fmt"

// InvalidLoadPath means a load(...) argument failed a sanitizer rule.
type InvalidLoadPath struct {
	Path   string
	Reason string
}

func (e *InvalidLoadPath) Error() string {
	return fmt.Sprintf("invalid load path %q: %s", e.Path, e.Reason)
}

// CycleDetected carries the load stack at the moment a cycle was found.
type CycleDetected struct {
	Stack []string
}

func (e *CycleDetected) Error() string {
	s := "cycle detected while loading:\n"
	for _, p := range e.Stack {
		s += "- " + p + "\n"
	}
	if len(e.Stack) > 0 {
		s += fmt.Sprintf("(cycles back to %s)", e.Stack[0])
	}
	return s
}

// FileNotFound names the resolved path that does not exist.
type FileNotFound struct {
	Path string
}

func (e *FileNotFound) Error() string {
	return fmt.Sprintf("script file not found: %s", e.Path)
}

// EscapesModuleRoot means a resolved path would stray outside its module root.
type EscapesModuleRoot struct {
	Path       string
	ModuleRoot string
}

func (e *EscapesModuleRoot) Error() string {
	return fmt.Sprintf("path %s escapes module root %s", e.Path, e.ModuleRoot)
}

// DuplicateDefinition is raised by the command-tree builder on a task name
// collision at the same tree node.
type DuplicateDefinition struct {
	TaskName   string
	GroupPath  []string
	SourceFile string
	PriorFile  string
}

func (e *DuplicateDefinition) Error() string {
	return fmt.Sprintf("duplicate task %q in group %v: defined in %s and %s",
		e.TaskName, e.GroupPath, e.PriorFile, e.SourceFile)
}

// GroupTaskConflict means a task name collides with a subgroup name (or vice
// versa) at the same tree node.
type GroupTaskConflict struct {
	Name       string
	GroupPath  []string
	SourceFile string
}

func (e *GroupTaskConflict) Error() string {
	return fmt.Sprintf("%q in group %v conflicts with an existing group/task of the same name (from %s)",
		e.Name, e.GroupPath, e.SourceFile)
}

// TooDeeplyNested means a task's declared group path exceeds the maximum
// group depth.
type TooDeeplyNested struct {
	GroupPath []string
	Max       int
}

func (e *TooDeeplyNested) Error() string {
	return fmt.Sprintf("group path %v exceeds maximum depth %d", e.GroupPath, e.Max)
}

// IntegrityMismatch means a fetched archive's digest did not match the
// declared integrity string.
type IntegrityMismatch struct {
	Descriptor string
	Want       string
	Got        string
}

func (e *IntegrityMismatch) Error() string {
	return fmt.Sprintf("integrity mismatch for %s: want %s, got %s", e.Descriptor, e.Want, e.Got)
}

// FetchExhausted means every URL for a descriptor failed.
type FetchExhausted struct {
	Descriptor string
	URLs       []string
	LastErr    error
}

func (e *FetchExhausted) Error() string {
	return fmt.Sprintf("all %d URL(s) failed for %s: %v", len(e.URLs), e.Descriptor, e.LastErr)
}

func (e *FetchExhausted) Unwrap() error { return e.LastErr }

// StreamDecodeError names which ingest stream failed to decode and why.
type StreamDecodeError struct {
	Stream string
	Err    error
}

func (e *StreamDecodeError) Error() string {
	return fmt.Sprintf("%s stream: decode error: %v", e.Stream, e.Err)
}

func (e *StreamDecodeError) Unwrap() error { return e.Err }

// BrokenPipe names which ingest stream observed the producer hang up.
type BrokenPipe struct {
	Stream string
}

func (e *BrokenPipe) Error() string {
	return fmt.Sprintf("%s stream: broken pipe", e.Stream)
}

// TaskArgumentMismatch is raised by the argument marshaller when a declared
// parameter has an invalid required/default combination, or an incoming
// value cannot be converted to the declared type.
type TaskArgumentMismatch struct {
	Param  string
	Reason string
}

func (e *TaskArgumentMismatch) Error() string {
	return fmt.Sprintf("task argument %q: %s", e.Param, e.Reason)
}

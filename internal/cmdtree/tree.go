// Package cmdtree assembles the discovered tasks of a project into a cobra
// command tree (spec.md §4.5).
package cmdtree

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/axl-run/axl/internal/axlerr"
	"github.com/axl-run/axl/internal/script"
)

// taskGroupDisplayOrder/taskCommandDisplayOrder are recorded in each
// generated command's "axl/display-order" annotation (tasks 0, groups 1).
// Nothing reads that annotation back, and cobra ignores it: help output keeps
// cobra's own ordering.
const (
	taskCommandDisplayOrder = 0
	taskGroupDisplayOrder   = 1
)

// Entry is one discovered task, identified by its defining script path and
// exported symbol.
type Entry struct {
	ScriptPath string
	Symbol     string
	Task       *script.Task
}

// Tree mirrors CommandTree: a trie of subgroups and tasks, built up by
// repeated Insert calls and flattened into a *cobra.Command with AsCommand.
type Tree struct {
	subgroups map[string]*Tree
	tasks     map[string]Entry
}

func New() *Tree {
	return &Tree{subgroups: map[string]*Tree{}, tasks: map[string]Entry{}}
}

// Insert places entry at the node identified by groupPath, reporting a
// task/group name collision at the same tree level, or too many group
// levels (spec.md §4.5).
func (t *Tree) Insert(name string, groupPath []string, entry Entry) error {
	if len(groupPath) > script.MaxTaskGroups {
		return &axlerr.TooDeeplyNested{GroupPath: groupPath, Max: script.MaxTaskGroups}
	}
	return t.insert(name, groupPath, groupPath, entry)
}

func (t *Tree) insert(name string, fullGroup, remaining []string, entry Entry) error {
	if len(remaining) == 0 {
		if _, ok := t.subgroups[name]; ok {
			return &axlerr.GroupTaskConflict{Name: name, GroupPath: fullGroup, SourceFile: entry.ScriptPath}
		}
		if prior, ok := t.tasks[name]; ok {
			return &axlerr.DuplicateDefinition{TaskName: name, GroupPath: fullGroup, SourceFile: entry.ScriptPath, PriorFile: prior.ScriptPath}
		}
		t.tasks[name] = entry
		return nil
	}

	first := remaining[0]
	if _, ok := t.tasks[first]; ok {
		return &axlerr.GroupTaskConflict{Name: first, GroupPath: fullGroup, SourceFile: entry.ScriptPath}
	}
	sub, ok := t.subgroups[first]
	if !ok {
		sub = New()
		t.subgroups[first] = sub
	}
	return sub.insert(name, fullGroup, remaining[1:], entry)
}

// AsCommand materializes the tree under an existing root command: one child
// command per group and one leaf command per task, with an explicit conflict
// error if a generated name collides with a command already added to root
// (such as `version`). It sets no help heading for tasks; a group invoked
// without a subcommand prints its help instead of failing; and commands that
// cobra adds on its own later, such as `help`, are not checked for conflicts.
func (t *Tree) AsCommand(root *cobra.Command, groupPath []string, newLeaf func(Entry) *cobra.Command) error {
	for name, sub := range t.subgroups {
		if cmdExists(root, name) {
			return fmt.Errorf("group %v conflicts with a previously defined command", append(append([]string{}, groupPath...), name))
		}
		child := &cobra.Command{
			Use:         name,
			Short:       name + " task group",
			Annotations: map[string]string{"axl/display-order": fmt.Sprint(taskGroupDisplayOrder)},
		}
		if err := sub.AsCommand(child, append(groupPath, name), newLeaf); err != nil {
			return err
		}
		root.AddCommand(child)
	}

	for name, entry := range t.tasks {
		if cmdExists(root, name) {
			return fmt.Errorf("task %q in group %v conflicts with a previously defined command", name, groupPath)
		}
		leaf := newLeaf(entry)
		leaf.Use = name
		if leaf.Annotations == nil {
			leaf.Annotations = map[string]string{}
		}
		leaf.Annotations["axl/display-order"] = fmt.Sprint(taskCommandDisplayOrder)
		root.AddCommand(leaf)
	}

	return nil
}

func cmdExists(root *cobra.Command, name string) bool {
	for _, c := range root.Commands() {
		if c.Name() == name {
			return true
		}
	}
	return false
}

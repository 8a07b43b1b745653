// Package dispatch implements spec.md §4.10's entry dispatcher: locating the
// project root, expanding dependencies, discovering and evaluating scripts,
// materializing the command tree, and invoking whichever task the
// command-line arguments name.
package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"go.starlark.net/starlark"

	"github.com/axl-run/axl/internal/bazelbuild/sink"
	"github.com/axl-run/axl/internal/capabilities"
	"github.com/axl-run/axl/internal/cas"
	"github.com/axl-run/axl/internal/cmdtree"
	"github.com/axl-run/axl/internal/moduledesc"
	"github.com/axl-run/axl/internal/projectroot"
	"github.com/axl-run/axl/internal/script"
	"github.com/axl-run/axl/internal/taskargs"
)

// Version is the string the `version` subcommand prints (spec.md §6).
const Version = "0.1.0"

// scriptExtension is the recognized script file suffix (spec.md GLOSSARY's
// "Script" entry and its `.axl`-suffixed load-path examples).
const scriptExtension = ".axl"

// Options configures one dispatcher run.
type Options struct {
	WorkDir   string
	Args      []string
	BuildTool string
	Uploader  *sink.GRPCConfig
	// CacheDir overrides the CAS store's default user-cache directory;
	// mainly for tests.
	CacheDir string
}

// Run executes the full entry-dispatcher flow and returns the process exit
// code (spec.md §4.10, §6's exit code contract).
func Run(ctx context.Context, opts Options) int {
	code, err := run(ctx, opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code == 0 {
			code = 1
		}
	}
	return code
}

func run(ctx context.Context, opts Options) (int, error) {
	root, err := projectroot.Find(opts.WorkDir)
	if err != nil {
		return 1, fmt.Errorf("locating project root: %w", err)
	}

	manifest, err := evaluateManifest(root)
	if err != nil {
		return 1, fmt.Errorf("evaluating dependency manifest: %w", err)
	}

	casStore, err := cas.New(root, opts.CacheDir)
	if err != nil {
		return 1, err
	}
	if err := casStore.Expand(ctx, manifest.AsDescriptors()); err != nil {
		return 1, fmt.Errorf("expanding dependencies: %w", err)
	}

	discovered, err := discoverScripts(opts.WorkDir, root)
	if err != nil {
		return 1, err
	}

	evaluator := script.New(root, casStore.DepsPath())

	var taskEntries []cmdtree.Entry
	seen := map[string]bool{}
	collect := func(relPath string) error {
		if seen[relPath] {
			return nil
		}
		seen[relPath] = true
		evaluated, err := evaluator.Eval(relPath)
		if err != nil {
			return fmt.Errorf("evaluating %s: %w", relPath, err)
		}
		for _, t := range evaluated.Tasks() {
			taskEntries = append(taskEntries, cmdtree.Entry{ScriptPath: relPath, Symbol: t.Symbol, Task: t.Task})
		}
		return nil
	}
	for _, relPath := range discovered {
		if err := collect(relPath); err != nil {
			return 1, err
		}
	}
	for _, usage := range manifest.TaskUsages {
		if err := collect(usage.ScriptPath); err != nil {
			return 1, err
		}
	}

	tree := cmdtree.New()
	for _, entry := range taskEntries {
		if err := tree.Insert(entry.Symbol, entry.Task.Groups, entry); err != nil {
			return 1, err
		}
	}

	bazelCap := capabilities.NewBazel(ctx, opts.BuildTool, opts.Uploader)

	var exitCode int
	rootCmd := &cobra.Command{
		Use:           "aspect",
		Short:         "aspect runs project tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the CLI version and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
			return nil
		},
	})

	if err := tree.AsCommand(rootCmd, nil, func(entry cmdtree.Entry) *cobra.Command {
		return newTaskCommand(entry, root, bazelCap, &exitCode)
	}); err != nil {
		return 1, err
	}

	rootCmd.SetArgs(opts.Args)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		return 1, err
	}
	return exitCode, nil
}

func evaluateManifest(root string) (*moduledesc.ModuleStore, error) {
	path, ok := projectroot.ManifestPath(root)
	if !ok {
		return &moduledesc.ModuleStore{RepoRoot: root}, nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return moduledesc.New(root).Evaluate(path, string(src))
}

// discoverScripts walks from workDir up to (and including) root, collecting
// every script-extension file directly inside each ancestor's `.aspect`
// directory (spec.md §4.10 step 4), deduplicated and returned sorted,
// project-root-relative.
func discoverScripts(workDir, root string) ([]string, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, err
	}
	root = filepath.Clean(root)

	var dirs []string
	cur := filepath.Clean(abs)
	for {
		dirs = append(dirs, cur)
		if cur == root {
			break
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			break
		}
		cur = parent
	}

	seen := map[string]bool{}
	var out []string
	for _, dir := range dirs {
		aspectDir := filepath.Join(dir, ".aspect")
		info, err := os.Stat(aspectDir)
		if err != nil || !info.IsDir() {
			continue
		}
		matches, err := doublestar.Glob(os.DirFS(aspectDir), "*"+scriptExtension)
		if err != nil {
			return nil, fmt.Errorf("scanning %s: %w", aspectDir, err)
		}
		for _, m := range matches {
			relToRoot, err := filepath.Rel(root, filepath.Join(aspectDir, m))
			if err != nil {
				return nil, err
			}
			relToRoot = filepath.ToSlash(relToRoot)
			if !seen[relToRoot] {
				seen[relToRoot] = true
				out = append(out, relToRoot)
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// newTaskCommand materializes one cobra leaf for a discovered task: binding
// its declared arguments to flags/positionals, and on RunE, marshalling them,
// invoking the task implementation with a fresh TaskContext, and stashing its
// returned exit code for Run to surface (spec.md §4.10 step 6).
func newTaskCommand(entry cmdtree.Entry, projectRoot string, bazelCap *capabilities.Bazel, exitCode *int) *cobra.Command {
	cmd := &cobra.Command{
		Short: entry.Task.Description,
	}
	bound := cmdtree.BindArgs(cmd, entry.Task)
	cmd.RunE = func(cmd *cobra.Command, positional []string) error {
		values := bound.Values(positional)
		argsVal, err := taskargs.Marshal(entry.Task, values)
		if err != nil {
			return err
		}
		tc := capabilities.NewTaskContext(projectRoot, argsVal, bazelCap)
		thread := &starlark.Thread{Name: "task:" + entry.Symbol}
		ret, err := starlark.Call(thread, entry.Task.Implementation, starlark.Tuple{tc}, nil)
		if err != nil {
			return err
		}
		code, err := taskExitCode(ret)
		if err != nil {
			return err
		}
		*exitCode = code
		return nil
	}
	return cmd
}

// taskExitCode converts a task implementation's return value into a process
// exit code, truncated to the 8-bit exit range (spec.md §6).
func taskExitCode(v starlark.Value) (int, error) {
	switch t := v.(type) {
	case starlark.NoneType:
		return 0, nil
	case starlark.Int:
		n, ok := t.Int64()
		if !ok {
			return 0, fmt.Errorf("task returned an out-of-range integer")
		}
		return int(uint8(n)), nil
	default:
		return 0, fmt.Errorf("task implementation must return an int or None, got %s", v.Type())
	}
}

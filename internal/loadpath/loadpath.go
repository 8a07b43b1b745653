// Package loadpath implements the pure, filesystem-free sanitizer and
// classifier for load(...) path strings (spec.md §3, §4.1). It never touches
// the filesystem; callers join the classified result against a base
// directory with JoinConfined.
package loadpath

import (
	"strings"

	"github.com/axl-run/axl/internal/axlerr"
)

// Kind distinguishes the three syntactic forms a load path can take.
type Kind int

const (
	// KindModuleSpecifier is `@<module>//<subpath>`.
	KindModuleSpecifier Kind = iota
	// KindModuleSubpath is a module-root-relative `<subpath>`.
	KindModuleSubpath
	// KindRelativePath is a script-relative `./<subpath>` or `../<subpath>`.
	KindRelativePath
)

// Path is the classified result of sanitizing a load path string. Subpath is
// always lexically normalized and slash-separated.
type Path struct {
	Kind    Kind
	Module  string // only set when Kind == KindModuleSpecifier
	Subpath string
}

const reserved = "\\/:*?\"<>|"

var reservedDeviceNames = map[string]bool{
	"CON": true, "PRN": true, "AUX": true, "NUL": true,
}

func init() {
	for _, p := range []string{"COM", "LPT"} {
		for d := '0'; d <= '9'; d++ {
			reservedDeviceNames[p+string(d)] = true
		}
	}
}

// Parse sanitizes and classifies a raw load(...) argument.
func Parse(raw string) (Path, error) {
	if raw == "" {
		return Path{}, invalid(raw, "empty load path")
	}
	if strings.TrimSpace(raw) != raw {
		return Path{}, invalid(raw, "leading or trailing whitespace")
	}
	if strings.HasPrefix(raw, "/") {
		return Path{}, invalid(raw, "leading /")
	}
	if strings.Contains(raw, "\\") {
		return Path{}, invalid(raw, "contains \\")
	}
	if strings.HasPrefix(raw, "@@") {
		return Path{}, invalid(raw, "leading @@")
	}
	lastSlash := strings.LastIndexByte(raw, '/')
	tail := raw
	if lastSlash >= 0 {
		tail = raw[lastSlash+1:]
	}
	if !strings.HasSuffix(tail, ".axl") {
		return Path{}, invalid(raw, "does not end in .axl")
	}

	module := ""
	pathToValidate := raw
	moduleFound := false
	if strings.HasPrefix(raw, "@") {
		if idx := strings.Index(raw, "//"); idx >= 0 {
			candidate := raw[1:idx]
			if !strings.Contains(candidate, "/") {
				if err := validateModuleName(candidate); err != nil {
					return Path{}, invalid(raw, err.Error())
				}
				module = candidate
				pathToValidate = raw[idx+2:]
				moduleFound = true
			}
		}
	}

	if strings.Contains(pathToValidate, "//") {
		return Path{}, invalid(raw, "contains // outside the module separator")
	}

	segments := strings.Split(pathToValidate, "/")
	allowingRelative := true
	seenDot := false
	for _, seg := range segments {
		if allowingRelative && seg == ".." {
			continue
		}
		if allowingRelative && seg == "." && !seenDot {
			seenDot = true
			continue
		}
		allowingRelative = false
		if err := validatePathSegment(seg); err != nil {
			return Path{}, invalid(raw, err.Error())
		}
	}

	normalized := normalizeRelPathLexically(segments)
	subpath := strings.Join(normalized, "/")

	if moduleFound {
		return Path{Kind: KindModuleSpecifier, Module: module, Subpath: subpath}, nil
	}
	if len(normalized) > 0 && (normalized[0] == "." || normalized[0] == "..") {
		return Path{Kind: KindRelativePath, Subpath: subpath}, nil
	}
	return Path{Kind: KindModuleSubpath, Subpath: subpath}, nil
}

func invalid(path, reason string) error {
	return &axlerr.InvalidLoadPath{Path: path, Reason: reason}
}

// validateModuleName checks the name-grammar rules from spec.md §3: a
// lowercase-letter start, lowercase-letter-or-digit end, all characters from
// [a-z0-9.-_].
func validateModuleName(name string) error {
	if name == "" {
		return invalid(name, "empty module name")
	}
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789.-_"
	if name[0] < 'a' || name[0] > 'z' {
		return invalid(name, "module name must start with a lowercase letter")
	}
	last := name[len(name)-1]
	if !((last >= 'a' && last <= 'z') || (last >= '0' && last <= '9')) {
		return invalid(name, "module name must end with a lowercase letter or digit")
	}
	for _, c := range name {
		if !strings.ContainsRune(alphabet, c) {
			return invalid(name, "module name contains an invalid character")
		}
	}
	return nil
}

// validatePathSegment enforces the per-segment rules of spec.md §3.
func validatePathSegment(seg string) error {
	if seg == "" {
		return invalid(seg, "empty path segment")
	}
	if strings.TrimSpace(seg) != seg {
		return invalid(seg, "path segment has leading or trailing whitespace")
	}
	if len(seg) > 255 {
		return invalid(seg, "path segment longer than 255 bytes")
	}
	if strings.HasSuffix(seg, " ") || strings.HasSuffix(seg, ".") {
		return invalid(seg, "path segment ends in space or dot")
	}
	base := seg
	if idx := strings.IndexByte(seg, '.'); idx >= 0 {
		base = seg[:idx]
	}
	if reservedDeviceNames[strings.ToUpper(base)] {
		return invalid(seg, "path segment is a reserved device name")
	}
	for _, c := range seg {
		if c < 0x20 || strings.ContainsRune(reserved, c) {
			return invalid(seg, "path segment contains an invalid character")
		}
	}
	return nil
}

// normalizeRelPathLexically drops "." components and resolves ".." against
// a preceding normal component where possible, preserving a leading "./" so
// a module-root-relative path is never confused with a script-relative one.
func normalizeRelPathLexically(segments []string) []string {
	startsWithDotSlash := len(segments) > 0 && segments[0] == "."
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".":
			continue
		case "..":
			if n := len(out); n > 0 && out[n-1] != ".." {
				out = out[:n-1]
				continue
			}
			out = append(out, "..")
		default:
			out = append(out, seg)
		}
	}
	if startsWithDotSlash && (len(out) == 0 || (out[0] != "." && out[0] != "..")) {
		out = append([]string{"."}, out...)
	}
	return out
}

// NormalizeAbsPathLexically normalizes an absolute, slash-separated path.
// The result always begins with a single leading slash. Extra ".." at the
// root are dropped rather than erroring, per spec.md §4.1.
func NormalizeAbsPathLexically(path string) (string, error) {
	if !strings.HasPrefix(path, "/") {
		return "", invalid(path, "absolute path must start with /")
	}
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	out := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "", ".":
			continue
		case "..":
			if n := len(out); n > 0 {
				out = out[:n-1]
			}
			// extra ".." at the root are dropped, not an error.
		default:
			out = append(out, seg)
		}
	}
	return "/" + strings.Join(out, "/"), nil
}

// JoinConfined joins base (an absolute, already-normalized directory) with a
// normalized relative subpath, failing if the result would escape base.
func JoinConfined(base, subpath string) (string, error) {
	depth := 0
	var out []string
	if subpath != "" {
		for _, seg := range strings.Split(subpath, "/") {
			switch seg {
			case "", ".":
				continue
			case "..":
				if depth == 0 {
					return "", invalid(subpath, "escapes the base directory")
				}
				depth--
				out = out[:len(out)-1]
			default:
				depth++
				out = append(out, seg)
			}
		}
	}
	joined := strings.TrimSuffix(base, "/")
	if len(out) > 0 {
		joined += "/" + strings.Join(out, "/")
	}
	return joined, nil
}

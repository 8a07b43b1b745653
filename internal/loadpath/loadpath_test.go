package loadpath

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseClassification(t *testing.T) {
	for _, tt := range []struct {
		name string
		in   string
		want Path
	}{
		{
			name: "module specifier",
			in:   "@libx//pkg/tool.axl",
			want: Path{Kind: KindModuleSpecifier, Module: "libx", Subpath: "pkg/tool.axl"},
		},
		{
			name: "module subpath",
			in:   "util/inner.axl",
			want: Path{Kind: KindModuleSubpath, Subpath: "util/inner.axl"},
		},
		{
			name: "relative path",
			in:   "./util/inner.axl",
			want: Path{Kind: KindRelativePath, Subpath: "./util/inner.axl"},
		},
		{
			name: "relative parent path",
			in:   "../tasks.axl",
			want: Path{Kind: KindRelativePath, Subpath: "../tasks.axl"},
		},
		{
			name: "multiple leading parent segments",
			in:   "../../tasks.axl",
			want: Path{Kind: KindRelativePath, Subpath: "../../tasks.axl"},
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q) = %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestParseRejections(t *testing.T) {
	for _, in := range []string{
		"",
		" leading.axl",
		"trailing.axl ",
		"/absolute.axl",
		"a\\b.axl",
		"@@foo//bar.axl",
		"noext.txt",
		"a//b.axl",
		"@lib//a//b.axl",
		"a/CON.axl",
		"a/trailing.axl.",
		"a/bad<char>.axl",
		"@1lib//a.axl",
		"@lib-//a.axl",
		"a/../b.axl",
	} {
		t.Run(in, func(t *testing.T) {
			if _, err := Parse(in); err == nil {
				t.Errorf("Parse(%q) succeeded, want an error", in)
			}
		})
	}
}

func TestJoinConfined(t *testing.T) {
	if _, err := JoinConfined("/root", "../escape.axl"); err == nil {
		t.Error("JoinConfined allowed escaping the base")
	}
	got, err := JoinConfined("/root", "a/../b.axl")
	if err != nil {
		t.Fatal(err)
	}
	if want := "/root/b.axl"; got != want {
		t.Errorf("JoinConfined = %q, want %q", got, want)
	}
}

func TestNormalizeAbsPathLexically(t *testing.T) {
	got, err := NormalizeAbsPathLexically("/a/../../b/./c")
	if err != nil {
		t.Fatal(err)
	}
	if want := "/b/c"; got != want {
		t.Errorf("got %q want %q", got, want)
	}
}

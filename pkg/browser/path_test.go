package browser

import (
	"reflect"
	"testing"
)

func TestBreadcrumb(t *testing.T) {
	tests := []struct {
		path string
		want []Crumb
	}{
		{"/", nil},
		{"", nil},
		{"/Documents", []Crumb{{"Documents", "/Documents"}}},
		{"/Documents/Reports", []Crumb{
			{"Documents", "/Documents"},
			{"Reports", "/Documents/Reports"},
		}},
		{"/a/b/c", []Crumb{
			{"a", "/a"},
			{"b", "/a/b"},
			{"c", "/a/b/c"},
		}},
		// Duplicate and trailing slashes collapse
		{"//Documents//Reports/", []Crumb{
			{"Documents", "/Documents"},
			{"Reports", "/Documents/Reports"},
		}},
	}

	for _, tt := range tests {
		got := Breadcrumb(tt.path)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Breadcrumb(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestBreadcrumb_CumulativePathsRejoin(t *testing.T) {
	paths := []string{"/Documents/Reports", "/a", "/x/y/z/w", "/with space/dir"}
	for _, p := range paths {
		crumbs := Breadcrumb(p)
		if len(crumbs) == 0 {
			t.Fatalf("expected segments for %q", p)
		}
		if last := crumbs[len(crumbs)-1].Path; last != p {
			t.Errorf("last cumulative path = %q, want %q", last, p)
		}
		for i, c := range crumbs {
			want := ""
			for _, earlier := range crumbs[:i+1] {
				want += "/" + earlier.Name
			}
			if c.Path != want {
				t.Errorf("crumb %d of %q: path %q, want %q", i, p, c.Path, want)
			}
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "/"},
		{"/", "/"},
		{"//", "/"},
		{"/a/", "/a"},
		{"a/b", "/a/b"},
		{"//a//b//", "/a/b"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestJoinPath(t *testing.T) {
	tests := []struct {
		dir, name, want string
	}{
		{"/", "a.txt", "/a.txt"},
		{"", "a.txt", "/a.txt"},
		{"/docs", "a.txt", "/docs/a.txt"},
		{"/docs/sub", "dir", "/docs/sub/dir"},
	}
	for _, tt := range tests {
		if got := JoinPath(tt.dir, tt.name); got != tt.want {
			t.Errorf("JoinPath(%q, %q) = %q, want %q", tt.dir, tt.name, got, tt.want)
		}
	}
}

func TestParentPath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/", "/"},
		{"/a", "/"},
		{"/a/b", "/a"},
		{"/a/b/c", "/a/b"},
	}
	for _, tt := range tests {
		if got := ParentPath(tt.in); got != tt.want {
			t.Errorf("ParentPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

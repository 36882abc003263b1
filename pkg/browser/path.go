// Package browser implements the client-side state model for navigating a
// filecove server: path and breadcrumb derivation, debounced search and
// filters, selection tracking, listing fetches with stale-response
// discarding, concurrent batch operations, and upload coordination.
package browser

import "strings"

// Crumb is one navigable breadcrumb segment.
type Crumb struct {
	Name string
	Path string
}

// Breadcrumb derives the ordered breadcrumb segments for a path. Each
// segment carries the cumulative absolute path up to and including itself.
// The root path yields no segments.
func Breadcrumb(path string) []Crumb {
	var crumbs []Crumb
	prefix := ""
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			continue
		}
		prefix += "/" + seg
		crumbs = append(crumbs, Crumb{Name: seg, Path: prefix})
	}
	return crumbs
}

// NormalizePath collapses duplicate slashes and guarantees a leading slash
// with no trailing slash (except for the root itself).
func NormalizePath(path string) string {
	crumbs := Breadcrumb(path)
	if len(crumbs) == 0 {
		return "/"
	}
	return crumbs[len(crumbs)-1].Path
}

// JoinPath appends a name to a directory path.
func JoinPath(dir, name string) string {
	if dir == "/" || dir == "" {
		return "/" + name
	}
	return dir + "/" + name
}

// ParentPath returns the containing directory of a path. The root is its
// own parent.
func ParentPath(path string) string {
	crumbs := Breadcrumb(path)
	if len(crumbs) < 2 {
		return "/"
	}
	return crumbs[len(crumbs)-2].Path
}

// Package wire defines the data model and wire encoding shared by every
// component that talks to a resolver or a publisher: paths, values,
// identifiers, and the hello/request/reply envelopes.
package wire

import (
	"errors"
	"strings"
)

// ErrInvalidPath is returned by NewPath when a candidate path does not
// satisfy the absolute, slash-separated, no-trailing-slash rule.
var ErrInvalidPath = errors.New("wire: invalid path")

// Path identifies a published value in the namespace. Paths are absolute,
// slash separated, and never carry a trailing slash except for the root
// path itself ("/").
type Path string

// NewPath validates s and returns it as a Path.
func NewPath(s string) (Path, error) {
	if s == "" || s[0] != '/' {
		return "", ErrInvalidPath
	}
	if len(s) > 1 && strings.HasSuffix(s, "/") {
		return "", ErrInvalidPath
	}
	if strings.Contains(s, "//") {
		return "", ErrInvalidPath
	}
	return Path(s), nil
}

// Append joins a child segment onto p, producing a new validated Path.
func (p Path) Append(seg string) (Path, error) {
	if strings.ContainsAny(seg, "/") {
		return "", ErrInvalidPath
	}
	if p == "/" {
		return NewPath("/" + seg)
	}
	return NewPath(string(p) + "/" + seg)
}

// Dirname returns the parent of p, or p itself when p is the root.
func (p Path) Dirname() Path {
	if p == "/" {
		return p
	}
	idx := strings.LastIndexByte(string(p), '/')
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// Basename returns the final path segment.
func (p Path) Basename() string {
	idx := strings.LastIndexByte(string(p), '/')
	return string(p[idx+1:])
}

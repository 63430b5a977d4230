package sandbox

import (
	"path"
	"path/filepath"
	"strings"
)

// DisplayMapper translates paths under the sandbox base into the path the
// same file has outside a container, e.g. when the base is a bind mount of
// a host directory. It performs no I/O.
type DisplayMapper struct {
	base     string
	hostRoot string
}

// NewDisplayMapper returns a mapper from base to hostRoot. An empty hostRoot
// yields a mapper that never maps.
func NewDisplayMapper(base, hostRoot string) *DisplayMapper {
	return &DisplayMapper{
		base:     filepath.Clean(base),
		hostRoot: strings.TrimSpace(hostRoot),
	}
}

// Enabled reports whether a host root is configured.
func (m *DisplayMapper) Enabled() bool {
	return m != nil && m.hostRoot != ""
}

// Map returns the host-visible form of p. It returns false when no host
// root is configured or p lies outside the base.
func (m *DisplayMapper) Map(p string) (string, bool) {
	if !m.Enabled() || p == "" {
		return "", false
	}
	p = filepath.Clean(p)
	if !filepath.IsAbs(p) || !within(m.base, p) {
		return "", false
	}
	rel, err := filepath.Rel(m.base, p)
	if err != nil {
		return "", false
	}
	if rel == "." {
		return m.hostRoot, true
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if isWindowsStyle(m.hostRoot) {
		return strings.TrimRight(m.hostRoot, `\`) + `\` + strings.Join(parts, `\`), true
	}
	return path.Join(append([]string{m.hostRoot}, parts...)...), true
}

// isWindowsStyle detects host roots like C:\Users\me\Downloads.
func isWindowsStyle(root string) bool {
	if strings.Contains(root, "/") {
		return false
	}
	if strings.Contains(root, `\`) {
		return true
	}
	return len(root) >= 2 && root[1] == ':'
}

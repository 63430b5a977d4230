// Package sandbox confines job output directories to an operator-approved
// base directory.
//
// Requested directories are treated as untrusted input: they are expanded,
// canonicalized (following symlinks) and checked for containment before any
// directory is created, and checked again after creation.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Sentinel errors for sandbox resolution.
var (
	// ErrPathNotAllowed indicates the canonical path escapes the allowed base.
	ErrPathNotAllowed = errors.New("path not allowed")

	// ErrPathNotWritable indicates the directory could not be created or written.
	ErrPathNotWritable = errors.New("path not writable")
)

// PathError records a failed resolution and the path that caused it.
type PathError struct {
	Path string
	Err  error

	cause error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v: %v", e.Path, e.Err, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// Unwrap returns the sentinel for errors.Is support.
func (e *PathError) Unwrap() error {
	return e.Err
}

// IsPathNotAllowed reports whether err is a containment violation.
func IsPathNotAllowed(err error) bool {
	return errors.Is(err, ErrPathNotAllowed)
}

// IsPathNotWritable reports whether err is a creation or write-probe failure.
func IsPathNotWritable(err error) bool {
	return errors.Is(err, ErrPathNotWritable)
}

// Sandbox resolves requested directories inside a canonical base.
type Sandbox struct {
	base       string
	defaultDir string
}

// New creates a Sandbox rooted at allowedBase. The base is created when
// missing. defaultDir is used for empty requests and must itself resolve
// inside the base; an empty defaultDir means the base itself.
func New(allowedBase, defaultDir string) (*Sandbox, error) {
	if strings.TrimSpace(allowedBase) == "" {
		return nil, fmt.Errorf("allowed base dir is empty")
	}

	base, err := expandHome(strings.TrimSpace(allowedBase))
	if err != nil {
		return nil, err
	}
	base, err = filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve allowed base: %w", err)
	}
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, &PathError{Path: base, Err: ErrPathNotWritable, cause: err}
	}
	canonBase, err := filepath.EvalSymlinks(base)
	if err != nil {
		return nil, fmt.Errorf("canonicalize allowed base: %w", err)
	}

	s := &Sandbox{base: canonBase}

	if strings.TrimSpace(defaultDir) == "" {
		s.defaultDir = canonBase
		return s, nil
	}
	d, err := s.resolve(defaultDir)
	if err != nil {
		return nil, fmt.Errorf("default dir: %w", err)
	}
	s.defaultDir = d
	return s, nil
}

// Base returns the canonical allowed base directory.
func (s *Sandbox) Base() string {
	return s.base
}

// DefaultDir returns the canonical default directory.
func (s *Sandbox) DefaultDir() string {
	return s.defaultDir
}

// Resolve validates requested and returns its canonical form, creating the
// directory when needed. An empty request resolves to the default directory.
// Relative paths are interpreted against the base.
func (s *Sandbox) Resolve(requested string) (string, error) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return s.resolve(s.defaultDir)
	}
	return s.resolve(requested)
}

func (s *Sandbox) resolve(requested string) (string, error) {
	p, err := expandHome(requested)
	if err != nil {
		return "", &PathError{Path: requested, Err: ErrPathNotAllowed, cause: err}
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(s.base, p)
	}
	p = filepath.Clean(p)

	canon, err := canonicalize(p)
	if err != nil {
		return "", &PathError{Path: requested, Err: ErrPathNotAllowed, cause: err}
	}
	if !s.contains(canon) {
		return "", &PathError{Path: requested, Err: ErrPathNotAllowed}
	}

	if err := os.MkdirAll(canon, 0o755); err != nil {
		return "", &PathError{Path: requested, Err: ErrPathNotWritable, cause: err}
	}

	// A symlink may have been swapped in while creating directories.
	final, err := filepath.EvalSymlinks(canon)
	if err != nil {
		return "", &PathError{Path: requested, Err: ErrPathNotWritable, cause: err}
	}
	if !s.contains(final) {
		return "", &PathError{Path: requested, Err: ErrPathNotAllowed}
	}

	info, err := os.Stat(final)
	if err != nil {
		return "", &PathError{Path: requested, Err: ErrPathNotWritable, cause: err}
	}
	if !info.IsDir() {
		return "", &PathError{Path: requested, Err: ErrPathNotWritable, cause: fmt.Errorf("not a directory")}
	}
	if err := probeWritable(final); err != nil {
		return "", &PathError{Path: requested, Err: ErrPathNotWritable, cause: err}
	}
	return final, nil
}

func (s *Sandbox) contains(p string) bool {
	return within(s.base, p)
}

// within reports whether p equals base or descends from it. Both paths
// must already be clean and absolute.
func within(base, p string) bool {
	rel, err := filepath.Rel(base, p)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	return true
}

// canonicalize follows symlinks on the longest existing prefix of p and
// appends the missing components lexically.
func canonicalize(p string) (string, error) {
	var missing []string
	cur := p
	for {
		_, err := os.Lstat(cur)
		if err == nil {
			resolved, err := filepath.EvalSymlinks(cur)
			if err != nil {
				return "", err
			}
			for i := len(missing) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, missing[i])
			}
			return resolved, nil
		}
		if !errors.Is(err, fs.ErrNotExist) && !errors.Is(err, syscall.ENOTDIR) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p, nil
		}
		missing = append(missing, filepath.Base(cur))
		cur = parent
	}
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") && !strings.HasPrefix(p, "~"+string(filepath.Separator)) {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand home: %w", err)
	}
	if p == "~" {
		return home, nil
	}
	return filepath.Join(home, p[2:]), nil
}

func probeWritable(dir string) error {
	f, err := os.CreateTemp(dir, ".ytgrab-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// Package filename builds safe, collision-free output paths for fetched media.
package filename

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// DefaultBase replaces names that sanitize to nothing.
const DefaultBase = "download"

// MaxBaseBytes caps a sanitized base name, leaving room for a disambiguator
// and extension within common 255-byte filesystem limits.
const MaxBaseBytes = 180

// maxAttempts bounds the disambiguator search.
const maxAttempts = 10000

// ErrExhausted is returned when no free name was found within maxAttempts.
var ErrExhausted = errors.New("no free file name")

// Sanitize strips path separators and control characters from name and trims
// leading and trailing dots and spaces. It never returns an empty string.
func Sanitize(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '/' || r == '\\':
			b.WriteRune('_')
		case r == utf8.RuneError, unicode.IsControl(r):
			// dropped
		case strings.ContainsRune(`:*?"<>|`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}

	out := strings.Trim(b.String(), " .")
	out = truncate(out, MaxBaseBytes)
	out = strings.TrimRight(out, " .")
	if out == "" {
		return DefaultBase
	}
	return out
}

// SanitizeExt normalizes an extension: no leading dot, no separators.
func SanitizeExt(ext string) string {
	ext = strings.TrimSpace(strings.TrimLeft(ext, "."))
	if ext == "" {
		return ""
	}
	var b strings.Builder
	for _, r := range ext {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// BaseName composes "<title>-<id>-<height>p-<fps>fps", leaving out unknown
// parts, and sanitizes the result.
func BaseName(title, id string, height, fps int) string {
	parts := make([]string, 0, 4)
	if t := strings.TrimSpace(title); t != "" {
		parts = append(parts, t)
	}
	if id = strings.TrimSpace(id); id != "" {
		parts = append(parts, id)
	}
	if height > 0 {
		parts = append(parts, strconv.Itoa(height)+"p")
	}
	if fps > 0 {
		parts = append(parts, strconv.Itoa(fps)+"fps")
	}
	return Sanitize(strings.Join(parts, "-"))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Allocator hands out output stems that no file in the directory uses,
// under any extension, and that were not previously handed out by this
// Allocator. The downloader picks the final extension itself, so "Clip.webm"
// on disk makes "Clip.mp4" unavailable too.
type Allocator struct {
	mu     sync.Mutex
	stems  map[string]struct{}
	byPath map[string]string
}

// NewAllocator returns an empty Allocator.
func NewAllocator() *Allocator {
	return &Allocator{
		stems:  make(map[string]struct{}),
		byPath: make(map[string]string),
	}
}

// Allocate returns dir/<base>.<ext>, or the first free "<base> (n).<ext>".
// A stem is free when no entry in dir is named <stem> or <stem>.<anything>.
// The returned path stays reserved until Release.
func (a *Allocator) Allocate(dir, baseName, ext string) (string, error) {
	if strings.TrimSpace(dir) == "" {
		return "", fmt.Errorf("allocate: dir is empty")
	}
	base := Sanitize(baseName)
	ext = SanitizeExt(ext)

	a.mu.Lock()
	defer a.mu.Unlock()

	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("allocate in %s: %w", dir, err)
	}

	for n := 0; n < maxAttempts; n++ {
		stem := base
		if n > 0 {
			stem = fmt.Sprintf("%s (%d)", base, n)
		}
		key := filepath.Join(dir, stem)
		if _, taken := a.stems[key]; taken {
			continue
		}
		if stemOnDisk(entries, stem) {
			continue
		}

		name := stem
		if ext != "" {
			name += "." + ext
		}
		candidate := filepath.Join(dir, name)
		a.stems[key] = struct{}{}
		a.byPath[candidate] = key
		return candidate, nil
	}
	return "", fmt.Errorf("allocate %s in %s: %w", base, dir, ErrExhausted)
}

func stemOnDisk(entries []fs.DirEntry, stem string) bool {
	for _, e := range entries {
		name := e.Name()
		if name == stem || strings.HasPrefix(name, stem+".") {
			return true
		}
	}
	return false
}

// Release forgets a reservation. Once the job has written its file, the
// file itself keeps the stem taken; after a failed job with nothing on disk
// the stem can be handed out again.
func (a *Allocator) Release(path string) {
	a.mu.Lock()
	if key, ok := a.byPath[path]; ok {
		delete(a.stems, key)
		delete(a.byPath, path)
	}
	a.mu.Unlock()
}

// Reserved reports whether path is currently reserved.
func (a *Allocator) Reserved(path string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.byPath[path]
	return ok
}

package filename

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "My Video", "My Video"},
		{"separators", "a/b\\c", "a_b_c"},
		{"traversal", "../../etc/passwd", "_.._etc_passwd"},
		{"control chars", "bell\x07tab\tnl\n", "belltabnl"},
		{"reserved chars", `what? "yes": <no>|*`, "what_ _yes__ _no___"},
		{"dots only", "..", DefaultBase},
		{"empty", "", DefaultBase},
		{"spaces and dots trimmed", "  .hidden title.  ", "hidden title"},
		{"unicode kept", "日本語 タイトル", "日本語 タイトル"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.input))
		})
	}
}

func TestSanitize_TruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 200)
	got := Sanitize(long)
	assert.LessOrEqual(t, len(got), MaxBaseBytes)
	assert.True(t, strings.HasPrefix(long, got))
	assert.Equal(t, 0, len(got)%2)
}

func TestSanitizeExt(t *testing.T) {
	assert.Equal(t, "mp4", SanitizeExt(".MP4"))
	assert.Equal(t, "webm", SanitizeExt("we/bm"))
	assert.Equal(t, "", SanitizeExt(" . "))
}

func TestBaseName(t *testing.T) {
	tests := []struct {
		name   string
		title  string
		id     string
		height int
		fps    int
		want   string
	}{
		{"all parts", "Clip", "abc", 1080, 30, "Clip-abc-1080p-30fps"},
		{"no fps", "Clip", "abc", 720, 0, "Clip-abc-720p"},
		{"audio only", "Song", "xyz", 0, 0, "Song-xyz"},
		{"hostile title", "../x", "id", 0, 0, "_x-id"},
		{"nothing", "", "", 0, 0, DefaultBase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BaseName(tt.title, tt.id, tt.height, tt.fps))
		})
	}
}

func TestAllocate_DisambiguatesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator()

	first, err := a.Allocate(dir, "Clip", "mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Clip.mp4"), first)
	require.NoError(t, os.WriteFile(first, []byte("x"), 0o644))
	a.Release(first)

	second, err := a.Allocate(dir, "Clip", "mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Clip (1).mp4"), second)
	require.NoError(t, os.WriteFile(second, []byte("x"), 0o644))
	a.Release(second)

	third, err := a.Allocate(dir, "Clip", ".mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Clip (2).mp4"), third)
}

func TestAllocate_ReservationsAreDistinct(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator()

	seen := make(map[string]bool)
	for i := 0; i < 5; i++ {
		p, err := a.Allocate(dir, "same", "mp4")
		require.NoError(t, err)
		assert.False(t, seen[p], "duplicate path %s", p)
		seen[p] = true
		assert.True(t, a.Reserved(p))
	}
}

func TestAllocate_Concurrent(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator()

	const n = 32
	paths := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := a.Allocate(dir, "race", "mp4")
			assert.NoError(t, err)
			paths[i] = p
		}(i)
	}
	wg.Wait()

	unique := make(map[string]struct{}, n)
	for _, p := range paths {
		unique[p] = struct{}{}
	}
	assert.Len(t, unique, n)
}

func TestAllocate_ReleaseFreesName(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator()

	p, err := a.Allocate(dir, "tmp", "mp4")
	require.NoError(t, err)
	a.Release(p)
	assert.False(t, a.Reserved(p))

	again, err := a.Allocate(dir, "tmp", "mp4")
	require.NoError(t, err)
	assert.Equal(t, p, again)
}

func TestAllocate_EmptyDir(t *testing.T) {
	_, err := NewAllocator().Allocate("", "x", "mp4")
	require.Error(t, err)
}

func TestAllocate_StemTakenUnderAnyExtension(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		want     string
	}{
		{"other container", []string{"Clip.webm"}, "Clip (1).mp4"},
		{"partial download", []string{"Clip.f137.mp4.part"}, "Clip (1).mp4"},
		{"bare stem", []string{"Clip"}, "Clip (1).mp4"},
		{"several taken", []string{"Clip.mkv", "Clip (1).webm"}, "Clip (2).mp4"},
		{"longer stem ignored", []string{"Clip2.webm", "Clip (1)x.mp4"}, "Clip.mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, name := range tt.existing {
				require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
			}

			got, err := NewAllocator().Allocate(dir, "Clip", "mp4")
			require.NoError(t, err)
			assert.Equal(t, filepath.Join(dir, tt.want), got)
		})
	}
}

func TestAllocate_ReservedStemBlocksOtherExtension(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator()

	first, err := a.Allocate(dir, "Clip", "mp4")
	require.NoError(t, err)
	second, err := a.Allocate(dir, "Clip", "m4a")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "Clip.mp4"), first)
	assert.Equal(t, filepath.Join(dir, "Clip (1).m4a"), second)
}

func TestAllocate_ReleasedStemStaysTakenByFile(t *testing.T) {
	dir := t.TempDir()
	a := NewAllocator()

	p, err := a.Allocate(dir, "Clip", "mp4")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Clip.webm"), []byte("x"), 0o644))
	a.Release(p)

	again, err := a.Allocate(dir, "Clip", "mp4")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Clip (1).mp4"), again)
}

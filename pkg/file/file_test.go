package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplaceExt(t *testing.T) {
	tests := []struct {
		path, ext, want string
	}{
		{"", ".md", ""},
		{"book.epub", ".md", "book.md"},
		{"dir/book.epub", "md", filepath.Join("dir", "book.md")},
		{"dir/README", ".md", filepath.Join("dir", "README.md")},
		{".hidden", ".md", ".hidden.md"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ReplaceExt(tt.path, tt.ext), tt.path)
	}
}

func TestTranslatedName(t *testing.T) {
	assert.Equal(t, filepath.Join("books", "qt.zh-Hans.md"), TranslatedName("books/qt.md", "zh-Hans"))
	assert.Equal(t, filepath.Join("books", "qt.ja.md"), TranslatedName("books/qt.epub", "ja"))

	assert.True(t, IsTranslated("books/qt.zh-Hans.md", "zh-Hans"))
	assert.True(t, IsTranslated("books/qt.ZH-HANS.MD", "zh-Hans"))
	assert.False(t, IsTranslated("books/qt.md", "zh-Hans"))
	assert.False(t, IsTranslated("books/qt.ja.md", "zh-Hans"))
}

func TestFindRecentAfter(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-2 * time.Hour)
	cutoff := time.Now().Add(-time.Hour)

	write := func(name string, mod time.Time) {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
		require.NoError(t, os.Chtimes(p, mod, mod))
	}
	write("new.md", time.Now())
	write("sub/new.EPUB", time.Now())
	write("new.txt", time.Now())
	write("old.md", old)

	got, err := FindRecentAfter(dir, cutoff, ".md", "epub")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "new.md"),
		filepath.Join(dir, "sub", "new.EPUB"),
	}, got)

	all, err := FindRecentAfter(dir, cutoff)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	assert.True(t, Exists(filepath.Join(dir, "old.md")))
	assert.False(t, Exists(filepath.Join(dir, "missing.md")))
}

func TestFindRecentAfterMissingDir(t *testing.T) {
	_, err := FindRecentAfter(filepath.Join(t.TempDir(), "nope"), time.Time{})
	assert.Error(t, err)
}

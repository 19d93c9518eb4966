package file

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FindRecentAfter walks dir and returns files modified after startTime whose
// extension matches one of exts (case-insensitive). No exts matches any file.
// Results are sorted by path.
func FindRecentAfter(dir string, startTime time.Time, exts ...string) ([]string, error) {
	var recentFiles []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo,
		err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && info.ModTime().After(startTime) && hasExt(path, exts) {
			recentFiles = append(recentFiles, path)
		}
		return nil
	})

	sort.Strings(recentFiles)
	return recentFiles, err
}

func hasExt(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, e := range exts {
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// Exists reports whether path names an existing file or directory.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

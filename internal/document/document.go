package document

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Document is an ordered list of raw lines. Each line keeps its original
// terminator, so concatenating Lines reproduces the source bytes.
type Document struct {
	Path  string
	Lines []string
}

// Len returns the number of lines.
func (d *Document) Len() int {
	return len(d.Lines)
}

// Empty reports whether the document has no lines at all.
func (d *Document) Empty() bool {
	return len(d.Lines) == 0
}

// Read splits r into lines, keeping "\n" (and any preceding "\r") on each line.
// The final line is kept even when it has no terminator.
func Read(r io.Reader) (*Document, error) {
	br := bufio.NewReader(r)
	doc := &Document{}

	for {
		line, err := br.ReadString('\n')
		if line != "" {
			doc.Lines = append(doc.Lines, line)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read document: %w", err)
		}
	}

	return doc, nil
}

// ReadFile loads the document stored at path.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer f.Close()

	doc, err := Read(f)
	if err != nil {
		return nil, err
	}
	doc.Path = path
	return doc, nil
}

// String joins the lines back together.
func (d *Document) String() string {
	return strings.Join(d.Lines, "")
}

// WriteFile writes lines to path through a temporary file in the same
// directory, so readers never observe a half-written document.
func WriteFile(path string, lines []string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := w.WriteString(line); err != nil {
			tmp.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("write output: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("flush output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace output: %w", err)
	}
	return nil
}

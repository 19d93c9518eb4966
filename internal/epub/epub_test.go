package epub

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testContainer = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF = `<?xml version="1.0" encoding="UTF-8"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0" unique-identifier="id">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Game Programming in Qt</dc:title>
  </metadata>
  <manifest>
    <item id="ch2" href="text/ch2.xhtml" media-type="application/xhtml+xml"/>
    <item id="ch1" href="text/ch1.xhtml" media-type="application/xhtml+xml"/>
    <item id="cover" href="images/cover.png" media-type="image/png"/>
    <item id="css" href="style.css" media-type="text/css"/>
  </manifest>
  <spine>
    <itemref idref="ch1"/>
    <itemref idref="ch2"/>
  </spine>
</package>`

const testChapter1 = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<head><title>One</title></head>
<body>
<h1>Chapter One</h1>
<p>The scene graph holds every item.</p>
<p><img src="../images/cover.png" alt="cover"/></p>
<pre><code class="language-c++">int main() {
    return 0;
}</code></pre>
<p>After the code.</p>
</body>
</html>`

const testChapter2 = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml">
<body>
<h1>Chapter Two</h1>
<pre>first line<br/>second line</pre>
</body>
</html>`

func writeTestEPUB(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "book.epub")
	f, err := os.Create(p)
	require.NoError(t, err)
	defer f.Close()

	w := zip.NewWriter(f)
	entries := []struct{ name, body string }{
		{"mimetype", "application/epub+zip"},
		{"META-INF/container.xml", testContainer},
		{"OEBPS/content.opf", testOPF},
		{"OEBPS/text/ch1.xhtml", testChapter1},
		{"OEBPS/text/ch2.xhtml", testChapter2},
		{"OEBPS/images/cover.png", "\x89PNG fake"},
		{"OEBPS/style.css", "body{}"},
	}
	for _, e := range entries {
		fw, err := w.Create(e.name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return p
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	src := writeTestEPUB(t, dir)

	book, err := Convert(context.Background(), src, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Game Programming in Qt", book.Title)
	assert.Equal(t, filepath.Join(dir, "book.md"), book.OutputPath)
	assert.Equal(t, filepath.Join(dir, "book_Images"), book.ImagesDir)
	assert.Equal(t, 2, book.Documents)
	assert.Equal(t, 2, book.CodeBlocks)
	assert.Equal(t, 1, book.Images)

	md := book.Markdown
	assert.Contains(t, md, "# Chapter One")
	assert.Contains(t, md, "The scene graph holds every item.")
	assert.Contains(t, md, "```cpp\nint main() {\n    return 0;\n}\n```")
	assert.Contains(t, md, "```\nfirst line\nsecond line\n```")
	assert.Contains(t, md, "book_Images/cover.png")
	assert.NotContains(t, md, "FENCEDBLOCK")

	// Spine order, not manifest order.
	assert.Less(t, strings.Index(md, "Chapter One"), strings.Index(md, "Chapter Two"))

	written, err := os.ReadFile(book.OutputPath)
	require.NoError(t, err)
	assert.Equal(t, md, string(written))

	img, err := os.ReadFile(filepath.Join(book.ImagesDir, "cover.png"))
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG fake", string(img))
}

func TestConvertDebugDumps(t *testing.T) {
	dir := t.TempDir()
	src := writeTestEPUB(t, dir)
	debugDir := filepath.Join(dir, "debug")

	_, err := Convert(context.Background(), src, Options{
		OutputPath: filepath.Join(dir, "out", "converted.md"),
		DebugDir:   debugDir,
	})
	require.NoError(t, err)

	for _, name := range []string{
		"pre_000_text.txt",
		"pre_001_text.txt",
		"doc_000_after_tokenize.html",
		"doc_001_after_inject.md",
		"_FINAL.md",
	} {
		assert.FileExists(t, filepath.Join(debugDir, name))
	}
	assert.DirExists(t, filepath.Join(dir, "out", "converted_Images"))
}

func TestConvertCancelled(t *testing.T) {
	dir := t.TempDir()
	src := writeTestEPUB(t, dir)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Convert(ctx, src, Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, filepath.Join(dir, "book.md"))
}

func TestConvertInvalidArchive(t *testing.T) {
	p := filepath.Join(t.TempDir(), "broken.epub")
	require.NoError(t, os.WriteFile(p, []byte("not a zip"), 0o644))

	_, err := Convert(context.Background(), p, Options{})
	assert.Error(t, err)
}

func TestConvertMissingContainer(t *testing.T) {
	p := filepath.Join(t.TempDir(), "empty.epub")
	f, err := os.Create(p)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	fw, err := w.Create("mimetype")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("application/epub+zip"))
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	_, err = Convert(context.Background(), p, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "container.xml")
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		html string
		want string
	}{
		{"prefixed class on code", `<pre><code class="language-go">x</code></pre>`, "go"},
		{"lang prefix", `<pre class="lang-js">x</pre>`, "javascript"},
		{"data-lang", `<pre data-lang="Python">x</pre>`, "python"},
		{"alias", `<pre><code class="c#">x</code></pre>`, "csharp"},
		{"explicit wins over bare class", `<pre class="programlisting"><code class="language-rust">x</code></pre>`, "rust"},
		{"bare class", `<pre class="shell">x</pre>`, "bash"},
		{"invalid characters", `<pre class="foo_bar">x</pre>`, ""},
		{"none", `<pre>x</pre>`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := goquery.NewDocumentFromReader(strings.NewReader(tt.html))
			require.NoError(t, err)
			assert.Equal(t, tt.want, detectLanguage(doc.Find("pre").First()))
		})
	}
}

func TestCodeTextNormalizesWhitespace(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<pre>a&nbsp;b\r\nc\rd<br>e</pre>"))
	require.NoError(t, err)
	assert.Equal(t, "a b\nc\nd\ne", codeText(doc.Find("pre").First()))
}

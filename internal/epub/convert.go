package epub

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/MimeLyc/contextual-book-translator/internal/document"
	"github.com/MimeLyc/contextual-book-translator/pkg/file"
	"github.com/MimeLyc/contextual-book-translator/pkg/log"
)

// Options controls where converted assets go.
type Options struct {
	// OutputPath is the Markdown file. Defaults to the EPUB path with ".md".
	OutputPath string
	// ImagesDir receives extracted images. Defaults to "<book>_Images" next
	// to the output file.
	ImagesDir string
	// DebugDir, when set, receives per-block and per-document intermediates.
	DebugDir string
}

// Book is the outcome of a conversion.
type Book struct {
	Title      string
	Markdown   string
	OutputPath string
	ImagesDir  string
	Images     int
	Documents  int
	CodeBlocks int
}

type codeBlock struct {
	token string
	lang  string
	text  string
}

// Convert reads an EPUB and writes a Markdown rendition. Code blocks become
// fenced blocks with their line breaks intact, and images are extracted next
// to the Markdown file.
func Convert(ctx context.Context, epubPath string, opts Options) (*Book, error) {
	r, err := zip.OpenReader(epubPath)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	defer r.Close()

	if opts.OutputPath == "" {
		opts.OutputPath = file.ReplaceExt(epubPath, ".md")
	}
	base := strings.TrimSuffix(filepath.Base(opts.OutputPath), filepath.Ext(opts.OutputPath))
	if opts.ImagesDir == "" {
		opts.ImagesDir = filepath.Join(filepath.Dir(opts.OutputPath), base+"_Images")
	}

	book, err := convert(ctx, newArchive(&r.Reader), opts)
	if err != nil {
		return nil, err
	}

	if err := document.WriteFile(opts.OutputPath, []string{book.Markdown}); err != nil {
		return nil, err
	}
	book.OutputPath = opts.OutputPath
	book.ImagesDir = opts.ImagesDir

	log.Info("Converted %s: %d documents, %d code blocks, %d images -> %s",
		epubPath, book.Documents, book.CodeBlocks, book.Images, opts.OutputPath)
	return book, nil
}

func convert(ctx context.Context, a *archive, opts Options) (*Book, error) {
	p, err := a.readPackage()
	if err != nil {
		return nil, err
	}
	book := &Book{Title: p.Title}

	images, err := saveImages(a, p.Manifest, opts.ImagesDir)
	if err != nil {
		return nil, err
	}
	book.Images = len(images)

	relImages, err := filepath.Rel(filepath.Dir(opts.OutputPath), opts.ImagesDir)
	if err != nil {
		relImages = opts.ImagesDir
	}
	relImages = filepath.ToSlash(relImages)

	if opts.DebugDir != "" {
		if err := os.MkdirAll(opts.DebugDir, 0o755); err != nil {
			return nil, fmt.Errorf("create debug directory: %w", err)
		}
	}

	var out strings.Builder
	blockIdx := 0
	for docIdx, item := range p.Spine {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		data, err := a.read(item.Href)
		if err != nil {
			return nil, err
		}

		md, blocks, err := convertDocument(data, images, relImages, &blockIdx, opts.DebugDir, docIdx)
		if err != nil {
			return nil, fmt.Errorf("convert %s: %w", item.Href, err)
		}
		book.CodeBlocks += blocks

		out.WriteString(strings.TrimSpace(md))
		out.WriteString("\n\n")
		book.Documents++
	}

	book.Markdown = out.String()
	if err := dump(opts.DebugDir, "_FINAL.md", book.Markdown); err != nil {
		return nil, err
	}
	return book, nil
}

// saveImages writes every image item under dir by basename and returns the
// set of saved basenames.
func saveImages(a *archive, manifest []manifestItem, dir string) (map[string]bool, error) {
	saved := make(map[string]bool)
	for _, item := range manifest {
		if !item.isImage() {
			continue
		}
		if len(saved) == 0 {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create images directory: %w", err)
			}
		}

		data, err := a.read(item.Href)
		if err != nil {
			log.Warn("Skipping image %s: %v", item.Href, err)
			continue
		}
		name := path.Base(item.Href)
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return nil, fmt.Errorf("write image %s: %w", name, err)
		}
		saved[name] = true
	}
	return saved, nil
}

func convertDocument(data []byte, images map[string]bool, relImages string, blockIdx *int, debugDir string, docIdx int) (string, int, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", 0, fmt.Errorf("parse html: %w", err)
	}

	doc.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			return
		}
		name := path.Base(src)
		if images[name] {
			img.SetAttr("src", path.Join(relImages, name))
		}
	})

	var blocks []codeBlock
	var dumpErr error
	doc.Find("pre").Each(func(_ int, pre *goquery.Selection) {
		idx := *blockIdx
		*blockIdx++

		block := codeBlock{
			token: fmt.Sprintf("FENCEDBLOCK%d%s", idx, strings.ReplaceAll(uuid.NewString(), "-", "")),
			lang:  detectLanguage(pre),
			text:  codeText(pre),
		}
		if dumpErr == nil {
			outer, _ := goquery.OuterHtml(pre)
			dumpErr = dump(debugDir, fmt.Sprintf("pre_%03d_text.txt", idx), block.text)
			if dumpErr == nil {
				dumpErr = dump(debugDir, fmt.Sprintf("pre_%03d_outer.html", idx), outer)
			}
		}

		pre.ReplaceWithHtml("<p>" + block.token + "</p>")
		blocks = append(blocks, block)
	})
	if dumpErr != nil {
		return "", 0, dumpErr
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	html, err := body.Html()
	if err != nil {
		return "", 0, fmt.Errorf("render html: %w", err)
	}
	if err := dump(debugDir, fmt.Sprintf("doc_%03d_after_tokenize.html", docIdx), html); err != nil {
		return "", 0, err
	}

	md, err := htmltomarkdown.ConvertString(html)
	if err != nil {
		return "", 0, fmt.Errorf("html to markdown: %w", err)
	}

	for _, b := range blocks {
		fenced := "```" + b.lang + "\n" + b.text + "\n```\n"
		md = strings.Replace(md, b.token, fenced, 1)
		log.Debug("Injected code block: lang=%q, %d lines", b.lang, strings.Count(b.text, "\n")+1)
	}

	if err := dump(debugDir, fmt.Sprintf("doc_%03d_after_inject.md", docIdx), md); err != nil {
		return "", 0, err
	}
	return md, len(blocks), nil
}

// codeText returns the text of a <pre> with <br> turned into newlines,
// non-breaking spaces into spaces and line endings normalized.
func codeText(pre *goquery.Selection) string {
	pre.Find("br").ReplaceWithHtml("\n")
	text := pre.Text()
	text = strings.ReplaceAll(text, "\u00a0", " ")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	return text
}

var langPattern = regexp.MustCompile(`^[a-z0-9+#\-]+$`)

var langAliases = map[string]string{
	"c++":   "cpp",
	"c#":    "csharp",
	"py":    "python",
	"js":    "javascript",
	"ts":    "typescript",
	"sh":    "bash",
	"shell": "bash",
}

// detectLanguage looks at class, data-lang, lang and language on the <pre>
// and its first <code>. Explicitly prefixed classes and data-lang win over
// bare class names.
func detectLanguage(pre *goquery.Selection) string {
	var explicit, other []string
	collect := func(s *goquery.Selection) {
		if s.Length() == 0 {
			return
		}
		if class, ok := s.Attr("class"); ok {
			for _, c := range strings.Fields(class) {
				lc := strings.ToLower(c)
				if strings.HasPrefix(lc, "language-") || strings.HasPrefix(lc, "lang-") {
					explicit = append(explicit, c)
				} else {
					other = append(other, c)
				}
			}
		}
		for _, key := range []string{"data-lang", "lang", "language"} {
			if v, ok := s.Attr(key); ok && v != "" {
				if key == "lang" {
					other = append(other, v)
				} else {
					explicit = append(explicit, v)
				}
			}
		}
	}
	collect(pre)
	collect(pre.Find("code").First())

	for _, c := range append(explicit, other...) {
		n := strings.ToLower(strings.TrimSpace(c))
		n = strings.TrimPrefix(n, "language-")
		n = strings.TrimPrefix(n, "lang-")
		if alias, ok := langAliases[n]; ok {
			n = alias
		}
		if langPattern.MatchString(n) {
			return n
		}
	}
	return ""
}

func dump(dir, name, content string) error {
	if dir == "" {
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		return fmt.Errorf("write debug file %s: %w", name, err)
	}
	return nil
}

package epub

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/antchfx/xmlquery"
)

const containerPath = "META-INF/container.xml"

// manifestItem is one <item> of the OPF manifest, with Href resolved to a
// path inside the archive.
type manifestItem struct {
	ID        string
	Href      string
	MediaType string
}

func (m manifestItem) isImage() bool {
	return strings.HasPrefix(m.MediaType, "image/")
}

func (m manifestItem) isDocument() bool {
	return m.MediaType == "application/xhtml+xml" || m.MediaType == "text/html"
}

type pkg struct {
	Title    string
	Manifest []manifestItem
	// Spine lists document items in reading order.
	Spine []manifestItem
}

type archive struct {
	files map[string]*zip.File
}

func newArchive(r *zip.Reader) *archive {
	a := &archive{files: make(map[string]*zip.File, len(r.File))}
	for _, f := range r.File {
		a.files[f.Name] = f
	}
	return a
}

func (a *archive) read(name string) ([]byte, error) {
	f, ok := a.files[name]
	if !ok {
		return nil, fmt.Errorf("%s not found in archive", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

func (a *archive) query(name string) (*xmlquery.Node, error) {
	data, err := a.read(name)
	if err != nil {
		return nil, err
	}
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return root, nil
}

// readPackage locates the OPF through META-INF/container.xml and reads its
// manifest and spine.
func (a *archive) readPackage() (*pkg, error) {
	container, err := a.query(containerPath)
	if err != nil {
		return nil, err
	}
	rootfile := xmlquery.FindOne(container, "//*[local-name()='rootfile']")
	if rootfile == nil {
		return nil, fmt.Errorf("%s has no rootfile", containerPath)
	}
	opfPath := rootfile.SelectAttr("full-path")
	if opfPath == "" {
		return nil, fmt.Errorf("%s rootfile has no full-path", containerPath)
	}

	opf, err := a.query(opfPath)
	if err != nil {
		return nil, err
	}
	base := path.Dir(opfPath)

	p := &pkg{}
	if title := xmlquery.FindOne(opf, "//*[local-name()='metadata']/*[local-name()='title']"); title != nil {
		p.Title = strings.TrimSpace(title.InnerText())
	}

	byID := make(map[string]manifestItem)
	items, err := xmlquery.QueryAll(opf, "//*[local-name()='manifest']/*[local-name()='item']")
	if err != nil {
		return nil, fmt.Errorf("query manifest: %w", err)
	}
	for _, node := range items {
		href, err := url.PathUnescape(node.SelectAttr("href"))
		if err != nil {
			href = node.SelectAttr("href")
		}
		item := manifestItem{
			ID:        node.SelectAttr("id"),
			Href:      resolve(base, href),
			MediaType: node.SelectAttr("media-type"),
		}
		p.Manifest = append(p.Manifest, item)
		byID[item.ID] = item
	}

	refs, err := xmlquery.QueryAll(opf, "//*[local-name()='spine']/*[local-name()='itemref']")
	if err != nil {
		return nil, fmt.Errorf("query spine: %w", err)
	}
	for _, ref := range refs {
		item, ok := byID[ref.SelectAttr("idref")]
		if !ok || !item.isDocument() {
			continue
		}
		p.Spine = append(p.Spine, item)
	}

	// Some generators leave the spine empty; fall back to manifest order.
	if len(p.Spine) == 0 {
		for _, item := range p.Manifest {
			if item.isDocument() {
				p.Spine = append(p.Spine, item)
			}
		}
	}

	return p, nil
}

func resolve(base, href string) string {
	if base == "." || base == "" {
		return path.Clean(href)
	}
	return path.Join(base, href)
}

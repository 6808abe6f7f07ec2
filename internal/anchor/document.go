// Package anchor binds text fragments to their origin inside one immutable
// content version, and re-resolves those bindings later even after the
// underlying rendering has shifted. Everything here is a pure function of
// (content bytes, anchor set), so anchor health can always be recomputed
// from authoritative storage.
package anchor

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// block is one structural unit of extracted text: a paragraph-level element
// in HTML, a blank-line-separated paragraph in plain text.
type block struct {
	Path  string // structural path, e.g. "html[1]/body[1]/div[2]/p[5]" or "lines:3-7"
	Text  string
	Start int // rune offset into the document's canonical text
	End   int
}

// document is the canonical extracted form of one content version: the
// ordered blocks plus their concatenation. Derived deterministically, so two
// processes extracting the same bytes agree on every offset.
type document struct {
	Blocks []block
	Text   string // blocks joined by "\n\n"
}

// blockAt returns the block with the given structural path.
func (d *document) blockAt(path string) (block, bool) {
	for _, b := range d.Blocks {
		if b.Path == path {
			return b, true
		}
	}
	return block{}, false
}

// blockContaining returns the block covering the given rune offset.
func (d *document) blockContaining(offset int) (block, bool) {
	for _, b := range d.Blocks {
		if offset >= b.Start && offset < b.End {
			return b, true
		}
	}
	return block{}, false
}

// htmlBlockTags are the elements treated as chunk boundaries.
var htmlBlockTags = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true,
	"h6": true, "li": true, "blockquote": true, "pre": true, "td": true,
	"figcaption": true, "dt": true, "dd": true,
}

// skippedTags never contribute text.
var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "iframe": true,
	"svg": true, "template": true,
}

// extractDocument parses content into its canonical block form. HTML gets a
// DOM walk; everything else is treated as plain text. Binary formats the
// engine cannot segment yield an error, not an empty document.
func extractDocument(content []byte, contentType string) (*document, error) {
	mediaType := contentType
	if idx := strings.Index(mediaType, ";"); idx >= 0 {
		mediaType = mediaType[:idx]
	}
	mediaType = strings.TrimSpace(strings.ToLower(mediaType))

	switch {
	case mediaType == "text/html" || mediaType == "application/xhtml+xml":
		return extractHTML(content)
	case mediaType == "" || strings.HasPrefix(mediaType, "text/"):
		return extractPlainText(content), nil
	default:
		return nil, fmt.Errorf("cannot segment content type %q", contentType)
	}
}

// extractHTML walks the parsed DOM collecting block-level text with
// structural paths. Paths index same-name siblings 1-based, counting only
// element nodes, so they are stable across re-parses of identical bytes.
func extractHTML(content []byte) (*document, error) {
	root, err := html.Parse(strings.NewReader(string(content)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	doc := &document{}
	var text strings.Builder

	var walk func(n *html.Node, path string)
	walk = func(n *html.Node, path string) {
		siblingCount := map[string]int{}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if skippedTags[c.Data] {
				continue
			}
			siblingCount[c.Data]++
			childPath := fmt.Sprintf("%s/%s[%d]", path, c.Data, siblingCount[c.Data])
			if path == "" {
				childPath = fmt.Sprintf("%s[%d]", c.Data, siblingCount[c.Data])
			}

			if htmlBlockTags[c.Data] {
				blockText := collapseSpace(visibleText(c))
				if blockText != "" {
					if text.Len() > 0 {
						text.WriteString("\n\n")
					}
					start := len([]rune(text.String()))
					text.WriteString(blockText)
					doc.Blocks = append(doc.Blocks, block{
						Path:  childPath,
						Text:  blockText,
						Start: start,
						End:   start + len([]rune(blockText)),
					})
				}
				continue // block elements are leaves of the segmentation
			}
			walk(c, childPath)
		}
	}
	walk(root, "")

	doc.Text = text.String()
	return doc, nil
}

// visibleText concatenates the text nodes under n, skipping non-content
// elements.
func visibleText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedTags[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			buf.WriteString(n.Data)
			buf.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return buf.String()
}

// extractPlainText splits text on blank lines, keeping the original line
// numbers as the structural path.
func extractPlainText(content []byte) *document {
	doc := &document{}
	var text strings.Builder

	lines := strings.Split(string(content), "\n")
	paraStart := -1
	var para []string

	flush := func(endLine int) {
		if paraStart < 0 {
			return
		}
		blockText := collapseSpace(strings.Join(para, " "))
		if blockText != "" {
			if text.Len() > 0 {
				text.WriteString("\n\n")
			}
			start := len([]rune(text.String()))
			text.WriteString(blockText)
			doc.Blocks = append(doc.Blocks, block{
				Path:  fmt.Sprintf("lines:%d-%d", paraStart+1, endLine),
				Text:  blockText,
				Start: start,
				End:   start + len([]rune(blockText)),
			})
		}
		paraStart = -1
		para = para[:0]
	}

	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			flush(i)
			continue
		}
		if paraStart < 0 {
			paraStart = i
		}
		para = append(para, line)
	}
	flush(len(lines))

	doc.Text = text.String()
	return doc
}

// collapseSpace trims and squashes runs of whitespace into single spaces, so
// rendering-only whitespace changes do not register as drift.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

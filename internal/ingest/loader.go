// Package ingest loads uploaded files and splits them into indexable
// chunks.
package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
)

// ErrUnsupportedType reports a file extension the loader cannot handle.
var ErrUnsupportedType = errors.New("unsupported file type")

var supportedExtensions = []string{".txt", ".md", ".html", ".htm", ".pdf", ".docx"}

// SupportedExtensions lists the file types the loader accepts.
func SupportedExtensions() []string {
	return append([]string(nil), supportedExtensions...)
}

// Load extracts plain text from an uploaded file's content based on its
// extension.
func Load(filename string, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".txt", ".md":
		return string(content), nil
	case ".html", ".htm":
		return extractHTML(content)
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	default:
		return "", fmt.Errorf("%w: %s (supported: %s)",
			ErrUnsupportedType, ext, strings.Join(supportedExtensions, ", "))
	}
}

// extractHTML strips markup and returns the document's visible text.
func extractHTML(content []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("script, style, noscript").Remove()

	text := doc.Find("body").Text()
	if strings.TrimSpace(text) == "" {
		text = doc.Text()
	}
	return collapseWhitespace(text), nil
}

// extractPDF returns the concatenated text content of every page.
func extractPDF(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("parse pdf: %w", err)
	}
	body, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text: %w", err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(body); err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return collapseWhitespace(buf.String()), nil
}

// extractDOCX reads the main document part of the archive and collects the
// text runs. A .docx file is a zip containing word/document.xml.
func extractDOCX(content []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("open docx archive: %w", err)
	}
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document body: %w", err)
		}
		text, err := wordText(rc)
		closeErr := rc.Close()
		if err != nil {
			return "", err
		}
		if closeErr != nil {
			return "", fmt.Errorf("close document body: %w", closeErr)
		}
		return collapseWhitespace(text), nil
	}
	return "", fmt.Errorf("docx archive has no word/document.xml")
}

// wordText pulls character data out of <w:t> runs, with a space per
// paragraph so chunking never glues paragraphs together.
func wordText(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inRun := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parse document xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inRun = true
			case "p":
				sb.WriteString(" ")
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inRun = false
			}
		case xml.CharData:
			if inRun {
				sb.Write(t)
			}
		}
	}
	return sb.String(), nil
}

// collapseWhitespace squashes runs of whitespace into single spaces so
// chunk boundaries do not land inside rendered-markup gaps.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

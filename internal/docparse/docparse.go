// Package docparse implements the parsing boundary: file path in, converted
// text out, with file-not-found and unsupported-format conditions as errors.
package docparse

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractText converts a document at path into plain text. PDFs go through
// the pdf reader; markdown and plain text are read directly. Unsupported
// extensions fail.
func ExtractText(path string) (string, error) {
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("docparse: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDF(path)
	case ".md", ".txt":
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("docparse: read %s: %w", path, err)
		}
		return string(data), nil
	default:
		return "", fmt.Errorf("docparse: unsupported format %q", filepath.Ext(path))
	}
}

func extractPDF(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("docparse: open pdf %s: %w", path, err)
	}
	defer f.Close()

	var buf bytes.Buffer
	pages := reader.NumPage()
	var failed int
	for i := 1; i <= pages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			failed++
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A bad page should not sink the whole document.
			failed++
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	if buf.Len() == 0 {
		return "", fmt.Errorf("docparse: no extractable text in %s (%d/%d pages failed)", path, failed, pages)
	}
	return buf.String(), nil
}

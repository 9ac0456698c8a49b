// Package attach validates typed file attachments and extracts their text so
// it can be folded into the turn content before dispatch. Images are not
// handled here; they travel to the provider as content parts.
package attach

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"

	"faden/internal/chat"
)

const (
	// MaxFilesPerTurn bounds the number of document attachments on one turn.
	MaxFilesPerTurn = 5
	// MaxFileSize bounds a single attachment.
	MaxFileSize = 10 << 20 // 10MB
	// maxExtractChars caps extracted text per file so a large document cannot
	// blow the request past the gateway's content limit on its own.
	maxExtractChars = 20000
)

// allowedTypes maps accepted attachment mime types.
var allowedTypes = map[string]bool{
	"application/pdf": true,
	"text/html":       true,
	"text/plain":      true,
	"text/markdown":   true,
}

// Validate checks count, size, and type of a turn's file attachments.
func Validate(files []chat.File) error {
	if len(files) > MaxFilesPerTurn {
		return fmt.Errorf("at most %d file attachments per message, got %d", MaxFilesPerTurn, len(files))
	}
	for _, f := range files {
		if !allowedTypes[f.MimeType] {
			return fmt.Errorf("unsupported attachment type %q for %q", f.MimeType, f.Name)
		}
		size := f.Size
		if size == 0 {
			size = int64(len(f.Data))
		}
		if size > MaxFileSize {
			return fmt.Errorf("attachment %q exceeds %d bytes", f.Name, MaxFileSize)
		}
	}
	return nil
}

// ExtractText returns the text content of a single attachment.
func ExtractText(f chat.File) (string, error) {
	switch f.MimeType {
	case "application/pdf":
		return extractPDF(f.Data)
	case "text/html":
		return extractHTML(f.Data)
	case "text/plain", "text/markdown":
		return clip(string(f.Data)), nil
	default:
		return "", fmt.Errorf("unsupported attachment type %q", f.MimeType)
	}
}

// Fold appends the extracted text of all attachments to the turn content,
// each under a short header naming the source file.
func Fold(content string, files []chat.File) (string, error) {
	if len(files) == 0 {
		return content, nil
	}

	var b strings.Builder
	b.WriteString(content)
	for _, f := range files {
		text, err := ExtractText(f)
		if err != nil {
			return "", fmt.Errorf("extracting %q: %w", f.Name, err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		b.WriteString("\n\n[Anhang: ")
		b.WriteString(f.Name)
		b.WriteString("]\n")
		b.WriteString(text)
	}
	return b.String(), nil
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return clip(string(text)), nil
}

// extractHTML walks the parse tree collecting text nodes, skipping script
// and style subtrees.
func extractHTML(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parsing html: %w", err)
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if b.Len() > 0 {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return clip(b.String()), nil
}

func clip(s string) string {
	if len(s) <= maxExtractChars {
		return s
	}
	return s[:maxExtractChars]
}

package parser

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/docdex/docdex/pkg/types"
)

// Format names produced by Detect and accepted by Extract.
const (
	FormatMarkdown = "markdown"
	FormatText     = "text"
	FormatHTML     = "html"
)

// extractor converts raw file bytes to plain text.
type extractor func(data []byte) (string, error)

var formatByExt = map[string]string{
	".md":       FormatMarkdown,
	".markdown": FormatMarkdown,
	".mdx":      FormatMarkdown,
	".txt":      FormatText,
	".text":     FormatText,
	".rst":      FormatText,
	".adoc":     FormatText,
	".html":     FormatHTML,
	".htm":      FormatHTML,
}

var extractors = map[string]extractor{
	FormatMarkdown: extractPlain,
	FormatText:     extractPlain,
	FormatHTML:     extractHTML,
}

// Detect maps a file path to a document format by extension. The second
// return is false for extensions the registry does not know.
func Detect(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	format, ok := formatByExt[ext]
	return format, ok
}

// Supported reports whether the path has an indexable extension.
func Supported(path string) bool {
	_, ok := Detect(path)
	return ok
}

// Extract converts raw document bytes into plain text for the given format.
// Binary content is rejected before extraction so a mislabeled file cannot
// poison the index.
func Extract(data []byte, format string) (string, error) {
	fn, ok := extractors[format]
	if !ok {
		return "", fmt.Errorf("%w: %q", types.ErrUnsupportedFormat, format)
	}
	if isBinary(data) {
		return "", fmt.Errorf("%w: binary content", types.ErrUnsupportedFormat)
	}
	return fn(data)
}

// CountLines returns the number of lines in text, counting a trailing
// fragment without a newline as a line.
func CountLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

// extractPlain passes text through untouched, normalizing only CRLF line
// endings so line arithmetic is consistent across platforms.
func extractPlain(data []byte) (string, error) {
	return strings.ReplaceAll(string(data), "\r\n", "\n"), nil
}

// isBinary applies a cheap heuristic: a NUL byte or invalid UTF-8 in the
// first 8KB marks the content as binary.
func isBinary(data []byte) bool {
	probe := data
	if len(probe) > 8192 {
		probe = probe[:8192]
	}
	if bytes.IndexByte(probe, 0) >= 0 {
		return true
	}
	// The probe may cut a multi-byte rune; trim up to 3 trailing bytes
	// before validating.
	for i := 0; i < 4 && len(probe) > 0 && !utf8.Valid(probe); i++ {
		probe = probe[:len(probe)-1]
	}
	return !utf8.Valid(probe)
}

// Package parser turns raw document bytes into indexable plain text.
//
// Formats are detected from the file extension and dispatched through a
// small extractor registry. Markdown and plain text pass through unchanged
// so chunk line numbers stay exact; HTML is reduced to its visible text.
// Unknown extensions report ErrUnsupportedFormat so callers can skip the
// file instead of indexing binary noise.
package parser

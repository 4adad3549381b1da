package chunker

import (
	"regexp"
	"strings"

	"github.com/docdex/docdex/pkg/types"
)

// Ellipsis is appended to snippets truncated mid-sentence.
const Ellipsis = "..."

var headingRe = regexp.MustCompile(`^#{1,6}\s`)

// Chunk splits content into an ordered list of chunks without embeddings.
// Markdown-like formats use the structural strategy; everything else falls
// back to fixed-size chunking. Chunks carry the exact 1-based inclusive
// line range they were built from.
func Chunk(content, docID, format string, cfg types.ChunkingConfig) []*types.Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	if cfg.Strategy == types.StrategyStructural && isStructuralFormat(format) {
		return chunkStructural(content, docID, cfg)
	}
	return chunkFixed(content, docID, cfg)
}

func isStructuralFormat(format string) bool {
	return format == "markdown"
}

// section is a heading-delimited region of the document. Line numbers are
// 1-based and inclusive; trailing blank lines are excluded.
type section struct {
	heading   string
	lineStart int
	lineEnd   int
	lines     []string
}

// chunkStructural parses heading-delimited sections, tracking fenced code
// blocks so a "#"-prefixed line inside a fence never opens a new section.
func chunkStructural(content, docID string, cfg types.ChunkingConfig) []*types.Chunk {
	lines := strings.Split(content, "\n")
	sections := splitSections(lines)

	chunks := make([]*types.Chunk, 0, len(sections))
	for _, sec := range sections {
		text := strings.Join(sec.lines, "\n")
		if len(strings.TrimSpace(text)) > 2*cfg.ChunkSize {
			chunks = append(chunks, splitOversizedSection(sec, docID, cfg)...)
			continue
		}
		if c := buildChunk(docID, text, sec.lineStart, sec.lineEnd, cfg); c != nil {
			chunks = append(chunks, c)
		}
	}
	return chunks
}

// splitSections walks lines and starts a new section at every heading line
// found outside a code fence. The fence state is a simple open/close toggle.
func splitSections(lines []string) []section {
	var sections []section
	var cur *section
	inFence := false

	flush := func() {
		if cur == nil {
			return
		}
		// Drop trailing blank lines so the recorded range points at text.
		for len(cur.lines) > 0 && strings.TrimSpace(cur.lines[len(cur.lines)-1]) == "" {
			cur.lines = cur.lines[:len(cur.lines)-1]
			cur.lineEnd--
		}
		if len(cur.lines) > 0 {
			sections = append(sections, *cur)
		}
		cur = nil
	}

	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}

		if !inFence && headingRe.MatchString(line) {
			flush()
			cur = &section{heading: trimmed, lineStart: i + 1, lineEnd: i + 1, lines: []string{line}}
			continue
		}

		if cur == nil {
			cur = &section{lineStart: i + 1, lineEnd: i + 1, lines: []string{line}}
			continue
		}
		cur.lines = append(cur.lines, line)
		cur.lineEnd = i + 1
	}
	flush()

	return sections
}

// paragraph is a blank-line-delimited run of lines within a section.
type paragraph struct {
	text      string
	lineStart int
	lineEnd   int
}

// splitOversizedSection re-splits a section into paragraphs and greedily
// packs them into sub-chunks no larger than the target size. The first
// sub-chunk is prefixed with the section heading for context.
func splitOversizedSection(sec section, docID string, cfg types.ChunkingConfig) []*types.Chunk {
	paras := splitParagraphs(sec)

	var chunks []*types.Chunk
	var buf []paragraph
	var bufSize int

	emit := func() {
		if len(buf) == 0 {
			return
		}
		parts := make([]string, 0, len(buf)+1)
		if len(chunks) == 0 && sec.heading != "" && buf[0].lineStart != sec.lineStart {
			parts = append(parts, sec.heading)
		}
		for _, p := range buf {
			parts = append(parts, p.text)
		}
		text := strings.Join(parts, "\n\n")
		if c := buildChunk(docID, text, buf[0].lineStart, buf[len(buf)-1].lineEnd, cfg); c != nil {
			chunks = append(chunks, c)
		}
		buf = buf[:0]
		bufSize = 0
	}

	for _, p := range paras {
		if len(buf) > 0 && bufSize+len(p.text) > cfg.ChunkSize {
			emit()
		}
		buf = append(buf, p)
		bufSize += len(p.text)
	}
	emit()

	return chunks
}

// splitParagraphs breaks a section into paragraphs on blank-line boundaries,
// preserving each paragraph's source line range.
func splitParagraphs(sec section) []paragraph {
	var paras []paragraph
	var cur *paragraph
	var curLines []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.text = strings.Join(curLines, "\n")
		if strings.TrimSpace(cur.text) != "" {
			paras = append(paras, *cur)
		}
		cur = nil
		curLines = nil
	}

	for i, line := range sec.lines {
		lineNo := sec.lineStart + i
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		if cur == nil {
			cur = &paragraph{lineStart: lineNo, lineEnd: lineNo}
		} else {
			cur.lineEnd = lineNo
		}
		curLines = append(curLines, line)
	}
	flush()

	return paras
}

// chunkFixed walks lines accumulating characters and emits a chunk every
// time the accumulated size reaches the configured chunk size. The next
// chunk re-includes trailing lines whose cumulative size fits within the
// overlap, so consecutive chunks share a tail/head region. A final partial
// chunk is emitted only if it is larger than the overlap itself.
func chunkFixed(content, docID string, cfg types.ChunkingConfig) []*types.Chunk {
	lines := strings.Split(content, "\n")

	var chunks []*types.Chunk
	start := 0
	size := 0

	for i := 0; i < len(lines); i++ {
		size += len(lines[i]) + 1

		if size < cfg.ChunkSize {
			continue
		}

		text := strings.Join(lines[start:i+1], "\n")
		if c := buildChunk(docID, text, start+1, i+1, cfg); c != nil {
			chunks = append(chunks, c)
		}

		// Re-include trailing lines up to the configured overlap, always
		// advancing past the previous chunk start.
		next := i + 1
		overlap := 0
		for j := i; j > start; j-- {
			if overlap+len(lines[j])+1 > cfg.ChunkOverlap {
				break
			}
			overlap += len(lines[j]) + 1
			next = j
		}
		start = next
		i = next - 1
		size = 0
	}

	// Final partial chunk: skip when it would be pure overlap.
	if start < len(lines) {
		text := strings.Join(lines[start:], "\n")
		if len(strings.TrimSpace(text)) > cfg.ChunkOverlap {
			if c := buildChunk(docID, text, start+1, len(lines), cfg); c != nil {
				chunks = append(chunks, c)
			}
		}
	}

	return chunks
}

// buildChunk assembles one chunk, dropping anything empty after trimming.
func buildChunk(docID, text string, lineStart, lineEnd int, cfg types.ChunkingConfig) *types.Chunk {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	return &types.Chunk{
		ChunkID:   types.ChunkID(docID, lineStart, lineEnd, trimmed),
		DocID:     docID,
		Text:      text,
		Snippet:   CreateSnippet(trimmed, cfg),
		LineStart: lineStart,
		LineEnd:   lineEnd,
	}
}

// sentence terminators searched for when truncating snippets.
var sentenceEnds = []string{". ", ".\n", "? ", "! "}

// CreateSnippet truncates text to the configured snippet cap. It prefers the
// nearest sentence end, provided it is not too early; then the nearest word
// boundary with an ellipsis; then a hard truncation with an ellipsis.
func CreateSnippet(text string, cfg types.ChunkingConfig) string {
	maxLen := cfg.SnippetLength
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}

	truncated := text[:maxLen]
	minIdx := int(float64(maxLen) * cfg.SnippetMinFraction)

	best := -1
	for _, end := range sentenceEnds {
		if idx := strings.LastIndex(truncated, end); idx > best {
			best = idx
		}
	}
	if best >= minIdx {
		return strings.TrimSpace(truncated[:best+1])
	}

	if idx := strings.LastIndex(truncated, " "); idx >= minIdx {
		return strings.TrimSpace(truncated[:idx]) + Ellipsis
	}

	return truncated + Ellipsis
}

// Package chunker partitions one assistant reply into display units for the
// incremental reveal.
package chunker

import (
	"unicode"
	"unicode/utf8"
)

const (
	DefaultMaxSegmentsPerChunk = 2
	DefaultMaxChunkLength      = 200
)

// Options controls how sentence-like segments are grouped into chunks.
// Zero values fall back to the defaults.
type Options struct {
	MaxSegmentsPerChunk int `json:"max_segments_per_chunk"`
	// MaxChunkLength is measured in runes.
	MaxChunkLength int `json:"max_chunk_length"`
}

func DefaultOptions() Options {
	return Options{
		MaxSegmentsPerChunk: DefaultMaxSegmentsPerChunk,
		MaxChunkLength:      DefaultMaxChunkLength,
	}
}

func (o Options) normalized() Options {
	if o.MaxSegmentsPerChunk <= 0 {
		o.MaxSegmentsPerChunk = DefaultMaxSegmentsPerChunk
	}
	if o.MaxChunkLength <= 0 {
		o.MaxChunkLength = DefaultMaxChunkLength
	}
	return o
}

// span is a trimmed [start, end) byte range of the input text.
type span struct {
	start, end int
}

// Chunk splits text into ordered, trimmed, non-empty chunks. Sentences end at
// runs of '.', '?' or '!' followed by whitespace or the end of the text; up to
// MaxSegmentsPerChunk sentences share a chunk as long as the chunk stays within
// MaxChunkLength runes. Longer sentences are split on word boundaries.
//
// Chunks are substrings of text, so only the whitespace between chunks is lost.
// Blank text yields no chunks.
func Chunk(text string, opts Options) []string {
	opts = opts.normalized()

	var out []string
	var group span
	groupSize := 0
	flush := func() {
		if groupSize == 0 {
			return
		}
		out = append(out, text[group.start:group.end])
		groupSize = 0
	}

	for _, seg := range splitSegments(text) {
		if runeLen(text, seg) > opts.MaxChunkLength {
			flush()
			for _, piece := range splitWords(text, seg, opts.MaxChunkLength) {
				out = append(out, text[piece.start:piece.end])
			}
			continue
		}
		if groupSize > 0 {
			merged := span{start: group.start, end: seg.end}
			if groupSize < opts.MaxSegmentsPerChunk && runeLen(text, merged) <= opts.MaxChunkLength {
				group = merged
				groupSize++
				continue
			}
			flush()
		}
		group = seg
		groupSize = 1
	}
	flush()
	return out
}

func splitSegments(text string) []span {
	var spans []span
	start := 0
	i := 0
	for i < len(text) {
		if !isTerminal(text[i]) {
			i++
			continue
		}
		j := i
		for j < len(text) && isTerminal(text[j]) {
			j++
		}
		for j < len(text) && isClosing(text[j]) {
			j++
		}
		if j == len(text) || spaceAt(text, j) {
			spans = appendTrimmed(spans, text, start, j)
			start = j
		}
		i = j
	}
	return appendTrimmed(spans, text, start, len(text))
}

// splitWords packs the words of seg greedily into pieces of at most max runes.
// A single word longer than max is cut on rune boundaries.
func splitWords(text string, seg span, max int) []span {
	var pieces []span
	var cur span
	open := false
	for _, w := range words(text, seg) {
		if open {
			merged := span{start: cur.start, end: w.end}
			if runeLen(text, merged) <= max {
				cur = merged
				continue
			}
			pieces = append(pieces, cur)
			open = false
		}
		if runeLen(text, w) > max {
			cuts := hardSplit(text, w, max)
			pieces = append(pieces, cuts[:len(cuts)-1]...)
			w = cuts[len(cuts)-1]
		}
		cur = w
		open = true
	}
	if open {
		pieces = append(pieces, cur)
	}
	return pieces
}

func words(text string, seg span) []span {
	var out []span
	start := -1
	for i, r := range text[seg.start:seg.end] {
		pos := seg.start + i
		if unicode.IsSpace(r) {
			if start >= 0 {
				out = append(out, span{start: start, end: pos})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = pos
		}
	}
	if start >= 0 {
		out = append(out, span{start: start, end: seg.end})
	}
	return out
}

func hardSplit(text string, w span, max int) []span {
	var out []span
	start := w.start
	count := 0
	for i := range text[w.start:w.end] {
		pos := w.start + i
		if count == max {
			out = append(out, span{start: start, end: pos})
			start = pos
			count = 0
		}
		count++
	}
	return append(out, span{start: start, end: w.end})
}

func appendTrimmed(spans []span, text string, start, end int) []span {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	if start >= end {
		return spans
	}
	return append(spans, span{start: start, end: end})
}

func runeLen(text string, s span) int {
	return utf8.RuneCountInString(text[s.start:s.end])
}

func spaceAt(text string, i int) bool {
	r, _ := utf8.DecodeRuneInString(text[i:])
	return unicode.IsSpace(r)
}

func isTerminal(c byte) bool {
	switch c {
	case '.', '?', '!':
		return true
	}
	return false
}

func isClosing(c byte) bool {
	switch c {
	case '"', '\'', ')', ']':
		return true
	}
	return false
}

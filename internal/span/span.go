// Package span locates a free-text quote inside a source artifact's raw
// UTF-8 bytes and produces the supporting material (hashes, anchor text,
// line/column, nearby timestamp) an Evidence record needs — deterministic
// and exact-match only; it never guesses an offset from a fuzzy match.
package span

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Status is the outcome of resolving a quote against an artifact.
type Status string

const (
	Resolved   Status = "resolved"
	Ambiguous  Status = "ambiguous"
	Unresolved Status = "unresolved"
)

// MatchResult is every exact byte-range match found for a quote, plus a
// hint (never an offset) about whether a whitespace-normalized match exists.
type MatchResult struct {
	Matches        [][2]int // [start, end) byte offset pairs, in file order
	NormalizedHint bool
}

// Status derives the resolution status from the match count.
func (m MatchResult) Status() Status {
	switch len(m.Matches) {
	case 0:
		return Unresolved
	case 1:
		return Resolved
	default:
		return Ambiguous
	}
}

// Selected returns the deterministically-chosen match (the first one) and
// whether any match exists at all.
func (m MatchResult) Selected() (start, end int, ok bool) {
	if len(m.Matches) == 0 {
		return 0, 0, false
	}
	return m.Matches[0][0], m.Matches[0][1], true
}

// MatchInfo returns (match_count, match_rank); rank is always 1 — the first
// match is always the one selected.
func (m MatchResult) MatchInfo() (count, rank int) {
	return len(m.Matches), 1
}

// FindExactMatches returns every [start, end) byte range where quote
// appears verbatim in text. O(n*m) sliding-window search — fine at this
// system's scale (per-artifact evidence extraction, not a hot path).
func FindExactMatches(text, quote []byte) [][2]int {
	if len(quote) == 0 || len(quote) > len(text) {
		return nil
	}
	var matches [][2]int
	for i := 0; i+len(quote) <= len(text); i++ {
		if bytes.Equal(text[i:i+len(quote)], quote) {
			matches = append(matches, [2]int{i, i + len(quote)})
		}
	}
	return matches
}

// normalizeWhitespace collapses runs of whitespace to a single space and
// trims the result, mirroring split_whitespace().join(" ") semantics.
func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hasNormalizedMatch(text, quote string) bool {
	return strings.Contains(normalizeWhitespace(text), normalizeWhitespace(quote))
}

// FindQuote is the main entry point: locate quote inside text and report
// every exact match plus a normalization hint when none is found. It never
// synthesizes an offset from the normalized comparison.
func FindQuote(text, quote string) MatchResult {
	matches := FindExactMatches([]byte(text), []byte(quote))
	result := MatchResult{Matches: matches}
	if len(matches) == 0 {
		result.NormalizedHint = hasNormalizedMatch(text, quote)
	}
	return result
}

// Hash returns "sha256:" followed by the lowercase hex digest of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// SliceHash hashes text[start:end], the canonical span-integrity check.
func SliceHash(text []byte, start, end int) string {
	return Hash(text[start:end])
}

// AnchorText expands [start, end) outward by up to window bytes in total
// (split evenly between both sides), snapping outward to the nearest valid
// UTF-8 boundary, so the result can exceed window by a few bytes. It
// prefixes/suffixes "..." on each side where the anchor stops short of the
// text's edge. The result is always valid UTF-8.
func AnchorText(text string, start, end, window int) string {
	spanLen := end - start
	remaining := window - spanLen
	if remaining < 0 {
		remaining = 0
	}
	eachSide := remaining / 2

	anchorStart := start - eachSide
	if anchorStart < 0 {
		anchorStart = 0
	}
	for anchorStart > 0 && !utf8.RuneStart(text[anchorStart]) {
		anchorStart--
	}

	anchorEnd := end + eachSide
	if anchorEnd > len(text) {
		anchorEnd = len(text)
	}
	for anchorEnd < len(text) && !utf8.RuneStart(text[anchorEnd]) {
		anchorEnd++
	}

	anchor := text[anchorStart:anchorEnd]
	prefix, suffix := "", ""
	if anchorStart > 0 {
		prefix = "..."
	}
	if anchorEnd < len(text) {
		suffix = "..."
	}
	return prefix + anchor + suffix
}

// LineCol is a 1-indexed line/column position.
type LineCol struct {
	Line int
	Col  int
}

// OffsetToLineCol converts a byte offset to a 1-indexed line/column,
// counting characters (not bytes) from the start of the line.
func OffsetToLineCol(text string, offset int) LineCol {
	if offset > len(text) {
		offset = len(text)
	}
	prefix := text[:offset]

	line := strings.Count(prefix, "\n") + 1

	lineStart := 0
	if idx := strings.LastIndexByte(prefix, '\n'); idx >= 0 {
		lineStart = idx + 1
	}
	col := utf8.RuneCountInString(text[lineStart:offset]) + 1

	return LineCol{Line: line, Col: col}
}

// isTimestamp reports whether s looks like "MM:SS" or "HH:MM:SS", each
// component 1-2 ASCII digits.
func isTimestamp(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return false
	}
	for _, p := range parts {
		if len(p) == 0 || len(p) > 2 {
			return false
		}
		for _, r := range p {
			if r < '0' || r > '9' {
				return false
			}
		}
	}
	return true
}

// FindNearestTimestamp scans text[:offset] for bracketed "[MM:SS]" or
// "[HH:MM:SS]" patterns and returns the last one found, if any.
func FindNearestTimestamp(text string, offset int) (string, bool) {
	if offset > len(text) {
		offset = len(text)
	}
	prefix := text[:offset]

	var last string
	found := false
	i := 0
	for i < len(prefix) {
		if prefix[i] == '[' {
			end := strings.IndexByte(prefix[i:], ']')
			if end < 0 {
				break
			}
			content := prefix[i+1 : i+end]
			if isTimestamp(content) {
				last = content
				found = true
			}
			i += end
		}
		i++
	}
	return last, found
}

// EvidenceID computes the deterministic two-tier evidence identifier: the
// first 16 hex chars of SHA-256(content_id ‖ extractor ‖ quote_sha256
// ‖ (start ‖ end if resolved)).
func EvidenceID(contentID, extractor, quoteSHA256 string, span *[2]int) string {
	h := sha256.New()
	h.Write([]byte(contentID))
	h.Write([]byte(extractor))
	h.Write([]byte(quoteSHA256))
	if span != nil {
		fmt.Fprintf(h, "%d", span[0])
		fmt.Fprintf(h, "%d", span[1])
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum)[:16]
}

// ContentID returns the first 16 hex chars of SHA-256(sourceURL), the
// deterministic identifier for a piece of library content.
func ContentID(sourceURL string) string {
	sum := sha256.Sum256([]byte(sourceURL))
	return hex.EncodeToString(sum[:])[:16]
}

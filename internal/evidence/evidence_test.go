package evidence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/getpipe-dev/orchestrator/internal/span"
)

func TestFromMatchResolved(t *testing.T) {
	text := "the quick brown fox jumps over the lazy dog"
	result := span.FindQuote(text, "brown fox")
	e := FromMatch("content1", "transcript.md", "claim text", "brown fox", text, result, 0.9, "extract_claims")

	if e.Status != StatusResolved {
		t.Fatalf("status = %v, want Resolved", e.Status)
	}
	if e.Span == nil {
		t.Fatalf("expected span")
	}
	start, end := e.Span.UTF8ByteOffset[0], e.Span.UTF8ByteOffset[1]
	if text[start:end] != "brown fox" {
		t.Fatalf("span slice = %q, want %q", text[start:end], "brown fox")
	}
	if e.Span.SliceSHA256 != span.SliceHash([]byte(text), start, end) {
		t.Fatalf("slice hash mismatch")
	}
}

func TestFromMatchAmbiguous(t *testing.T) {
	text := "foo bar foo baz foo"
	result := span.FindQuote(text, "foo")
	e := FromMatch("content1", "transcript.md", "claim", "foo", text, result, 0.5, "extract_claims")

	if e.Status != StatusAmbiguous {
		t.Fatalf("status = %v, want Ambiguous", e.Status)
	}
	if e.Resolution.MatchCount != 3 || e.Resolution.MatchRank != 1 {
		t.Fatalf("resolution = %+v", e.Resolution)
	}
	if e.Span.UTF8ByteOffset != [2]int{0, 3} {
		t.Fatalf("span = %v, want [0,3)", e.Span.UTF8ByteOffset)
	}
}

func TestFromMatchUnresolved(t *testing.T) {
	text := "Hello   world"
	result := span.FindQuote(text, "Hello world")
	e := FromMatch("content1", "transcript.md", "claim", "Hello world", text, result, 0.5, "extract_claims")

	if e.Status != StatusUnresolved {
		t.Fatalf("status = %v, want Unresolved", e.Status)
	}
	if e.Span != nil {
		t.Fatalf("expected no span")
	}
	if e.Resolution.Reason != ReasonNormalizedMatchOnly {
		t.Fatalf("reason = %v, want %v", e.Resolution.Reason, ReasonNormalizedMatchOnly)
	}
}

func TestEvidenceIDDeterministicAcrossEqualInputs(t *testing.T) {
	text := "the quick brown fox"
	result := span.FindQuote(text, "quick brown")
	e1 := FromMatch("c1", "a.md", "claim", "quick brown", text, result, 0.9, "ext")
	e2 := FromMatch("c1", "a.md", "claim", "quick brown", text, result, 0.2, "ext")
	if e1.ID != e2.ID {
		t.Fatalf("ids differ despite equal (content_id, extractor, quote_sha256, span): %s != %s", e1.ID, e2.ID)
	}
}

func TestAppendAndValidateFastPath(t *testing.T) {
	dir := t.TempDir()
	artifactPath := filepath.Join(dir, "a.md")
	text := "the quick brown fox jumps over the lazy dog"
	writeFile(t, artifactPath, text)

	digest := span.Hash([]byte(text))
	writeFile(t, filepath.Join(dir, "metadata.json"), `{"artifact_digests":{"a.md":"`+digest+`"}}`)

	log := Open(dir)
	result := span.FindQuote(text, "brown fox")
	e := FromMatch("content1", "a.md", "claim", "brown fox", text, result, 0.9, "ext")
	if err := log.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	summaries, err := log.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(summaries) != 1 {
		t.Fatalf("summaries = %+v, want 1 entry", summaries)
	}
	s := summaries[0]
	if !s.DigestOK || s.ValidCount != 1 || s.StaleCount != 0 {
		t.Fatalf("summary = %+v, want fast-path all-valid", s)
	}
}

func TestValidateDetectsStaleSpan(t *testing.T) {
	dir := t.TempDir()
	artifactPath := filepath.Join(dir, "a.md")
	original := "the quick brown fox jumps over the lazy dog"
	writeFile(t, artifactPath, original)

	log := Open(dir)
	result := span.FindQuote(original, "brown fox")
	e := FromMatch("content1", "a.md", "claim", "brown fox", original, result, 0.9, "ext")
	if err := log.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	// Mutate the artifact without updating metadata digests: the recorded
	// span bytes should now fail to hash-match.
	writeFile(t, artifactPath, "completely different content that shifts every offset around")

	summaries, err := log.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(summaries) != 1 || summaries[0].StaleCount != 1 {
		t.Fatalf("summaries = %+v, want one stale entry", summaries)
	}
}

func TestValidateArtifactMissing(t *testing.T) {
	dir := t.TempDir()
	text := "some transcript text here"
	log := Open(dir)
	result := span.FindQuote(text, "transcript")
	e := FromMatch("content1", "missing.md", "claim", "transcript", text, result, 0.9, "ext")
	if err := log.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	summaries, err := log.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(summaries) != 1 || summaries[0].DigestOK || summaries[0].UnresolvedCount != 1 {
		t.Fatalf("summaries = %+v, want one artifact_missing entry", summaries)
	}
}

func TestFindByIDPrefix(t *testing.T) {
	dir := t.TempDir()
	text := "some transcript text here"
	log := Open(dir)
	result := span.FindQuote(text, "transcript")
	e := FromMatch("content1", "a.md", "claim", "transcript", text, result, 0.9, "ext")
	if err := log.Append(e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	found, err := log.FindByIDPrefix(e.ID[:8])
	if err != nil {
		t.Fatalf("FindByIDPrefix: %v", err)
	}
	if found == nil || found.ID != e.ID {
		t.Fatalf("found = %+v, want %s", found, e.ID)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

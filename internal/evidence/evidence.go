// Package evidence is the append-only grounded-claim log: one JSONL file
// per content item binding a claim to a verbatim quote and, when the
// resolver could locate it, an exact byte span in a named artifact.
package evidence

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/getpipe-dev/orchestrator/internal/span"
	"github.com/gofrs/flock"
)

// Status mirrors span.Status for the persisted record.
type Status string

const (
	StatusResolved   Status = "resolved"
	StatusAmbiguous  Status = "ambiguous"
	StatusUnresolved Status = "unresolved"
)

// ResolutionMethod records how a quote was (or wasn't) located.
type ResolutionMethod string

const (
	MethodExact          ResolutionMethod = "exact"
	MethodNone           ResolutionMethod = "none"
	MethodNormalizedHint ResolutionMethod = "normalized_hint"
)

// UnresolvedReason explains why a record carries no span.
type UnresolvedReason string

const (
	ReasonNoMatch            UnresolvedReason = "no_match"
	ReasonMultipleMatches    UnresolvedReason = "multiple_matches"
	ReasonNormalizedMatchOnly UnresolvedReason = "normalized_match_only"
)

// Resolution is the method/count/rank/reason detail behind a Status.
type Resolution struct {
	Method    ResolutionMethod  `json:"method"`
	MatchCount int              `json:"match_count"`
	MatchRank int               `json:"match_rank"`
	Reason    UnresolvedReason  `json:"reason,omitempty"`
}

// Span locates an exact substring of a named artifact.
type Span struct {
	Artifact       string  `json:"artifact"`
	UTF8ByteOffset [2]int  `json:"utf8_byte_offset"`
	SliceSHA256    string  `json:"slice_sha256"`
	AnchorText     string  `json:"anchor_text,omitempty"`
	VideoTimestamp string  `json:"video_timestamp,omitempty"`
}

// Evidence is one append-only record in a content item's evidence.jsonl.
type Evidence struct {
	ID          string     `json:"id"`
	ContentID   string     `json:"content_id"`
	Claim       string     `json:"claim"`
	Quote       string     `json:"quote"`
	QuoteSHA256 string     `json:"quote_sha256"`
	Status      Status     `json:"status"`
	Resolution  Resolution `json:"resolution"`
	Span        *Span      `json:"span,omitempty"`
	Confidence  float64    `json:"confidence"`
	Extractor   string     `json:"extractor"`
	Timestamp   string     `json:"ts"`
}

// EventKind identifies the type of an evidence-log sidecar event.
type EventKind string

const (
	EvidenceAppended  EventKind = "evidence_appended"
	EvidenceValidated EventKind = "evidence_validated"
)

// Event is one record in a content item's events.jsonl sidecar.
type Event struct {
	Timestamp string          `json:"ts"`
	EventType EventKind       `json:"type"`
	Data      json.RawMessage `json:"data"`
}

type appendedData struct {
	ContentID  string `json:"content_id"`
	EvidenceID string `json:"evidence_id"`
	Status     Status `json:"status"`
	Extractor  string `json:"extractor"`
}

// ValidatedData is the per-artifact summary emitted by Validate.
type ValidatedData struct {
	ContentID       string `json:"content_id"`
	Artifact        string `json:"artifact"`
	DigestOK        bool   `json:"digest_ok"`
	ValidCount      int    `json:"valid_count"`
	StaleCount      int    `json:"stale_count"`
	UnresolvedCount int    `json:"unresolved_count"`
}

// NewResolved builds a Resolved evidence record with a single exact match.
func NewResolved(contentID, claim, quote string, sp Span, confidence float64, extractor string) Evidence {
	quoteHash := span.Hash([]byte(quote))
	id := span.EvidenceID(contentID, extractor, quoteHash, &sp.UTF8ByteOffset)
	return Evidence{
		ID:          id,
		ContentID:   contentID,
		Claim:       claim,
		Quote:       quote,
		QuoteSHA256: quoteHash,
		Status:      StatusResolved,
		Resolution:  Resolution{Method: MethodExact, MatchCount: 1, MatchRank: 1},
		Span:        &sp,
		Confidence:  confidence,
		Extractor:   extractor,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// NewAmbiguous builds an Ambiguous evidence record: multiple exact matches,
// the first deterministically selected into sp.
func NewAmbiguous(contentID, claim, quote string, sp Span, matchCount int, confidence float64, extractor string) Evidence {
	quoteHash := span.Hash([]byte(quote))
	id := span.EvidenceID(contentID, extractor, quoteHash, &sp.UTF8ByteOffset)
	return Evidence{
		ID:          id,
		ContentID:   contentID,
		Claim:       claim,
		Quote:       quote,
		QuoteSHA256: quoteHash,
		Status:      StatusAmbiguous,
		Resolution: Resolution{
			Method: MethodExact, MatchCount: matchCount, MatchRank: 1,
			Reason: ReasonMultipleMatches,
		},
		Span:       &sp,
		Confidence: confidence,
		Extractor:  extractor,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
}

// NewUnresolved builds an Unresolved evidence record: no span, honest about
// why (no match at all, or only a normalized hint).
func NewUnresolved(contentID, claim, quote string, normalizedHint bool, confidence float64, extractor string) Evidence {
	quoteHash := span.Hash([]byte(quote))
	id := span.EvidenceID(contentID, extractor, quoteHash, nil)
	method, reason := MethodNone, ReasonNoMatch
	if normalizedHint {
		method, reason = MethodNormalizedHint, ReasonNormalizedMatchOnly
	}
	return Evidence{
		ID:          id,
		ContentID:   contentID,
		Claim:       claim,
		Quote:       quote,
		QuoteSHA256: quoteHash,
		Status:      StatusUnresolved,
		Resolution:  Resolution{Method: method, MatchCount: 0, MatchRank: 0, Reason: reason},
		Confidence:  confidence,
		Extractor:   extractor,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	}
}

// FromMatch builds the appropriate Evidence constructor's result from a
// span.MatchResult already computed against artifactText, filling in the
// anchor text and nearest timestamp for a resolved/ambiguous span.
func FromMatch(contentID, artifactName, claim, quote, artifactText string, result span.MatchResult, confidence float64, extractor string) Evidence {
	start, end, ok := result.Selected()
	if !ok {
		return NewUnresolved(contentID, claim, quote, result.NormalizedHint, confidence, extractor)
	}

	sp := Span{
		Artifact:       artifactName,
		UTF8ByteOffset: [2]int{start, end},
		SliceSHA256:    span.SliceHash([]byte(artifactText), start, end),
		AnchorText:     span.AnchorText(artifactText, start, end, 80),
	}
	if ts, ok := span.FindNearestTimestamp(artifactText, start); ok {
		sp.VideoTimestamp = ts
	}

	count, _ := result.MatchInfo()
	if count == 1 {
		return NewResolved(contentID, claim, quote, sp, confidence, extractor)
	}
	return NewAmbiguous(contentID, claim, quote, sp, count, confidence, extractor)
}

// Log is the evidence.jsonl + events.jsonl pair for one content directory.
type Log struct {
	dir           string
	evidencePath  string
	eventsPath    string
}

// Open returns a Log rooted at contentDir, the directory holding
// metadata.json, evidence.jsonl, events.jsonl, and the source artifacts.
func Open(contentDir string) *Log {
	return &Log{
		dir:          contentDir,
		evidencePath: filepath.Join(contentDir, "evidence.jsonl"),
		eventsPath:   filepath.Join(contentDir, "events.jsonl"),
	}
}

// Append writes one evidence record under an OS-level exclusive lock held
// for the duration of the append, and records a companion EvidenceAppended
// event in the sidecar log.
func (l *Log) Append(e Evidence) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("creating content directory: %w", err)
	}

	lock := flock.New(l.evidencePath + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("locking evidence log: %w", err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(l.evidencePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening evidence log: %w", err)
	}
	line, err := json.Marshal(e)
	if err != nil {
		f.Close()
		return fmt.Errorf("serializing evidence: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("writing evidence: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	data, _ := json.Marshal(appendedData{
		ContentID:  e.ContentID,
		EvidenceID: e.ID,
		Status:     e.Status,
		Extractor:  e.Extractor,
	})
	return l.appendEvent(EvidenceAppended, data)
}

func (l *Log) appendEvent(kind EventKind, data json.RawMessage) error {
	f, err := os.OpenFile(l.eventsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening events log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		EventType: kind,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("serializing event: %w", err)
	}
	line = append(line, '\n')
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return f.Sync()
}

// All loads every evidence record in file order.
func (l *Log) All() ([]Evidence, error) {
	f, err := os.Open(l.evidencePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening evidence log: %w", err)
	}
	defer f.Close()

	var out []Evidence
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var e Evidence
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return nil, fmt.Errorf("parsing evidence: %w", err)
		}
		out = append(out, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading evidence log: %w", err)
	}
	return out, nil
}

// FindByIDPrefix returns the first evidence record whose id starts with
// (or is a prefix of) idPrefix.
func (l *Log) FindByIDPrefix(idPrefix string) (*Evidence, error) {
	all, err := l.All()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if strings.HasPrefix(all[i].ID, idPrefix) || strings.HasPrefix(idPrefix, all[i].ID) {
			return &all[i], nil
		}
	}
	return nil, nil
}

type metadataDigests struct {
	ArtifactDigests map[string]string `json:"artifact_digests"`
}

func (l *Log) loadDigests() map[string]string {
	data, err := os.ReadFile(filepath.Join(l.dir, "metadata.json"))
	if err != nil {
		return nil
	}
	var m metadataDigests
	if json.Unmarshal(data, &m) != nil {
		return nil
	}
	return m.ArtifactDigests
}

// Validate groups the content item's evidence by artifact and checks each
// span's slice hash against the artifact's current bytes. If metadata.json
// records an artifact_digest that matches the artifact's full SHA-256, the
// whole group is accepted without per-span checks (the fast path). Emits
// one EvidenceValidated event per artifact group (and one synthetic group
// for unresolved records with no span) and returns the summaries.
func (l *Log) Validate() ([]ValidatedData, error) {
	all, err := l.All()
	if err != nil {
		return nil, err
	}

	contentID := ""
	if len(all) > 0 {
		contentID = all[0].ContentID
	}

	byArtifact := map[string][]Evidence{}
	unresolvedCount := 0
	for _, e := range all {
		if e.Span != nil {
			byArtifact[e.Span.Artifact] = append(byArtifact[e.Span.Artifact], e)
		} else {
			unresolvedCount++
		}
	}

	if len(all) == 0 {
		summary := ValidatedData{ContentID: contentID, Artifact: "transcript.md", DigestOK: true}
		data, _ := json.Marshal(summary)
		return []ValidatedData{summary}, l.appendEvent(EvidenceValidated, data)
	}

	digests := l.loadDigests()

	names := make([]string, 0, len(byArtifact))
	for name := range byArtifact {
		names = append(names, name)
	}
	sort.Strings(names)

	var summaries []ValidatedData
	for _, name := range names {
		group := byArtifact[name]
		artifactPath := filepath.Join(l.dir, name)

		text, err := os.ReadFile(artifactPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading artifact %s: %w", name, err)
			}
			summary := ValidatedData{ContentID: contentID, Artifact: name, DigestOK: false, UnresolvedCount: len(group)}
			summaries = append(summaries, summary)
			data, _ := json.Marshal(summary)
			if err := l.appendEvent(EvidenceValidated, data); err != nil {
				return nil, err
			}
			continue
		}

		if stored, ok := digests[name]; ok && span.Hash(text) == stored {
			summary := ValidatedData{ContentID: contentID, Artifact: name, DigestOK: true, ValidCount: len(group)}
			summaries = append(summaries, summary)
			data, _ := json.Marshal(summary)
			if err := l.appendEvent(EvidenceValidated, data); err != nil {
				return nil, err
			}
			continue
		}

		valid, stale := 0, 0
		for _, e := range group {
			start, end := e.Span.UTF8ByteOffset[0], e.Span.UTF8ByteOffset[1]
			if end > len(text) {
				stale++
				continue
			}
			if span.SliceHash(text, start, end) == e.Span.SliceSHA256 {
				valid++
			} else {
				stale++
			}
		}
		summary := ValidatedData{ContentID: contentID, Artifact: name, DigestOK: false, ValidCount: valid, StaleCount: stale}
		summaries = append(summaries, summary)
		data, _ := json.Marshal(summary)
		if err := l.appendEvent(EvidenceValidated, data); err != nil {
			return nil, err
		}
	}

	if unresolvedCount > 0 {
		summary := ValidatedData{ContentID: contentID, UnresolvedCount: unresolvedCount}
		summaries = append(summaries, summary)
		data, _ := json.Marshal(summary)
		if err := l.appendEvent(EvidenceValidated, data); err != nil {
			return nil, err
		}
	}

	return summaries, nil
}

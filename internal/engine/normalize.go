package engine

import (
	"fmt"
	"regexp"
	"strings"
)

// unitPatterns maps token patterns over the combined key+value text to a
// physical unit hint. Order matters: the first match wins.
var unitPatterns = []struct {
	re   *regexp.Regexp
	hint string
}{
	{regexp.MustCompile(`(?i)\b(?:dpi|cpi)\b`), "dpi"},
	{regexp.MustCompile(`(?i)\b(?:hz|khz)\b`), "hz"},
	{regexp.MustCompile(`(?i)\b(?:mm|cm|inch|inches|in)\b|"`), "mm"},
	{regexp.MustCompile(`(?i)\b(?:g|gram|grams|kg|lb|lbs|pound|pounds|oz)\b`), "g"},
	{regexp.MustCompile(`(?i)\bmah\b`), "mah"},
	{regexp.MustCompile(`(?i)\b(?:hour|hours|hr|hrs|min|mins|minute|minutes)\b`), "h"},
}

// InferUnitHint derives a unit token from the key and value text, or returns
// an empty string when no pattern matches.
func InferUnitHint(key, value string) string {
	token := strings.ToLower(key + " " + value)
	for _, p := range unitPatterns {
		if p.re.MatchString(token) {
			return p.hint
		}
	}
	return ""
}

// Normalizer converts raw pairs into canonical records and deduplicates them
// by normalized (key, value) signature. Row counters are scoped per surface
// and per run; a Normalizer must not be shared across runs.
type Normalizer struct {
	counters map[Surface]int
	seen     map[string]struct{}
}

// NewNormalizer creates a normalizer with fresh counters and an empty dedup
// set.
func NewNormalizer() *Normalizer {
	return &Normalizer{
		counters: make(map[Surface]int),
		seen:     make(map[string]struct{}),
	}
}

// Normalize builds records for raw pairs in input order and keeps the first
// occurrence of each (normalized_key, normalized_value) signature. Processing
// stops once the output reaches limit. The per-surface row counter advances
// for every valid pair, including ones later dropped as duplicates, so row
// identifiers stay stable regardless of duplicate placement.
func (n *Normalizer) Normalize(pairs []RawPair, limit int) []PairRecord {
	out := []PairRecord{}
	for _, raw := range pairs {
		if len(out) >= limit {
			break
		}
		rec, ok := n.buildRecord(raw)
		if !ok {
			continue
		}
		sig := strings.ToLower(rec.NormalizedKey) + "\x00" + strings.ToLower(rec.NormalizedValue)
		if _, dup := n.seen[sig]; dup {
			continue
		}
		n.seen[sig] = struct{}{}
		out = append(out, rec)
	}
	return out
}

// buildRecord constructs a canonical record from a raw pair, assigning the
// next row id for the pair's surface. Returns false for pairs that fail the
// shared validity bounds.
func (n *Normalizer) buildRecord(raw RawPair) (PairRecord, bool) {
	key := NormalizeSpace(raw.Key)
	value := NormalizeSpace(raw.Value)
	if !PairIsValid(key, value) {
		return PairRecord{}, false
	}

	surface := raw.Surface
	switch surface {
	case SurfaceKV, SurfaceTable, SurfaceOCRKV, SurfaceOCRTable:
	default:
		surface = SurfaceKV
	}

	page := raw.Page
	if page < 1 {
		page = 1
	}

	n.counters[surface]++
	row := n.counters[surface]
	tableID := NormalizeSpace(raw.TableID)

	rec := PairRecord{
		Key:             key,
		Value:           value,
		RawKey:          raw.Key,
		RawValue:        raw.Value,
		NormalizedKey:   strings.ToLower(key),
		NormalizedValue: strings.ToLower(value),
		TableID:         tableID,
		RowID:           rowID(surface, page, row),
		UnitHint:        InferUnitHint(key, value),
		Surface:         surface,
		Path:            recordPath(surface, page, row, tableID),
		Page:            page,
		Backend:         raw.Backend,
	}
	if raw.OCRConfidenceSet {
		conf := raw.OCRConfidence
		rec.OCRConfidence = &conf
	}
	rec.OCRLowConfident = raw.OCRLowConfidence
	return rec, true
}

// rowID composes the stable, human-legible record identifier: surface
// prefix, zero-padded page and a per-surface monotonic row counter.
func rowID(surface Surface, page, row int) string {
	switch surface {
	case SurfaceTable:
		return fmt.Sprintf("pdf_%02d.tr_%04d", page, row)
	case SurfaceOCRTable:
		return fmt.Sprintf("sc_pdf_%02d.ocr_tr_%04d", page, row)
	case SurfaceOCRKV:
		return fmt.Sprintf("sc_pdf_%02d.ocr_kv_%04d", page, row)
	default:
		return fmt.Sprintf("pdf_%02d.kv_%04d", page, row)
	}
}

// recordPath builds the breadcrumb used for debugging and provenance.
func recordPath(surface Surface, page, row int, tableID string) string {
	if tableID == "" {
		tableID = fmt.Sprintf("t%d", page)
	}
	switch surface {
	case SurfaceTable:
		return fmt.Sprintf("pdf.page[%d].table[%s].row[%d]", page, tableID, row)
	case SurfaceOCRTable:
		return fmt.Sprintf("scanned_pdf.page[%d].table[%s].row[%d]", page, tableID, row)
	case SurfaceOCRKV:
		return fmt.Sprintf("scanned_pdf.page[%d].kv[%d]", page, row)
	default:
		return fmt.Sprintf("pdf.page[%d].kv[%d]", page, row)
	}
}

// SplitBySurface partitions records into free-text and table groups while
// preserving order. Both groups are non-nil so empty runs still serialize
// as arrays.
func SplitBySurface(records []PairRecord) (kv, table []PairRecord) {
	kv = []PairRecord{}
	table = []PairRecord{}
	for _, rec := range records {
		if rec.Surface.IsTable() {
			table = append(table, rec)
		} else {
			kv = append(kv, rec)
		}
	}
	return kv, table
}

package engine

import (
	"regexp"
	"strings"
)

// Separator priority for free-text pairing. Only the first separator found,
// in this order, splits a line; everything after it belongs to the value.
var lineSeparators = []string{":", " - ", " = ", "\t"}

const (
	minKeyLen   = 2
	maxKeyLen   = 160
	maxValueLen = 1200
)

var (
	spaceRE    = regexp.MustCompile(`\s+`)
	alphaNumRE = regexp.MustCompile(`[a-zA-Z0-9]`)
)

// NormalizeSpace collapses runs of whitespace into single spaces and trims
// the result.
func NormalizeSpace(s string) string {
	return strings.TrimSpace(spaceRE.ReplaceAllString(s, " "))
}

// ParseLinePair splits a free-text line into a key/value candidate on the
// first matching separator. A line matching no separator yields two empty
// strings.
func ParseLinePair(line string) (key, value string) {
	normalized := NormalizeSpace(line)
	if normalized == "" {
		return "", ""
	}
	for _, sep := range lineSeparators {
		if idx := strings.Index(normalized, sep); idx >= 0 {
			return NormalizeSpace(normalized[:idx]), NormalizeSpace(normalized[idx+len(sep):])
		}
	}
	return "", ""
}

// PairIsValid applies the shared validity bounds: key 2-160 chars, value at
// most 1200 chars, and both containing at least one alphanumeric character.
// Invalid candidates are discarded silently by callers.
func PairIsValid(key, value string) bool {
	if key == "" || value == "" {
		return false
	}
	if len(key) < minKeyLen || len(key) > maxKeyLen {
		return false
	}
	if len(value) > maxValueLen {
		return false
	}
	return alphaNumRE.MatchString(key) && alphaNumRE.MatchString(value)
}

// NormalizeLines splits page text into whitespace-normalized lines, dropping
// empty ones.
func NormalizeLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		if normalized := NormalizeSpace(line); normalized != "" {
			out = append(out, normalized)
		}
	}
	return out
}

// PairsFromText extracts raw pairs from page text, one candidate per line.
// The limit bounds how many pairs a single call may produce.
func PairsFromText(text string, limit, page int, surface Surface, backend string) []RawPair {
	var pairs []RawPair
	for _, line := range strings.Split(text, "\n") {
		key, value := ParseLinePair(line)
		if !PairIsValid(key, value) {
			continue
		}
		pairs = append(pairs, RawPair{
			Key:     key,
			Value:   value,
			Page:    page,
			Surface: surface,
			Backend: backend,
		})
		if len(pairs) >= limit {
			break
		}
	}
	return pairs
}

// PairsFromTable extracts raw pairs from tabular rows. Empty cells are
// dropped; rows with fewer than two remaining cells are skipped. The first
// cell becomes the key and the rest join into the value.
func PairsFromTable(rows [][]string, limit, page int, tableID string, surface Surface, backend string) []RawPair {
	var pairs []RawPair
	for _, row := range rows {
		cells := make([]string, 0, len(row))
		for _, cell := range row {
			if c := NormalizeSpace(cell); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) < 2 {
			continue
		}
		key := cells[0]
		value := strings.Join(cells[1:], " | ")
		if !PairIsValid(key, value) {
			continue
		}
		pairs = append(pairs, RawPair{
			Key:     key,
			Value:   value,
			Page:    page,
			Surface: surface,
			TableID: tableID,
			Backend: backend,
		})
		if len(pairs) >= limit {
			break
		}
	}
	return pairs
}

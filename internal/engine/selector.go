package engine

import "strings"

// Backend tokens recognized by the selector. BackendLegacy is a sentinel
// meaning "no adaptive backend": either an explicit opt-out or nothing
// available.
const (
	BackendAuto    = "auto"
	BackendPDFText = "pdftext"
	BackendPDFCPU  = "pdfcpu"
	BackendGrid    = "grid"
	BackendDocconv = "docconv"
	BackendLegacy  = "legacy"
)

// DefaultTableDensityThreshold is the table density at or above which the
// table-specialized backend is preferred. Tunable, not a law; 0.35 matches
// the long-observed crossover between table-dense datasheets and prose
// documents.
const DefaultTableDensityThreshold = 0.35

// rankedGeneral is the fixed general-purpose preference order.
var rankedGeneral = []string{BackendPDFText, BackendPDFCPU, BackendDocconv}

// attemptRank is the fixed walk order for the extraction fallback loop.
var attemptRank = []string{BackendPDFText, BackendPDFCPU, BackendGrid, BackendDocconv}

// NormalizeBackendToken lower-cases and trims a requested backend token,
// mapping anything unrecognized to "auto".
func NormalizeBackendToken(token string) string {
	t := strings.ToLower(NormalizeSpace(token))
	switch t {
	case BackendAuto, BackendPDFText, BackendPDFCPU, BackendGrid, BackendDocconv, BackendLegacy:
		return t
	}
	return BackendAuto
}

// ChooseBackend ranks the available backends against the fingerprint and an
// optional caller-requested token. The decision is deterministic for a given
// (requested, available, fingerprint) triple.
func ChooseBackend(requested string, available map[string]bool, fp Fingerprint, tableDensityThreshold float64) BackendChoice {
	req := NormalizeBackendToken(requested)

	choice := BackendChoice{
		Requested:    req,
		TableDensity: fp.TableDensity,
		PagesScanned: fp.PagesScanned,
		TablesFound:  fp.TablesFound,
	}

	ranked := rankedBackends(fp.TableDensity, tableDensityThreshold)
	firstAvailable := func() string {
		for _, token := range ranked {
			if available[token] {
				return token
			}
		}
		return BackendLegacy
	}

	if req != BackendAuto {
		if req == BackendLegacy {
			choice.Selected = BackendLegacy
			choice.Reason = "requested_legacy"
			return choice
		}
		if available[req] {
			choice.Selected = req
			choice.Reason = "requested_" + req
			return choice
		}
		fallback := firstAvailable()
		choice.Selected = fallback
		choice.FallbackUsed = true
		choice.Reason = "requested_unavailable_fallback_" + fallback
		return choice
	}

	selected := firstAvailable()
	choice.Selected = selected
	switch {
	case selected == BackendLegacy:
		choice.Reason = "auto_no_backend_available"
	case selected == BackendGrid && fp.TableDensity >= tableDensityThreshold:
		choice.Reason = "auto_table_dense"
	default:
		choice.Reason = "auto_" + selected
	}
	return choice
}

// rankedBackends builds the preference order for a given table density,
// removing duplicate tokens while preserving first occurrence.
func rankedBackends(tableDensity, threshold float64) []string {
	var ranked []string
	if tableDensity >= threshold {
		ranked = append(ranked, BackendGrid)
	}
	ranked = append(ranked, rankedGeneral...)
	return dedupeTokens(ranked)
}

// AttemptOrder returns the extraction attempt list: the selected backend
// first, then every other available backend in fixed ranked order.
func AttemptOrder(selected string, available map[string]bool) []string {
	order := []string{selected}
	for _, token := range attemptRank {
		if token == selected {
			continue
		}
		if available[token] {
			order = append(order, token)
		}
	}
	return dedupeTokens(order)
}

func dedupeTokens(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, dup := seen[token]; dup {
			continue
		}
		seen[token] = struct{}{}
		out = append(out, token)
	}
	return out
}

package engine

// DefaultPairYieldFloor is the constant part of the low-pair-yield test: a
// document is considered low-yield when the post-dedupe pair count is at or
// below max(floor, pages*2). Tunable alongside the detection thresholds.
const DefaultPairYieldFloor = 6

// DetectScanned decides whether a document is effectively unreadable as
// selectable text. Both conditions must hold: near-empty extractable text
// (chars-per-page or lines-per-page at or below the thresholds) and a low
// pair yield relative to page count. Sparse text alone, such as a blank
// cover page on an otherwise rich document, must not trigger OCR.
func DetectScanned(fp Fingerprint, pairsAfterDedupe, minCharsPerPage, minLinesPerPage, pairYieldFloor int) ScanDetection {
	pages := fp.PagesScanned
	if pages < 1 {
		pages = 1
	}
	if minCharsPerPage < 0 {
		minCharsPerPage = 0
	}
	if minLinesPerPage < 0 {
		minLinesPerPage = 0
	}
	if pairsAfterDedupe < 0 {
		pairsAfterDedupe = 0
	}

	charsPerPage := float64(fp.TextChars) / float64(pages)
	linesPerPage := float64(fp.LinesScanned) / float64(pages)

	nearEmptyText := charsPerPage <= float64(minCharsPerPage) || linesPerPage <= float64(minLinesPerPage)

	yieldCeiling := pairYieldFloor
	if pages*2 > yieldCeiling {
		yieldCeiling = pages * 2
	}
	lowPairYield := pairsAfterDedupe <= yieldCeiling

	return ScanDetection{
		ScannedPDFDetected: nearEmptyText && lowPairYield,
		CharsPerPage:       charsPerPage,
		LinesPerPage:       linesPerPage,
		PairsAfterDedupe:   pairsAfterDedupe,
	}
}

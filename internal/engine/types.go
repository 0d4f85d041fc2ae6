package engine

// Surface identifies the structural origin of a pair record.
type Surface string

const (
	SurfaceKV       Surface = "pdf_kv"
	SurfaceTable    Surface = "pdf_table"
	SurfaceOCRKV    Surface = "scanned_pdf_ocr_kv"
	SurfaceOCRTable Surface = "scanned_pdf_ocr_table"
)

// IsTable reports whether the surface originates from a table row.
func (s Surface) IsTable() bool {
	return s == SurfaceTable || s == SurfaceOCRTable
}

// IsOCR reports whether the surface originates from the OCR path.
func (s Surface) IsOCR() bool {
	return s == SurfaceOCRKV || s == SurfaceOCRTable
}

// Fingerprint holds cheap aggregate signals computed over a bounded page
// sample. It drives backend selection and scanned-document detection and is
// never recomputed within a run.
type Fingerprint struct {
	PagesScanned    int     `json:"pages_scanned"`
	TablesFound     int     `json:"tables_found"`
	LinesScanned    int     `json:"lines_scanned"`
	TextChars       int     `json:"text_chars"`
	TableDensity    float64 `json:"table_density"`
	AvgCharsPerPage float64 `json:"avg_chars_per_page"`
}

// BackendChoice is the outcome of ranking backends against a fingerprint.
type BackendChoice struct {
	Requested    string  `json:"requested"`
	Selected     string  `json:"selected"`
	FallbackUsed bool    `json:"fallback_used"`
	Reason       string  `json:"reason"`
	TableDensity float64 `json:"table_density"`
	PagesScanned int     `json:"pages_scanned"`
	TablesFound  int     `json:"tables_found"`
}

// RawPair is a transient key/value candidate extracted from a single source
// location, before normalization assigns identity and provenance.
type RawPair struct {
	Key     string
	Value   string
	Page    int
	Surface Surface
	TableID string
	Backend string

	// OCR-only attributes, carried through from the recognizing page.
	OCRConfidence    float64
	OCRConfidenceSet bool
	OCRLowConfidence bool
}

// PairRecord is the canonical, deduplicated key/value fact unit. Records are
// immutable once built.
type PairRecord struct {
	Key             string   `json:"key"`
	Value           string   `json:"value"`
	RawKey          string   `json:"raw_key"`
	RawValue        string   `json:"raw_value"`
	NormalizedKey   string   `json:"normalized_key"`
	NormalizedValue string   `json:"normalized_value"`
	TableID         string   `json:"table_id,omitempty"`
	RowID           string   `json:"row_id"`
	UnitHint        string   `json:"unit_hint,omitempty"`
	Surface         Surface  `json:"surface"`
	Path            string   `json:"path"`
	Page            int      `json:"page"`
	Backend         string   `json:"backend"`
	OCRConfidence   *float64 `json:"ocr_confidence,omitempty"`
	OCRLowConfident bool     `json:"ocr_low_confidence,omitempty"`
}

// PageSnippet is a length-capped per-page text excerpt kept for provenance.
type PageSnippet struct {
	PageNumber int    `json:"page_number"`
	Text       string `json:"text"`
	CharCount  int    `json:"char_count"`
}

// Extraction is the raw output of one backend attempt before normalization.
type Extraction struct {
	Pairs        []RawPair
	TextPreview  string
	Pages        []PageSnippet
	PagesScanned int
	LinesScanned int
	TablesFound  int
	Backend      string
}

// BackendInfo describes the backend decision for the envelope.
type BackendInfo struct {
	Requested    string          `json:"requested"`
	Selected     string          `json:"selected"`
	FallbackUsed bool            `json:"fallback_used"`
	Reason       string          `json:"reason"`
	Attempts     []string        `json:"attempts"`
	Available    map[string]bool `json:"available"`
}

// ScanDetection is the outcome of scanned-document detection.
type ScanDetection struct {
	ScannedPDFDetected bool    `json:"scanned_pdf_detected"`
	CharsPerPage       float64 `json:"chars_per_page"`
	LinesPerPage       float64 `json:"lines_per_page"`
	PairsAfterDedupe   int     `json:"pairs_after_dedupe"`
}

// OCRInfo describes the OCR backend decision and confidence statistics.
type OCRInfo struct {
	Enabled        bool    `json:"enabled"`
	Attempted      bool    `json:"attempted"`
	Requested      string  `json:"backend_requested"`
	Selected       string  `json:"backend_selected"`
	FallbackUsed   bool    `json:"backend_fallback_used"`
	Reason         string  `json:"backend_reason"`
	ConfidenceAvg  float64 `json:"confidence_avg"`
	LowConfidence  int     `json:"low_confidence_pairs"`
	Error          string  `json:"error,omitempty"`
}

// Meta aggregates stage counters for the envelope.
type Meta struct {
	RunID             string        `json:"run_id"`
	PagesScanned      int           `json:"pages_scanned"`
	LinesScanned      int           `json:"lines_scanned"`
	TablesFound       int           `json:"tables_found"`
	PairsBeforeDedupe int           `json:"pairs_before_dedupe"`
	PairsAfterDedupe  int           `json:"pairs_after_dedupe"`
	KVPairCount       int           `json:"kv_pairs_count"`
	TablePairCount    int           `json:"table_pairs_count"`
	Fingerprint       Fingerprint   `json:"pdf_fingerprint"`
	ScanDetection     ScanDetection `json:"scan_detection"`
	OCR               OCRInfo       `json:"scanned_pdf_ocr"`
}

// Result is the serializable envelope produced by one pipeline run. It is a
// plain value owned by the caller; the engine holds no reference after
// returning it.
type Result struct {
	OK             bool          `json:"ok"`
	Backend        BackendInfo   `json:"backend"`
	Pairs          []PairRecord  `json:"pairs"`
	KVPairs        []PairRecord  `json:"kv_pairs"`
	TablePairs     []PairRecord  `json:"table_pairs"`
	OCRPairs       []PairRecord  `json:"ocr_pairs"`
	OCRKVPairs     []PairRecord  `json:"ocr_kv_pairs"`
	OCRTablePairs  []PairRecord  `json:"ocr_table_pairs"`
	TextPreview    string        `json:"text_preview"`
	OCRTextPreview string        `json:"ocr_text_preview"`
	Pages          []PageSnippet `json:"pages"`
	Meta           Meta          `json:"meta"`
	Errors         []string      `json:"errors"`
}

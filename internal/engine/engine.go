package engine

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ExtractOptions bound a single backend extraction attempt.
type ExtractOptions struct {
	MaxPages     int
	MaxPairs     int
	PreviewChars int
}

// Backend is one interchangeable extraction engine. Implementations must
// swallow per-page and per-table failures and keep going; only a total
// failure of the document is returned as an error.
type Backend interface {
	Token() string
	Extract(path string, opts ExtractOptions) (*Extraction, error)
}

// Registry resolves backend tokens to implementations and availability.
// Availability is probed at registry construction, not per call, so a
// selection decision is stable for the whole run.
type Registry interface {
	Lookup(token string) (Backend, bool)
	Available() map[string]bool
	Fingerprint(path string, maxPages int) (Fingerprint, error)
}

// OCROptions bound the OCR fallback path independently of the primary
// limits; recognition is expensive and the defaults are materially smaller.
type OCROptions struct {
	MaxPages      int
	MaxPairs      int
	PreviewChars  int
	MinConfidence float64
}

// OCRChoice is the OCR backend decision, computed with the same
// requested/available/fallback pattern as the primary selector.
type OCRChoice struct {
	Requested    string
	Selected     string
	FallbackUsed bool
	Reason       string
}

// OCRStats carries confidence statistics out of a recognition run.
type OCRStats struct {
	ConfidenceAvg      float64
	ConfidenceSamples  int
	LowConfidencePairs int
}

// OCRRunner selects an OCR engine and runs page recognition.
type OCRRunner interface {
	Choose(requested string) OCRChoice
	Run(path, token string, opts OCROptions) (*Extraction, OCRStats, error)
	Available() map[string]bool
}

// Params are the caller-facing knobs for one pipeline run. Out-of-range
// values are clamped, not rejected.
type Params struct {
	Backend          string
	MaxPages         int
	MaxPairs         int
	PreviewChars     int
	EnableOCR        bool
	OCRBackend       string
	OCRMaxPages      int
	OCRMaxPairs      int
	MinCharsPerPage  int
	MinLinesPerPage  int
	OCRMinConfidence float64

	// Detection tunables; zero values take the package defaults.
	TableDensityThreshold float64
	PairYieldFloor        int
}

// clamp applies the documented lower bounds in place.
func (p *Params) clamp() {
	if p.MaxPages < 1 {
		p.MaxPages = 1
	}
	if p.MaxPairs < 100 {
		p.MaxPairs = 100
	}
	if p.PreviewChars < 1000 {
		p.PreviewChars = 1000
	}
	if p.OCRMaxPages < 1 {
		p.OCRMaxPages = 1
	}
	if p.OCRMaxPairs < 50 {
		p.OCRMaxPairs = 50
	}
	if p.MinCharsPerPage < 0 {
		p.MinCharsPerPage = 0
	}
	if p.MinLinesPerPage < 0 {
		p.MinLinesPerPage = 0
	}
	if p.OCRMinConfidence < 0 {
		p.OCRMinConfidence = 0
	}
	if p.OCRMinConfidence > 1 {
		p.OCRMinConfidence = 1
	}
	if p.TableDensityThreshold == 0 {
		p.TableDensityThreshold = DefaultTableDensityThreshold
	}
	if p.PairYieldFloor == 0 {
		p.PairYieldFloor = DefaultPairYieldFloor
	}
}

// Engine runs the adaptive extraction pipeline. It holds no per-document
// state; one Engine may serve many documents, each run being independent.
type Engine struct {
	registry Registry
	ocr      OCRRunner
}

// New creates an engine over a backend registry. The OCR runner may be nil
// when the caller never opts in to OCR.
func New(registry Registry, ocr OCRRunner) *Engine {
	return &Engine{registry: registry, ocr: ocr}
}

// BackendAvailability reports the probed extraction backend availability.
func (e *Engine) BackendAvailability() map[string]bool {
	return e.registry.Available()
}

// OCRAvailability reports the probed OCR engine availability.
func (e *Engine) OCRAvailability() map[string]bool {
	if e.ocr == nil {
		return map[string]bool{}
	}
	return e.ocr.Available()
}

// Extract runs the full pipeline on one document: fingerprint, backend
// selection, extraction with fallback, normalization, scanned-document
// detection and the optional OCR path. It never returns an error; every
// failure mode is represented inside the envelope.
func (e *Engine) Extract(path string, params Params) *Result {
	params.clamp()

	result := &Result{
		OK:            true,
		Pairs:         []PairRecord{},
		KVPairs:       []PairRecord{},
		TablePairs:    []PairRecord{},
		OCRPairs:      []PairRecord{},
		OCRKVPairs:    []PairRecord{},
		OCRTablePairs: []PairRecord{},
		Pages:         []PageSnippet{},
		Errors:        []string{},
	}
	result.Meta.RunID = uuid.NewString()

	available := e.registry.Available()

	if err := preflight(path); err != nil {
		result.Backend = BackendInfo{
			Requested: NormalizeBackendToken(params.Backend),
			Selected:  BackendLegacy,
			Reason:    "preflight_failed",
			Attempts:  []string{},
			Available: available,
		}
		result.Errors = append(result.Errors, fmt.Sprintf("preflight_failed: %v", err))
		return result
	}

	// Fingerprinting is advisory: a failure degrades selection and scan
	// detection but never stops the run.
	fp, err := e.registry.Fingerprint(path, params.MaxPages)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("fingerprint_failed: %v", err))
	}
	result.Meta.Fingerprint = fp

	choice := ChooseBackend(params.Backend, available, fp, params.TableDensityThreshold)
	attempts := AttemptOrder(choice.Selected, available)

	extraction, usedBackend, lastErr := e.runAttempts(path, attempts, params)

	result.Backend = BackendInfo{
		Requested:    choice.Requested,
		Selected:     usedBackend,
		FallbackUsed: choice.FallbackUsed || usedBackend != choice.Selected,
		Reason:       choice.Reason,
		Attempts:     attempts,
		Available:    available,
	}

	if extraction == nil {
		if lastErr == "" {
			lastErr = "no_backend_available"
		}
		result.Backend.Selected = BackendLegacy
		result.Backend.FallbackUsed = true
		result.Backend.Reason = "no_backend_available"
		result.Errors = append(result.Errors, lastErr)
		result.Meta.ScanDetection = DetectScanned(fp, 0, params.MinCharsPerPage, params.MinLinesPerPage, params.PairYieldFloor)
		return result
	}
	if lastErr != "" {
		result.Errors = append(result.Errors, lastErr)
	}

	norm := NewNormalizer()
	records := norm.Normalize(extraction.Pairs, params.MaxPairs)
	kv, table := SplitBySurface(records)

	result.Pairs = records
	result.KVPairs = kv
	result.TablePairs = table
	result.TextPreview = truncate(NormalizeSpace(extraction.TextPreview), params.PreviewChars)
	if extraction.Pages != nil {
		result.Pages = extraction.Pages
	}

	result.Meta.PagesScanned = extraction.PagesScanned
	result.Meta.LinesScanned = extraction.LinesScanned
	result.Meta.TablesFound = extraction.TablesFound
	result.Meta.PairsBeforeDedupe = len(extraction.Pairs)
	result.Meta.PairsAfterDedupe = len(records)
	result.Meta.KVPairCount = len(kv)
	result.Meta.TablePairCount = len(table)

	detection := DetectScanned(fp, len(records), params.MinCharsPerPage, params.MinLinesPerPage, params.PairYieldFloor)
	result.Meta.ScanDetection = detection

	e.runOCR(path, params, detection, result)
	return result
}

// runAttempts walks the fallback attempt list until one backend produces an
// extraction, recording the last failure message.
func (e *Engine) runAttempts(path string, attempts []string, params Params) (*Extraction, string, string) {
	opts := ExtractOptions{
		MaxPages:     params.MaxPages,
		MaxPairs:     params.MaxPairs,
		PreviewChars: params.PreviewChars,
	}

	lastErr := ""
	for _, token := range attempts {
		backend, ok := e.registry.Lookup(token)
		if !ok {
			continue
		}
		extraction, err := backend.Extract(path, opts)
		if err != nil {
			lastErr = fmt.Sprintf("%s_extract_failed: %v", token, err)
			continue
		}
		return extraction, token, lastErr
	}
	return nil, BackendLegacy, lastErr
}

// runOCR executes the OCR fallback path when detection fired and the caller
// opted in. OCR failures never invalidate already-collected primary records.
func (e *Engine) runOCR(path string, params Params, detection ScanDetection, result *Result) {
	info := OCRInfo{
		Enabled:   params.EnableOCR,
		Requested: normalizeOCRToken(params.OCRBackend),
		Selected:  "none",
	}
	defer func() { result.Meta.OCR = info }()

	if !params.EnableOCR || !detection.ScannedPDFDetected {
		return
	}
	if e.ocr == nil {
		info.Error = "ocr_runner_unavailable"
		result.Errors = append(result.Errors, "scanned_pdf_ocr: ocr_runner_unavailable")
		return
	}

	info.Attempted = true
	choice := e.ocr.Choose(params.OCRBackend)
	info.Requested = choice.Requested
	info.Selected = choice.Selected
	info.FallbackUsed = choice.FallbackUsed
	info.Reason = choice.Reason

	if choice.Selected == "none" {
		info.Error = "ocr_backend_unavailable"
		result.Errors = append(result.Errors, "scanned_pdf_ocr: ocr_backend_unavailable")
		return
	}

	extraction, stats, err := e.ocr.Run(path, choice.Selected, OCROptions{
		MaxPages:      params.OCRMaxPages,
		MaxPairs:      params.OCRMaxPairs,
		PreviewChars:  params.PreviewChars,
		MinConfidence: params.OCRMinConfidence,
	})
	if err != nil {
		info.Error = err.Error()
		result.Errors = append(result.Errors, fmt.Sprintf("scanned_pdf_ocr: %v", err))
		return
	}

	// The OCR path gets its own dedup pass so a recognized pair identical
	// to a primary-path pair is retained under its own surface.
	norm := NewNormalizer()
	records := norm.Normalize(extraction.Pairs, params.OCRMaxPairs)
	kv, table := SplitBySurface(records)

	result.OCRPairs = records
	result.OCRKVPairs = kv
	result.OCRTablePairs = table
	result.OCRTextPreview = truncate(NormalizeSpace(extraction.TextPreview), params.PreviewChars)

	info.ConfidenceAvg = stats.ConfidenceAvg
	info.LowConfidence = stats.LowConfidencePairs
}

// normalizeOCRToken mirrors the OCR runner's token normalization so the
// reported requested engine is canonical even on runs that never consult
// the runner.
func normalizeOCRToken(token string) string {
	t := strings.ToLower(NormalizeSpace(token))
	switch t {
	case "auto", "none", "gosseract", "docai":
		return t
	}
	return "auto"
}

// preflight performs the cheap sanity checks run before any backend touches
// the document: the path must exist, be a regular file and carry the PDF
// magic header.
func preflight(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	fi, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot access file: %w", err)
	}
	if fi.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("cannot open file: %w", err)
	}
	defer f.Close()
	header := make([]byte, 5)
	if _, err := io.ReadFull(f, header); err != nil {
		return fmt.Errorf("cannot read file header: %w", err)
	}
	if !strings.HasPrefix(string(header), "%PDF-") {
		return fmt.Errorf("file does not start with PDF header")
	}
	return nil
}

// truncate caps a string at n bytes, backing up so the cut never lands
// inside a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

package engine

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeBackend returns a canned extraction or error.
type fakeBackend struct {
	token      string
	extraction *Extraction
	err        error
	calls      int
}

func (f *fakeBackend) Token() string { return f.token }

func (f *fakeBackend) Extract(path string, opts ExtractOptions) (*Extraction, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.extraction, nil
}

// fakeRegistry serves a fixed token set with a canned fingerprint.
type fakeRegistry struct {
	backends    map[string]*fakeBackend
	fingerprint Fingerprint
	fpErr       error
}

func (f *fakeRegistry) Lookup(token string) (Backend, bool) {
	b, ok := f.backends[token]
	if !ok {
		return nil, false
	}
	return b, true
}

func (f *fakeRegistry) Available() map[string]bool {
	out := make(map[string]bool, len(f.backends))
	for token := range f.backends {
		out[token] = true
	}
	return out
}

func (f *fakeRegistry) Fingerprint(path string, maxPages int) (Fingerprint, error) {
	return f.fingerprint, f.fpErr
}

// fakeOCR returns a canned choice and extraction.
type fakeOCR struct {
	choice     OCRChoice
	extraction *Extraction
	stats      OCRStats
	err        error
	runCalls   int
}

func (f *fakeOCR) Choose(requested string) OCRChoice { return f.choice }

func (f *fakeOCR) Run(path, token string, opts OCROptions) (*Extraction, OCRStats, error) {
	f.runCalls++
	if f.err != nil {
		return nil, OCRStats{}, f.err
	}
	return f.extraction, f.stats, nil
}

func (f *fakeOCR) Available() map[string]bool {
	return map[string]bool{"gosseract": true}
}

func writeTempPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\nstub"), 0o644))
	return path
}

func richFingerprint() Fingerprint {
	return Fingerprint{PagesScanned: 2, TextChars: 4000, LinesScanned: 80, AvgCharsPerPage: 2000}
}

func TestExtractEndToEnd(t *testing.T) {
	path := writeTempPDF(t)
	registry := &fakeRegistry{
		backends: map[string]*fakeBackend{
			BackendPDFText: {
				token: BackendPDFText,
				extraction: &Extraction{
					Pairs: []RawPair{
						{Key: "Weight", Value: "63 g", Page: 1, Surface: SurfaceKV, Backend: BackendPDFText},
						{Key: "DPI", Value: "26000", Page: 1, Surface: SurfaceTable, TableID: "t1", Backend: BackendPDFText},
						{Key: "Weight", Value: "63 g", Page: 2, Surface: SurfaceKV, Backend: BackendPDFText},
					},
					TextPreview:  "Weight: 63 g",
					Pages:        []PageSnippet{{PageNumber: 1, Text: "Weight: 63 g", CharCount: 12}},
					PagesScanned: 2,
					LinesScanned: 40,
					Backend:      BackendPDFText,
				},
			},
		},
		fingerprint: richFingerprint(),
	}

	eng := New(registry, &fakeOCR{})
	result := eng.Extract(path, Params{Backend: "auto"})

	require.True(t, result.OK)
	assert.NotEmpty(t, result.Meta.RunID)
	assert.Equal(t, BackendPDFText, result.Backend.Selected)
	assert.Equal(t, "auto_pdftext", result.Backend.Reason)
	assert.False(t, result.Backend.FallbackUsed)

	require.Len(t, result.Pairs, 2) // duplicate Weight dropped
	assert.Len(t, result.KVPairs, 1)
	assert.Len(t, result.TablePairs, 1)
	assert.Equal(t, 3, result.Meta.PairsBeforeDedupe)
	assert.Equal(t, 2, result.Meta.PairsAfterDedupe)
	assert.Equal(t, 1, result.Meta.KVPairCount)
	assert.Equal(t, 1, result.Meta.TablePairCount)

	assert.False(t, result.Meta.ScanDetection.ScannedPDFDetected)
	assert.Empty(t, result.OCRPairs)
	assert.Empty(t, result.Errors)
}

func TestExtractFallsBackAcrossBackends(t *testing.T) {
	path := writeTempPDF(t)
	failing := &fakeBackend{token: BackendPDFText, err: errors.New("parse blew up")}
	working := &fakeBackend{
		token: BackendPDFCPU,
		extraction: &Extraction{
			Pairs:        []RawPair{{Key: "Weight", Value: "63 g", Page: 1, Surface: SurfaceKV, Backend: BackendPDFCPU}},
			PagesScanned: 1,
			LinesScanned: 30,
		},
	}
	registry := &fakeRegistry{
		backends:    map[string]*fakeBackend{BackendPDFText: failing, BackendPDFCPU: working},
		fingerprint: richFingerprint(),
	}

	eng := New(registry, &fakeOCR{})
	result := eng.Extract(path, Params{Backend: "pdftext"})

	require.True(t, result.OK)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, working.calls)
	assert.Equal(t, BackendPDFCPU, result.Backend.Selected)
	assert.True(t, result.Backend.FallbackUsed)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "pdftext_extract_failed")
	require.Len(t, result.Pairs, 1)
}

func TestExtractTotalFailureStillOK(t *testing.T) {
	path := writeTempPDF(t)
	registry := &fakeRegistry{
		backends: map[string]*fakeBackend{
			BackendPDFText: {token: BackendPDFText, err: errors.New("broken")},
			BackendPDFCPU:  {token: BackendPDFCPU, err: errors.New("also broken")},
		},
		fingerprint: richFingerprint(),
	}

	eng := New(registry, &fakeOCR{})
	result := eng.Extract(path, Params{Backend: "auto"})

	// Total extraction failure is a structured outcome, not a transport
	// error: the envelope stays ok with an empty pair set.
	require.True(t, result.OK)
	assert.Equal(t, BackendLegacy, result.Backend.Selected)
	assert.True(t, result.Backend.FallbackUsed)
	assert.Equal(t, "no_backend_available", result.Backend.Reason)
	assert.Empty(t, result.Pairs)
	assert.NotEmpty(t, result.Errors)
}

func TestExtractPreflightFailure(t *testing.T) {
	notPDF := filepath.Join(t.TempDir(), "notes.txt")
	require.NoError(t, os.WriteFile(notPDF, []byte("plain text"), 0o644))

	eng := New(&fakeRegistry{backends: map[string]*fakeBackend{}}, nil)

	for _, path := range []string{"", filepath.Join(t.TempDir(), "missing.pdf"), notPDF} {
		result := eng.Extract(path, Params{})
		require.True(t, result.OK, "path %q", path)
		assert.Equal(t, "preflight_failed", result.Backend.Reason)
		assert.Empty(t, result.Pairs)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "preflight_failed")
	}
}

func TestExtractRunsOCRWhenScannedDetected(t *testing.T) {
	path := writeTempPDF(t)
	registry := &fakeRegistry{
		backends: map[string]*fakeBackend{
			BackendPDFText: {
				token:      BackendPDFText,
				extraction: &Extraction{PagesScanned: 3},
			},
		},
		// near-empty: 3 pages, almost no text
		fingerprint: Fingerprint{PagesScanned: 3, TextChars: 30, LinesScanned: 3},
	}
	conf := 0.9
	ocr := &fakeOCR{
		choice: OCRChoice{Requested: "auto", Selected: "gosseract", Reason: "auto_gosseract"},
		extraction: &Extraction{
			Pairs: []RawPair{
				{Key: "Weight", Value: "63 g", Page: 1, Surface: SurfaceOCRKV, Backend: "gosseract", OCRConfidence: conf, OCRConfidenceSet: true},
			},
			TextPreview: "Weight: 63 g",
		},
		stats: OCRStats{ConfidenceAvg: conf, ConfidenceSamples: 12},
	}

	eng := New(registry, ocr)
	result := eng.Extract(path, Params{Backend: "auto", EnableOCR: true})

	require.True(t, result.OK)
	assert.True(t, result.Meta.ScanDetection.ScannedPDFDetected)
	assert.Equal(t, 1, ocr.runCalls)

	require.Len(t, result.OCRPairs, 1)
	assert.Equal(t, "sc_pdf_01.ocr_kv_0001", result.OCRPairs[0].RowID)
	assert.Len(t, result.OCRKVPairs, 1)
	assert.Empty(t, result.OCRTablePairs)
	assert.Equal(t, "Weight: 63 g", result.OCRTextPreview)

	assert.True(t, result.Meta.OCR.Attempted)
	assert.Equal(t, "gosseract", result.Meta.OCR.Selected)
	assert.InDelta(t, conf, result.Meta.OCR.ConfidenceAvg, 1e-9)
}

func TestExtractSkipsOCRWhenDisabled(t *testing.T) {
	path := writeTempPDF(t)
	registry := &fakeRegistry{
		backends: map[string]*fakeBackend{
			BackendPDFText: {token: BackendPDFText, extraction: &Extraction{PagesScanned: 3}},
		},
		fingerprint: Fingerprint{PagesScanned: 3, TextChars: 30, LinesScanned: 3},
	}
	ocr := &fakeOCR{choice: OCRChoice{Selected: "gosseract"}}

	eng := New(registry, ocr)
	result := eng.Extract(path, Params{Backend: "auto", EnableOCR: false})

	assert.True(t, result.Meta.ScanDetection.ScannedPDFDetected)
	assert.Equal(t, 0, ocr.runCalls)
	assert.False(t, result.Meta.OCR.Attempted)
	assert.Equal(t, "none", result.Meta.OCR.Selected)
}

func TestExtractOCRFailureKeepsPrimaryRecords(t *testing.T) {
	path := writeTempPDF(t)
	registry := &fakeRegistry{
		backends: map[string]*fakeBackend{
			BackendPDFText: {
				token: BackendPDFText,
				extraction: &Extraction{
					Pairs:        []RawPair{{Key: "Weight", Value: "63 g", Page: 1, Surface: SurfaceKV}},
					PagesScanned: 3,
				},
			},
		},
		fingerprint: Fingerprint{PagesScanned: 3, TextChars: 30, LinesScanned: 3},
	}
	ocr := &fakeOCR{
		choice: OCRChoice{Requested: "auto", Selected: "gosseract", Reason: "auto_gosseract"},
		err:    errors.New("tesseract exploded"),
	}

	eng := New(registry, ocr)
	result := eng.Extract(path, Params{Backend: "auto", EnableOCR: true})

	require.True(t, result.OK)
	require.Len(t, result.Pairs, 1)
	assert.Empty(t, result.OCRPairs)
	assert.Contains(t, result.Meta.OCR.Error, "tesseract exploded")

	found := false
	for _, msg := range result.Errors {
		if strings.Contains(msg, "scanned_pdf_ocr") && strings.Contains(msg, "tesseract exploded") {
			found = true
		}
	}
	assert.True(t, found, "expected a scanned_pdf_ocr error entry, got %v", result.Errors)
}

func TestExtractEmptyRunSerializesArrays(t *testing.T) {
	path := writeTempPDF(t)
	registry := &fakeRegistry{
		backends: map[string]*fakeBackend{
			BackendPDFText: {token: BackendPDFText, err: errors.New("broken")},
		},
		fingerprint: richFingerprint(),
	}

	eng := New(registry, &fakeOCR{})
	result := eng.Extract(path, Params{Backend: "auto"})

	payload, err := json.Marshal(result)
	require.NoError(t, err)

	// Every collection serializes as an array even when the run yields
	// nothing, so consumers never see null where a list belongs.
	for _, key := range []string{
		`"pairs":[]`, `"kv_pairs":[]`, `"table_pairs":[]`,
		`"ocr_pairs":[]`, `"ocr_kv_pairs":[]`, `"ocr_table_pairs":[]`,
		`"pages":[]`,
	} {
		assert.Contains(t, string(payload), key)
	}
	assert.NotContains(t, string(payload), "null")
}

func TestExtractZeroPairBackendSerializesArrays(t *testing.T) {
	path := writeTempPDF(t)
	registry := &fakeRegistry{
		backends: map[string]*fakeBackend{
			BackendPDFText: {
				token:      BackendPDFText,
				extraction: &Extraction{PagesScanned: 1, Backend: BackendPDFText},
			},
		},
		fingerprint: richFingerprint(),
	}

	eng := New(registry, &fakeOCR{})
	result := eng.Extract(path, Params{Backend: "auto", EnableOCR: false})

	payload, err := json.Marshal(result)
	require.NoError(t, err)
	for _, key := range []string{
		`"pairs":[]`, `"kv_pairs":[]`, `"table_pairs":[]`,
		`"ocr_pairs":[]`, `"ocr_kv_pairs":[]`, `"ocr_table_pairs":[]`,
		`"pages":[]`,
	} {
		assert.Contains(t, string(payload), key)
	}
}

func TestExtractNormalizesOCRRequestedToken(t *testing.T) {
	path := writeTempPDF(t)
	registry := &fakeRegistry{
		backends: map[string]*fakeBackend{
			BackendPDFText: {
				token:      BackendPDFText,
				extraction: &Extraction{PagesScanned: 1, Backend: BackendPDFText},
			},
		},
		fingerprint: richFingerprint(),
	}
	eng := New(registry, &fakeOCR{})

	tests := []struct {
		requested string
		expected  string
	}{
		{requested: "", expected: "auto"},
		{requested: "  GOSSERACT ", expected: "gosseract"},
		{requested: "none", expected: "none"},
		{requested: "paddleocr", expected: "auto"},
	}
	for _, tt := range tests {
		result := eng.Extract(path, Params{Backend: "auto", EnableOCR: false, OCRBackend: tt.requested})
		assert.Equal(t, tt.expected, result.Meta.OCR.Requested, "requested %q", tt.requested)
	}
}

func TestExtractPreflightRejectsTinyFile(t *testing.T) {
	tiny := filepath.Join(t.TempDir(), "tiny.pdf")
	require.NoError(t, os.WriteFile(tiny, []byte("%PDF"), 0o644))

	eng := New(&fakeRegistry{backends: map[string]*fakeBackend{}}, nil)
	result := eng.Extract(tiny, Params{})

	require.True(t, result.OK)
	assert.Equal(t, "preflight_failed", result.Backend.Reason)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "cannot read file header")
}

func TestTruncateKeepsRuneBoundary(t *testing.T) {
	assert.Equal(t, "résolution", truncate("résolution", 100))
	// "é" is two bytes; a cap landing inside it backs up to the boundary.
	assert.Equal(t, "r", truncate("résolution", 2))
	assert.Equal(t, "ré", truncate("résolution", 3))
	assert.Equal(t, "", truncate("é", 1))
}

func TestParamsClamp(t *testing.T) {
	p := Params{MaxPages: 0, MaxPairs: 5, PreviewChars: 10, OCRMaxPages: -1, OCRMaxPairs: 2, OCRMinConfidence: 7}
	p.clamp()
	assert.Equal(t, 1, p.MaxPages)
	assert.Equal(t, 100, p.MaxPairs)
	assert.Equal(t, 1000, p.PreviewChars)
	assert.Equal(t, 1, p.OCRMaxPages)
	assert.Equal(t, 50, p.OCRMaxPairs)
	assert.Equal(t, 1.0, p.OCRMinConfidence)
	assert.Equal(t, DefaultTableDensityThreshold, p.TableDensityThreshold)
	assert.Equal(t, DefaultPairYieldFloor, p.PairYieldFloor)
}

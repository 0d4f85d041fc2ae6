// Package ocr selects an optical-character-recognition engine, rasterizes
// document pages and feeds recognized text back to the extraction pipeline
// under the scanned-document surfaces.
package ocr

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"unicode/utf8"

	"github.com/gearfacts/doc-extractor/internal/engine"
)

// OCR engine tokens. EngineDocAI is recognized so callers can request it,
// but recognition is not implemented; selection substitutes the next
// available engine and marks the fallback.
const (
	EngineAuto      = "auto"
	EngineNone      = "none"
	EngineGosseract = "gosseract"
	EngineDocAI     = "docai"
)

// rankedEngines is the fixed preference order for auto selection.
var rankedEngines = []string{EngineGosseract, EngineDocAI}

// NormalizeEngineToken lower-cases and trims a requested engine token,
// mapping anything unrecognized to "auto".
func NormalizeEngineToken(token string) string {
	t := strings.ToLower(engine.NormalizeSpace(token))
	switch t {
	case EngineAuto, EngineNone, EngineGosseract, EngineDocAI:
		return t
	}
	return EngineAuto
}

// Runner implements the engine's OCR contract: engine choice plus page
// recognition. Availability is probed once at construction.
type Runner struct {
	available map[string]bool
}

// NewRunner probes the OCR engines and returns a runner.
func NewRunner() *Runner {
	return &Runner{
		available: map[string]bool{
			// gosseract binds libtesseract; the binary is the cheapest
			// reliable signal that the runtime pieces are installed.
			EngineGosseract: probeBinary("tesseract"),
			EngineDocAI:     os.Getenv("GDOCAI_PROJECT_ID") != "",
		},
	}
}

func probeBinary(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// Available returns the probed availability map.
func (r *Runner) Available() map[string]bool {
	out := make(map[string]bool, len(r.available))
	for token, ok := range r.available {
		out[token] = ok
	}
	return out
}

// Choose picks an OCR engine with the same requested/available/fallback
// pattern as primary backend selection, then applies the
// unimplemented-engine rule for docai.
func (r *Runner) Choose(requested string) engine.OCRChoice {
	req := NormalizeEngineToken(requested)
	choice := engine.OCRChoice{Requested: req}

	firstAvailable := func() string {
		for _, token := range rankedEngines {
			if r.available[token] {
				return token
			}
		}
		return EngineNone
	}

	switch req {
	case EngineNone:
		choice.Selected = EngineNone
		choice.Reason = "requested_none"
	case EngineGosseract, EngineDocAI:
		if r.available[req] {
			choice.Selected = req
			choice.Reason = "requested_" + req
			break
		}
		fallback := firstAvailable()
		choice.Selected = fallback
		choice.FallbackUsed = fallback != EngineNone
		if fallback != EngineNone {
			choice.Reason = "requested_unavailable_fallback_" + fallback
		} else {
			choice.Reason = "requested_unavailable_no_backend"
		}
	default:
		selected := firstAvailable()
		choice.Selected = selected
		if selected != EngineNone {
			choice.Reason = "auto_" + selected
		} else {
			choice.Reason = "auto_no_backend_available"
		}
	}

	// docai is a recognized token without an implementation behind it.
	if choice.Selected == EngineDocAI {
		if r.available[EngineGosseract] {
			choice.Selected = EngineGosseract
			choice.FallbackUsed = true
			choice.Reason = "docai_not_implemented_fallback_gosseract"
		} else {
			choice.Selected = EngineNone
			choice.Reason = "docai_not_implemented"
		}
	}

	return choice
}

// Run rasterizes up to opts.MaxPages pages, recognizes each one and pairs
// the recognized lines under the OCR free-text surface. A failure on one
// page is recorded per run only through a reduced yield; recognition
// continues with the next page.
func (r *Runner) Run(path, token string, opts engine.OCROptions) (*engine.Extraction, engine.OCRStats, error) {
	if token != EngineGosseract {
		return nil, engine.OCRStats{}, fmt.Errorf("unsupported_ocr_backend:%s", token)
	}

	pages, err := rasterizePages(path, opts.MaxPages)
	if err != nil {
		return nil, engine.OCRStats{}, fmt.Errorf("rasterize: %w", err)
	}
	if len(pages) == 0 {
		return nil, engine.OCRStats{}, fmt.Errorf("rasterize: no page images extracted")
	}

	rec, err := newGosseractRecognizer()
	if err != nil {
		return nil, engine.OCRStats{}, fmt.Errorf("recognizer: %w", err)
	}
	defer rec.Close()

	out := &engine.Extraction{Backend: token}
	var stats engine.OCRStats
	var previewChunks []string
	var confidenceSum float64
	budget := opts.MaxPairs * 3

	for _, page := range pages {
		text, confidences, err := rec.Recognize(page.PNG)
		if err != nil {
			continue
		}

		lines := engine.NormalizeLines(text)
		normalized := strings.Join(lines, "\n")
		out.PagesScanned++
		out.LinesScanned += len(lines)
		out.Pages = append(out.Pages, engine.PageSnippet{
			PageNumber: page.Number,
			Text:       capText(normalized, pageSnippetChars),
			CharCount:  len(normalized),
		})
		if normalized == "" {
			continue
		}
		previewChunks = append(previewChunks, normalized)

		pageConfidence, samples := averageConfidence(confidences)
		lowConfidence := samples > 0 && pageConfidence < opts.MinConfidence
		if samples > 0 {
			confidenceSum += pageConfidence * float64(samples)
			stats.ConfidenceSamples += samples
		}

		pairs := engine.PairsFromText(normalized, opts.MaxPairs, page.Number, engine.SurfaceOCRKV, token)
		for i := range pairs {
			if samples > 0 {
				pairs[i].OCRConfidence = pageConfidence
				pairs[i].OCRConfidenceSet = true
			}
			pairs[i].OCRLowConfidence = lowConfidence
		}
		if lowConfidence {
			stats.LowConfidencePairs += len(pairs)
		}
		out.Pairs = append(out.Pairs, pairs...)

		if len(out.Pairs) >= budget {
			break
		}
	}

	if stats.ConfidenceSamples > 0 {
		stats.ConfidenceAvg = confidenceSum / float64(stats.ConfidenceSamples)
	}
	out.TextPreview = capText(strings.Join(previewChunks, "\n"), opts.PreviewChars)
	return out, stats, nil
}

// averageConfidence converts raw tesseract word confidences (0-100,
// negatives meaning "no estimate") to a [0,1] page average.
func averageConfidence(raw []float64) (avg float64, samples int) {
	var sum float64
	for _, conf := range raw {
		if conf < 0 {
			continue
		}
		normalized := conf / 100.0
		if normalized > 1 {
			normalized = 1
		}
		sum += normalized
		samples++
	}
	if samples == 0 {
		return 0, 0
	}
	return sum / float64(samples), samples
}

const pageSnippetChars = 3000

func capText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

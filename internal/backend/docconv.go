package backend

import (
	"strings"

	"code.sajari.com/docconv"

	"github.com/gearfacts/doc-extractor/internal/engine"
)

// DocconvBackend converts the whole document through docconv, which shells
// out to poppler's pdftotext. It has no page structure: all pairs are
// attributed to page 1 and the pages list stays empty.
type DocconvBackend struct{}

// NewDocconvBackend creates the docconv-based backend.
func NewDocconvBackend() *DocconvBackend {
	return &DocconvBackend{}
}

// Token returns the backend token.
func (b *DocconvBackend) Token() string {
	return engine.BackendDocconv
}

// Extract converts the document to plain text in one pass and pairs its
// lines.
func (b *DocconvBackend) Extract(path string, opts engine.ExtractOptions) (*engine.Extraction, error) {
	res, err := docconv.ConvertPath(path)
	if err != nil {
		return nil, &Error{Token: b.Token(), Op: "convert", Err: err}
	}

	lines := engine.NormalizeLines(res.Body)
	normalized := strings.Join(lines, "\n")

	out := &engine.Extraction{
		Backend:      b.Token(),
		LinesScanned: len(lines),
		TextPreview:  capText(normalized, opts.PreviewChars),
	}
	if normalized != "" {
		out.Pairs = engine.PairsFromText(normalized, opts.MaxPairs, 1, engine.SurfaceKV, b.Token())
	}
	return out, nil
}

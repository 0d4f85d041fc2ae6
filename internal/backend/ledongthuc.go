package backend

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/gearfacts/doc-extractor/internal/engine"
)

// Per-page snippet cap for the envelope's pages list.
const snippetChars = 3000

// rawPairBudget bounds raw accumulation against adversarial documents:
// extraction stops early once three times the pair cap has been collected.
func rawPairBudget(maxPairs int) int {
	return maxPairs * 3
}

// PDFTextBackend extracts per-page plain text with ledongthuc/pdf. It is
// the fast general-purpose backend: free-text pairing only, no tables.
type PDFTextBackend struct{}

// NewPDFTextBackend creates the ledongthuc-based text backend.
func NewPDFTextBackend() *PDFTextBackend {
	return &PDFTextBackend{}
}

// Token returns the backend token.
func (b *PDFTextBackend) Token() string {
	return engine.BackendPDFText
}

// Extract walks up to opts.MaxPages pages, normalizing each page's lines and
// pairing them on the shared separators. A failure on one page is swallowed
// and extraction continues with the next.
func (b *PDFTextBackend) Extract(path string, opts engine.ExtractOptions) (*engine.Extraction, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, &Error{Token: b.Token(), Op: "open", Err: err}
	}
	defer f.Close()

	out := &engine.Extraction{Backend: b.Token()}
	var previewChunks []string
	budget := rawPairBudget(opts.MaxPairs)

	pageCount := reader.NumPage()
	for pageNum := 1; pageNum <= pageCount && pageNum <= opts.MaxPages; pageNum++ {
		pageText := extractPageText(reader, pageNum)
		lines := engine.NormalizeLines(pageText)
		normalized := strings.Join(lines, "\n")

		out.PagesScanned++
		out.LinesScanned += len(lines)
		out.Pages = append(out.Pages, engine.PageSnippet{
			PageNumber: pageNum,
			Text:       capText(normalized, snippetChars),
			CharCount:  len(normalized),
		})

		if normalized == "" {
			continue
		}
		out.Pairs = append(out.Pairs,
			engine.PairsFromText(normalized, opts.MaxPairs, pageNum, engine.SurfaceKV, b.Token())...)
		previewChunks = append(previewChunks, normalized)

		if len(out.Pairs) >= budget {
			break
		}
	}

	out.TextPreview = capText(strings.Join(previewChunks, "\n"), opts.PreviewChars)
	return out, nil
}

// Fingerprint scans up to maxPages pages for character and line counts.
// This backend reports no tables.
func (b *PDFTextBackend) Fingerprint(path string, maxPages int) (engine.Fingerprint, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return engine.Fingerprint{}, fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	var fp engine.Fingerprint
	pageCount := reader.NumPage()
	for pageNum := 1; pageNum <= pageCount && pageNum <= maxPages; pageNum++ {
		fp.PagesScanned++
		lines := engine.NormalizeLines(extractPageText(reader, pageNum))
		fp.LinesScanned += len(lines)
		fp.TextChars += len(strings.Join(lines, "\n"))
	}
	finishFingerprint(&fp)
	return fp, nil
}

// extractPageText pulls plain text from one page, recovering from library
// panics on malformed content so a bad page cannot abort the document.
func extractPageText(reader *pdf.Reader, pageNum int) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return ""
	}
	content, err := page.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return content
}

// finishFingerprint derives the ratio fields once counting is done.
func finishFingerprint(fp *engine.Fingerprint) {
	if fp.PagesScanned > 0 {
		fp.TableDensity = float64(fp.TablesFound) / float64(fp.PagesScanned)
		fp.AvgCharsPerPage = float64(fp.TextChars) / float64(fp.PagesScanned)
	}
}

// capText truncates a string at n bytes, backing up so the cut never lands
// inside a multi-byte rune.
func capText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

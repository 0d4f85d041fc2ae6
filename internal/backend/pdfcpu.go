package backend

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/gearfacts/doc-extractor/internal/engine"
)

// PDFCPUBackend extracts text by dumping decoded page content streams with
// pdfcpu and scanning their text-showing operators. It tolerates documents
// the lighter parsers reject, at the cost of cruder line structure.
type PDFCPUBackend struct{}

// NewPDFCPUBackend creates the pdfcpu-based backend.
func NewPDFCPUBackend() *PDFCPUBackend {
	return &PDFCPUBackend{}
}

// Token returns the backend token.
func (b *PDFCPUBackend) Token() string {
	return engine.BackendPDFCPU
}

var contentPageNumRE = regexp.MustCompile(`(\d+)\D*$`)

// Extract dumps content streams for the bounded page range into a scratch
// directory and pairs the recovered text lines. Pages whose streams cannot
// be decoded are skipped.
func (b *PDFCPUBackend) Extract(path string, opts engine.ExtractOptions) (*engine.Extraction, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	pageCount, err := api.PageCountFile(path)
	if err != nil {
		return nil, &Error{Token: b.Token(), Op: "page_count", Err: err}
	}
	lastPage := pageCount
	if lastPage > opts.MaxPages {
		lastPage = opts.MaxPages
	}

	scratch, err := os.MkdirTemp("", "docex-content-*")
	if err != nil {
		return nil, &Error{Token: b.Token(), Op: "scratch_dir", Err: err}
	}
	defer os.RemoveAll(scratch)

	pages := []string{"1-" + strconv.Itoa(lastPage)}
	if err := api.ExtractContentFile(path, scratch, pages, conf); err != nil {
		return nil, &Error{Token: b.Token(), Op: "extract_content", Err: err}
	}

	pageTexts := readContentDumps(scratch)

	out := &engine.Extraction{Backend: b.Token()}
	var previewChunks []string
	budget := rawPairBudget(opts.MaxPairs)

	for pageNum := 1; pageNum <= lastPage; pageNum++ {
		raw := pageTexts[pageNum]
		lines := engine.NormalizeLines(decodeContentText(raw))
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

// readContentDumps maps page numbers to dumped content-stream bytes. The
// page number is taken from the trailing digits of each dump file name, so
// the exact naming scheme pdfcpu uses does not matter.
func readContentDumps(dir string) map[int][]byte {
	out := make(map[int][]byte)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		m := contentPageNumRE.FindStringSubmatch(strings.TrimSuffix(name, filepath.Ext(name)))
		if m == nil {
			continue
		}
		pageNum, err := strconv.Atoi(m[1])
		if err != nil || pageNum < 1 {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		out[pageNum] = append(out[pageNum], data...)
	}
	return out
}

// decodeContentText recovers showable text from a decoded content stream.
// It collects literal and hex string operands and emits line breaks on the
// text-positioning operators (Td, TD, T*) and at end of text objects. This
// is deliberately lossy: glyph encodings beyond latin text come out as
// noise and are filtered downstream by pair validity checks.
func decodeContentText(data []byte) string {
	var out strings.Builder
	var token strings.Builder

	flushToken := func() {
		switch token.String() {
		case "Td", "TD", "T*", "ET", "'", "\"":
			out.WriteByte('\n')
		}
		token.Reset()
	}

	for i := 0; i < len(data); i++ {
		c := data[i]
		switch {
		case c == '(':
			flushToken()
			literal, next := readLiteralString(data, i+1)
			out.WriteString(literal)
			i = next
		case c == '<' && i+1 < len(data) && data[i+1] != '<':
			flushToken()
			hex, next := readHexString(data, i+1)
			out.WriteString(hex)
			i = next
		case c == ' ' || c == '\n' || c == '\r' || c == '\t' || c == '[' || c == ']':
			flushToken()
		default:
			token.WriteByte(c)
		}
	}
	flushToken()
	return out.String()
}

// readLiteralString consumes a (...) literal starting after the opening
// parenthesis, honoring escapes and nested parentheses. Returns the decoded
// text and the index of the closing parenthesis.
func readLiteralString(data []byte, start int) (string, int) {
	var out strings.Builder
	depth := 1
	i := start
	for ; i < len(data); i++ {
		c := data[i]
		if c == '\\' && i+1 < len(data) {
			i++
			switch data[i] {
			case 'n':
				out.WriteByte('\n')
			case 't':
				out.WriteByte('\t')
			case 'r', 'b', 'f':
				// ignored control escapes
			default:
				out.WriteByte(data[i])
			}
			continue
		}
		if c == '(' {
			depth++
		}
		if c == ')' {
			depth--
			if depth == 0 {
				break
			}
		}
		out.WriteByte(c)
	}
	return out.String(), i
}

// readHexString consumes a <...> hex string starting after the opening
// angle bracket. Returns the decoded bytes as text and the index of the
// closing bracket.
func readHexString(data []byte, start int) (string, int) {
	var digits strings.Builder
	i := start
	for ; i < len(data); i++ {
		c := data[i]
		if c == '>' {
			break
		}
		if isHexDigit(c) {
			digits.WriteByte(c)
		}
	}
	hex := digits.String()
	if len(hex)%2 == 1 {
		hex += "0"
	}
	var out strings.Builder
	for j := 0; j+1 < len(hex); j += 2 {
		v, err := strconv.ParseUint(hex[j:j+2], 16, 8)
		if err != nil {
			continue
		}
		out.WriteByte(byte(v))
	}
	return out.String(), i
}

func isHexDigit(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

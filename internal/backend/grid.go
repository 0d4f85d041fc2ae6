package backend

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/gearfacts/doc-extractor/internal/engine"
)

// Geometry thresholds for grid reconstruction, in multiples of the glyph
// font size. A horizontal gap wider than cellGapFactor starts a new cell;
// wider than spaceGapFactor inserts a space inside the current cell.
const (
	spaceGapFactor = 0.3
	cellGapFactor  = 1.5
	rowYTolerance  = 2.0
	defaultGlyphPt = 10.0
)

// GridBackend reconstructs tabular rows from positioned text fragments.
// It is the table-specialized backend preferred for table-dense documents;
// it produces table pairs only.
type GridBackend struct{}

// NewGridBackend creates the positional grid backend.
func NewGridBackend() *GridBackend {
	return &GridBackend{}
}

// Token returns the backend token.
func (b *GridBackend) Token() string {
	return engine.BackendGrid
}

// Extract rebuilds cell rows page by page and pairs them: first non-empty
// cell is the key, remaining cells join into the value. Failures on a single
// page are swallowed.
func (b *GridBackend) Extract(path string, opts engine.ExtractOptions) (*engine.Extraction, error) {
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
		rows := pageGridRows(reader, pageNum)
		out.PagesScanned++
		out.Pages = append(out.Pages, engine.PageSnippet{PageNumber: pageNum})

		tables := splitTables(rows)
		out.TablesFound += len(tables)

		for tableIdx, table := range tables {
			tableID := fmt.Sprintf("p%d_t%d", pageNum, tableIdx+1)
			out.Pairs = append(out.Pairs,
				engine.PairsFromTable(table, opts.MaxPairs, pageNum, tableID, engine.SurfaceTable, b.Token())...)

			preview := tablePreview(table, 20)
			if preview != "" {
				previewChunks = append(previewChunks, preview)
			}
			if len(out.Pairs) >= budget {
				break
			}
		}
		if len(out.Pairs) >= budget {
			break
		}
	}

	out.TextPreview = capText(strings.Join(previewChunks, "\n"), opts.PreviewChars)
	return out, nil
}

// Fingerprint counts text volume and reconstructed tables over a bounded
// page sample.
func (b *GridBackend) Fingerprint(path string, maxPages int) (engine.Fingerprint, error) {
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

		fp.TablesFound += len(splitTables(pageGridRows(reader, pageNum)))
	}
	finishFingerprint(&fp)
	return fp, nil
}

// pageGridRows clusters one page's positioned text into rows of cells,
// recovering from library panics on malformed pages.
func pageGridRows(reader *pdf.Reader, pageNum int) (rows [][]string) {
	defer func() {
		if recover() != nil {
			rows = nil
		}
	}()

	page := reader.Page(pageNum)
	if page.V.IsNull() {
		return nil
	}
	texts := page.Content().Text
	if len(texts) == 0 {
		return nil
	}

	// Cluster fragments into rows by Y, top of page first.
	sort.SliceStable(texts, func(i, j int) bool {
		if texts[i].Y != texts[j].Y {
			return texts[i].Y > texts[j].Y
		}
		return texts[i].X < texts[j].X
	})

	var rowGroups [][]pdf.Text
	for _, t := range texts {
		if t.S == "" {
			continue
		}
		n := len(rowGroups)
		if n > 0 && abs(rowGroups[n-1][0].Y-t.Y) <= rowYTolerance {
			rowGroups[n-1] = append(rowGroups[n-1], t)
			continue
		}
		rowGroups = append(rowGroups, []pdf.Text{t})
	}

	for _, group := range rowGroups {
		if cells := splitCells(group); len(cells) > 0 {
			rows = append(rows, cells)
		}
	}
	return rows
}

// splitCells walks one row's fragments left to right, starting a new cell
// whenever the horizontal gap exceeds the cell threshold.
func splitCells(group []pdf.Text) []string {
	sort.SliceStable(group, func(i, j int) bool { return group[i].X < group[j].X })

	var cells []string
	var cell strings.Builder
	prevEnd := 0.0

	for i, t := range group {
		size := t.FontSize
		if size <= 0 {
			size = defaultGlyphPt
		}
		if i > 0 {
			gap := t.X - prevEnd
			switch {
			case gap > cellGapFactor*size:
				cells = append(cells, cell.String())
				cell.Reset()
			case gap > spaceGapFactor*size:
				cell.WriteByte(' ')
			}
		}
		cell.WriteString(t.S)
		prevEnd = t.X + t.W
	}
	if cell.Len() > 0 {
		cells = append(cells, cell.String())
	}
	return cells
}

// splitTables groups consecutive multi-cell rows into tables. A run needs
// at least two such rows to count as a table.
func splitTables(rows [][]string) [][][]string {
	var tables [][][]string
	var current [][]string

	flush := func() {
		if len(current) >= 2 {
			tables = append(tables, current)
		}
		current = nil
	}

	for _, row := range rows {
		if multiCell(row) {
			current = append(current, row)
			continue
		}
		flush()
	}
	flush()
	return tables
}

// multiCell reports whether a row has at least two non-empty cells.
func multiCell(row []string) bool {
	count := 0
	for _, cell := range row {
		if engine.NormalizeSpace(cell) != "" {
			count++
		}
	}
	return count >= 2
}

// tablePreview renders up to n rows as pipe-joined lines.
func tablePreview(table [][]string, n int) string {
	var lines []string
	for i, row := range table {
		if i >= n {
			break
		}
		var cells []string
		for _, cell := range row {
			if c := engine.NormalizeSpace(cell); c != "" {
				cells = append(cells, c)
			}
		}
		if len(cells) > 0 {
			lines = append(lines, strings.Join(cells, " | "))
		}
	}
	return strings.Join(lines, "\n")
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

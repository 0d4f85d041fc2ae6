// Package workbook reads field rows and product columns out of an
// XLSX/XLSM data-entry sheet. The sheet layout is column-per-product:
// header rows carry brand/model/variant and a label column names each
// field row.
package workbook

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Options locate the labeled region inside the data-entry sheet.
type Options struct {
	Sheet            string
	FieldLabelColumn string
	FieldRowStart    int
	FieldRowEnd      int
	BrandRow         int
	ModelRow         int
	VariantRow       int
	DataColumnStart  string
	DataColumnEnd    string // empty means "through the last populated column"
}

// DefaultOptions matches the layout of the stock data-entry template.
func DefaultOptions() Options {
	return Options{
		Sheet:            "dataEntry",
		FieldLabelColumn: "B",
		FieldRowStart:    9,
		FieldRowEnd:      83,
		BrandRow:         3,
		ModelRow:         4,
		VariantRow:       5,
		DataColumnStart:  "C",
	}
}

// FieldRow is one labeled row of the field region.
type FieldRow struct {
	Row   int    `json:"row"`
	Label string `json:"label"`
}

// Product is one product column with its field values keyed by label.
type Product struct {
	Column        string            `json:"column"`
	Brand         string            `json:"brand"`
	Model         string            `json:"model"`
	Variant       string            `json:"variant"`
	ValuesByLabel map[string]string `json:"values_by_label"`
}

// Seed is the extracted workbook payload.
type Seed struct {
	WorkbookPath string     `json:"workbook_path"`
	Sheet        string     `json:"sheet"`
	FieldRows    []FieldRow `json:"field_rows"`
	Products     []Product  `json:"products"`
}

// ExtractSeed opens the workbook and reads the labeled field rows plus one
// product per populated data column. A column with neither brand nor model
// is skipped.
func ExtractSeed(path string, opts Options) (*Seed, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("workbook_not_found: %s", path)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("parse_failed: %w", err)
	}
	defer f.Close()

	applyOptionDefaults(&opts)

	if !sheetExists(f, opts.Sheet) {
		return nil, fmt.Errorf("sheet_not_found: %s (have: %s)",
			opts.Sheet, strings.Join(sortedSheets(f), ", "))
	}

	seed := &Seed{
		WorkbookPath: path,
		Sheet:        opts.Sheet,
		FieldRows:    []FieldRow{},
		Products:     []Product{},
	}

	for row := opts.FieldRowStart; row <= opts.FieldRowEnd; row++ {
		label := cellValue(f, opts.Sheet, opts.FieldLabelColumn, row)
		if label == "" {
			continue
		}
		seed.FieldRows = append(seed.FieldRows, FieldRow{Row: row, Label: label})
	}
	if len(seed.FieldRows) == 0 {
		return seed, nil
	}

	startCol, err := excelize.ColumnNameToNumber(opts.DataColumnStart)
	if err != nil {
		return nil, fmt.Errorf("parse_failed: invalid data column %q: %w", opts.DataColumnStart, err)
	}
	endCol, err := resolveEndColumn(f, opts, startCol)
	if err != nil {
		return nil, err
	}

	for colIdx := startCol; colIdx <= endCol; colIdx++ {
		col, err := excelize.ColumnNumberToName(colIdx)
		if err != nil {
			continue
		}
		brand := cellValue(f, opts.Sheet, col, opts.BrandRow)
		model := cellValue(f, opts.Sheet, col, opts.ModelRow)
		if brand == "" && model == "" {
			continue
		}
		variant := ""
		if opts.VariantRow > 0 {
			variant = cellValue(f, opts.Sheet, col, opts.VariantRow)
		}

		values := make(map[string]string, len(seed.FieldRows))
		for _, fieldRow := range seed.FieldRows {
			values[fieldRow.Label] = cellValue(f, opts.Sheet, col, fieldRow.Row)
		}
		seed.Products = append(seed.Products, Product{
			Column:        col,
			Brand:         brand,
			Model:         model,
			Variant:       variant,
			ValuesByLabel: values,
		})
	}

	return seed, nil
}

func applyOptionDefaults(opts *Options) {
	def := DefaultOptions()
	if opts.Sheet == "" {
		opts.Sheet = def.Sheet
	}
	if opts.FieldLabelColumn == "" {
		opts.FieldLabelColumn = def.FieldLabelColumn
	}
	if opts.FieldRowStart == 0 {
		opts.FieldRowStart = def.FieldRowStart
	}
	if opts.FieldRowEnd == 0 {
		opts.FieldRowEnd = def.FieldRowEnd
	}
	if opts.BrandRow == 0 {
		opts.BrandRow = def.BrandRow
	}
	if opts.ModelRow == 0 {
		opts.ModelRow = def.ModelRow
	}
	if opts.VariantRow == 0 {
		opts.VariantRow = def.VariantRow
	}
	if opts.DataColumnStart == "" {
		opts.DataColumnStart = def.DataColumnStart
	}
	opts.FieldLabelColumn = strings.ToUpper(strings.TrimSpace(opts.FieldLabelColumn))
	opts.DataColumnStart = strings.ToUpper(strings.TrimSpace(opts.DataColumnStart))
	opts.DataColumnEnd = strings.ToUpper(strings.TrimSpace(opts.DataColumnEnd))
}

// resolveEndColumn picks the last data column: the explicit option when
// given, otherwise the widest populated row, in both cases capped to the
// sheet's actual width and floored at the start column.
func resolveEndColumn(f *excelize.File, opts Options, startCol int) (int, error) {
	maxSeen := startCol
	rows, err := f.GetRows(opts.Sheet)
	if err == nil {
		for _, row := range rows {
			if len(row) > maxSeen {
				maxSeen = len(row)
			}
		}
	}

	if opts.DataColumnEnd == "" {
		return maxSeen, nil
	}
	endCol, err := excelize.ColumnNameToNumber(opts.DataColumnEnd)
	if err != nil {
		return 0, fmt.Errorf("parse_failed: invalid data column %q: %w", opts.DataColumnEnd, err)
	}
	if endCol > maxSeen {
		endCol = maxSeen
	}
	if endCol < startCol {
		endCol = startCol
	}
	return endCol, nil
}

func cellValue(f *excelize.File, sheet, col string, row int) string {
	value, err := f.GetCellValue(sheet, fmt.Sprintf("%s%d", col, row))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

func sheetExists(f *excelize.File, name string) bool {
	for _, sheet := range f.GetSheetList() {
		if sheet == name {
			return true
		}
	}
	return false
}

func sortedSheets(f *excelize.File) []string {
	sheets := append([]string(nil), f.GetSheetList()...)
	sort.Strings(sheets)
	return sheets
}

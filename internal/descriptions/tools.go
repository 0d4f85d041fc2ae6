package descriptions

// Comprehensive tool descriptions with practical examples and use cases

const (
	ExtractDocumentDescription = `Extract key/value pairs and table rows from a PDF document with automatic backend selection and OCR fallback for scanned documents.

**When to use:** Need structured field data (specs, labels, measurements) out of a PDF such as a datasheet, manual, or spec sheet.

**Why it's useful:** Picks the extraction backend that fits the document (plain text, table grid, content-stream decode, external converter), deduplicates and normalizes the pairs, and falls back to OCR when the document turns out to be a scan.

**Examples:**
• Pull specs from a datasheet: "Extract key/value pairs from mouse-datasheet.pdf"
• Force the table backend on a spec grid: "Extract spec-sheet.pdf with backend=grid"
• Process a scanned manual: "Extract scanned-manual.pdf" (OCR runs automatically when scan is detected)

**Common workflows:**
1. Catalog enrichment: Extract pairs → Match against reference rows → Fill product fields
2. Spec comparison: Extract several datasheets → Compare normalized keys side by side
3. Scan triage: Extract → Check meta.scan_detection → Re-run with a higher OCR page budget if needed

**Best practices:** Leave backend=auto unless a run's meta shows a wrong pick; check meta.backend.reason to understand the selection; use max_pairs to bound very dense documents.`

	ExtractorInfoDescription = `Report available extraction and OCR backends, defaults, and usage guidance.

**When to use:** Before the first extraction on a new host, or when a run reports a backend as unavailable.

**Why it's useful:** Backend availability depends on the host (pdftotext and tesseract are external binaries); this report shows exactly what this server can use and the defaults it will apply.

**Examples:**
• Check OCR readiness: "Show extractor info" before processing a batch of scanned documents
• Debug a fallback: a run selected pdfcpu instead of docconv, info shows docconv is unavailable

**Best practices:** Treat an unavailable backend as a host-setup issue, not an input issue; the extractor keeps working through fallbacks either way.`

	ExtractWorkbookDescription = `Read field rows and product columns out of an XLSX/XLSM data-entry sheet.

**When to use:** Need the seed fields and per-product values from a column-per-product spreadsheet template, typically to pair with pairs extracted from datasheets.

**Why it's useful:** Understands the data-entry layout directly (label column, brand/model/variant header rows, one product per column) and returns a structured seed instead of a raw cell grid.

**Examples:**
• Load the template: "Extract the seed from gear-template.xlsm"
• Read a renamed sheet: "Extract products.xlsx using sheet=catalog"

**Best practices:** Leave the layout options at their defaults for stock templates; a sheet_not_found error lists the sheets the workbook actually has.`

	FetchCatalogRowsDescription = `Fetch rows from a PostgREST endpoint with Range-header pagination and token filtering.

**When to use:** Need reference rows from a hosted catalog to match against extracted records.

**Why it's useful:** Handles the endpoint's page-size cap transparently (Range headers, exact counts, bounded retries) and filters rows client-side by normalized tokens, so one call returns exactly the matching rows plus a per-page trace for diagnostics.

**Examples:**
• Pull a brand's rows: "Fetch rows from <endpoint> matching tokens 'logitech superlight'"
• Audit pagination: check fetched_pages and page_trace in the result against total_count_reported

**Best practices:** Pass tokens as a comma-separated list; keep max_rows bounded for exploratory calls; the anon key never appears in error text.`
)

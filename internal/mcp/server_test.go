package mcp

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/xuri/excelize/v2"

	"github.com/gearfacts/doc-extractor/internal/backend"
	"github.com/gearfacts/doc-extractor/internal/config"
	"github.com/gearfacts/doc-extractor/internal/engine"
	"github.com/gearfacts/doc-extractor/internal/ocr"
)

func newTestEngine() *engine.Engine {
	return engine.New(backend.NewRegistry(), ocr.NewRunner())
}

func writeTestPDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4\nstub"), 0o644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}
	return path
}

func TestNewServer(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ServerName = "test-server"

	server, err := NewServer(cfg, newTestEngine())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if server == nil {
		t.Fatal("server should not be nil")
	}
	if server.config != cfg {
		t.Error("server config not set correctly")
	}
	if server.engine == nil {
		t.Error("server engine not set correctly")
	}
	if server.mcpServer == nil {
		t.Error("mcpServer should be initialized")
	}
}

func TestNewServer_NilEngine(t *testing.T) {
	_, err := NewServer(config.DefaultConfig(), nil)
	if err == nil {
		t.Error("expected error for nil engine")
	}
}

func TestServer_HandleExtractDocument(t *testing.T) {
	testFile := writeTestPDF(t)

	server, err := NewServer(config.DefaultConfig(), newTestEngine())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{
				"path":       testFile,
				"enable_ocr": false,
			},
		},
	}

	result, err := server.handleExtractDocument(context.Background(), request)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result == nil {
		t.Fatal("result should not be nil")
	}

	// The stub is not a parseable PDF, so every backend fails, but the
	// envelope still reports a completed run.
	resultText := extractTextFromResult(result)
	if !strings.Contains(resultText, `"ok": true`) {
		t.Errorf("expected ok envelope, got: %s", resultText)
	}
	if !strings.Contains(resultText, `"scan_detection"`) {
		t.Errorf("expected scan detection meta in envelope, got: %s", resultText)
	}
}

func TestServer_HandleExtractDocument_MissingPath(t *testing.T) {
	server, err := NewServer(config.DefaultConfig(), newTestEngine())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	emptyRequest := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{},
		},
	}

	result, err := server.handleExtractDocument(context.Background(), emptyRequest)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result == nil {
		t.Fatal("result should not be nil")
	}
	if !result.IsError {
		t.Error("expected error result for missing path argument")
	}
}

func TestServer_HandleExtractDocument_Overrides(t *testing.T) {
	testFile := writeTestPDF(t)

	server, err := NewServer(config.DefaultConfig(), newTestEngine())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{
				"path":       testFile,
				"backend":    "pdfcpu",
				"max_pages":  float64(5),
				"enable_ocr": false,
			},
		},
	}

	result, err := server.handleExtractDocument(context.Background(), request)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	resultText := extractTextFromResult(result)
	if !strings.Contains(resultText, `"requested": "pdfcpu"`) {
		t.Errorf("expected requested backend override in envelope, got: %s", resultText)
	}
}

func TestServer_HandleExtractorInfo(t *testing.T) {
	cfg := config.DefaultConfig()
	server, err := NewServer(cfg, newTestEngine())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	result, err := server.handleExtractorInfo(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}

	resultText := extractTextFromResult(result)
	for _, want := range []string{
		"Extraction backends:",
		"OCR backends:",
		"pdftext",
		"extract_document",
		"extractor_info",
		"backend: auto",
	} {
		if !strings.Contains(resultText, want) {
			t.Errorf("expected info text to contain %q, got: %s", want, resultText)
		}
	}
}

func TestServer_HandleExtractWorkbook(t *testing.T) {
	f := excelize.NewFile()
	if _, err := f.NewSheet("dataEntry"); err != nil {
		t.Fatalf("failed to create sheet: %v", err)
	}
	for cell, value := range map[string]string{
		"C3": "Logitech", "C4": "G Pro", "B9": "Weight", "C9": "63 g",
	} {
		if err := f.SetCellValue("dataEntry", cell, value); err != nil {
			t.Fatalf("failed to set cell: %v", err)
		}
	}
	workbookPath := filepath.Join(t.TempDir(), "template.xlsx")
	if err := f.SaveAs(workbookPath); err != nil {
		t.Fatalf("failed to save workbook: %v", err)
	}
	f.Close()

	server, err := NewServer(config.DefaultConfig(), newTestEngine())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{
				"path": workbookPath,
			},
		},
	}

	result, err := server.handleExtractWorkbook(context.Background(), request)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success result, got error: %s", extractTextFromResult(result))
	}

	resultText := extractTextFromResult(result)
	for _, want := range []string{`"Weight"`, `"Logitech"`, `"63 g"`} {
		if !strings.Contains(resultText, want) {
			t.Errorf("expected seed payload to contain %s, got: %s", want, resultText)
		}
	}
}

func TestServer_HandleExtractWorkbook_MissingSheet(t *testing.T) {
	f := excelize.NewFile()
	workbookPath := filepath.Join(t.TempDir(), "plain.xlsx")
	if err := f.SaveAs(workbookPath); err != nil {
		t.Fatalf("failed to save workbook: %v", err)
	}
	f.Close()

	server, err := NewServer(config.DefaultConfig(), newTestEngine())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{
				"path":  workbookPath,
				"sheet": "inventory",
			},
		},
	}

	result, err := server.handleExtractWorkbook(context.Background(), request)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for missing sheet")
	}
	if !strings.Contains(extractTextFromResult(result), "sheet_not_found") {
		t.Errorf("expected sheet_not_found, got: %s", extractTextFromResult(result))
	}
}

func TestServer_HandleFetchCatalogRows(t *testing.T) {
	catalog := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Range", "0-1/2")
		fmt.Fprint(w, `[{"name":"G Pro","brand":"Logitech"},{"name":"Viper","brand":"Razer"}]`)
	}))
	defer catalog.Close()

	server, err := NewServer(config.DefaultConfig(), newTestEngine())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	request := mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: map[string]interface{}{
				"endpoint": catalog.URL,
				"anon_key": "test-key",
				"tokens":   "Logitech, G-Pro",
			},
		},
	}

	result, err := server.handleFetchCatalogRows(context.Background(), request)
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success result, got error: %s", extractTextFromResult(result))
	}

	resultText := extractTextFromResult(result)
	if !strings.Contains(resultText, `"matched_rows": 1`) {
		t.Errorf("expected one matched row, got: %s", resultText)
	}
	if !strings.Contains(resultText, `"G Pro"`) {
		t.Errorf("expected matching row in payload, got: %s", resultText)
	}
	if strings.Contains(resultText, `"Viper"`) {
		t.Errorf("expected non-matching row to be filtered, got: %s", resultText)
	}
}

func TestServer_HandleFetchCatalogRows_MissingEndpoint(t *testing.T) {
	server, err := NewServer(config.DefaultConfig(), newTestEngine())
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}

	result, err := server.handleFetchCatalogRows(context.Background(), mcp.CallToolRequest{
		Params: mcp.CallToolParams{Arguments: map[string]interface{}{}},
	})
	if err != nil {
		t.Fatalf("handler failed: %v", err)
	}
	if !result.IsError {
		t.Error("expected error result for missing endpoint argument")
	}
}

func TestSplitTokens(t *testing.T) {
	tests := []struct {
		raw      string
		expected []string
	}{
		{raw: "Logitech, G-Pro", expected: []string{"logitech", "g pro"}},
		{raw: "single", expected: []string{"single"}},
		{raw: " , ,, ", expected: []string{}},
		{raw: "", expected: []string{}},
	}
	for _, tt := range tests {
		got := splitTokens(tt.raw)
		if len(got) != len(tt.expected) {
			t.Errorf("splitTokens(%q) = %v, want %v", tt.raw, got, tt.expected)
			continue
		}
		for i := range got {
			if got[i] != tt.expected[i] {
				t.Errorf("splitTokens(%q)[%d] = %q, want %q", tt.raw, i, got[i], tt.expected[i])
			}
		}
	}
}

func TestAvailabilityLines(t *testing.T) {
	lines := availabilityLines(map[string]bool{
		"pdftext": true,
		"grid":    true,
		"docconv": false,
	})

	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	// Sorted by token
	if !strings.HasPrefix(lines[0], "docconv") {
		t.Errorf("expected docconv first, got %q", lines[0])
	}
	if !strings.Contains(lines[0], "unavailable") {
		t.Errorf("expected docconv unavailable, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "available") || strings.Contains(lines[1], "unavailable") {
		t.Errorf("expected grid available, got %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "pdftext") {
		t.Errorf("expected pdftext last, got %q", lines[2])
	}
}

// Helper function to extract text from MCP result
func extractTextFromResult(result *mcp.CallToolResult) string {
	if result == nil || len(result.Content) == 0 {
		return ""
	}

	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			return textContent.Text
		}
		if textContentPtr, ok := content.(*mcp.TextContent); ok {
			return textContentPtr.Text
		}
	}
	return ""
}

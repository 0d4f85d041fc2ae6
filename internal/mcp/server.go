package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gearfacts/doc-extractor/internal/config"
	"github.com/gearfacts/doc-extractor/internal/descriptions"
	"github.com/gearfacts/doc-extractor/internal/engine"
	"github.com/gearfacts/doc-extractor/internal/paginate"
	"github.com/gearfacts/doc-extractor/internal/workbook"
)

// Server represents the MCP server instance
type Server struct {
	config    *config.Config
	engine    *engine.Engine
	mcpServer *server.MCPServer
}

// NewServer creates a new MCP server instance
func NewServer(cfg *config.Config, eng *engine.Engine) (*Server, error) {
	if eng == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}

	mcpServer := server.NewMCPServer(
		cfg.ServerName,
		cfg.Version,
		server.WithToolCapabilities(false), // We don't support dynamic tool capabilities
	)

	s := &Server{
		config:    cfg,
		engine:    eng,
		mcpServer: mcpServer,
	}

	s.registerTools()

	return s, nil
}

// registerTools registers all available MCP tools
func (s *Server) registerTools() {
	extractDocumentTool := mcp.NewTool(
		"extract_document",
		mcp.WithDescription(descriptions.ExtractDocumentDescription),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Full path to the PDF file"),
		),
		mcp.WithString("backend",
			mcp.Description("Extraction backend: auto, pdftext, pdfcpu, grid, docconv, legacy (default auto)"),
		),
		mcp.WithString("ocr_backend",
			mcp.Description("OCR backend for scanned documents: auto, gosseract, docai, none (default auto)"),
		),
		mcp.WithNumber("max_pages",
			mcp.Description("Maximum pages to scan"),
		),
		mcp.WithNumber("max_pairs",
			mcp.Description("Maximum pairs retained after dedupe"),
		),
		mcp.WithBoolean("enable_ocr",
			mcp.Description("Run the OCR pass when a scanned document is detected (default true)"),
		),
	)
	s.mcpServer.AddTool(extractDocumentTool, s.handleExtractDocument)

	extractWorkbookTool := mcp.NewTool(
		"extract_workbook",
		mcp.WithDescription(descriptions.ExtractWorkbookDescription),
		mcp.WithString("path",
			mcp.Required(),
			mcp.Description("Full path to the XLSX/XLSM workbook"),
		),
		mcp.WithString("sheet",
			mcp.Description("Data-entry sheet name (default dataEntry)"),
		),
	)
	s.mcpServer.AddTool(extractWorkbookTool, s.handleExtractWorkbook)

	fetchCatalogRowsTool := mcp.NewTool(
		"fetch_catalog_rows",
		mcp.WithDescription(descriptions.FetchCatalogRowsDescription),
		mcp.WithString("endpoint",
			mcp.Required(),
			mcp.Description("PostgREST endpoint URL, query filters included"),
		),
		mcp.WithString("anon_key",
			mcp.Description("Anon key sent as apikey and bearer token"),
		),
		mcp.WithString("tokens",
			mcp.Description("Comma-separated tokens a row must contain after normalization"),
		),
		mcp.WithNumber("page_size",
			mcp.Description("Rows requested per Range page"),
		),
		mcp.WithNumber("max_rows",
			mcp.Description("Row cap across all pages"),
		),
	)
	s.mcpServer.AddTool(fetchCatalogRowsTool, s.handleFetchCatalogRows)

	extractorInfoTool := mcp.NewTool(
		"extractor_info",
		mcp.WithDescription(descriptions.ExtractorInfoDescription),
	)
	s.mcpServer.AddTool(extractorInfoTool, s.handleExtractorInfo)
}

// Handler functions
func (s *Server) handleExtractDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	params := s.config.Params()
	args := request.GetArguments()
	if backend, ok := args["backend"].(string); ok && backend != "" {
		params.Backend = backend
	}
	if ocrBackend, ok := args["ocr_backend"].(string); ok && ocrBackend != "" {
		params.OCRBackend = ocrBackend
	}
	if maxPages, ok := args["max_pages"].(float64); ok && maxPages > 0 {
		params.MaxPages = int(maxPages)
	}
	if maxPairs, ok := args["max_pairs"].(float64); ok && maxPairs > 0 {
		params.MaxPairs = int(maxPairs)
	}
	if enableOCR, ok := args["enable_ocr"].(bool); ok {
		params.EnableOCR = enableOCR
	}

	result := s.engine.Extract(path, params)

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleExtractWorkbook(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path, err := request.RequireString("path")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	opts := workbook.Options{}
	if sheet, ok := request.GetArguments()["sheet"].(string); ok && sheet != "" {
		opts.Sheet = sheet
	}

	seed, err := workbook.ExtractSeed(path, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload, err := json.MarshalIndent(seed, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode seed: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleFetchCatalogRows(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	endpoint, err := request.RequireString("endpoint")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	args := request.GetArguments()
	anonKey, _ := args["anon_key"].(string)

	opts := paginate.Options{}
	if tokens, ok := args["tokens"].(string); ok {
		opts.RequiredTokens = splitTokens(tokens)
	}
	if pageSize, ok := args["page_size"].(float64); ok && pageSize > 0 {
		opts.PageSize = int(pageSize)
	}
	if maxRows, ok := args["max_rows"].(float64); ok && maxRows > 0 {
		opts.MaxRows = int(maxRows)
	}

	client := paginate.NewClient(anonKey, 0)
	result, err := client.Fetch(ctx, endpoint, opts)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode rows: %v", err)), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

// splitTokens turns a comma-separated token argument into normalized match
// tokens, dropping entries that normalize to nothing.
func splitTokens(raw string) []string {
	out := []string{}
	for _, part := range strings.Split(raw, ",") {
		token := paginate.NormalizeToken(part)
		if token != "" {
			out = append(out, token)
		}
	}
	return out
}

func (s *Server) handleExtractorInfo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(s.formatExtractorInfo()), nil
}

func (s *Server) formatExtractorInfo() string {
	text := fmt.Sprintf("%s v%s - Extractor Information\n\n", s.config.ServerName, s.config.Version)

	text += "Extraction backends:\n"
	for _, line := range availabilityLines(s.engine.BackendAvailability()) {
		text += "  " + line + "\n"
	}

	text += "\nOCR backends:\n"
	for _, line := range availabilityLines(s.engine.OCRAvailability()) {
		text += "  " + line + "\n"
	}

	text += "\nDefaults:\n"
	text += fmt.Sprintf("  backend: %s\n", s.config.Backend)
	text += fmt.Sprintf("  ocr_backend: %s\n", s.config.OCRBackend)
	text += fmt.Sprintf("  max_pages: %d\n", s.config.MaxPages)
	text += fmt.Sprintf("  max_pairs: %d\n", s.config.MaxPairs)
	text += fmt.Sprintf("  enable_ocr: %t\n", s.config.EnableScannedOCR)

	text += "\nTools:\n"
	text += "  extract_document   Extract key/value pairs and table rows from a PDF\n"
	text += "  extract_workbook   Read field rows and products from a data-entry sheet\n"
	text += "  fetch_catalog_rows Fetch paginated reference rows from a PostgREST endpoint\n"
	text += "  extractor_info     This report\n"

	text += "\nThe extract_document result is a JSON envelope: pairs (all surfaces merged),\n"
	text += "kv_pairs and table_pairs split by surface, OCR variants when a scanned\n"
	text += "document was detected, page snippets, and meta with backend selection,\n"
	text += "fingerprint and run counters."

	return text
}

func availabilityLines(available map[string]bool) []string {
	tokens := make([]string, 0, len(available))
	for token := range available {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)

	lines := make([]string, 0, len(tokens))
	for _, token := range tokens {
		state := "unavailable"
		if available[token] {
			state = "available"
		}
		lines = append(lines, fmt.Sprintf("%-10s %s", token, state))
	}
	return lines
}

// Run starts the MCP server over standard I/O.
func (s *Server) Run(ctx context.Context) error {
	if s.config.IsDebug() {
		log.Printf("Starting doc-extractor MCP server in stdio mode")
		log.Printf("Config: %s", s.config)
	}

	if err := server.ServeStdio(s.mcpServer); err != nil {
		return fmt.Errorf("failed to serve stdio: %w", err)
	}
	return nil
}

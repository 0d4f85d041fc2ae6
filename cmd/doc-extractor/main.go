package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/gearfacts/doc-extractor/internal/backend"
	"github.com/gearfacts/doc-extractor/internal/config"
	"github.com/gearfacts/doc-extractor/internal/engine"
	"github.com/gearfacts/doc-extractor/internal/mcp"
	"github.com/gearfacts/doc-extractor/internal/ocr"
)

var (
	version   = "dev"     // This will be set by build flags
	buildTime = "unknown" // This will be set by build flags
	gitCommit = "unknown" // This will be set by build flags
)

// setupLogging configures logging based on the run mode
func setupLogging(cfg *config.Config) {
	if cfg.IsStdioMode() {
		// In stdio mode, redirect log output to stderr to avoid interfering with MCP protocol
		log.SetOutput(os.Stderr)
		if !cfg.IsDebug() {
			log.SetOutput(os.NewFile(0, os.DevNull))
		}
	} else {
		log.SetOutput(os.Stderr)
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}
}

// runOnceMode extracts a single document and exits. The full envelope goes
// to --out when given (stdout otherwise); a one-line summary always goes to
// stdout so callers in a pipeline get something parseable either way.
func runOnceMode(cfg *config.Config, eng *engine.Engine) {
	result := eng.Extract(cfg.PDFPath, cfg.Params())

	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}

	if cfg.OutPath != "" {
		if err := os.WriteFile(cfg.OutPath, payload, 0o644); err != nil {
			log.Fatalf("Failed to write result to %s: %v", cfg.OutPath, err)
		}
		summary := map[string]any{
			"ok":             result.OK,
			"out":            cfg.OutPath,
			"backend":        result.Backend.Selected,
			"pair_count":     len(result.Pairs),
			"ocr_pair_count": len(result.OCRPairs),
			"errors":         len(result.Errors),
		}
		line, _ := json.Marshal(summary)
		fmt.Println(string(line))
		return
	}

	fmt.Println(string(payload))
}

// runStdioMode serves MCP over standard I/O until the parent closes stdin.
func runStdioMode(ctx context.Context, server *mcp.Server) {
	if err := server.Run(ctx); err != nil {
		// Only log to stderr in debug mode to avoid protocol interference
		if os.Getenv("DEBUG") != "" {
			log.Printf("Server error: %v", err)
		}
		os.Exit(1)
	}
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			printVersion()
			return
		}
	}

	cfg, err := config.LoadFromFlags()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	setupLogging(cfg)

	// Set version if it was provided during build
	if version != "dev" {
		cfg.Version = version
	}

	registry := backend.NewRegistry()
	runner := ocr.NewRunner()
	eng := engine.New(registry, runner)

	if cfg.IsOnceMode() {
		runOnceMode(cfg, eng)
		return
	}

	server, err := mcp.NewServer(cfg, eng)
	if err != nil {
		log.Fatalf("Failed to create MCP server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runStdioMode(ctx, server)
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("Doc Extractor\n")
	fmt.Printf("Version: %s\n", version)
	fmt.Printf("Build Time: %s\n", buildTime)
	fmt.Printf("Git Commit: %s\n", gitCommit)
	fmt.Printf("Built with: %s\n", runtime.Version())
}

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/gearfacts/doc-extractor/internal/engine"
)

const (
	// Mode constants
	ModeStdio = "stdio"
	ModeOnce  = "once"

	// Default values
	DefaultLogLevel      = "info"
	DefaultBackend       = "auto"
	DefaultOCRBackend    = "auto"
	DefaultMaxPages      = 60
	DefaultPreviewChars  = 20000
	DefaultMaxPairs      = 5000
	DefaultOCRMaxPages   = 8
	DefaultOCRMaxPairs   = 1200
	DefaultMinCharsPage  = 45
	DefaultMinLinesPage  = 3
	DefaultMinConfidence = 0.55
	DefaultTableDensity  = 0.35
)

// Config holds all configuration for the document extractor.
type Config struct {
	// Run configuration
	Mode    string // "stdio" serves MCP, "once" extracts a single file
	PDFPath string // input document for once mode
	OutPath string // optional result file for once mode

	// Extraction configuration
	Backend               string
	MaxPages              int
	MaxPairs              int
	PreviewChars          int
	TableDensityThreshold float64

	// Scanned-document configuration
	EnableScannedOCR bool
	OCRBackend       string
	OCRMaxPages      int
	OCRMaxPairs      int
	MinCharsPerPage  int
	MinLinesPerPage  int
	OCRMinConfidence float64

	// Application configuration
	Version    string
	ServerName string
	LogLevel   string
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Mode:                  ModeStdio,
		Backend:               DefaultBackend,
		MaxPages:              DefaultMaxPages,
		MaxPairs:              DefaultMaxPairs,
		PreviewChars:          DefaultPreviewChars,
		TableDensityThreshold: DefaultTableDensity,
		EnableScannedOCR:      true,
		OCRBackend:            DefaultOCRBackend,
		OCRMaxPages:           DefaultOCRMaxPages,
		OCRMaxPairs:           DefaultOCRMaxPairs,
		MinCharsPerPage:       DefaultMinCharsPage,
		MinLinesPerPage:       DefaultMinLinesPage,
		OCRMinConfidence:      DefaultMinConfidence,
		Version:               "1.0.0",
		ServerName:            "doc-extractor",
		LogLevel:              DefaultLogLevel,
	}
}

// LoadFromFlags parses command line flags and returns a configuration.
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	populateConfigFromViper(cfg)

	if cfg.PDFPath != "" {
		if expandedPath, err := filepath.Abs(cfg.PDFPath); err == nil {
			cfg.PDFPath = expandedPath
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	viper.SetEnvPrefix("DOCEX")
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("pdf", cfg.PDFPath)
	viper.SetDefault("out", cfg.OutPath)
	viper.SetDefault("backend", cfg.Backend)
	viper.SetDefault("maxpages", cfg.MaxPages)
	viper.SetDefault("maxpairs", cfg.MaxPairs)
	viper.SetDefault("previewchars", cfg.PreviewChars)
	viper.SetDefault("tabledensity", cfg.TableDensityThreshold)
	viper.SetDefault("ocr", cfg.EnableScannedOCR)
	viper.SetDefault("ocrbackend", cfg.OCRBackend)
	viper.SetDefault("ocrmaxpages", cfg.OCRMaxPages)
	viper.SetDefault("ocrmaxpairs", cfg.OCRMaxPairs)
	viper.SetDefault("mincharsperpage", cfg.MinCharsPerPage)
	viper.SetDefault("minlinesperpage", cfg.MinLinesPerPage)
	viper.SetDefault("ocrminconfidence", cfg.OCRMinConfidence)
	viper.SetDefault("loglevel", cfg.LogLevel)
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Run mode: 'stdio' for MCP standard I/O, 'once' for single-file extraction")
	pflag.String("pdf", cfg.PDFPath, "Input document path (once mode)")
	pflag.String("out", cfg.OutPath, "Result JSON output path (once mode, stdout summary either way)")
	pflag.String("backend", cfg.Backend, "Extraction backend: auto, pdftext, pdfcpu, grid, docconv, legacy")
	pflag.Int("maxpages", cfg.MaxPages, "Maximum pages to scan")
	pflag.Int("maxpairs", cfg.MaxPairs, "Maximum pairs retained after dedupe")
	pflag.Int("previewchars", cfg.PreviewChars, "Maximum characters in the text preview")
	pflag.Float64("tabledensity", cfg.TableDensityThreshold, "Tables-per-page ratio above which the table backend leads")
	pflag.Bool("ocr", cfg.EnableScannedOCR, "Run the OCR pass when a scanned document is detected")
	pflag.String("ocrbackend", cfg.OCRBackend, "OCR backend: auto, gosseract, docai, none")
	pflag.Int("ocrmaxpages", cfg.OCRMaxPages, "Maximum pages rasterized for OCR")
	pflag.Int("ocrmaxpairs", cfg.OCRMaxPairs, "Maximum OCR pairs retained after dedupe")
	pflag.Int("mincharsperpage", cfg.MinCharsPerPage, "Chars-per-page floor below which text is considered near-empty")
	pflag.Int("minlinesperpage", cfg.MinLinesPerPage, "Lines-per-page floor below which text is considered near-empty")
	pflag.Float64("ocrminconfidence", cfg.OCRMinConfidence, "Page confidence below which OCR pairs are flagged")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, name := range []string{
		"mode", "pdf", "out", "backend",
		"maxpages", "maxpairs", "previewchars", "tabledensity",
		"ocr", "ocrbackend", "ocrmaxpages", "ocrmaxpairs",
		"mincharsperpage", "minlinesperpage", "ocrminconfidence",
		"loglevel",
	} {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nDoc Extractor - adaptive key/value extraction from PDF documents\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                        # stdio MCP mode (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=once --pdf=manual.pdf           # one-shot extraction to stdout\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=once --pdf=manual.pdf --out=result.json --backend=grid\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  DOCEX_MODE              Run mode\n")
		fmt.Fprintf(os.Stderr, "  DOCEX_BACKEND           Extraction backend token\n")
		fmt.Fprintf(os.Stderr, "  DOCEX_OCRBACKEND        OCR backend token\n")
		fmt.Fprintf(os.Stderr, "  DOCEX_MAXPAGES          Maximum pages to scan\n")
		fmt.Fprintf(os.Stderr, "  DOCEX_MAXPAIRS          Maximum retained pairs\n")
		fmt.Fprintf(os.Stderr, "  DOCEX_LOGLEVEL          Log level\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.PDFPath = viper.GetString("pdf")
	cfg.OutPath = viper.GetString("out")
	cfg.Backend = viper.GetString("backend")
	cfg.MaxPages = viper.GetInt("maxpages")
	cfg.MaxPairs = viper.GetInt("maxpairs")
	cfg.PreviewChars = viper.GetInt("previewchars")
	cfg.TableDensityThreshold = viper.GetFloat64("tabledensity")
	cfg.EnableScannedOCR = viper.GetBool("ocr")
	cfg.OCRBackend = viper.GetString("ocrbackend")
	cfg.OCRMaxPages = viper.GetInt("ocrmaxpages")
	cfg.OCRMaxPairs = viper.GetInt("ocrmaxpairs")
	cfg.MinCharsPerPage = viper.GetInt("mincharsperpage")
	cfg.MinLinesPerPage = viper.GetInt("minlinesperpage")
	cfg.OCRMinConfidence = viper.GetFloat64("ocrminconfidence")
	cfg.LogLevel = viper.GetString("loglevel")
}

// Validate checks if the configuration is valid. Numeric knobs are not
// range-checked here; the engine clamps them to its documented floors so
// out-of-range values degrade instead of failing.
func (c *Config) Validate() error {
	if c.Mode != ModeStdio && c.Mode != ModeOnce {
		return errors.New("mode must be either 'stdio' or 'once'")
	}

	if c.Mode == ModeOnce {
		if c.PDFPath == "" {
			return errors.New("once mode requires --pdf")
		}
		if info, err := os.Stat(c.PDFPath); err != nil {
			return fmt.Errorf("cannot access input document %s: %w", c.PDFPath, err)
		} else if info.IsDir() {
			return fmt.Errorf("input document %s is a directory", c.PDFPath)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

// Params converts the configuration into engine extraction parameters.
// The engine applies its own floor clamps on top.
func (c *Config) Params() engine.Params {
	return engine.Params{
		Backend:               c.Backend,
		MaxPages:              c.MaxPages,
		MaxPairs:              c.MaxPairs,
		PreviewChars:          c.PreviewChars,
		TableDensityThreshold: c.TableDensityThreshold,
		EnableOCR:             c.EnableScannedOCR,
		OCRBackend:            c.OCRBackend,
		OCRMaxPages:           c.OCRMaxPages,
		OCRMaxPairs:           c.OCRMaxPairs,
		MinCharsPerPage:       c.MinCharsPerPage,
		MinLinesPerPage:       c.MinLinesPerPage,
		OCRMinConfidence:      c.OCRMinConfidence,
	}
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// IsOnceMode returns true when running a single extraction and exiting
func (c *Config) IsOnceMode() bool {
	return c.Mode == ModeOnce
}

// IsStdioMode returns true when serving MCP over standard I/O
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Backend: %s, OCRBackend: %s, MaxPages: %d, MaxPairs: %d, LogLevel: %s}",
		c.Mode, c.Backend, c.OCRBackend, c.MaxPages, c.MaxPairs, c.LogLevel)
}

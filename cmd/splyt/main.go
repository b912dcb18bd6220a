package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/splyt/internal/logging"
	"github.com/zombor/splyt/internal/receipt"
	"github.com/zombor/splyt/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A .env file is optional; real environment variables win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	fs := ff.NewFlagSet("splyt")
	var (
		port              = fs.IntLong("port", 8080, "HTTP server port")
		dbPath            = fs.StringLong("db", "splyt.db", "Database file path")
		storagePath       = fs.StringLong("storage", "./bills", "Bill image storage directory")
		textExtractor     = fs.StringLong("text-extractor", "gemini", "Text extractor: 'gemini' or 'ollama'")
		billExtractor     = fs.StringLong("bill-extractor", "gemini", "Bill parser: 'gemini', 'ollama' or 'none' for manual review only")
		geminiKey         = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel       = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL         = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel       = fs.StringLong("ollama-model", "llama3.1", "Ollama model used to parse bill text")
		ollamaVisionModel = fs.StringLong("ollama-vision-model", "llava", "Ollama vision model used to read bill images")
		authUser          = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass          = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel          = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		scanTimeout       = fs.DurationLong("scan-timeout", 0, "Maximum time to spend scanning one bill (0 for no limit)")
		_                 = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SPLYT"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(os.Stderr, level)

	slog.Info("Initializing database...", "path", *dbPath)
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	backends := &backends{
		geminiKey:         *geminiKey,
		geminiModel:       *geminiModel,
		ollamaURL:         *ollamaURL,
		ollamaModel:       *ollamaModel,
		ollamaVisionModel: *ollamaVisionModel,
	}
	defer backends.Close()

	text, err := backends.textExtractor(*textExtractor)
	if err != nil {
		slog.Error("Failed to initialize text extractor", "type", *textExtractor, "error", err)
		os.Exit(1)
	}
	bills, err := backends.billExtractor(*billExtractor)
	if err != nil {
		slog.Error("Failed to initialize bill extractor", "type", *billExtractor, "error", err)
		os.Exit(1)
	}

	if *billExtractor != "none" {
		probeCtx, cancelProbe := context.WithTimeout(context.Background(), 10*time.Second)
		if !scanning.Available(probeCtx, bills) {
			slog.Warn("Bill parser unavailable, scans will go to manual review", "type", *billExtractor)
		}
		cancelProbe()
	}

	service := receipt.NewService(db, store, receipt.Extractors{Text: text, Bills: bills}, *scanTimeout)
	server := receipt.NewServer(service, receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server starting", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if err := server.Run(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// backends builds extractors lazily so one Gemini or Ollama client serves both roles
type backends struct {
	geminiKey         string
	geminiModel       string
	ollamaURL         string
	ollamaModel       string
	ollamaVisionModel string

	gemini *scanning.Gemini
	ollama *scanning.Ollama
}

func (b *backends) getGemini() (*scanning.Gemini, error) {
	if b.gemini != nil {
		return b.gemini, nil
	}
	apiKey := b.geminiKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, errors.New("gemini api key is required: set --gemini-key or GEMINI_API_KEY")
	}
	slog.Info("Initializing Gemini...", "model", b.geminiModel)
	g, err := scanning.NewGemini(apiKey, b.geminiModel)
	if err != nil {
		return nil, err
	}
	b.gemini = g
	return g, nil
}

func (b *backends) getOllama() (*scanning.Ollama, error) {
	if b.ollama != nil {
		return b.ollama, nil
	}
	slog.Info("Initializing Ollama...", "url", b.ollamaURL, "model", b.ollamaModel, "vision_model", b.ollamaVisionModel)
	o, err := scanning.NewOllama(b.ollamaURL, b.ollamaModel, b.ollamaVisionModel)
	if err != nil {
		return nil, err
	}
	b.ollama = o
	return o, nil
}

func (b *backends) textExtractor(kind string) (scanning.TextExtractor, error) {
	switch kind {
	case "gemini":
		return b.getGemini()
	case "ollama":
		return b.getOllama()
	default:
		return nil, fmt.Errorf("invalid text extractor %q: want gemini or ollama", kind)
	}
}

func (b *backends) billExtractor(kind string) (scanning.BillExtractor, error) {
	switch kind {
	case "gemini":
		return b.getGemini()
	case "ollama":
		return b.getOllama()
	case "none":
		slog.Info("Bill parsing disabled, every scan goes to manual review")
		return scanning.Disabled{}, nil
	default:
		return nil, fmt.Errorf("invalid bill extractor %q: want gemini, ollama or none", kind)
	}
}

func (b *backends) Close() {
	if b.gemini != nil {
		b.gemini.Close()
	}
	if b.ollama != nil {
		b.ollama.Close()
	}
}

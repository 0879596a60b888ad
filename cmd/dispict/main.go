// Package main is the dispict CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/dispict/internal/catalog"
	"github.com/hyperjump/dispict/internal/cli"
	"github.com/hyperjump/dispict/internal/config"
	"github.com/hyperjump/dispict/internal/embedding"
	"github.com/hyperjump/dispict/internal/fetch"
	"github.com/hyperjump/dispict/internal/indexer"
	"github.com/hyperjump/dispict/internal/keyword"
	"github.com/hyperjump/dispict/internal/models"
	"github.com/hyperjump/dispict/internal/search"
	"github.com/hyperjump/dispict/internal/server"
	"github.com/hyperjump/dispict/internal/storage"
	"github.com/hyperjump/dispict/internal/watcher"
	"github.com/hyperjump/dispict/pkg/utils"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/dispict/config.yaml"

// loadConfig loads .env files and the config at path. When path is the
// default, config.yaml in the current directory is preferred if it exists.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if err := config.LoadDotEnv(); err != nil {
		return nil, "", err
	}
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "embed":
		runEmbed()
	case "server":
		runServer()
	case "search":
		runSearch()
	case "find":
		runFind()
	case "status":
		runStatus()
	case "runs":
		runRuns()
	case "version", "--version", "-v":
		fmt.Printf("dispict version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// setup loads config and builds a logger, exiting on failure.
func setup(configPath string, debugFlag bool) (*config.Config, *zap.Logger, bool) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || debugFlag
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger, debugMode
}

func runEmbed() {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	out := fs.String("out", "", "vector store output path (default: storage.vector_store_path)")
	showProgress := fs.Bool("progress", true, "show a progress bar")
	allowMock := fs.Bool("allow-mock", false, "fall back to the deterministic mock embedder when ONNX models are unavailable")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, debugMode := setup(*configPath, *debug)
	defer logger.Sync()

	components, err := initializeComponents(cfg, logger, componentOptions{allowMock: *allowMock})
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	storePath := cfg.Storage.VectorStorePath
	if *out != "" {
		storePath = *out
	}

	fetcher := fetch.NewFetcher(fetch.Options{
		Concurrency:    cfg.Fetch.Concurrency,
		MaxAttempts:    cfg.Fetch.MaxAttempts,
		Timeout:        cfg.Fetch.Timeout,
		NetworkBackoff: cfg.Fetch.NetworkBackoff,
		StatusBackoff:  cfg.Fetch.StatusBackoff,
		UserAgent:      cfg.Fetch.UserAgent,
	}, fetch.WithLogger(logger))

	idxOpts := []indexer.IndexerOption{indexer.WithLogger(logger)}
	if *showProgress && !debugMode {
		chunks := len(components.Catalog.Chunk(cfg.Batch.ChunkSize))
		bar := progressbar.NewOptions(chunks,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowBytes(false),
			progressbar.OptionSetWidth(40),
			progressbar.OptionShowCount(),
			progressbar.OptionSetDescription("Embedding"),
			progressbar.OptionOnCompletion(func() {
				fmt.Fprintln(os.Stderr)
			}),
		)
		idxOpts = append(idxOpts, indexer.WithProgress(bar))
	}
	idx := indexer.NewIndexer(fetcher, components.Encoder, components.Ledger, indexer.Options{
		ChunkSize:           cfg.Batch.ChunkSize,
		MaxConcurrentChunks: cfg.Batch.MaxConcurrentChunks,
	}, idxOpts...)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := idx.Run(ctx, components.Catalog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Embedding run failed: %v\n", err)
		os.Exit(1)
	}
	if err := idx.Persist(ctx, result, storePath); err != nil {
		fmt.Fprintf(os.Stderr, "Saving vector store failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(result.Summary())
	if len(result.Failures) > 0 {
		fmt.Printf("%d images failed; list them with: dispict runs --failures %s\n", len(result.Failures), result.Run.ID)
	}
	fmt.Printf("Vector store written to %s\n", storePath)
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	port := fs.Int("port", 0, "listen port (default: server.port)")
	_ = fs.Parse(os.Args[2:])

	cfg, logger, debugMode := setup(*configPath, *debug)
	defer logger.Sync()
	if *port > 0 {
		cfg.Server.Port = *port
	}

	components, err := initializeComponents(cfg, logger, componentOptions{keyword: true})
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	engine := components.Engine
	if err := engine.Load(context.Background()); err != nil {
		logger.Warn("Vector store not loaded; suggestions return 503 until it is",
			zap.String("path", cfg.Storage.VectorStorePath), zap.Error(err))
	}

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.EnabledOrDefault() {
		watchOpts := []watcher.WatcherOption{watcher.WithDebounce(cfg.Watch.Debounce)}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		storeWatcher := watcher.NewWatcher(
			[]string{cfg.Storage.VectorStorePath},
			func(path string) {
				if err := engine.Reload(watchCtx, path); err != nil {
					logger.Error("Vector store reload failed; keeping previous store", zap.String("path", path), zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := storeWatcher.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer storeWatcher.Stop()
	}

	srv := server.NewServer(engine, components.Ledger, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// printSearchUsage prints search subcommand usage.
func printSearchUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: dispict search [flags] <text>\n\n")
	fmt.Fprintf(fs.Output(), "Text is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  dispict search a quiet harbor at dusk
  dispict search -n 10 "portrait of a woman in blue"
  dispict search --server http://localhost:8080 --output json still life
`)
}

// buildSearchQuery joins all positional args with spaces so multi-word queries
// work the same with or without shell quoting.
func buildSearchQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// searchArgsReorder moves any flags (and their values) that appear after the query
// to the front of the slice so that flag.Parse() sees them. Go's flag package
// stops at the first non-flag argument.
func searchArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "", "server URL; empty loads the vector store directly")
	limit := fs.Int("n", 0, "number of results (default: search.default_limit)")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	fs.Usage = func() { printSearchUsage(fs) }
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	text := buildSearchQuery(fs.Args())
	if text == "" {
		printSearchUsage(fs)
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	query := &models.SuggestionQuery{Text: text, Limit: *limit}

	var response *models.SuggestionResponse
	if *serverURL != "" {
		response, err = searchViaHTTP(*serverURL, query)
	} else {
		cfg, logger, _ := setup(*configPath, false)
		defer logger.Sync()
		components, initErr := initializeComponents(cfg, logger, componentOptions{})
		if initErr != nil {
			logger.Fatal("Failed to initialize", zap.Error(initErr))
		}
		defer components.Close()
		if loadErr := components.Engine.Load(context.Background()); loadErr != nil {
			fmt.Fprintf(os.Stderr, "Failed to load vector store: %v\n", loadErr)
			os.Exit(1)
		}
		response, err = components.Engine.Suggest(context.Background(), query)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Search failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSuggestions(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func searchViaHTTP(serverURL string, query *models.SuggestionQuery) (*models.SuggestionResponse, error) {
	params := url.Values{"text": {query.Text}}
	if query.Limit > 0 {
		params.Set("n", strconv.Itoa(query.Limit))
	}
	var response models.SuggestionResponse
	if err := getJSON(strings.TrimRight(serverURL, "/")+"/api/v1/suggestions?"+params.Encode(), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

func runFind() {
	fs := flag.NewFlagSet("find", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "", "server URL; empty opens the keyword index directly")
	limit := fs.Int("limit", 10, "number of results")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(searchArgsReorder(os.Args[2:]))

	text := buildSearchQuery(fs.Args())
	if text == "" {
		fmt.Println("Usage: dispict find [flags] <keywords>")
		os.Exit(1)
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var results []*models.SearchResult
	if *serverURL != "" {
		params := url.Values{"q": {text}, "limit": {strconv.Itoa(*limit)}}
		var out struct {
			Results []*models.SearchResult `json:"results"`
		}
		err = getJSON(strings.TrimRight(*serverURL, "/")+"/api/v1/artworks?"+params.Encode(), &out)
		results = out.Results
	} else {
		cfg, logger, _ := setup(*configPath, false)
		defer logger.Sync()
		components, initErr := initializeComponents(cfg, logger, componentOptions{keyword: true, allowMock: true})
		if initErr != nil {
			logger.Fatal("Failed to initialize", zap.Error(initErr))
		}
		defer components.Close()
		results, err = components.Engine.Find(context.Background(), text, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Find failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteFindResults(os.Stdout, text, results, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (direct mode)")
	serverURL := fs.String("server", "", "server URL; empty inspects local files directly")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var status cli.StatusReport
	if *serverURL != "" {
		if err := getJSON(strings.TrimRight(*serverURL, "/")+"/api/v1/status", &status); err != nil {
			fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg, logger, _ := setup(*configPath, false)
		defer logger.Sync()
		components, err := initializeComponents(cfg, logger, componentOptions{allowMock: true})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
			os.Exit(1)
		}
		defer components.Close()
		ctx := context.Background()
		if err := components.Engine.Load(ctx); err != nil {
			logger.Debug("vector store not loaded", zap.Error(err))
		}
		status.Engine = components.Engine.Status()
		if run, err := components.Ledger.LastRun(ctx); err == nil {
			status.LastRun = run
		}
		if diskBytes, err := storage.DiskUsageBytes(cfg.Storage.VectorStorePath, cfg.Storage.LedgerPath, cfg.Storage.KeywordIndexPath); err == nil {
			status.DiskUsageBytes = &diskBytes
		}
	}
	if err := cli.WriteStatus(os.Stdout, &status, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runRuns() {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	limit := fs.Int("limit", 10, "number of runs to list")
	failuresOf := fs.String("failures", "", "list failed items of this run id")
	outputFormat := fs.String("output", "text", "output format: text, compact, or json")
	_ = fs.Parse(os.Args[2:])

	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, logger, _ := setup(*configPath, false)
	defer logger.Sync()
	ledger, err := storage.NewSQLiteLedger(cfg.Storage.LedgerPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open run ledger: %v\n", err)
		os.Exit(1)
	}
	defer ledger.Close()

	ctx := context.Background()
	if *failuresOf != "" {
		failures, err := ledger.ListFailures(ctx, *failuresOf)
		if err == nil {
			err = cli.WriteFailures(os.Stdout, failures, format)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Listing failures failed: %v\n", err)
			os.Exit(1)
		}
		return
	}
	runs, err := ledger.ListRuns(ctx, *limit)
	if err == nil {
		err = cli.WriteRuns(os.Stdout, runs, format)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Listing runs failed: %v\n", err)
		os.Exit(1)
	}
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func getJSON(target string, v interface{}) error {
	resp, err := httpClient.Get(target)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Catalog *catalog.Catalog
	Model   embedding.Embedder
	Encoder *embedding.Encoder
	Ledger  *storage.SQLiteLedger
	Keyword *keyword.BleveIndex
	Engine  *search.Engine
}

func (c *Components) Close() {
	if c.Ledger != nil {
		_ = c.Ledger.Close()
	}
	if c.Model != nil {
		_ = c.Model.Close()
	}
	if c.Keyword != nil {
		_ = c.Keyword.Close()
	}
}

type componentOptions struct {
	keyword   bool
	allowMock bool
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, opts componentOptions) (*Components, error) {
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	logger.Info("catalog loaded", zap.String("path", cfg.Catalog.Path), zap.Int("artworks", cat.Len()))

	c := &Components{Catalog: cat}
	c.Model, err = newModel(cfg, logger, opts.allowMock)
	if err != nil {
		return nil, err
	}
	c.Encoder = embedding.NewEncoder(c.Model, embedding.WithEncoderLogger(logger))

	c.Ledger, err = storage.NewSQLiteLedger(cfg.Storage.LedgerPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize run ledger: %w", err)
	}

	engineOpts := []search.EngineOption{search.WithLogger(logger)}
	if opts.keyword {
		c.Keyword, err = keyword.NewBleveIndex(cfg.Storage.KeywordIndexPath)
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to initialize keyword index: %w", err)
		}
		indexed, err := c.Keyword.EnsureCatalog(context.Background(), cat.Items())
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to index catalog: %w", err)
		}
		if indexed {
			logger.Info("keyword index built", zap.Int("artworks", cat.Len()))
		}
		engineOpts = append(engineOpts, search.WithKeywordIndex(c.Keyword))
	}
	c.Engine = search.NewEngine(cat, c.Encoder, cfg, engineOpts...)
	return c, nil
}

// newModel loads the ONNX CLIP towers. Without them the mock embedder is
// used only when allowMock is set; its vectors carry no meaning.
func newModel(cfg *config.Config, logger *zap.Logger, allowMock bool) (embedding.Embedder, error) {
	model, err := embedding.NewONNXEmbedder(embedding.ONNXConfig{
		TextModelPath:  cfg.Embedding.TextModelPath,
		ImageModelPath: cfg.Embedding.ImageModelPath,
		TokenizerPath:  cfg.Embedding.TokenizerPath,
		Dimensions:     cfg.Embedding.Dimensions,
		MaxTokens:      cfg.Embedding.MaxTokens,
	})
	if err == nil {
		logger.Info("ONNX embedder loaded",
			zap.String("text_model", cfg.Embedding.TextModelPath),
			zap.String("image_model", cfg.Embedding.ImageModelPath))
		return model, nil
	}
	if !allowMock {
		return nil, fmt.Errorf("failed to load ONNX models (use --allow-mock for a test run): %w", err)
	}
	logger.Warn("ONNX models unavailable, using mock embedder", zap.Error(err))
	return embedding.NewMockEmbedder(cfg.Embedding.Dimensions), nil
}

func printUsage() {
	fmt.Println(`dispict - Text-to-artwork suggestions over CLIP image embeddings

Usage:
  dispict embed [flags]           Fetch every catalog image, embed it and write the vector store
  dispict server [flags]          Start the HTTP query server
  dispict search [flags] <text>   Suggest artworks for a text description
  dispict find [flags] <words>    Keyword search over catalog metadata
  dispict status [flags]          Show store, catalog and last run status
  dispict runs [flags]            List embedding runs or the failed items of one run
  dispict version                 Show version
  dispict help                    Show this help

Embed Flags:
  --config string    Config file path (default: /usr/local/etc/dispict/config.yaml)
  --out string       Vector store output path (default: storage.vector_store_path)
  --progress         Show a progress bar (default: true)
  --allow-mock       Use the mock embedder when ONNX models are unavailable
  --debug            Enable debug logging

Server Flags:
  --config string    Config file path
  --port int         Listen port (default: server.port)
  --debug            Enable debug logging

Search Flags:
  --config string    Config file path (direct mode)
  --server string    Server URL; empty loads the vector store directly
  -n int             Number of results (default: search.default_limit)
  --output string    Output format: text, compact, or json (default: text)

Find Flags:
  --server string    Server URL; empty opens the keyword index directly
  --limit int        Number of results (default: 10)
  --output string    Output format: text, compact, or json

Status Flags:
  --server string    Server URL; empty inspects local files directly
  --output string    Output format: text or json

Runs Flags:
  --limit int        Number of runs (default: 10)
  --failures string  Run id whose failed items to list
  --output string    Output format: text, compact, or json

Examples:
  dispict embed
  dispict server
  dispict search a quiet harbor at dusk
  dispict search --server http://localhost:8080 -n 5 "portrait in blue"
  dispict find --limit 20 rembrandt
  dispict runs --failures 3f2a9c1e-...`)
}

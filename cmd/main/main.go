package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/CTAG07/shortcodes/pkg/shortcode"
	"github.com/CTAG07/shortcodes/pkg/templating"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "shortcoded",
	Short:         "Serve pages with cached shortcode fragments",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var servePurge bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the public and API servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(configPath, servePurge)
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the fragment cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show fragment cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		store, err := shortcode.OpenStore(config.Cache.Dir, false, newLogger(config.Server.LogLevel, os.Stderr))
		if err != nil {
			return err
		}
		stats, err := store.Stats(time.Now())
		if err != nil {
			return fmt.Errorf("reading cache stats: %w", err)
		}
		return printJSON(cmd.OutOrStdout(), stats)
	},
}

var cacheKeyCmd = &cobra.Command{
	Use:   "key name=value...",
	Short: "Print the cache key for a set of shortcode arguments",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		format, err := shortcode.ParseKeyFormat(config.Cache.KeyFormat)
		if err != nil {
			return err
		}
		parsed, err := parseArgPairs(args)
		if err != nil {
			return err
		}
		canonical, err := shortcode.Canonicalize(parsed, format)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), map[string]string{
			"canonical": canonical,
			"key":       shortcode.Fingerprint(canonical),
			"format":    format.String(),
		})
	},
}

var warmConcurrency int

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Render every page once so its shortcodes are cached",
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := LoadConfig(configPath)
		if err != nil {
			return err
		}
		logger := newLogger(config.Server.LogLevel, os.Stderr)
		engine, err := buildEngine(config, logger, nil, false)
		if err != nil {
			return err
		}
		tm, err := templating.NewTemplateManager(logger, engine, config.Templates, config.Server.TemplateDir)
		if err != nil {
			return err
		}
		n, err := warm(cmd.Context(), tm, warmConcurrency)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Warmed %d pages.\n", n)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "./config.json", "path to a JSON or YAML config file")
	serveCmd.Flags().BoolVar(&servePurge, "purge-cache", false, "empty the fragment cache before serving")
	warmCmd.Flags().IntVar(&warmConcurrency, "concurrency", runtime.NumCPU(), "pages rendered at once")

	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheKeyCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(warmCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// parseArgPairs turns name=value command-line arguments into shortcode Args.
func parseArgPairs(pairs []string) (shortcode.Args, error) {
	args := make(shortcode.Args, len(pairs))
	for _, pair := range pairs {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			return nil, fmt.Errorf("%w: expected name=value, got %q", shortcode.ErrInvalidArgument, pair)
		}
		args[name] = value
	}
	return args, nil
}

// warm renders every page with at most limit renders in flight. The first
// failing page cancels the rest.
func warm(ctx context.Context, tm *templating.TemplateManager, limit int) (int, error) {
	if limit < 1 {
		limit = 1
	}
	pages := tm.GetPageNames()
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, page := range pages {
		g.Go(func() error {
			if err := tm.Execute(gCtx, io.Discard, page, nil); err != nil {
				return fmt.Errorf("warming %s: %w", page, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(pages), nil
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newLogger(level string, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(level)}))
}

// serve runs server cycles until one ends in something other than a restart.
func serve(path string, purge bool) error {
	baseLogger := newLogger("info", os.Stdout)
	actionChan := make(chan string, 1)

	go func() {
		osSignalChan := make(chan os.Signal, 1)
		signal.Notify(osSignalChan, syscall.SIGINT, syscall.SIGTERM)
		<-osSignalChan
		baseLogger.Info("OS signal received, initiating shutdown.")
		actionChan <- actionShutdown
	}()

	for first := true; ; first = false {
		action, err := run(path, purge, first, actionChan)
		if err != nil {
			baseLogger.Error("An error occurred during server run, shutting down.", "error", err)
			return err
		}
		if action != actionRestart {
			break
		}
		baseLogger.Info("--- Server Restarting ---")
	}

	baseLogger.Info("Shortcode server has shut down.")
	return nil
}

// startupPurge reports whether a serve cycle empties the store when it opens.
// Only the first cycle of a process purges; restarts keep the cache.
func startupPurge(config *Config, flag, firstCycle bool) bool {
	return firstCycle && (flag || config.Cache.PurgeOnStart)
}

// run hosts both servers for one cycle and returns the action that ended it.
func run(path string, purgeFlag, firstCycle bool, actionChan chan string) (string, error) {
	config, err := LoadConfig(path)
	if err != nil {
		return "", fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := newLogger(config.Server.LogLevel, os.Stdout)
	logger.Info("Starting server cycle...", "version", Version)

	if err = os.MkdirAll(config.Server.DataDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}

	telemetry, err := NewTelemetry(config.Server.MetricsExporter)
	if err != nil {
		return "", fmt.Errorf("failed to set up metrics: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(ctx); err != nil {
			logger.Error("Failed to shut down metrics", "error", err)
		}
	}()

	purge := startupPurge(config, purgeFlag, firstCycle)
	engine, err := buildEngine(config, logger, telemetry.Meter(shortcode.InstrumentationName), purge)
	if err != nil {
		return "", fmt.Errorf("failed to build shortcode engine: %w", err)
	}

	db, err := initDB(config.Server.DatabasePath)
	if err != nil {
		return "", fmt.Errorf("failed to initialize database: %w", err)
	}
	defer func() {
		logger.Info("Closing database connection.")
		if err := db.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	if err = setupAuthSchema(db); err != nil {
		return "", fmt.Errorf("failed to setup auth schema: %w", err)
	}
	if err = setupCatalogSchema(db); err != nil {
		return "", fmt.Errorf("failed to setup catalog schema: %w", err)
	}

	server, err := NewServer(context.Background(), config, path, logger, db, engine, telemetry.Handler(), actionChan)
	if err != nil {
		return "", fmt.Errorf("failed to create server object: %w", err)
	}

	publicHttpServer := &http.Server{Addr: config.Server.ServerAddr, Handler: server.publicMux}
	apiHttpServer := &http.Server{Addr: config.Server.ApiAddr, Handler: server.apiMux}

	go func() {
		logger.Info("Starting api server", "address", apiHttpServer.Addr)
		if err := apiHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Api server failed", "error", err)
		}
	}()

	go func() {
		logger.Info("Starting public server", "address", publicHttpServer.Addr)
		if err := publicHttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Public server failed", "error", err)
		}
	}()

	action := <-actionChan

	logger.Info("Stopping servers for " + action + "...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = apiHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Api server shutdown failed", "error", err)
	}
	if err = publicHttpServer.Shutdown(ctx); err != nil {
		logger.Error("Public server shutdown failed", "error", err)
	}
	logger.Info("HTTP servers stopped.")

	return action, nil
}

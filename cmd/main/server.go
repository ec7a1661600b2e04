package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/CTAG07/shortcodes/pkg/shortcode"
	"github.com/CTAG07/shortcodes/pkg/templating"
	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"
)

const (
	indexPage       = "index"
	productsPartial = "products.part.html"
	defaultLimit    = 4
)

// Server wires the shortcode engine, templates and APIs for one run cycle.
type Server struct {
	config      *Config
	db          *sql.DB
	logger      *slog.Logger
	engine      *shortcode.Engine
	tm          *templating.TemplateManager
	catalog     *Catalog
	authAPI     *AuthAPI
	templateAPI *TemplateAPI
	cacheAPI    *CacheAPI
	serverAPI   *ServerAPI
	publicMux   *http.ServeMux
	apiMux      *http.ServeMux
}

// buildEngine opens the fragment store and builds the engine the config describes.
// A nil meter means the global meter provider. The store is emptied only when
// purge is set; Cache.PurgeOnStart is resolved by the caller.
func buildEngine(config *Config, logger *slog.Logger, meter metric.Meter, purge bool) (*shortcode.Engine, error) {
	format, err := shortcode.ParseKeyFormat(config.Cache.KeyFormat)
	if err != nil {
		return nil, err
	}
	store, err := shortcode.OpenStore(config.Cache.Dir, purge, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open fragment store: %w", err)
	}
	opts := []shortcode.Option{
		shortcode.WithLogger(logger),
		shortcode.WithKeyFormat(format),
		shortcode.WithCoalescing(config.Cache.CoalesceMisses),
	}
	if meter != nil {
		opts = append(opts, shortcode.WithMeter(meter))
	}
	return shortcode.New(buildRegistry(config.Shortcodes), store, opts...)
}

func NewServer(ctx context.Context, config *Config, configPath string, logger *slog.Logger, db *sql.DB, engine *shortcode.Engine, metrics http.Handler, actionChan chan string) (*Server, error) {
	tm, err := templating.NewTemplateManager(logger, engine, config.Templates, config.Server.TemplateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create template manager: %w", err)
	}

	catalog, err := NewCatalog(ctx, db)
	if err != nil {
		return nil, fmt.Errorf("failed to open product catalog: %w", err)
	}

	server := &Server{
		config:      config,
		db:          db,
		logger:      logger,
		engine:      engine,
		tm:          tm,
		catalog:     catalog,
		authAPI:     NewAuthAPI(db, logger),
		templateAPI: NewTemplateAPI(tm, logger),
		cacheAPI:    NewCacheAPI(engine, logger),
		serverAPI:   NewServerAPI(config, configPath, actionChan, tm, logger),
		publicMux:   http.NewServeMux(),
		apiMux:      http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.templateAPI.RegisterRoutes(apiMux)
	server.cacheAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Everything under /api/ is authenticated except the health check.
	server.apiMux.HandleFunc("/api/health", server.serverAPI.handleHealthCheck)
	server.apiMux.Handle("/api/", server.authAPI.Authenticate(apiMux))
	if metrics != nil {
		server.apiMux.Handle("/metrics", metrics)
	}

	server.publicMux.HandleFunc("GET /{$}", server.handleIndex)
	server.publicMux.HandleFunc("GET /pages/{name}", server.handlePage)
	server.publicMux.HandleFunc("GET /products", server.handleProducts)
	server.publicMux.HandleFunc("POST /data", server.handleData)
	server.publicMux.HandleFunc("/favicon.ico", handleFavicon)

	return server, nil
}

// handleIndex renders the index page, or a plain greeting when there is none.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if !s.hasPage(indexPage + s.tm.GetConfig().PageSuffix) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("Hello world!"))
		return
	}
	s.renderPage(w, r, indexPage)
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	s.renderPage(w, r, r.PathValue("name"))
}

// renderPage executes a page template and writes it only if every shortcode
// on it resolved, so a failed render never produces half a page.
func (s *Server) renderPage(w http.ResponseWriter, r *http.Request, name string) {
	renderID := ulid.Make().String()
	logger := s.logger.With("render_id", renderID, "page", name)

	page := name + s.tm.GetConfig().PageSuffix
	if !s.hasPage(page) {
		http.NotFound(w, r)
		return
	}

	start := time.Now()
	var buf bytes.Buffer
	if err := s.tm.Execute(r.Context(), &buf, page, nil); err != nil {
		logger.Error("Failed to render page", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	logger.Info("Rendered page", "duration", time.Since(start), "bytes", buf.Len())

	setPageHeaders(w)
	w.Header().Set("X-Render-Id", renderID)
	_, _ = buf.WriteTo(w)
}

func (s *Server) hasPage(page string) bool {
	for _, p := range s.tm.GetPageNames() {
		if p == page {
			return true
		}
	}
	return false
}

// handleProducts renders the product list partial. The products shortcode
// fetches this route from the browser.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	limit := defaultLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(shortcode.Unquote(v))
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	orderBy := shortcode.Unquote(r.URL.Query().Get("orderby"))

	products, err := s.catalog.List(r.Context(), orderBy, limit)
	if err != nil {
		s.logger.Error("Failed to list products", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err = s.tm.Execute(r.Context(), &buf, productsPartial, map[string]any{"Products": products}); err != nil {
		s.logger.Error("Failed to render products", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	setPageHeaders(w)
	_, _ = buf.WriteTo(w)
}

// handleData echoes the posted payload with every field prefixed by "ok ".
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	var payload EchoPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	respondWithJSON(w, http.StatusOK, EchoPayload{
		Foo: "ok " + payload.Foo,
		Bar: "ok " + payload.Bar,
	})
}

func setPageHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
}

// handleFavicon answers favicon requests with no content instead of a page render.
func handleFavicon(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

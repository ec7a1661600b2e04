package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/CTAG07/shortcodes/pkg/shortcode"
)

// CacheAPI exposes read-only views of the fragment cache.
type CacheAPI struct {
	engine *shortcode.Engine
	logger *slog.Logger
}

// CacheStatsResponse is the body of GET /api/cache/stats.
type CacheStatsResponse struct {
	Dir          string  `json:"dir"`
	Entries      int     `json:"entries"`
	TotalBytes   int64   `json:"total_bytes"`
	OldestAgeSec float64 `json:"oldest_age_sec"`
	KeyFormat    string  `json:"key_format"`
}

// CacheKeyResponse is the body of POST /api/cache/key.
type CacheKeyResponse struct {
	Key      string `json:"key"`
	Cached   bool   `json:"cached"`
	TTL      int    `json:"ttl_sec"`
	AgeSec   int64  `json:"age_sec,omitempty"`
	Decision string `json:"decision,omitempty"`
}

func NewCacheAPI(engine *shortcode.Engine, logger *slog.Logger) *CacheAPI {
	return &CacheAPI{
		engine: engine,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for the cache and shortcode endpoints.
func (c *CacheAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/cache/stats", c.handleStats)
	mux.HandleFunc("/api/cache/key", c.handleKey)
	mux.HandleFunc("/api/shortcodes", c.handleShortcodes)
}

func (c *CacheAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeCacheRead) {
		return
	}

	stats, err := c.engine.Store().Stats(time.Now())
	if err != nil {
		c.logger.Error("Failed to collect cache stats", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to read cache directory")
		return
	}
	respondWithJSON(w, http.StatusOK, CacheStatsResponse{
		Dir:          stats.Dir,
		Entries:      stats.Entries,
		TotalBytes:   stats.TotalBytes,
		OldestAgeSec: stats.OldestAge.Seconds(),
		KeyFormat:    c.engine.KeyFormat().String(),
	})
}

// handleKey computes the cache key for a JSON object of arguments and reports
// whether an entry for it is on disk. It never renders or evicts.
func (c *CacheAPI) handleKey(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeCacheRead) {
		return
	}

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	args := shortcode.Args(raw)

	key, err := c.engine.Key(args)
	if err != nil {
		if errors.Is(err, shortcode.ErrInvalidArgument) {
			respondWithError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondWithError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := CacheKeyResponse{Key: key, TTL: args.TTLSeconds()}
	store := c.engine.Store()
	if store.Exists(key) {
		resp.Cached = true
		if created, err := store.Created(key); err == nil {
			age := time.Since(created)
			resp.AgeSec = int64(age / time.Second)
			if shortcode.Expired(age, resp.TTL) {
				resp.Decision = "expired"
			} else {
				resp.Decision = "fresh"
			}
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (c *CacheAPI) handleShortcodes(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeCacheRead) {
		return
	}
	respondWithJSON(w, http.StatusOK, map[string][]string{"shortcodes": c.engine.Registry().Names()})
}

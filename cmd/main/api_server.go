package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/CTAG07/shortcodes/pkg/templating"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

// ServerAPI holds the dependencies for the server control handlers.
type ServerAPI struct {
	mu         sync.RWMutex // guards config
	config     *Config
	configPath string
	actionChan chan string
	tm         *templating.TemplateManager
	logger     *slog.Logger
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

func NewServerAPI(config *Config, configPath string, actionChan chan string, tm *templating.TemplateManager, logger *slog.Logger) *ServerAPI {
	return &ServerAPI{
		config:     config,
		configPath: configPath,
		actionChan: actionChan,
		tm:         tm,
		logger:     logger,
	}
}

// RegisterRoutes sets up the routing for all /api/server endpoints.
func (a *ServerAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/server/config", a.handleConfig)
	mux.HandleFunc("/api/server/version", a.handleVersion)
	mux.HandleFunc("/api/server/shutdown", a.handleShutdown)
	mux.HandleFunc("/api/server/restart", a.handleRestart)
}

// handleHealthCheck is mounted outside the auth middleware.
func (a *ServerAPI) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig gets or replaces the server configuration. Template settings
// apply at once; cache and server settings take effect on restart.
func (a *ServerAPI) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet, http.MethodPut) || !requireScope(w, r, scopeServerConfig) {
		return
	}
	if r.Method == http.MethodGet {
		a.mu.RLock()
		defer a.mu.RUnlock()
		respondWithJSON(w, http.StatusOK, a.config)
		return
	}

	newConfig := Config{}
	if err := json.NewDecoder(r.Body).Decode(&newConfig); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	newConfig.fillDefaults()
	if err := newConfig.validate(); err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := SaveConfig(a.configPath, &newConfig); err != nil {
		a.logger.Error("Failed to save config", "path", a.configPath, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to save configuration to disk: %v", err))
		return
	}

	*a.config = newConfig
	if err := a.tm.SetConfig(newConfig.Templates); err != nil {
		a.logger.Error("Template config rejected after validation", "error", err)
	}
	if err := a.tm.Refresh(); err != nil {
		a.logger.Warn("Template refresh after config update failed", "error", err)
	}
	a.logger.Info("Configuration updated via API. Cache settings apply after a restart.")
	respondWithJSON(w, http.StatusOK, a.config)
}

func (a *ServerAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	respondWithJSON(w, http.StatusOK, VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	})
}

func (a *ServerAPI) handleShutdown(w http.ResponseWriter, r *http.Request) {
	a.handleAction(w, r, actionShutdown, "Server is shutting down...")
}

func (a *ServerAPI) handleRestart(w http.ResponseWriter, r *http.Request) {
	a.handleAction(w, r, actionRestart, "Server is restarting...")
}

// handleAction acknowledges the request, then hands action to the run loop.
func (a *ServerAPI) handleAction(w http.ResponseWriter, r *http.Request, action, message string) {
	if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeServerControl) {
		return
	}

	a.logger.Warn("Server action requested via API", "action", action)
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": message})

	go func() {
		a.actionChan <- action
	}()
}

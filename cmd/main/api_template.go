package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/CTAG07/shortcodes/pkg/shortcode"
	"github.com/CTAG07/shortcodes/pkg/templating"
)

// TemplateAPI holds the dependencies for the template API handlers.
type TemplateAPI struct {
	tm     *templating.TemplateManager
	logger *slog.Logger
}

// NewTemplateAPI creates a new instance of the TemplateAPI.
func NewTemplateAPI(tm *templating.TemplateManager, logger *slog.Logger) *TemplateAPI {
	return &TemplateAPI{
		tm:     tm,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for all /api/templates endpoints.
func (t *TemplateAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/templates/refresh", t.handleRefresh)
	mux.HandleFunc("/api/templates/test", t.handleTest)
	mux.HandleFunc("/api/templates/preview", t.handlePreview)
	mux.HandleFunc("/api/templates", t.handleList)
	mux.HandleFunc("/api/templates/", t.handleFile)
}

// handleRefresh re-reads templates from disk.
func (t *TemplateAPI) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeTemplatesWrite) {
		return
	}
	if err := t.tm.Refresh(); err != nil {
		t.logger.Error("API triggered refresh failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to refresh templates: %v", err))
		return
	}
	t.logger.Info("Templates refreshed via API")
	w.WriteHeader(http.StatusNoContent)
}

func (t *TemplateAPI) handleList(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}
	respondWithJSON(w, http.StatusOK, map[string][]string{
		"templates": t.tm.GetTemplateNames(),
		"pages":     t.tm.GetPageNames(),
	})
}

// handleTest executes the request body as a template. Shortcodes in it go
// through the cache like any page render.
func (t *TemplateAPI) handleTest(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}
	t.render(w, "", func(buf *bytes.Buffer) error {
		return t.tm.ExecuteTemplateString(r.Context(), buf, string(body), nil)
	})
}

// handlePreview renders a named template.
func (t *TemplateAPI) handlePreview(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) || !requireScope(w, r, scopeTemplatesRead) {
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		respondWithError(w, http.StatusBadRequest, "Query parameter 'name' is required")
		return
	}

	t.render(w, name, func(buf *bytes.Buffer) error {
		return t.tm.Execute(r.Context(), buf, name, nil)
	})
}

// render runs exec into a buffer and writes the HTML only when it succeeded.
// name, when set, turns an undefined-template error into a 404.
func (t *TemplateAPI) render(w http.ResponseWriter, name string, exec func(*bytes.Buffer) error) {
	var buf bytes.Buffer
	if err := exec(&buf); err != nil {
		if name != "" && strings.Contains(err.Error(), "is undefined") {
			respondWithError(w, http.StatusNotFound, fmt.Sprintf("Template '%s' not found", name))
			return
		}
		respondWithError(w, renderErrorStatus(err), fmt.Sprintf("Template execution failed: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// renderErrorStatus maps a render failure to a status. A cache that cannot be
// written is a server fault; template and argument errors are the caller's.
func renderErrorStatus(err error) int {
	if errors.Is(err, shortcode.ErrStorage) {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

// handleFile reads, writes or deletes a single template file.
func (t *TemplateAPI) handleFile(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/templates/")
	if name == "" || strings.HasSuffix(name, "/") {
		respondWithError(w, http.StatusNotFound, "Not Found")
		return
	}

	cfg := t.tm.GetConfig()
	if strings.Contains(name, "..") || (!strings.HasSuffix(name, cfg.PageSuffix) && !strings.HasSuffix(name, cfg.PartialSuffix)) {
		respondWithError(w, http.StatusBadRequest, "Invalid template name format")
		return
	}

	templateDir, err := filepath.Abs(t.tm.GetTemplateDir())
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "Failed to resolve template directory")
		return
	}
	path := filepath.Join(templateDir, name)
	if !strings.HasPrefix(path, templateDir+string(filepath.Separator)) {
		respondWithError(w, http.StatusForbidden, "Access denied: Path outside template directory")
		return
	}

	if !allowMethod(w, r, http.MethodGet, http.MethodPut, http.MethodDelete) {
		return
	}
	switch r.Method {
	case http.MethodGet:
		if requireScope(w, r, scopeTemplatesRead) {
			t.readFile(w, path)
		}
	case http.MethodPut:
		if requireScope(w, r, scopeTemplatesWrite) {
			t.writeFile(w, r, name, path)
		}
	case http.MethodDelete:
		if requireScope(w, r, scopeTemplatesWrite) {
			t.deleteFile(w, name, path)
		}
	}
}

func (t *TemplateAPI) readFile(w http.ResponseWriter, path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		respondWithError(w, http.StatusNotFound, "Template not found")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write(content)
}

// writeFile saves the request body and reloads the set. A template that fails
// to parse stays on disk but the previous set keeps serving.
func (t *TemplateAPI) writeFile(w http.ResponseWriter, r *http.Request, name, path string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to read request body: %v", err))
		return
	}
	if err = os.WriteFile(path, body, 0644); err != nil {
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to write template file: %v", err))
		return
	}
	if err = t.tm.Refresh(); err != nil {
		t.logger.Warn("Template saved but refresh failed", "name", name, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *TemplateAPI) deleteFile(w http.ResponseWriter, name, path string) {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			respondWithError(w, http.StatusNotFound, "Template not found")
			return
		}
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to delete template file: %v", err))
		return
	}
	if err := t.tm.Refresh(); err != nil {
		t.logger.Warn("Template deleted but refresh failed", "name", name, "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/CTAG07/shortcodes/pkg/shortcode"
	"github.com/stretchr/testify/require"
)

const testIndexPage = `{{define "index.tmpl.html"}}<main>{{shortcode "display" "image" "image_src" "/a.png"}}|{{shortcode "display" "nope"}}|{{shortcode "width" "5"}}</main>{{end}}`

const testBrokenPage = `{{define "broken.tmpl.html"}}{{shortcode "display" "image" "width" 5}}{{end}}`

const testProductsPartial = `{{define "products.part.html"}}{{range .Products}}<p>{{.Name}}</p>{{end}}{{end}}`

// testEnv is one fully wired server over temporary directories.
type testEnv struct {
	config     *Config
	configPath string
	server     *Server
	engine     *shortcode.Engine
	actions    chan string
	public     *httptest.Server
	api        *httptest.Server
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTemplates(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	dataDir := t.TempDir()
	config := DefaultConfig()
	config.Server.DataDir = dataDir
	config.Server.DatabasePath = filepath.Join(dataDir, "test.db")
	config.Server.TemplateDir = filepath.Join(dataDir, "templates")
	config.Server.MetricsExporter = "none"
	config.Cache.Dir = filepath.Join(dataDir, "cache")
	return config
}

// setupTestServer builds a Server the way run does and serves both muxes.
func setupTestServer(t *testing.T, templates map[string]string) *testEnv {
	t.Helper()
	config := testConfig(t)
	writeTemplates(t, config.Server.TemplateDir, templates)
	logger := discardLogger()

	engine, err := buildEngine(config, logger, nil, false)
	require.NoError(t, err)

	db, err := initDB(config.Server.DatabasePath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, setupAuthSchema(db))
	require.NoError(t, setupCatalogSchema(db))

	configPath := filepath.Join(config.Server.DataDir, "config.json")
	actions := make(chan string, 1)
	server, err := NewServer(context.Background(), config, configPath, logger, db, engine, nil, actions)
	require.NoError(t, err)

	public := httptest.NewServer(server.publicMux)
	api := httptest.NewServer(server.apiMux)
	t.Cleanup(public.Close)
	t.Cleanup(api.Close)

	return &testEnv{
		config:     config,
		configPath: configPath,
		server:     server,
		engine:     engine,
		actions:    actions,
		public:     public,
		api:        api,
	}
}

func defaultTestTemplates() map[string]string {
	return map[string]string{
		"index.tmpl.html":    testIndexPage,
		"products.part.html": testProductsPartial,
	}
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

package templating

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/CTAG07/shortcodes/pkg/shortcode"
)

// testEnv bundles a manager with the render counter of its "image" shortcode.
type testEnv struct {
	tm         *TemplateManager
	cacheDir   string
	imageCalls *atomic.Int64
}

// setupTestManager creates a TemplateManager for a single test's scope with
// an "image" shortcode registered and one page that uses it.
func setupTestManager(tb testing.TB) *testEnv {
	tb.Helper()

	dataDir := tb.TempDir()
	templatesPath := filepath.Join(dataDir, "templates")
	if err := os.Mkdir(templatesPath, 0755); err != nil {
		tb.Fatalf("failed to create templates dir: %v", err)
	}

	page := `{{define "page.tmpl.html"}}<h1>{{.Title}}</h1>{{shortcode "display" "image" "image_src" "a.png"}}{{end}}`
	if err := os.WriteFile(filepath.Join(templatesPath, "page.tmpl.html"), []byte(page), 0644); err != nil {
		tb.Fatalf("failed to write page template: %v", err)
	}
	partial := `{{define "card.part.html"}}<div class="card">{{.}}</div>{{end}}`
	if err := os.WriteFile(filepath.Join(templatesPath, "card.part.html"), []byte(partial), 0644); err != nil {
		tb.Fatalf("failed to write partial template: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := shortcode.OpenStore(filepath.Join(dataDir, "cache"), false, logger)
	if err != nil {
		tb.Fatalf("failed to open fragment store: %v", err)
	}

	calls := new(atomic.Int64)
	reg := shortcode.NewRegistryBuilder().
		Register("image", shortcode.TextFunc(func(args shortcode.Args) string {
			calls.Add(1)
			return `<img src="` + args.GetOr("image_src", "") + `">`
		})).
		Register("ctx", shortcode.Func(func(ctx context.Context, _ shortcode.Args) (string, error) {
			if v, _ := ctx.Value(ctxKey{}).(string); v != "" {
				return v, nil
			}
			return "no value", nil
		})).
		Build()
	engine, err := shortcode.New(reg, store, shortcode.WithLogger(logger))
	if err != nil {
		tb.Fatalf("failed to create engine: %v", err)
	}

	tm, err := NewTemplateManager(logger, engine, DefaultConfig(), templatesPath)
	if err != nil {
		tb.Fatalf("NewTemplateManager failed: %v", err)
	}
	return &testEnv{tm: tm, cacheDir: filepath.Join(dataDir, "cache"), imageCalls: calls}
}

type ctxKey struct{}

func TestNewTemplateManager(t *testing.T) {
	env := setupTestManager(t)
	names := env.tm.GetPageNames()
	if len(names) != 1 || names[0] != "page.tmpl.html" {
		t.Errorf("expected only page.tmpl.html as a page, got %v", names)
	}
	all := env.tm.GetTemplateNames()
	if len(all) != 2 {
		t.Errorf("expected page and partial to be loaded, got %v", all)
	}
}

func TestNewTemplateManager_RequiresEngine(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewTemplateManager(logger, nil, nil, t.TempDir()); err == nil {
		t.Fatal("expected an error without an engine")
	}
}

func TestManager_Execute(t *testing.T) {
	env := setupTestManager(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		var buf bytes.Buffer
		if err := env.tm.Execute(ctx, &buf, "page.tmpl.html", map[string]string{"Title": "<Hi>"}); err != nil {
			t.Fatalf("Execute failed for valid template: %v", err)
		}
		want := `<h1>&lt;Hi&gt;</h1><img src="a.png">`
		if buf.String() != want {
			t.Errorf("render %d: expected %q, got %q", i, want, buf.String())
		}
	}
	if n := env.imageCalls.Load(); n != 1 {
		t.Errorf("expected the image shortcode to render once and then come from cache, got %d renders", n)
	}

	entries, err := os.ReadDir(env.cacheDir)
	if err != nil {
		t.Fatalf("failed to read cache dir: %v", err)
	}
	if len(entries) != 1 || !strings.HasSuffix(entries[0].Name(), ".html") {
		t.Errorf("expected one cached fragment, got %v", entries)
	}

	var buf bytes.Buffer
	err = env.tm.Execute(ctx, &buf, "nonexistent.tmpl.html", nil)
	if err == nil {
		t.Fatal("expected an error for non-existent template, but got nil")
	}
	expectedErrString := `html/template: "nonexistent.tmpl.html" is undefined`
	if !strings.Contains(err.Error(), expectedErrString) {
		t.Errorf("error message mismatch: got '%v', expected to contain '%s'", err, expectedErrString)
	}
}

func TestManager_ExecuteUsesRequestContext(t *testing.T) {
	env := setupTestManager(t)
	ctx := context.WithValue(context.Background(), ctxKey{}, "from request")

	var buf bytes.Buffer
	if err := env.tm.ExecuteTemplateString(ctx, &buf, `{{shortcode "display" "ctx"}}`, nil); err != nil {
		t.Fatalf("ExecuteTemplateString failed: %v", err)
	}
	if buf.String() != "from request" {
		t.Errorf("expected shortcode to see the request context, got %q", buf.String())
	}
}

func TestManager_ExecuteTemplateString(t *testing.T) {
	env := setupTestManager(t)
	ctx := context.Background()

	cases := map[string]string{
		`{{shortcode "image_src" "b.png"}}`:                          shortcode.MissingDisplayText,
		`{{shortcode "display" "gallery"}}`:                          shortcode.UnknownDisplayText("gallery"),
		`{{shortcode (dict "display" "image" "image_src" "c.png")}}`: `<img src="c.png">`,
		`{{template "card.part.html" "x"}}`:                          `<div class="card">x</div>`,
		`{{range seq 3}}{{add . 1}}{{end}}`:                          "123",
		`{{raw "<br>"}}`:                                             "<br>",
	}
	for content, want := range cases {
		var buf bytes.Buffer
		if err := env.tm.ExecuteTemplateString(ctx, &buf, content, nil); err != nil {
			t.Errorf("ExecuteTemplateString(%s) failed: %v", content, err)
			continue
		}
		if buf.String() != want {
			t.Errorf("ExecuteTemplateString(%s): expected %q, got %q", content, want, buf.String())
		}
	}
}

func TestManager_ShortcodeErrorsAbortRender(t *testing.T) {
	env := setupTestManager(t)
	var buf bytes.Buffer
	err := env.tm.ExecuteTemplateString(context.Background(), &buf, `{{shortcode "display" "image" "width" 300}}`, nil)
	if !errors.Is(err, shortcode.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for a non-string value, got %v", err)
	}

	err = env.tm.ExecuteTemplateString(context.Background(), &buf, `{{shortcode "display"}}`, nil)
	if !errors.Is(err, shortcode.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument for an odd number of values, got %v", err)
	}
}

func TestManager_Refresh(t *testing.T) {
	env := setupTestManager(t)
	initialCount := len(env.tm.GetPageNames())

	newTmplPath := filepath.Join(env.tm.GetTemplateDir(), "new.tmpl.html")
	if err := os.WriteFile(newTmplPath, []byte(`New Content`), 0644); err != nil {
		t.Fatalf("failed to write new template: %v", err)
	}

	if err := env.tm.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	if len(env.tm.GetPageNames()) != initialCount+1 {
		t.Errorf("expected %d templates after refresh, got %d", initialCount+1, len(env.tm.GetPageNames()))
	}

	brokenPath := filepath.Join(env.tm.GetTemplateDir(), "broken.tmpl.html")
	if err := os.WriteFile(brokenPath, []byte(`{{if}}`), 0644); err != nil {
		t.Fatalf("failed to write broken template: %v", err)
	}
	if err := env.tm.Refresh(); err == nil {
		t.Fatal("expected Refresh to reject a broken template")
	}
	if len(env.tm.GetPageNames()) != initialCount+1 {
		t.Error("a failed Refresh should keep the previous template set")
	}
}

func TestManager_SetConfig(t *testing.T) {
	env := setupTestManager(t)
	newConfig := DefaultConfig()
	newConfig.ShortcodeFunc = "sc"
	if err := env.tm.SetConfig(newConfig); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	if err := env.tm.Refresh(); err == nil {
		t.Fatal("expected existing pages calling 'shortcode' to fail parsing once the function is renamed")
	}
	if env.tm.GetConfig().ShortcodeFunc != "sc" {
		t.Errorf("SetConfig failed to update ShortcodeFunc")
	}
}

func TestManager_SetConfigRejectsBadName(t *testing.T) {
	env := setupTestManager(t)
	for _, name := range []string{"bad-name", "1x", "range", "a b"} {
		if err := env.tm.SetConfig(&TemplateConfig{ShortcodeFunc: name}); err == nil {
			t.Errorf("expected SetConfig to reject %q", name)
		}
	}
	if got := env.tm.GetConfig().ShortcodeFunc; got != "shortcode" {
		t.Errorf("rejected config replaced the current one, ShortcodeFunc = %q", got)
	}
	if err := env.tm.Refresh(); err != nil {
		t.Fatalf("Refresh after rejected SetConfig failed: %v", err)
	}
}

func TestManager_SetConfigFillsDefaults(t *testing.T) {
	env := setupTestManager(t)
	if err := env.tm.SetConfig(&TemplateConfig{PageSuffix: ".tmpl.html"}); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	got := env.tm.GetConfig()
	if got.ShortcodeFunc != "shortcode" || got.PartialSuffix != ".part.html" {
		t.Errorf("expected empty fields to take defaults, got %+v", got)
	}
	if err := env.tm.Refresh(); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
}

func TestNewTemplateManager_RejectsBadName(t *testing.T) {
	env := setupTestManager(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := NewTemplateManager(logger, env.tm.engine, &TemplateConfig{ShortcodeFunc: "bad-name"}, t.TempDir())
	if err == nil {
		t.Fatal("expected an error for a function name templates cannot call")
	}
}

func TestTemplateConfig_Normalize(t *testing.T) {
	c := &TemplateConfig{}
	if err := c.Normalize(); err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if *c != *DefaultConfig() {
		t.Errorf("expected an empty config to normalize to defaults, got %+v", c)
	}
	for _, name := range []string{"sc", "_x", "shortcode2", "ünï"} {
		if err := (&TemplateConfig{ShortcodeFunc: name}).Normalize(); err != nil {
			t.Errorf("expected %q to be accepted: %v", name, err)
		}
	}
}

// BenchmarkExecute_CachedShortcode measures a page render whose shortcode is served from disk.
func BenchmarkExecute_CachedShortcode(b *testing.B) {
	env := setupTestManager(b)
	ctx := context.Background()
	_ = env.tm.Execute(ctx, io.Discard, "page.tmpl.html", map[string]string{"Title": "bench"})
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = env.tm.Execute(ctx, io.Discard, "page.tmpl.html", map[string]string{"Title": "bench"})
	}
}

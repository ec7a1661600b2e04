package templating

import (
	"context"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/CTAG07/shortcodes/pkg/shortcode"
)

// TemplateManager is the central controller for the templating engine.
// It owns the parsed template set and the connection to the shortcode engine.
// All methods are concurrent-safe.
type TemplateManager struct {
	logger      *slog.Logger
	config      *TemplateConfig
	engine      *shortcode.Engine
	templates   *template.Template
	pageNames   []string
	templateDir string
	mu          sync.RWMutex
}

// NewTemplateManager creates a TemplateManager reading from templateDir and
// performs an initial Refresh.
func NewTemplateManager(logger *slog.Logger, engine *shortcode.Engine, config *TemplateConfig, templateDir string) (*TemplateManager, error) {
	if engine == nil {
		return nil, fmt.Errorf("template manager needs a shortcode engine")
	}
	if config == nil {
		config = DefaultConfig()
	}
	normalized := *config
	if err := normalized.Normalize(); err != nil {
		return nil, err
	}
	config = &normalized
	tm := &TemplateManager{
		logger:      logger,
		config:      config,
		engine:      engine,
		templateDir: templateDir,
	}

	if err := tm.Refresh(); err != nil {
		return nil, err
	}

	logger.Info("Template manager initialized", "dir", templateDir, "pages", len(tm.pageNames))
	return tm, nil
}

// makeFuncMap returns the functions available to templates. The shortcode
// function is bound to ctx so compute functions see the request's context.
func (tm *TemplateManager) makeFuncMap(ctx context.Context) template.FuncMap {
	return template.FuncMap{
		tm.config.ShortcodeFunc: tm.shortcodeFunc(ctx),
		"dict":                  dict,
		"raw":                   raw,
		"add":                   add,
		"sub":                   sub,
		"mod":                   mod,
		"list":                  list,
		"isSet":                 isSet,
		"seq":                   seq,
	}
}

// SetConfig applies a new configuration. Call Refresh afterwards to reparse
// templates with the new file suffixes or function name. An invalid config
// is rejected and the current one stays in place.
func (tm *TemplateManager) SetConfig(config *TemplateConfig) error {
	if config == nil {
		config = DefaultConfig()
	}
	normalized := *config
	if err := normalized.Normalize(); err != nil {
		return err
	}
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.config = &normalized
	return nil
}

// Refresh reloads all pages and partials from the filesystem, allowing
// template updates without restarting the application. On error the
// previously loaded set stays active.
func (tm *TemplateManager) Refresh() error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	root := template.New("").Funcs(tm.makeFuncMap(context.Background()))

	tm.logger.Info("Loading template files...")
	pagePattern := filepath.Join(tm.templateDir, "*"+tm.config.PageSuffix)
	parsed, err := parseGlobOptional(root, pagePattern)
	if err != nil {
		tm.logger.Error("failed to parse template files", "error", err)
		return err
	}

	var names []string
	for _, t := range parsed.Templates() {
		// The root template has no name and is never executed directly.
		if strings.HasSuffix(t.Name(), tm.config.PageSuffix) {
			names = append(names, t.Name())
		}
	}
	sort.Strings(names)

	tm.logger.Info("Loading partial files...")
	partialPattern := filepath.Join(tm.templateDir, "*"+tm.config.PartialSuffix)
	parsed, err = parseGlobOptional(parsed, partialPattern)
	if err != nil {
		tm.logger.Error("failed to parse partial files", "error", err)
		return err
	}

	if len(names) == 0 {
		tm.logger.Warn("No template files found matching pattern", "pattern", pagePattern)
	}

	tm.templates = parsed
	tm.pageNames = names
	tm.logger.Info("Loaded template and partial files", "count", len(parsed.Templates())-1)
	return nil
}

// parseGlobOptional is ParseGlob that treats an empty match as success.
func parseGlobOptional(t *template.Template, pattern string) (*template.Template, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return t, nil
	}
	return t.ParseFiles(matches...)
}

// Execute renders the template called name into w. Shortcodes in it are
// resolved with ctx, in the order the template references them.
func (tm *TemplateManager) Execute(ctx context.Context, w io.Writer, name string, data any) error {
	if name == "" {
		return nil
	}
	t, err := tm.instance(ctx)
	if err != nil {
		return err
	}
	return t.ExecuteTemplate(w, name, data)
}

// ExecuteTemplateString parses and executes a raw template string against the
// loaded set. This is ideal for previewing templates without saving them to disk.
func (tm *TemplateManager) ExecuteTemplateString(ctx context.Context, w io.Writer, content string, data any) error {
	t, err := tm.instance(ctx)
	if err != nil {
		return err
	}
	t, err = t.New("preview").Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse string template: %w", err)
	}
	return t.Execute(w, data)
}

// instance clones the loaded set and binds its functions to ctx. The loaded
// set itself is never executed, so it can always be cloned.
func (tm *TemplateManager) instance(ctx context.Context) (*template.Template, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	t, err := tm.templates.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone templates: %w", err)
	}
	return t.Funcs(tm.makeFuncMap(ctx)), nil
}

// GetConfig returns a copy of the current configuration.
func (tm *TemplateManager) GetConfig() TemplateConfig {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return *tm.config
}

// GetPageNames returns the loaded page names in sorted order.
func (tm *TemplateManager) GetPageNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return append([]string(nil), tm.pageNames...)
}

// GetTemplateNames returns every loaded template name, pages and partials alike.
func (tm *TemplateManager) GetTemplateNames() []string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	var names []string
	for _, t := range tm.templates.Templates() {
		if t.Name() != "" {
			names = append(names, t.Name())
		}
	}
	sort.Strings(names)
	return names
}

// GetTemplateDir returns the directory templates are loaded from.
func (tm *TemplateManager) GetTemplateDir() string {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.templateDir
}

// Engine returns the shortcode engine templates resolve through.
func (tm *TemplateManager) Engine() *shortcode.Engine {
	return tm.engine
}

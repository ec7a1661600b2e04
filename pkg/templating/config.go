package templating

import (
	"fmt"
	"unicode"
)

// TemplateConfig holds all configuration options for the templating engine.
type TemplateConfig struct {
	// PageSuffix selects the files loaded as full pages.
	PageSuffix string `json:"page_suffix" yaml:"page_suffix"`

	// PartialSuffix selects the files loaded as partials. Partials can be
	// executed by name but are not listed as pages.
	PartialSuffix string `json:"partial_suffix" yaml:"partial_suffix"`

	// ShortcodeFunc is the name templates call to resolve a shortcode.
	ShortcodeFunc string `json:"shortcode_func" yaml:"shortcode_func"`
}

// DefaultConfig returns a TemplateConfig with the stock file layout.
func DefaultConfig() *TemplateConfig {
	return &TemplateConfig{
		PageSuffix:    ".tmpl.html",
		PartialSuffix: ".part.html",
		ShortcodeFunc: "shortcode",
	}
}

// templateKeywords cannot be used as function names; the parser claims them.
var templateKeywords = map[string]bool{
	"block": true, "break": true, "continue": true, "define": true, "else": true,
	"end": true, "if": true, "nil": true, "range": true, "template": true, "with": true,
}

// Normalize fills empty fields with their defaults and rejects a
// ShortcodeFunc that templates could not call.
func (c *TemplateConfig) Normalize() error {
	def := DefaultConfig()
	if c.PageSuffix == "" {
		c.PageSuffix = def.PageSuffix
	}
	if c.PartialSuffix == "" {
		c.PartialSuffix = def.PartialSuffix
	}
	if c.ShortcodeFunc == "" {
		c.ShortcodeFunc = def.ShortcodeFunc
	}
	if !validFuncName(c.ShortcodeFunc) {
		return fmt.Errorf("invalid shortcode function name %q", c.ShortcodeFunc)
	}
	return nil
}

// validFuncName matches the names html/template accepts in a FuncMap.
func validFuncName(name string) bool {
	if name == "" || templateKeywords[name] {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_':
		case i == 0 && !unicode.IsLetter(r):
			return false
		case !unicode.IsLetter(r) && !unicode.IsDigit(r):
			return false
		}
	}
	return true
}

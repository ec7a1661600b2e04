package templating

import (
	"context"
	"fmt"
	"html/template"
	"reflect"

	"github.com/CTAG07/shortcodes/pkg/shortcode"
)

// shortcodeFunc binds the engine to ctx for one execution.
func (tm *TemplateManager) shortcodeFunc(ctx context.Context) func(...any) (template.HTML, error) {
	return func(pairs ...any) (template.HTML, error) {
		args, err := argsFromPairs(pairs)
		if err != nil {
			return "", err
		}
		text, err := tm.engine.Dispatch(ctx, args)
		if err != nil {
			return "", err
		}
		return template.HTML(text), nil
	}
}

// argsFromPairs accepts either a single map or alternating name/value pairs.
// Values are passed through untouched; the engine rejects non-strings.
func argsFromPairs(pairs []any) (shortcode.Args, error) {
	if len(pairs) == 1 {
		switch m := pairs[0].(type) {
		case shortcode.Args:
			return m, nil
		case map[string]any:
			return shortcode.Args(m), nil
		case map[string]string:
			args := make(shortcode.Args, len(m))
			for k, v := range m {
				args[k] = v
			}
			return args, nil
		}
	}
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("%w: shortcode needs name/value pairs, got %d values", shortcode.ErrInvalidArgument, len(pairs))
	}
	args := make(shortcode.Args, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		name, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("%w: shortcode argument name %v is not a string", shortcode.ErrInvalidArgument, pairs[i])
		}
		args[name] = pairs[i+1]
	}
	return args, nil
}

// dict builds a map from alternating name/value pairs.
func dict(pairs ...any) (map[string]any, error) {
	args, err := argsFromPairs(pairs)
	if err != nil {
		return nil, err
	}
	return args, nil
}

// raw marks s as trusted HTML.
func raw(s string) template.HTML {
	return template.HTML(s)
}

// add returns a + b.
func add(a, b int) int {
	return a + b
}

// sub returns a - b.
func sub(a, b int) int {
	return a - b
}

// mod returns a % b, or 0 when b is 0.
func mod(a, b int) int {
	if b == 0 {
		return 0
	}
	return a % b
}

// list returns its arguments as a slice.
func list(args ...any) []any {
	return args
}

// isSet reports whether val is present and not its zero value.
func isSet(val any) bool {
	v := reflect.ValueOf(val)
	if !v.IsValid() {
		return false
	}
	return !v.IsZero()
}

// seq returns 0..n-1, for ranging a fixed number of times.
func seq(n int) []int {
	if n < 0 {
		n = 0
	}
	s := make([]int, n)
	for i := range s {
		s[i] = i
	}
	return s
}

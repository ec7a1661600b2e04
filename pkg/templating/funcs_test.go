package templating

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/CTAG07/shortcodes/pkg/shortcode"
)

func TestArgsFromPairs(t *testing.T) {
	t.Run("Pairs", func(t *testing.T) {
		args, err := argsFromPairs([]any{"display", "image", "rotate", "60"})
		if err != nil {
			t.Fatalf("argsFromPairs failed: %v", err)
		}
		if args["display"] != "image" || args["rotate"] != "60" || len(args) != 2 {
			t.Errorf("unexpected args: %v", args)
		}
	})

	t.Run("Maps", func(t *testing.T) {
		for _, in := range []any{
			map[string]any{"display": "image"},
			map[string]string{"display": "image"},
			shortcode.Args{"display": "image"},
		} {
			args, err := argsFromPairs([]any{in})
			if err != nil {
				t.Fatalf("argsFromPairs(%T) failed: %v", in, err)
			}
			if args["display"] != "image" {
				t.Errorf("argsFromPairs(%T) lost the display value: %v", in, args)
			}
		}
	})

	t.Run("Errors", func(t *testing.T) {
		if _, err := argsFromPairs([]any{"display"}); !errors.Is(err, shortcode.ErrInvalidArgument) {
			t.Errorf("odd count should be rejected, got %v", err)
		}
		if _, err := argsFromPairs([]any{1, "x"}); !errors.Is(err, shortcode.ErrInvalidArgument) {
			t.Errorf("non-string name should be rejected, got %v", err)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		args, err := argsFromPairs(nil)
		if err != nil || len(args) != 0 {
			t.Errorf("expected empty args, got %v, %v", args, err)
		}
	})
}

func TestSeq(t *testing.T) {
	if got := seq(-1); len(got) != 0 {
		t.Errorf("seq(-1) should be empty, got %v", got)
	}
	if got := seq(3); len(got) != 3 || got[2] != 2 {
		t.Errorf("seq(3) = %v", got)
	}
}

func TestMathFuncs(t *testing.T) {
	if got := sub(5, 7); got != -2 {
		t.Errorf("sub(5, 7) = %d", got)
	}
	if got := mod(7, 3); got != 1 {
		t.Errorf("mod(7, 3) = %d", got)
	}
	if got := mod(7, 0); got != 0 {
		t.Errorf("mod by zero should be 0, got %d", got)
	}
}

func TestIsSet(t *testing.T) {
	tests := []struct {
		name string
		val  any
		want bool
	}{
		{"nil", nil, false},
		{"empty string", "", false},
		{"string", "x", true},
		{"zero int", 0, false},
		{"empty map", map[string]any{}, true},
		{"nil map", map[string]any(nil), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isSet(tt.val); got != tt.want {
				t.Errorf("isSet(%v) = %v, want %v", tt.val, got, tt.want)
			}
		})
	}
}

func TestHelpersInTemplate(t *testing.T) {
	env := setupTestManager(t)
	var buf bytes.Buffer
	tmpl := `{{range list "a" "b"}}{{.}}{{end}}|{{sub 3 1}}|{{if isSet .Missing}}set{{else}}unset{{end}}`
	if err := env.tm.ExecuteTemplateString(context.Background(), &buf, tmpl, map[string]any{}); err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if got := buf.String(); got != "ab|2|unset" {
		t.Errorf("got %q", got)
	}
}

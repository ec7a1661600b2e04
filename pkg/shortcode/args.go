package shortcode

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const (
	// DisplayArg selects the registered Shortcode.
	DisplayArg = "display"
	// RotateArg carries the time-to-live in seconds. It is cache policy, not
	// content, and never takes part in key derivation.
	RotateArg = "rotate"

	tokenSeparator = "-"
	pairSeparator  = "&"
)

// Args is the argument set of one shortcode invocation. Values must be
// string-like; anything else is rejected with ErrInvalidArgument.
type Args map[string]any

// KeyFormat selects how an argument set is flattened before hashing.
type KeyFormat int

const (
	// KeyFormatPairs sorts quoted key=value pairs, so a value can never be
	// confused with another argument's key.
	KeyFormatPairs KeyFormat = iota
	// KeyFormatTokens flattens keys and non-empty values into one sorted bag of
	// tokens joined by "-". Different assignments can share a bag.
	KeyFormatTokens
)

// ParseKeyFormat maps a config string to a KeyFormat. Empty means pairs.
func ParseKeyFormat(s string) (KeyFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "pairs":
		return KeyFormatPairs, nil
	case "tokens":
		return KeyFormatTokens, nil
	default:
		return KeyFormatPairs, fmt.Errorf("%w: unknown key format %q", ErrInvalidArgument, s)
	}
}

func (f KeyFormat) String() string {
	if f == KeyFormatTokens {
		return "tokens"
	}
	return "pairs"
}

// Get returns the unquoted value of name. ok is false when the argument is absent.
func (a Args) Get(name string) (value string, ok bool, err error) {
	raw, present := a[name]
	if !present {
		return "", false, nil
	}
	s, err := stringValue(name, raw)
	if err != nil {
		return "", true, err
	}
	return Unquote(s), true, nil
}

// GetOr returns the unquoted value of name, or def when it is absent or not a string.
func (a Args) GetOr(name, def string) string {
	v, ok, err := a.Get(name)
	if !ok || err != nil {
		return def
	}
	return v
}

// TTLSeconds reads the rotate argument. Absent, unparseable or non-positive
// values all mean 0, which never expires.
func (a Args) TTLSeconds() int {
	v, ok, err := a.Get(RotateArg)
	if !ok || err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Unquote strips a single leading and a single trailing quote character
// (" or ') when present.
func Unquote(s string) string {
	if len(s) > 0 && (s[0] == '"' || s[0] == '\'') {
		s = s[1:]
	}
	if n := len(s); n > 0 && (s[n-1] == '"' || s[n-1] == '\'') {
		s = s[:n-1]
	}
	return s
}

// Canonicalize turns args into the deterministic string that is hashed into a
// cache key. The result does not depend on map iteration order and ignores rotate.
func Canonicalize(args Args, format KeyFormat) (string, error) {
	keys := make([]string, 0, len(args))
	for k := range args {
		if k == RotateArg {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		s, err := stringValue(k, args[k])
		if err != nil {
			return "", err
		}
		v := Unquote(s)
		switch format {
		case KeyFormatTokens:
			parts = append(parts, k)
			if v != "" {
				parts = append(parts, v)
			}
		default:
			parts = append(parts, strconv.Quote(k)+"="+strconv.Quote(v))
		}
	}

	if format == KeyFormatTokens {
		sort.Strings(parts)
		return strings.Join(parts, tokenSeparator), nil
	}
	return strings.Join(parts, pairSeparator), nil
}

func stringValue(name string, v any) (string, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	}
	// Named string types such as template.HTML.
	if rv := reflect.ValueOf(v); rv.IsValid() && rv.Kind() == reflect.String {
		return rv.String(), nil
	}
	return "", fmt.Errorf("%w: argument %q has non-string type %T", ErrInvalidArgument, name, v)
}

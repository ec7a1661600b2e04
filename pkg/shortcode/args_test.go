package shortcode

import (
	"html/template"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnquote(t *testing.T) {
	cases := map[string]string{
		`"a.png"`:    "a.png",
		`'4'`:        "4",
		`plain`:      "plain",
		`""x""`:      `"x"`,
		`"`:          "",
		``:           "",
		`"left`:      "left",
		`right'`:     "right",
		`'mixed"`:    "mixed",
		`in"side`:    `in"side`,
		`" spaced "`: " spaced ",
	}
	for in, want := range cases {
		assert.Equal(t, want, Unquote(in), "Unquote(%q)", in)
	}
}

func TestCanonicalize_OrderIndependent(t *testing.T) {
	for _, format := range []KeyFormat{KeyFormatPairs, KeyFormatTokens} {
		t.Run(format.String(), func(t *testing.T) {
			a := Args{}
			a["a"] = "1"
			a["b"] = "2"
			b := Args{}
			b["b"] = "2"
			b["a"] = "1"

			ka, err := Key(a, format)
			require.NoError(t, err)
			kb, err := Key(b, format)
			require.NoError(t, err)
			assert.Equal(t, ka, kb)
		})
	}
}

func TestCanonicalize_IgnoresRotate(t *testing.T) {
	base := Args{"display": "img", "image_src": "a.png"}
	want, err := Key(base, KeyFormatPairs)
	require.NoError(t, err)

	for _, rotate := range []any{"0", "5", `"3600"`, "garbage"} {
		args := Args{"display": "img", "image_src": "a.png", "rotate": rotate}
		got, err := Key(args, KeyFormatPairs)
		require.NoError(t, err)
		assert.Equal(t, want, got, "rotate=%v changed the key", rotate)
	}

	// rotate is skipped before its type is checked.
	got, err := Key(Args{"display": "img", "image_src": "a.png", "rotate": 5}, KeyFormatPairs)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCanonicalize_QuotesDoNotMatter(t *testing.T) {
	a, err := Key(Args{"display": `"img"`, "width": `'300'`}, KeyFormatPairs)
	require.NoError(t, err)
	b, err := Key(Args{"display": "img", "width": "300"}, KeyFormatPairs)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCanonicalize_Tokens(t *testing.T) {
	got, err := Canonicalize(Args{"limit": "4", "display": "products", "empty": `""`}, KeyFormatTokens)
	require.NoError(t, err)
	assert.Equal(t, "4-display-empty-limit-products", got)

	// The flattened bag cannot tell which token was a key.
	x, err := Canonicalize(Args{"a": "b"}, KeyFormatTokens)
	require.NoError(t, err)
	y, err := Canonicalize(Args{"b": "a"}, KeyFormatTokens)
	require.NoError(t, err)
	assert.Equal(t, x, y)
}

func TestCanonicalize_PairsKeepStructure(t *testing.T) {
	x, err := Canonicalize(Args{"a": "b"}, KeyFormatPairs)
	require.NoError(t, err)
	y, err := Canonicalize(Args{"b": "a"}, KeyFormatPairs)
	require.NoError(t, err)
	assert.NotEqual(t, x, y)

	got, err := Canonicalize(Args{"b": "2", "a": `"1"`, "rotate": "9"}, KeyFormatPairs)
	require.NoError(t, err)
	assert.Equal(t, `"a"="1"&"b"="2"`, got)
}

func TestCanonicalize_DisplayIsPartOfKey(t *testing.T) {
	for _, format := range []KeyFormat{KeyFormatPairs, KeyFormatTokens} {
		a, err := Key(Args{"display": "products", "limit": "4"}, format)
		require.NoError(t, err)
		b, err := Key(Args{"display": "gallery", "limit": "4"}, format)
		require.NoError(t, err)
		assert.NotEqual(t, a, b, format.String())
	}
}

func TestCanonicalize_RejectsNonString(t *testing.T) {
	_, err := Canonicalize(Args{"display": "products", "limit": 4}, KeyFormatPairs)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = Canonicalize(Args{"display": "img", "html": template.HTML("<b>")}, KeyFormatPairs)
	assert.NoError(t, err)
}

func TestFingerprint(t *testing.T) {
	h1 := Fingerprint("display-img")
	h2 := Fingerprint("display-img")
	h3 := Fingerprint("display-gallery")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, KeyLen)
	assert.True(t, validKey(h1))
	// Pinned so a change in hashing shows up as a test failure instead of a cold cache.
	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb924", Fingerprint(""))
}

func TestArgs_TTLSeconds(t *testing.T) {
	cases := []struct {
		name string
		args Args
		want int
	}{
		{"absent", Args{}, 0},
		{"plain", Args{"rotate": "5"}, 5},
		{"quoted", Args{"rotate": `"60"`}, 60},
		{"unparseable", Args{"rotate": "soon"}, 0},
		{"negative", Args{"rotate": "-3"}, 0},
		{"non-string", Args{"rotate": 5}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.args.TTLSeconds())
		})
	}
}

func TestParseKeyFormat(t *testing.T) {
	f, err := ParseKeyFormat("")
	require.NoError(t, err)
	assert.Equal(t, KeyFormatPairs, f)

	f, err = ParseKeyFormat("Tokens")
	require.NoError(t, err)
	assert.Equal(t, KeyFormatTokens, f)

	_, err = ParseKeyFormat("json")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

package shortcode

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	b := NewRegistryBuilder().
		Register("image", TextFunc(func(Args) string { return "first" })).
		Register("products", TextFunc(func(Args) string { return "products" })).
		Register("image", TextFunc(func(Args) string { return "second" }))
	reg := b.Build()

	assert.Equal(t, []string{"image", "products"}, reg.Names())
	assert.Equal(t, 2, reg.Len())

	sc, ok := reg.Lookup("image")
	require.True(t, ok)
	text, err := sc.Render(context.Background(), Args{})
	require.NoError(t, err)
	assert.Equal(t, "second", text, "last registration wins")

	_, ok = reg.Lookup("missing")
	assert.False(t, ok)

	b.Register("late", TextFunc(func(Args) string { return "" }))
	_, ok = reg.Lookup("late")
	assert.False(t, ok, "a built registry does not see later registrations")
}

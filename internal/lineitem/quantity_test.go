package lineitem_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartmetal/internal/lineitem"
)

func TestParseQuantity(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		rest string
	}{
		{"10", 10, ""},
		{"10 EA", 10, "EA"},
		{"1,200 M", 1200, "M"},
		{"2,5", 2.5, ""},
		{"12.5kg", 12.5, "kg"},
		{" 3 nos. ", 3, "nos"},
	}
	for _, tc := range cases {
		v, rest, ok := lineitem.ParseQuantity(tc.in)
		require.True(t, ok, tc.in)
		assert.InDelta(t, tc.want, *v, 1e-9, tc.in)
		assert.Equal(t, tc.rest, rest, tc.in)
	}
}

func TestParseQuantity_NotNumeric(t *testing.T) {
	for _, in := range []string{"", "N/A", "LOT", "-"} {
		v, _, ok := lineitem.ParseQuantity(in)
		assert.False(t, ok, in)
		assert.Nil(t, v, in)
	}
}

func TestIsKnownUnit(t *testing.T) {
	assert.True(t, lineitem.IsKnownUnit("ea."))
	assert.True(t, lineitem.IsKnownUnit(" Nos "))
	assert.False(t, lineitem.IsKnownUnit("bundle"))
	assert.Equal(t, "PCS", lineitem.CanonicalUnit("pcs."))
}

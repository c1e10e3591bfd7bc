package functions

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnalyze(t *testing.T) {
	src := `
def _helper(x):
    return x

def total(price, discount_pct=0, *rest, **opts):
    """Price after discount."""
    return price * (1 - discount_pct / 100.0)

def main(booking_id, names):
    return booking_id
`
	a, err := Analyze("functions/total.star", []byte(src))
	require.NoError(t, err)

	assert.Equal(t, "total", a.File)
	assert.False(t, a.IsAsync)
	require.Len(t, a.Functions, 2, "private functions are skipped")

	require.NotNil(t, a.Entry)
	assert.Equal(t, "main", a.Entry.Name, "main wins over earlier defs")
	assert.Equal(t, []Param{{Name: "booking_id"}, {Name: "names"}}, a.Params())

	fn, ok := a.Function("total")
	require.True(t, ok)
	assert.Equal(t, "Price after discount.", fn.Docstring)
	assert.Equal(t, 5, fn.Line)
	assert.Equal(t, "total(price, discount_pct=0, *rest, **opts)", fn.Signature())
	assert.True(t, fn.Params[0].Required())
	assert.False(t, fn.Params[1].Required())
	assert.False(t, fn.Params[2].Required())
}

func TestAnalyze_FirstPublicDefIsEntry(t *testing.T) {
	a, err := Analyze("fmt.star", []byte("def upper(s):\n    return s.upper()\n\ndef lower(s):\n    return s.lower()\n"))
	require.NoError(t, err)
	assert.Equal(t, "upper", a.Entry.Name)
}

func TestAnalyze_Errors(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantLine int
		wantMsg  string
	}{
		{name: "syntax error", src: "def broken(:\n    pass\n", wantLine: 1},
		{name: "no functions", src: "X = 1\n", wantMsg: "no public function defined"},
		{name: "only private", src: "def _x():\n    pass\n", wantMsg: "no public function defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Analyze("bad.star", []byte(tt.src))
			require.Error(t, err)

			var ae *AnalyzeError
			require.True(t, errors.As(err, &ae))
			if tt.wantLine > 0 {
				assert.Equal(t, tt.wantLine, ae.Line)
			}
			if tt.wantMsg != "" {
				assert.Contains(t, ae.Error(), tt.wantMsg)
			}
		})
	}
}

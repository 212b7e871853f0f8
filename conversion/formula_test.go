package conversion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompileAndEval(t *testing.T) {
	testCases := []struct {
		formula  string
		x        float64
		expected float64
	}{
		{"X", 3, 3},
		{"x + 1", 3, 4},
		{"2*X + 1", 2, 5},
		{"-X", 2, -2},
		{"(X + 1) * (X - 1)", 3, 8},
		{"X^2 + 2*X + 1", 3, 16},
		{"2^3^1", 0, 8},
		{"sqrt(X)", 16, 4},
		{"pow(X, 3)", 2, 8},
		{"max(X, 10)", 3, 10},
		{"1.5e2 + X", 0, 150},
		{"abs(-X)", 5, 5},
		{"X / 4", 10, 2.5},
		{"1 - 2 - 3", 0, -4},
	}

	for _, tc := range testCases {
		t.Run(tc.formula, func(t *testing.T) {
			e, err := compile(tc.formula)
			require.NoError(t, err)
			got, err := e.eval(tc.x)
			require.NoError(t, err)
			assert.InDelta(t, tc.expected, got, 1e-12)
		})
	}
}

func TestCompileErrors(t *testing.T) {
	for _, formula := range []string{
		"",
		"X +",
		"(X",
		"foo(X)",
		"sqrt",
		"pow(X)",
		"X $ 2",
		"1..2",
	} {
		t.Run(formula, func(t *testing.T) {
			_, err := compile(formula)
			assert.Error(t, err)
		})
	}
}

func TestEvalRejectsNonFinite(t *testing.T) {
	e, err := compile("X / 0")
	require.NoError(t, err)
	_, err = e.eval(1)
	assert.Error(t, err)

	e, err = compile("sqrt(X)")
	require.NoError(t, err)
	_, err = e.eval(-1)
	assert.Error(t, err)
}

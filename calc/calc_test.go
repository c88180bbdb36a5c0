package calc

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/tef/peg"
	"github.com/tef/peg/trace"
)

func TestEval(t *testing.T) {
	vectors := []struct {
		expr string
		want string
	}{
		{"0", "0"},
		{"42", "42"},
		{"1 + 2", "3"},
		{"2 + 3 * 4", "14"},
		{"2 * 3 + 4", "10"},
		{"(2 + 3) * 4", "20"},
		{"8 - 2 - 1", "5"},
		{"12 / 4 / 3", "1"},
		{"2 - 3 * 4", "-10"},
		{"-5 + 10", "5"},
		{"8 - -2", "10"},
		{"-(2 + 3)", "-5"},
		{"0.1 + 0.2", "0.3"},
		{"10 / 4", "2.5"},
		{"1 / 3", "0.3333333333333333"},
		{"1e2 * 0.5", "50"},
		{"2*(3+4) # doubled", "14"},
		{"# note\n1 + 2", "3"},
		{"((((7))))", "7"},
	}
	for _, v := range vectors {
		got, err := Eval(v.expr)
		require.NoError(t, err, v.expr)
		require.Equal(t, v.want, got.String(), v.expr)
	}
}

func TestEvalErrors(t *testing.T) {
	var pe *peg.ParseError

	// a zero divisor aborts evaluation from inside the action
	_, err := Eval("1 / 0")
	require.Error(t, err)
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "divide", pe.Rule)
	require.Contains(t, err.Error(), "division by zero (in divide)")

	// a dangling operator reports the operand it needed
	_, err = Eval("1 +")
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "product", pe.Rule)
	require.Equal(t, 3, pe.Offset)

	_, err = Eval("(1 + 2")
	require.ErrorAs(t, err, &pe)
	require.Equal(t, `")"`, pe.Rule)

	_, err = Eval("()")
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "sum", pe.Rule)

	// plain mismatches are not raises
	for _, expr := range []string{"", "   ", "x", "1 & 2", "1 2"} {
		_, err = Eval(expr)
		require.Error(t, err, expr)
		require.Contains(t, err.Error(), "not a valid expression", expr)
		require.False(t, errors.As(err, &pe), expr)
	}
}

func TestEvalWith(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	got, err := EvalWith(trace.New(logger), "calc.txt", "2 + 2")
	require.NoError(t, err)
	require.Equal(t, "4", got.String())
	require.NotEmpty(t, hook.AllEntries())
}

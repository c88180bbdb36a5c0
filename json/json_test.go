package json

import (
	"errors"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/tef/peg"
	"github.com/tef/peg/trace"
)

// TestParseValues checks decoded documents against gjson's reading of the
// same text.
func TestParseValues(t *testing.T) {
	vectors := []string{
		`null`,
		`true`,
		`false`,
		`0`,
		`-1`,
		`42`,
		`3.25`,
		`1e3`,
		`-0.5e-2`,
		`"hello"`,
		`"esc \" \\ \/ \b \f \n \r \t"`,
		`"\u00e9 \ubeef"`,
		`"Aé😀"`,
		`[1, 2, 3]`,
		`[true, null, "x"]`,
		`{"a": 1}`,
		`{"a": {"b": [true, null]}, "c": "d"}`,
		"\n\t {\"pad\": [1 ,2 , 3 ] } \r\n",
	}
	for _, text := range vectors {
		got, err := Parse("test.json", text)
		require.NoError(t, err, text)
		require.Equal(t, gjson.Parse(text).Value(), got, text)
	}
}

func TestParseEmptyContainers(t *testing.T) {
	vectors := []struct {
		text string
		want any
	}{
		{`[]`, []any{}},
		{`{}`, map[string]any{}},
		{`[[], [{}]]`, []any{[]any{}, []any{map[string]any{}}}},
		{`{"a": [], "b": {}}`, map[string]any{"a": []any{}, "b": map[string]any{}}},
	}
	for _, v := range vectors {
		got, err := Parse("test.json", v.text)
		require.NoError(t, err, v.text)
		require.Equal(t, v.want, got, v.text)
	}
}

func TestParseNoMatch(t *testing.T) {
	vectors := []string{
		"",
		"   ",
		"tru",
		"True",
		"nope",
		"01",
		"+1",
		"--1",
		"true false",
		"]",
	}
	var pe *peg.ParseError
	for _, text := range vectors {
		_, err := Parse("test.json", text)
		require.Error(t, err, text)
		require.Contains(t, err.Error(), "not valid json", text)
		require.False(t, errors.As(err, &pe), text)
	}

	_, err := Parse("", "nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "<input>: not valid json")
}

// TestParseRaises covers text that goes wrong past a point of no return:
// these report a position instead of a bare mismatch.
func TestParseRaises(t *testing.T) {
	vectors := []string{
		`[1,2`,
		`[1,]`,
		`[1 2]`,
		`{"a":}`,
		`{"a"1}`,
		`{"a":1,}`,
		`"abc`,
		`"\x"`,
		`1.`,
		`2e`,
	}
	for _, text := range vectors {
		_, err := Parse("test.json", text)
		require.Error(t, err, text)

		var pe *peg.ParseError
		require.ErrorAs(t, err, &pe, text)
	}

	// the error names the source, the position and what was missing
	_, err := Parse("test.json", `[1,2`)
	var pe *peg.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, `"]"`, pe.Rule)
	require.Equal(t, 4, pe.Offset)
	require.Contains(t, err.Error(), `test.json:1:5: expected "]"`)
}

func TestNumberOverflow(t *testing.T) {
	_, err := Parse("test.json", `1e999`)
	require.Error(t, err)

	var pe *peg.ParseError
	require.ErrorAs(t, err, &pe)
	require.Equal(t, "number", pe.Rule)
	require.Contains(t, err.Error(), "value out of range")
}

func TestParseWith(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	got, err := ParseWith(trace.New(logger), "traced.json", `{"a": [1]}`)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": []any{float64(1)}}, got)
	require.NotEmpty(t, hook.AllEntries())
}

type fixtureFile struct {
	Rules []struct {
		Rule   string   `yaml:"rule"`
		Accept []string `yaml:"accept"`
		Reject []string `yaml:"reject"`
	} `yaml:"rules"`
}

// TestFixtures runs the grammar rule by rule against testdata vectors,
// without actions, so partial documents can be probed directly.
func TestFixtures(t *testing.T) {
	raw, err := os.ReadFile("testdata/tests.yaml")
	require.NoError(t, err)

	var fx fixtureFile
	require.NoError(t, yaml.Unmarshal(raw, &fx))
	require.NotEmpty(t, fx.Rules)

	parser := peg.BuildParser(Grammar)
	require.NoError(t, parser.Err())

	for _, r := range fx.Rules {
		for _, text := range r.Accept {
			ok, err := parser.ParseRule(r.Rule, peg.NewInput("", text))
			require.NoError(t, err, "rule %q should accept %q", r.Rule, text)
			require.True(t, ok, "rule %q should accept %q", r.Rule, text)
		}
		for _, text := range r.Reject {
			ok, err := parser.ParseRule(r.Rule, peg.NewInput("", text))
			require.False(t, ok && err == nil, "rule %q should reject %q", r.Rule, text)
		}
	}
}

package peg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInputPosition(t *testing.T) {
	in := NewInput("pos.txt", "ab\ncdef\naé世\n")
	require.Equal(t, "pos.txt", in.Name)
	require.Equal(t, 15, in.Len())

	vectors := []struct {
		offset int
		line   int
		col    int
	}{
		{0, 1, 1},
		{1, 1, 2},
		{2, 1, 3},
		{3, 2, 1},
		{7, 2, 5},
		{8, 3, 1},
		{11, 3, 3}, // columns count runes, not bytes
		{14, 3, 4},
		{15, 4, 1},
		{99, 4, 1},
		{-1, 1, 1},
	}
	for _, v := range vectors {
		line, col := in.Position(v.offset)
		require.Equal(t, v.line, line, "offset %v", v.offset)
		require.Equal(t, v.col, col, "offset %v", v.offset)
	}
}

func TestParseEntryPoints(t *testing.T) {
	parser := BuildParser(pairGrammar)
	require.NoError(t, parser.Err())

	ok, err := parser.Parse(NewInput("", "a1"))
	require.NoError(t, err)
	require.True(t, ok)

	// a match must consume the whole input
	ok, err = parser.Parse(NewInput("", "a1x"))
	require.NoError(t, err)
	require.False(t, ok)

	// any named rule can be the entry point
	ok, err = parser.ParseRule("letter", NewInput("", "z"))
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = parser.ParseRule("nosuch", NewInput("", "z"))
	require.False(t, ok)
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown rule "nosuch"`)

	require.True(t, parser.Accept("b2"))
	require.False(t, parser.Accept("2b"))
	require.False(t, parser.Accept(""))

	require.True(t, parser.TestRule("digit",
		[]string{"0", "9"},
		[]string{"", "a", "10"},
	))
	require.True(t, parser.TestGrammar(
		[]string{"a1", "z9"},
		[]string{"", "a", "1a"},
	))
}

func TestBuildErrorsPoisonParser(t *testing.T) {
	parser := BuildParser(func(g *Grammar) {})
	require.Error(t, parser.Err())

	ok, err := parser.Parse(NewInput("", "anything"))
	require.False(t, ok)
	require.Equal(t, parser.Err(), err)

	ok, err = parser.ParseRule("rule", NewInput("", "anything"))
	require.False(t, ok)
	require.Equal(t, parser.Err(), err)

	require.False(t, parser.TestGrammar([]string{}, []string{}))

	// the same grammar through the two-value constructor
	g := BuildGrammar(func(g *Grammar) {})
	_, err = g.Parser()
	require.Error(t, err)
}

func TestGrammarParser(t *testing.T) {
	g := BuildGrammar(pairGrammar)
	require.NoError(t, g.Err())

	p, err := g.Parser()
	require.NoError(t, err)
	require.True(t, p.Accept("c3"))

	// one grammar can compile against several controls
	rec := &recorder{}
	p2, err := g.Parser(WithControl(rec))
	require.NoError(t, err)
	require.True(t, p2.Accept("c3"))
	require.NotEmpty(t, rec.events)
}

func TestMatchConsumesExactly(t *testing.T) {
	var text string

	acts := &Actions{}
	acts.Apply("word", func(span Span, state ...any) error {
		text = span.Text()
		return nil
	})

	parser := BuildParser(func(g *Grammar) {
		g.Start = "word"
		g.Define("word", func() {
			g.Repeat(1, 0, func() {
				g.Range("a-z")
			})
		})
	}, WithActions(acts))
	require.NoError(t, parser.Err())

	in := NewInput("", "hello")
	ok, err := parser.Parse(in)
	require.NoError(t, err)
	require.True(t, ok)

	// the span of a full match is the full input
	require.Equal(t, in.Text(), text)
}

func TestUntilScansToDelimiter(t *testing.T) {
	var body string

	acts := &Actions{}
	acts.Apply("body", func(span Span, state ...any) error {
		body = span.Text()
		return nil
	})

	parser := BuildParser(func(g *Grammar) {
		g.Start = "element"
		g.Define("element", func() {
			g.Literal("<item>")
			g.Call("body")
			g.Literal("</item>")
		})
		g.Define("body", func() {
			g.Until("</item>")
		})
	}, WithActions(acts))
	require.NoError(t, parser.Err())

	ok, err := parser.Parse(NewInput("", "<item>some text</item>"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "some text", body)

	// until leaves the delimiter for the caller
	require.False(t, parser.Accept("<item></item>x"))
	// and fails outright when no delimiter follows
	require.False(t, parser.Accept("<item>missing end"))
}

func TestWhitespaceDefaults(t *testing.T) {
	parser := BuildParser(func(g *Grammar) {
		g.Start = "padded"
		g.Define("padded", func() {
			g.Literal("a")
			g.Whitespace()
			g.Literal("b")
		})
	})
	require.NoError(t, parser.Err())

	require.True(t, parser.TestGrammar(
		[]string{"ab", "a b", "a \t b"},
		[]string{"a\nb", "a,b"},
	))

	parser = BuildParser(func(g *Grammar) {
		g.Start = "line"
		g.Define("line", func() {
			g.Literal("a")
			g.Newline()
		})
	})
	require.NoError(t, parser.Err())

	require.True(t, parser.TestGrammar(
		[]string{"a\n", "a\r\n"},
		[]string{"a", "a\r", "a "},
	))
}

// Package json parses JSON documents into untyped Go values using a peg
// grammar with semantic actions. It exists to exercise the parser the way
// a real consumer would: values are built on a state stack by per-rule
// actions, and the closing brackets, colons and escape bodies are must
// operations, so a document that goes wrong past a point of no return
// reports where instead of just failing to match.
package json

import (
	stdjson "encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tef/peg"
)

// Grammar is the JSON grammar from RFC 8259. It pushes nothing itself:
// values are built by the actions returned from newActions.
func Grammar(g *peg.Grammar) {
	g.Start = "document"
	g.Whitespaces = []string{" ", "\t", "\r", "\n"}

	g.Define("document", func() {
		g.Whitespace()
		g.Call("value")
		g.Whitespace()
	})

	g.Define("value", func() {
		g.Choice(func() {
			g.Call("array")
		}, func() {
			g.Call("object")
		}, func() {
			g.Call("string")
		}, func() {
			g.Call("number")
		}, func() {
			g.Call("true")
		}, func() {
			g.Call("false")
		}, func() {
			g.Call("null")
		})
	})

	g.Define("true", func() { g.Literal("true") })
	g.Define("false", func() { g.Literal("false") })
	g.Define("null", func() { g.Literal("null") })

	g.Define("array", func() {
		g.Call("array-open")
		g.Whitespace()
		g.Optional(func() {
			g.Call("value")
			g.Repeat(0, 0, func() {
				g.Whitespace()
				g.Literal(",")
				g.Whitespace()
				g.Must(func() {
					g.Call("value")
				})
			})
		})
		g.Whitespace()
		g.Must(func() {
			g.Literal("]")
		})
	})
	g.Define("array-open", func() {
		g.Literal("[")
	})

	g.Define("object", func() {
		g.Call("object-open")
		g.Whitespace()
		g.Optional(func() {
			g.Call("member")
			g.Repeat(0, 0, func() {
				g.Whitespace()
				g.Literal(",")
				g.Whitespace()
				g.Must(func() {
					g.Call("member")
				})
			})
		})
		g.Whitespace()
		g.Must(func() {
			g.Literal("}")
		})
	})
	g.Define("object-open", func() {
		g.Literal("{")
	})

	g.Define("member", func() {
		g.Call("string")
		g.Whitespace()
		g.Must(func() {
			g.Literal(":")
		})
		g.Whitespace()
		g.Must(func() {
			g.Call("value")
		})
	})

	g.Define("string", func() {
		g.Literal("\"")
		g.Repeat(0, 0, func() {
			g.Choice(func() {
				g.Call("escape")
			}, func() {
				g.Reject(func() {
					g.Literal("\\", "\"")
				})
				// any rune except the control characters
				g.Range("\x00-\x1f").Invert()
			})
		})
		g.Must(func() {
			g.Literal("\"")
		})
	})

	g.Define("escape", func() {
		g.Literal("\\")
		g.Must(func() {
			g.Choice(func() {
				g.Literal("u")
				g.Range("0-9", "a-f", "A-F")
				g.Range("0-9", "a-f", "A-F")
				g.Range("0-9", "a-f", "A-F")
				g.Range("0-9", "a-f", "A-F")
			}, func() {
				g.Literal(
					"\"", "\\", "/", "b",
					"f", "n", "r", "t",
				)
			})
		})
	})

	g.Define("number", func() {
		g.Optional(func() {
			g.Literal("-")
		})
		g.Choice(func() {
			g.Literal("0")
		}, func() {
			g.Range("1-9")
			g.Repeat(0, 0, func() {
				g.Range("0-9")
			})
		})
		g.Optional(func() {
			g.Literal(".")
			g.Must(func() {
				g.Range("0-9")
			})
			g.Repeat(0, 0, func() {
				g.Range("0-9")
			})
		})
		g.Optional(func() {
			g.Literal("e", "E")
			g.Optional(func() {
				g.Literal("+", "-")
			})
			g.Must(func() {
				g.Range("0-9")
			})
			g.Repeat(0, 0, func() {
				g.Range("0-9")
			})
		})
	})
}

// stack is the per-parse state: completed values, and marks recording
// where each open collection began.
type stack struct {
	values []any
	marks  []int
}

func (s *stack) push(v any) {
	s.values = append(s.values, v)
}

func (s *stack) mark() {
	s.marks = append(s.marks, len(s.values))
}

// take pops every value above the most recent mark. The result is never
// nil: an empty container decodes to an empty slice, like encoding/json.
func (s *stack) take() []any {
	m := s.marks[len(s.marks)-1]
	s.marks = s.marks[:len(s.marks)-1]
	vals := make([]any, len(s.values)-m)
	copy(vals, s.values[m:])
	s.values = s.values[:m]
	return vals
}

func (s *stack) result() (any, error) {
	if len(s.values) != 1 || len(s.marks) != 0 {
		return nil, errors.New("unbalanced value stack")
	}
	return s.values[0], nil
}

func newActions() *peg.Actions {
	a := &peg.Actions{}

	a.Apply0("true", func(state ...any) error {
		state[0].(*stack).push(true)
		return nil
	})
	a.Apply0("false", func(state ...any) error {
		state[0].(*stack).push(false)
		return nil
	})
	a.Apply0("null", func(state ...any) error {
		state[0].(*stack).push(nil)
		return nil
	})

	a.Apply("number", func(span peg.Span, state ...any) error {
		f, err := strconv.ParseFloat(span.Text(), 64)
		if err != nil {
			return err
		}
		state[0].(*stack).push(f)
		return nil
	})

	a.Apply("string", func(span peg.Span, state ...any) error {
		var text string
		if err := stdjson.Unmarshal([]byte(span.Text()), &text); err != nil {
			return err
		}
		state[0].(*stack).push(text)
		return nil
	})

	a.Apply0("array-open", func(state ...any) error {
		state[0].(*stack).mark()
		return nil
	})
	a.Apply0("array", func(state ...any) error {
		st := state[0].(*stack)
		st.push(st.take())
		return nil
	})

	a.Apply0("object-open", func(state ...any) error {
		state[0].(*stack).mark()
		return nil
	})
	a.Apply0("object", func(state ...any) error {
		st := state[0].(*stack)
		vals := st.take()
		m := make(map[string]any, len(vals)/2)
		for i := 0; i+1 < len(vals); i += 2 {
			key := vals[i].(string)
			m[key] = vals[i+1]
		}
		st.push(m)
		return nil
	})

	return a
}

var parser = peg.BuildParser(Grammar, peg.WithActions(newActions()))

// NewParser compiles the JSON grammar with its actions plus any extra
// options, usually a control.
func NewParser(options ...peg.ParserOption) (*peg.Parser, error) {
	g := peg.BuildGrammar(Grammar)
	if err := g.Err(); err != nil {
		return nil, err
	}
	opts := append([]peg.ParserOption{peg.WithActions(newActions())}, options...)
	return g.Parser(opts...)
}

func run(p *peg.Parser, name string, text string) (any, error) {
	if err := p.Err(); err != nil {
		return nil, err
	}
	st := &stack{}
	ok, err := p.Parse(peg.NewInput(name, text), st)
	if err != nil {
		return nil, err
	}
	if !ok {
		if name == "" {
			name = "<input>"
		}
		return nil, fmt.Errorf("%v: not valid json", name)
	}
	return st.result()
}

// Parse decodes one JSON document into bool, nil, float64, string, []any
// and map[string]any values.
func Parse(name string, text string) (any, error) {
	return run(parser, name, text)
}

// ParseWith decodes under the given control, usually a tracer.
func ParseWith(ctl peg.Control, name string, text string) (any, error) {
	p, err := NewParser(peg.WithControl(ctl))
	if err != nil {
		return nil, err
	}
	return run(p, name, text)
}

// Package calc evaluates infix arithmetic with exact decimal semantics.
// Operands and results are shopspring decimals, so 0.1 + 0.2 is 0.3, and
// every operator is applied by a semantic action as its rule matches. A
// trailing # comment is consumed and ignored.
package calc

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tef/peg"
)

// Grammar is a layered precedence grammar: sums over products over unary
// minus over atoms. Operators past their first token are must operations,
// so "1 +" reports a missing operand instead of failing to match.
func Grammar(g *peg.Grammar) {
	g.Start = "expression"
	g.Whitespaces = []string{" ", "\t", "\r", "\n"}

	g.Define("expression", func() {
		g.Call("skip")
		g.Call("sum")
		g.Call("skip")
	})

	g.Define("skip", func() {
		g.Whitespace()
		g.Repeat(0, 0, func() {
			g.Call("comment")
			g.Whitespace()
		})
	})

	g.Define("comment", func() {
		g.Literal("#")
		g.Choice(func() {
			g.Until("\n")
		}, func() {
			// no newline ahead, take the rest
			g.Repeat(0, 0, func() {
				g.Rune()
			})
		})
	})

	g.Define("sum", func() {
		g.Call("product")
		g.Repeat(0, 0, func() {
			g.Whitespace()
			g.Choice(func() {
				g.Call("add")
			}, func() {
				g.Call("subtract")
			})
		})
	})

	g.Define("add", func() {
		g.Literal("+")
		g.Whitespace()
		g.Must(func() {
			g.Call("product")
		})
	})

	g.Define("subtract", func() {
		g.Literal("-")
		g.Whitespace()
		g.Must(func() {
			g.Call("product")
		})
	})

	g.Define("product", func() {
		g.Call("unary")
		g.Repeat(0, 0, func() {
			g.Whitespace()
			g.Choice(func() {
				g.Call("multiply")
			}, func() {
				g.Call("divide")
			})
		})
	})

	g.Define("multiply", func() {
		g.Literal("*")
		g.Whitespace()
		g.Must(func() {
			g.Call("unary")
		})
	})

	g.Define("divide", func() {
		g.Literal("/")
		g.Whitespace()
		g.Must(func() {
			g.Call("unary")
		})
	})

	g.Define("unary", func() {
		g.Choice(func() {
			g.Call("negate")
		}, func() {
			g.Call("atom")
		})
	})

	g.Define("negate", func() {
		g.Literal("-")
		g.Whitespace()
		g.Call("atom")
	})

	g.Define("atom", func() {
		g.Choice(func() {
			g.Call("number")
		}, func() {
			g.Call("group")
		})
	})

	g.Define("group", func() {
		g.Literal("(")
		g.Whitespace()
		g.Must(func() {
			g.Call("sum")
		})
		g.Whitespace()
		g.Must(func() {
			g.Literal(")")
		})
	})

	g.Define("number", func() {
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

type stack struct {
	values []decimal.Decimal
}

func (s *stack) push(d decimal.Decimal) {
	s.values = append(s.values, d)
}

func (s *stack) pop() decimal.Decimal {
	d := s.values[len(s.values)-1]
	s.values = s.values[:len(s.values)-1]
	return d
}

// binary registers an operator rule that folds the top two values.
func binary(a *peg.Actions, rule string, op func(l, r decimal.Decimal) (decimal.Decimal, error)) {
	a.Apply0(rule, func(state ...any) error {
		st := state[0].(*stack)
		r := st.pop()
		l := st.pop()
		v, err := op(l, r)
		if err != nil {
			return err
		}
		st.push(v)
		return nil
	})
}

func newActions() *peg.Actions {
	a := &peg.Actions{}

	a.Apply("number", func(span peg.Span, state ...any) error {
		d, err := decimal.NewFromString(span.Text())
		if err != nil {
			return err
		}
		state[0].(*stack).push(d)
		return nil
	})

	a.Apply0("negate", func(state ...any) error {
		st := state[0].(*stack)
		st.push(st.pop().Neg())
		return nil
	})

	binary(a, "add", func(l, r decimal.Decimal) (decimal.Decimal, error) {
		return l.Add(r), nil
	})
	binary(a, "subtract", func(l, r decimal.Decimal) (decimal.Decimal, error) {
		return l.Sub(r), nil
	})
	binary(a, "multiply", func(l, r decimal.Decimal) (decimal.Decimal, error) {
		return l.Mul(r), nil
	})
	binary(a, "divide", func(l, r decimal.Decimal) (decimal.Decimal, error) {
		if r.IsZero() {
			return decimal.Decimal{}, errors.New("division by zero")
		}
		return l.Div(r), nil
	})

	return a
}

var parser = peg.BuildParser(Grammar, peg.WithActions(newActions()))

// NewParser compiles the calculator grammar with its actions plus any
// extra options, usually a control.
func NewParser(options ...peg.ParserOption) (*peg.Parser, error) {
	g := peg.BuildGrammar(Grammar)
	if err := g.Err(); err != nil {
		return nil, err
	}
	opts := append([]peg.ParserOption{peg.WithActions(newActions())}, options...)
	return g.Parser(opts...)
}

func run(p *peg.Parser, name string, text string) (decimal.Decimal, error) {
	if err := p.Err(); err != nil {
		return decimal.Decimal{}, err
	}
	st := &stack{}
	ok, err := p.Parse(peg.NewInput(name, text), st)
	if err != nil {
		return decimal.Decimal{}, err
	}
	if !ok {
		if name == "" {
			name = "<input>"
		}
		return decimal.Decimal{}, fmt.Errorf("%v: not a valid expression", name)
	}
	if len(st.values) != 1 {
		return decimal.Decimal{}, errors.New("unbalanced value stack")
	}
	return st.values[0], nil
}

// Eval evaluates one expression.
func Eval(text string) (decimal.Decimal, error) {
	return run(parser, "", text)
}

// EvalWith evaluates under the given control, usually a tracer.
func EvalWith(ctl peg.Control, name string, text string) (decimal.Decimal, error) {
	p, err := NewParser(peg.WithControl(ctl))
	if err != nil {
		return decimal.Decimal{}, err
	}
	return run(p, name, text)
}

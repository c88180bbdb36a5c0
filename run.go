package peg

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	ac "github.com/petar-dambovaliev/aho-corasick"
)

// Input is a named source text. The name shows up in errors and traces.
type Input struct {
	Name string
	text string
}

func NewInput(name string, text string) *Input {
	return &Input{Name: name, text: text}
}

func (in *Input) Text() string {
	return in.text
}

func (in *Input) Len() int {
	return len(in.text)
}

// Position converts a byte offset into a 1-based line and rune column.
func (in *Input) Position(offset int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > len(in.text) {
		offset = len(in.text)
	}
	head := in.text[:offset]
	line := 1 + strings.Count(head, "\n")
	bol := strings.LastIndexByte(head, '\n') + 1
	col := 1 + utf8.RuneCountInString(head[bol:])
	return line, col
}

type parseRule func(*Parser, *parserState) bool

type parserState struct {
	in     *Input
	buf    string
	offset int
	state  []any
}

func (s *parserState) clone() *parserState {
	st := parserState{}
	st = *s
	return &st
}

func (s *parserState) merge(new *parserState) {
	*s = *new
}

func (s *parserState) advance(v string) bool {
	if len(v)+s.offset > len(s.buf) {
		return false
	}
	b := s.buf[s.offset : s.offset+len(v)]
	if b == v {
		s.offset += len(v)
		return true
	}
	return false
}

func (s *parserState) peekRune() (rune, int, bool) {
	r, size := utf8.DecodeRuneInString(s.buf[s.offset:])
	if size == 0 || (r == utf8.RuneError && size == 1) {
		return 0, 0, false
	}
	return r, size, true
}

// scope is one pairing of a control with an action on/off flag. Every
// scope compiles its own rule table, so a rule reached under two controls
// gets two independently specialized matchers and calls stay direct.
type scope struct {
	ctl     Control
	actions bool
	rules   []parseRule
	pending []bool
	flip    *scope // same control, actions toggled
}

type compileTask struct {
	sc  *scope
	idx int
}

type compiler struct {
	g     *Grammar
	acts  *Actions
	root  *scope
	queue []compileTask

	// scopes introduced by WithControl nodes, per action flag
	sub map[*grammarNode][2]*scope
	// one automaton per Until node, shared across scopes
	autos map[*grammarNode]*ac.AhoCorasick

	ws []string
	nl []string

	rule int // rule currently being compiled
	err  error
}

func (c *compiler) newScope(ctl Control, actions bool) *scope {
	return &scope{
		ctl:     ctl,
		actions: actions,
		rules:   make([]parseRule, len(c.g.rules)),
		pending: make([]bool, len(c.g.rules)),
	}
}

// variant returns the scope with the same control and the given action
// flag, creating its twin on first use.
func (c *compiler) variant(sc *scope, actions bool) *scope {
	if sc.actions == actions {
		return sc
	}
	if sc.flip == nil {
		sc.flip = c.newScope(sc.ctl, actions)
		sc.flip.flip = sc
	}
	return sc.flip
}

func (c *compiler) subScope(n *grammarNode, actions bool) *scope {
	pair := c.sub[n]
	i := 0
	if actions {
		i = 1
	}
	if pair[i] == nil {
		pair[i] = c.newScope(n.ctl, actions)
		c.sub[n] = pair
	}
	return pair[i]
}

// need queues a rule for compilation in a scope. Call sites read the
// scope's table when they run, so recursive and forward references work
// regardless of compile order.
func (c *compiler) need(sc *scope, idx int) {
	if sc.rules[idx] == nil && !sc.pending[idx] {
		sc.pending[idx] = true
		c.queue = append(c.queue, compileTask{sc: sc, idx: idx})
	}
}

func (c *compiler) automaton(n *grammarNode) *ac.AhoCorasick {
	if a, ok := c.autos[n]; ok {
		return a
	}
	builder := ac.NewAhoCorasickBuilder(ac.Opts{
		MatchKind: ac.LeftMostLongestMatch,
	})
	built := builder.Build(n.strs)
	c.autos[n] = &built
	return &built
}

func (c *compiler) compileRule(sc *scope, idx int) parseRule {
	oldRule := c.rule
	c.rule = idx
	defer func() { c.rule = oldRule }()

	var inner parseRule
	if n := c.g.rules[idx]; n != nil {
		inner = n.buildRule(c, sc)
	} else {
		inner = func(p *Parser, s *parserState) bool { return true }
	}

	name := c.g.names[idx]
	mode, err := selectMode(probe(sc.ctl, c.acts, name, sc.actions))
	if err != nil {
		if c.err == nil {
			c.err = fmt.Errorf("rule %q: %w", name, err)
		}
		return inner
	}
	return c.dispatch(mode, name, inner, sc)
}

// dispatch wraps a rule's matcher for its dispatch mode. The mode was
// probed once at this point and never changes: a rule needing nothing is
// returned bare, so unobserved rules cost nothing per call.
func (c *compiler) dispatch(mode dispatchMode, name string, inner parseRule, sc *scope) parseRule {
	ctl := sc.ctl
	var fn ApplyFunc
	var fn0 Apply0Func
	if mode&actionBit != 0 {
		h, _ := c.acts.lookup(name)
		fn, fn0 = h.fn, h.fn0
	}

	switch mode {
	case modeControl:
		return func(p *Parser, s *parserState) bool {
			begin := s.offset
			ctl.Start(name, s.in, begin, s.state...)
			if inner(p, s) {
				ctl.Success(name, s.in, s.offset, s.state...)
				return true
			}
			s.offset = begin
			ctl.Failure(name, s.in, begin, s.state...)
			return false
		}
	case modeControlApply:
		return func(p *Parser, s *parserState) bool {
			begin := s.offset
			ctl.Start(name, s.in, begin, s.state...)
			if inner(p, s) {
				ctl.Success(name, s.in, s.offset, s.state...)
				if err := ctl.Apply(name, fn, s.in, begin, s.offset, s.state...); err != nil {
					panic(&ParseError{Rule: name, Offset: begin, Input: s.in, Err: err})
				}
				return true
			}
			s.offset = begin
			ctl.Failure(name, s.in, begin, s.state...)
			return false
		}
	case modeControlApply0:
		return func(p *Parser, s *parserState) bool {
			begin := s.offset
			ctl.Start(name, s.in, begin, s.state...)
			if inner(p, s) {
				ctl.Success(name, s.in, s.offset, s.state...)
				if err := ctl.Apply0(name, fn0, s.state...); err != nil {
					panic(&ParseError{Rule: name, Offset: begin, Input: s.in, Err: err})
				}
				return true
			}
			s.offset = begin
			ctl.Failure(name, s.in, begin, s.state...)
			return false
		}
	}
	return inner
}

// mustIdentity names the rule reported when a must fails: the callee for
// a single call, the quoted text for a single literal, otherwise the
// enclosing rule.
func (c *compiler) mustIdentity(n *grammarNode) string {
	if len(n.args) == 1 {
		switch a := n.args[0]; a.kind {
		case callNode:
			return a.arg1
		case literalNode:
			return strconv.Quote(a.arg1)
		}
	}
	return c.g.names[c.rule]
}

func buildRules(c *compiler, sc *scope, args []*grammarNode) []parseRule {
	rules := make([]parseRule, len(args))
	for i, a := range args {
		rules[i] = a.buildRule(c, sc)
	}
	return rules
}

func (n *grammarNode) buildRule(c *compiler, sc *scope) parseRule {
	g := c.g
	switch n.kind {
	case printNode:
		pi := g.posInfo[n.pos]
		r := g.names[*pi.rule]
		prefix := fmt.Sprintf("%v:%v", pi.file, pi.line)
		logf := g.LogFunc
		if logf == nil {
			logf = func(f string, args ...any) {
				fmt.Printf(f+"\n", args...)
			}
		}
		return func(p *Parser, s *parserState) bool {
			msg := fmt.Sprint(n.message...)
			logf("%v: g.Print(%q) called (inside %q at pos %v)", prefix, msg, r, s.offset)
			return true
		}
	case literalNode:
		return func(p *Parser, s *parserState) bool {
			return s.advance(n.arg1)
		}
	case runeNode:
		return func(p *Parser, s *parserState) bool {
			_, size, ok := s.peekRune()
			if !ok {
				return false
			}
			s.offset += size
			return true
		}
	case rangeNode:
		ranges := n.ranges
		invert := n.invert
		return func(p *Parser, s *parserState) bool {
			r, size, ok := s.peekRune()
			if !ok {
				return false
			}
			match := false
			for _, rr := range ranges {
				if r >= rr[0] && r <= rr[1] {
					match = true
					break
				}
			}
			if match == invert {
				return false
			}
			s.offset += size
			return true
		}
	case untilNode:
		automaton := c.automaton(n)
		return func(p *Parser, s *parserState) bool {
			found := automaton.FindAll(s.buf[s.offset:])
			if len(found) == 0 {
				return false
			}
			s.offset += found[0].Start()
			return true
		}
	case whitespaceNode:
		ws := c.ws
		return func(p *Parser, s *parserState) bool {
			for {
				advanced := false
				for _, w := range ws {
					if s.advance(w) {
						advanced = true
						break
					}
				}
				if !advanced {
					return true
				}
			}
		}
	case newlineNode:
		nl := c.nl
		return func(p *Parser, s *parserState) bool {
			for _, l := range nl {
				if s.advance(l) {
					return true
				}
			}
			return false
		}
	case endOfFileNode:
		return func(p *Parser, s *parserState) bool {
			return s.offset == len(s.buf)
		}
	case callNode:
		idx := g.nameIdx[n.arg1]
		c.need(sc, idx)
		table := sc
		return func(p *Parser, s *parserState) bool {
			r := table.rules[idx]
			return r(p, s)
		}
	case optionalNode:
		rules := buildRules(c, sc, n.args)
		return func(p *Parser, s *parserState) bool {
			s1 := s.clone()
			for _, r := range rules {
				if !r(p, s1) {
					return true
				}
			}
			s.merge(s1)
			return true
		}
	case repeatNode:
		rules := buildRules(c, sc, n.args)
		min_n := n.arg2
		max_n := n.arg3

		return func(p *Parser, s *parserState) bool {
			count := 0
			for {
				s1 := s.clone()
				for _, r := range rules {
					if !r(p, s1) {
						return count >= min_n
					}
				}
				s.merge(s1)
				count += 1
				if max_n != 0 && count >= max_n {
					break
				}
			}
			return true
		}
	case choiceNode:
		rules := buildRules(c, sc, n.args)
		return func(p *Parser, s *parserState) bool {
			for _, r := range rules {
				s1 := s.clone()
				if r(p, s1) {
					s.merge(s1)
					return true
				}
			}
			return false
		}
	case sequenceNode:
		rules := buildRules(c, sc, n.args)
		return func(p *Parser, s *parserState) bool {
			for _, r := range rules {
				if !r(p, s) {
					return false
				}
			}
			return true
		}
	case lookaheadNode:
		rules := buildRules(c, c.variant(sc, false), n.args)
		return func(p *Parser, s *parserState) bool {
			s1 := s.clone()
			for _, r := range rules {
				if !r(p, s1) {
					return false
				}
			}
			return true
		}
	case rejectNode:
		rules := buildRules(c, c.variant(sc, false), n.args)
		return func(p *Parser, s *parserState) bool {
			s1 := s.clone()
			for _, r := range rules {
				if !r(p, s1) {
					return true
				}
			}
			return false
		}
	case mustNode:
		rules := buildRules(c, sc, n.args)
		name := c.mustIdentity(n)
		ctl := sc.ctl
		return func(p *Parser, s *parserState) bool {
			begin := s.offset
			for _, r := range rules {
				if r(p, s) {
					continue
				}
				s.offset = begin
				ctl.Raise(name, s.in, begin, s.state...)
				panic("peg: control returned from Raise")
			}
			return true
		}
	case controlNode:
		rules := buildRules(c, c.subScope(n, sc.actions), n.args)
		return func(p *Parser, s *parserState) bool {
			for _, r := range rules {
				if !r(p, s) {
					return false
				}
			}
			return true
		}
	case disableNode:
		rules := buildRules(c, c.variant(sc, false), n.args)
		return func(p *Parser, s *parserState) bool {
			for _, r := range rules {
				if !r(p, s) {
					return false
				}
			}
			return true
		}
	case enableNode:
		rules := buildRules(c, c.variant(sc, true), n.args)
		return func(p *Parser, s *parserState) bool {
			for _, r := range rules {
				if !r(p, s) {
					return false
				}
			}
			return true
		}
	default:
		return func(p *Parser, s *parserState) bool {
			return true
		}
	}
}

// ParserOption configures parser construction.
type ParserOption func(*parserConfig)

type parserConfig struct {
	acts *Actions
	ctl  Control
}

// WithActions binds semantic actions to the parser's named rules.
func WithActions(a *Actions) ParserOption {
	return func(cfg *parserConfig) {
		cfg.acts = a
	}
}

// WithControl sets the control the parser dispatches through. The default
// is Normal.
func WithControl(ctl Control) ParserOption {
	return func(cfg *parserConfig) {
		if ctl != nil {
			cfg.ctl = ctl
		}
	}
}

// Parser compiles the grammar against an action set and a control. Each
// named rule is probed once here and wrapped for exactly the hooks it
// needs; nothing about dispatch is decided later.
func (g *Grammar) Parser(options ...ParserOption) (*Parser, error) {
	if g.Check() != nil {
		return nil, g.err
	}
	cfg := parserConfig{ctl: Normal{}}
	for _, o := range options {
		o(&cfg)
	}
	if err := cfg.acts.check(g); err != nil {
		return nil, err
	}

	c := &compiler{
		g:     g,
		acts:  cfg.acts,
		sub:   make(map[*grammarNode][2]*scope),
		autos: make(map[*grammarNode]*ac.AhoCorasick),
		ws:    g.Whitespaces,
		nl:    g.Newlines,
	}
	if c.ws == nil {
		c.ws = []string{" ", "\t"}
	}
	if c.nl == nil {
		c.nl = []string{"\r\n", "\n"}
	}
	c.root = c.newScope(cfg.ctl, true)

	for idx := range g.rules {
		c.need(c.root, idx)
	}
	for len(c.queue) > 0 {
		t := c.queue[0]
		c.queue = c.queue[1:]
		t.sc.rules[t.idx] = c.compileRule(t.sc, t.idx)
	}
	if c.err != nil {
		return nil, c.err
	}

	p := &Parser{
		start:   g.nameIdx[g.Start],
		names:   g.names,
		nameIdx: g.nameIdx,
		root:    c.root,
	}
	return p, nil
}

// Parser runs a compiled grammar. It is immutable once built: parse calls
// work on their own state and may run concurrently.
type Parser struct {
	start   int
	names   []string
	nameIdx map[string]int
	root    *scope
	err     error
}

func (p *Parser) Err() error {
	return p.err
}

// ParseRule matches one named rule against the whole input, reporting
// whether it consumed all of it. A *ParseError is returned when a must
// rule or an action handler raised a global failure; other panics
// propagate untouched.
func (p *Parser) ParseRule(name string, in *Input, state ...any) (ok bool, err error) {
	if p.err != nil {
		return false, p.err
	}
	idx, found := p.nameIdx[name]
	if !found {
		return false, fmt.Errorf("unknown rule %q", name)
	}
	defer func() {
		if r := recover(); r != nil {
			pe, isParseError := r.(*ParseError)
			if !isParseError {
				panic(r)
			}
			ok, err = false, pe
		}
	}()
	s := &parserState{in: in, buf: in.text, state: state}
	rule := p.root.rules[idx]
	return rule(p, s) && s.offset == len(s.buf), nil
}

// Parse matches the start rule against the whole input.
func (p *Parser) Parse(in *Input, state ...any) (bool, error) {
	if p.err != nil {
		return false, p.err
	}
	return p.ParseRule(p.names[p.start], in, state...)
}

// Accept reports whether text matches completely, treating global
// failures as a plain no.
func (p *Parser) Accept(text string) bool {
	ok, err := p.Parse(NewInput("", text))
	return ok && err == nil
}

// TestRule checks a rule against inputs it should match completely and
// inputs it should not.
func (p *Parser) TestRule(name string, accept []string, reject []string) bool {
	for _, s := range accept {
		ok, err := p.ParseRule(name, NewInput("", s))
		if !ok || err != nil {
			return false
		}
	}
	for _, s := range reject {
		ok, err := p.ParseRule(name, NewInput("", s))
		if ok && err == nil {
			return false
		}
	}
	return true
}

// TestGrammar checks the start rule the same way as TestRule.
func (p *Parser) TestGrammar(accept []string, reject []string) bool {
	if p.err != nil {
		return false
	}
	return p.TestRule(p.names[p.start], accept, reject)
}

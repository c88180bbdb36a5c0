// Package peg builds recursive descent parsers from grammars defined in
// plain Go code. Rules are written inside callbacks, compiled once into
// matcher closures, and run against string inputs. Named rules carry
// optional semantic actions and a control that observes every match
// attempt; how much of that machinery a rule needs is decided when the
// parser is built, so rules that use none of it match at full speed.
package peg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	printNode = "DebugPrint"

	callNode    = "Call"
	literalNode = "Literal"
	runeNode    = "Rune"
	rangeNode   = "Range"
	untilNode   = "Until"

	whitespaceNode = "Whitespace"
	newlineNode    = "Newline"
	endOfFileNode  = "EndOfFile"

	choiceNode    = "Choice"
	sequenceNode  = "Sequence"
	lookaheadNode = "Lookahead"
	rejectNode    = "Reject"
	optionalNode  = "Optional"
	repeatNode    = "Repeat"

	mustNode    = "Must"
	controlNode = "WithControl"
	disableNode = "Disable"
	enableNode  = "Enable"
)

const (
	inGrammar   = "inside-grammar"
	inDef       = "inside-definition"
	inChoice    = "inside-choice"
	inOptional  = "inside-optional"
	inRepeat    = "inside-repeat"
	inLookahead = "inside-lookahead"
	inReject    = "inside-reject"
	inMust      = "inside-must"
	inControl   = "inside-control"
	inDisable   = "inside-disable"
	inEnable    = "inside-enable"
)

type grammarNode struct {
	pos  int
	kind string
	args []*grammarNode
	arg1 string
	arg2 int
	arg3 int

	strs    []string
	ranges  [][2]rune
	invert  bool
	ctl     Control
	message []any
}

type nodeBuilder struct {
	rule    *int
	context string
	args    []*grammarNode
}

func (b *nodeBuilder) buildNode(pos int) *grammarNode {
	if len(b.args) == 0 {
		return nil
	}
	if len(b.args) == 1 {
		return b.args[0]
	}
	return &grammarNode{kind: sequenceNode, args: b.args, pos: pos}
}

func (b *nodeBuilder) append(a *grammarNode) {
	b.args = append(b.args, a)
}

func (b *nodeBuilder) last() *grammarNode {
	if len(b.args) == 0 {
		return nil
	}
	return b.args[len(b.args)-1]
}

func (b *nodeBuilder) inRule() bool {
	return b != nil && b.context != inGrammar
}

type grammarError struct {
	g       *Grammar
	pos     int
	message string
}

type position struct {
	file string
	line int
	rule *int
}

func (e *grammarError) Error() string {
	p := e.g.posInfo[e.pos]
	if p.rule != nil {
		name := e.g.names[*p.rule]
		rulePos := e.g.posInfo[e.g.rulePos[*p.rule]]
		return fmt.Sprintf("%v:%v: %v (inside %q at %v:%v)", p.file, p.line, e.message, name, rulePos.file, rulePos.line)
	} else {
		return fmt.Sprintf("%v:%v: %v", p.file, p.line, e.message)
	}
}

// Grammar collects rule definitions. Build one with BuildGrammar or
// BuildParser, defining rules inside the callback; methods called outside
// a Define block record an error rather than panicking, and the first
// error poisons the grammar.
type Grammar struct {
	Start       string
	Whitespaces []string
	Newlines    []string

	// LogFunc receives Print output during matching. Defaults to stdout.
	LogFunc func(format string, args ...any)

	rules   []*grammarNode
	names   []string
	nameIdx map[string]int

	// list of pos for each name
	callPos map[string][]int

	// list of pos for each numbered rule
	rulePos []int
	// list of positions
	posInfo []position

	nb *nodeBuilder

	pos    int // grammar position
	errors []error
	err    error
}

func (g *Grammar) Err() error {
	return g.err
}

func (g *Grammar) Errors() []error {
	if g.errors == nil {
		return []error{}
	}
	return g.errors
}

func (g *Grammar) Error(pos int, args ...any) {
	msg := fmt.Sprint(args...)
	err := &grammarError{
		g:       g,
		message: msg,
		pos:     pos,
	}
	if g.err == nil {
		g.err = err
	}
	g.errors = append(g.errors, err)
}

func (g *Grammar) Errorf(pos int, s string, args ...any) {
	msg := fmt.Sprintf(s, args...)
	err := &grammarError{
		g:       g,
		message: msg,
		pos:     pos,
	}
	if g.err == nil {
		g.err = err
	}
	g.errors = append(g.errors, err)
}

func (g *Grammar) Warn(pos int, args ...any) {
	msg := fmt.Sprint(args...)
	err := &grammarError{
		g:       g,
		message: msg,
		pos:     pos,
	}
	g.errors = append(g.errors, err)
}

func (g *Grammar) Warnf(pos int, s string, args ...any) {
	msg := fmt.Sprintf(s, args...)
	err := &grammarError{
		g:       g,
		message: msg,
		pos:     pos,
	}
	g.errors = append(g.errors, err)
}

func (g *Grammar) markPosition() int {
	_, file, no, ok := runtime.Caller(2)
	if !ok {
		return -1
	}
	base, _ := os.Getwd()
	file, _ = filepath.Rel(base, file)
	var rule *int = nil
	if g.nb != nil {
		rule = g.nb.rule
	}
	pos := position{file: file, line: no, rule: rule}
	p := len(g.posInfo)

	g.posInfo = append(g.posInfo, pos)
	return p
}

func (g *Grammar) shouldExit(pos int) bool {
	if g.err != nil {
		return true
	}
	if g.nb == nil {
		g.Error(pos, "must call builder methods inside builder")
		return true
	}
	if !g.nb.inRule() {
		g.Error(pos, "must call builder methods inside Define()")
		return true
	}
	return false
}

func (g *Grammar) buildStub(context string, stub func()) *nodeBuilder {
	var rule *int
	oldNb := g.nb
	if oldNb != nil {
		rule = oldNb.rule
	}
	newNb := &nodeBuilder{context: context, rule: rule}
	g.nb = newNb
	stub()
	g.nb = oldNb
	return newNb
}

func (g *Grammar) buildDef(rule int, stub func()) *nodeBuilder {
	oldNb := g.nb
	newNb := &nodeBuilder{context: inDef, rule: &rule}
	g.nb = newNb
	stub()
	g.nb = oldNb
	return newNb
}

func (g *Grammar) buildGrammar(stub func(*Grammar)) error {
	if g.nb != nil || g.names != nil {
		g.err = errors.New("use empty grammar")
		return g.err
	}
	g.nameIdx = make(map[string]int, 0)
	g.callPos = make(map[string][]int, 0)
	g.nb = &nodeBuilder{context: inGrammar}

	stub(g)
	g.nb = nil

	return g.Check()
}

// Define names a rule. Named rules are the unit the control and actions
// see: every call to one runs through its hooks, and actions attach by
// rule name.
func (g *Grammar) Define(name string, stub func()) {
	p := g.markPosition()
	if g.err != nil {
		return
	} else if g.nb == nil {
		g.Error(p, "must call define inside grammar")
		return
	} else if g.nb.inRule() {
		g.Error(p, "cant call define inside define")
		return
	}

	if old, ok := g.nameIdx[name]; ok {
		oldPos := g.posInfo[g.rulePos[old]]
		g.Errorf(p, "cant redefine %q, already defined at %v", name, oldPos)
		return
	}

	ruleNum := len(g.names)
	g.names = append(g.names, name)
	g.nameIdx[name] = ruleNum
	g.rulePos = append(g.rulePos, p)

	r := g.buildDef(ruleNum, stub)
	g.rules = append(g.rules, r.buildNode(p))
}

func (g *Grammar) Print(args ...any) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	a := &grammarNode{kind: printNode, message: args, pos: p}
	g.nb.append(a)
}

func (g *Grammar) Call(name string) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	g.callPos[name] = append(g.callPos[name], p)
	a := &grammarNode{kind: callNode, arg1: name, pos: p}
	g.nb.append(a)
}

func (g *Grammar) Literal(s ...string) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	if len(s) == 0 {
		g.Error(p, "missing operand")
		return
	}

	if len(s) == 1 {
		a := &grammarNode{kind: literalNode, arg1: s[0], pos: p}
		g.nb.append(a)
	} else {
		args := make([]*grammarNode, len(s))
		for i, v := range s {
			args[i] = &grammarNode{kind: literalNode, arg1: v, pos: p}
		}
		a := &grammarNode{kind: choiceNode, args: args, pos: p}
		g.nb.append(a)
	}
}

// Rune matches any single rune.
func (g *Grammar) Rune() {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	a := &grammarNode{kind: runeNode, pos: p}
	g.nb.append(a)
}

// Range matches one rune inside the given ranges, e.g. Range("0-9", "a-f").
// A single character is a range of itself.
func (g *Grammar) Range(specs ...string) *RangeOp {
	p := g.markPosition()
	if g.shouldExit(p) {
		return &RangeOp{g: g}
	}
	if len(specs) == 0 {
		g.Error(p, "missing operand")
		return &RangeOp{g: g}
	}
	ranges := make([][2]rune, 0, len(specs))
	for _, spec := range specs {
		lo, hi, ok := parseRangeSpec(spec)
		if !ok {
			g.Errorf(p, "bad range %q", spec)
			return &RangeOp{g: g}
		}
		ranges = append(ranges, [2]rune{lo, hi})
	}
	a := &grammarNode{kind: rangeNode, ranges: ranges, pos: p}
	g.nb.append(a)
	return &RangeOp{g: g, n: a}
}

func parseRangeSpec(s string) (rune, rune, bool) {
	rs := []rune(s)
	if len(rs) == 1 {
		return rs[0], rs[0], true
	}
	if len(rs) == 3 && rs[1] == '-' && rs[0] <= rs[2] {
		return rs[0], rs[2], true
	}
	return 0, 0, false
}

type RangeOp struct {
	g *Grammar
	n *grammarNode
}

// Invert flips the range to match any rune outside it. It must be called
// before the next builder operation.
func (r *RangeOp) Invert() *RangeOp {
	g := r.g
	p := g.markPosition()
	if g.shouldExit(p) {
		return r
	}
	if r.n == nil || g.nb.last() != r.n {
		g.Error(p, "can only invert the last operation")
		return r
	}
	r.n.invert = true
	return r
}

// Until consumes input up to the nearest occurrence of any of the given
// literals, without consuming the literal itself. It fails when none occurs
// in the rest of the input.
func (g *Grammar) Until(literals ...string) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	if len(literals) == 0 {
		g.Error(p, "missing operand")
		return
	}
	for _, l := range literals {
		if l == "" {
			g.Error(p, "empty literal")
			return
		}
	}
	a := &grammarNode{kind: untilNode, strs: literals, pos: p}
	g.nb.append(a)
}

// Whitespace matches a possibly empty run of the grammar's Whitespaces.
func (g *Grammar) Whitespace() {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	a := &grammarNode{kind: whitespaceNode, pos: p}
	g.nb.append(a)
}

// Newline matches one of the grammar's Newlines.
func (g *Grammar) Newline() {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	a := &grammarNode{kind: newlineNode, pos: p}
	g.nb.append(a)
}

func (g *Grammar) EndOfFile() {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	a := &grammarNode{kind: endOfFileNode, pos: p}
	g.nb.append(a)
}

func (g *Grammar) Choice(options ...func()) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}

	args := make([]*grammarNode, len(options))
	for i, stub := range options {
		r := g.buildStub(inChoice, stub)

		if g.err != nil {
			return
		}

		args[i] = r.buildNode(p)
	}
	a := &grammarNode{kind: choiceNode, args: args, pos: p}
	g.nb.append(a)
}

func (g *Grammar) Optional(stub func()) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	r := g.buildStub(inOptional, stub)
	if g.err != nil {
		return
	}

	a := &grammarNode{kind: optionalNode, args: r.args, pos: p}
	g.nb.append(a)
}

func (g *Grammar) Repeat(min_t int, max_t int, stub func()) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}

	r := g.buildStub(inRepeat, stub)

	if g.err != nil {
		return
	}
	if len(r.args) == 0 {
		// an empty body succeeds without consuming, looping forever
		g.Error(p, "missing operand")
		return
	}

	a := &grammarNode{kind: repeatNode, args: r.args, arg2: min_t, arg3: max_t, pos: p}
	g.nb.append(a)
}

// Lookahead matches the operations inside without consuming input.
// Matches inside never run actions.
func (g *Grammar) Lookahead(stub func()) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	r := g.buildStub(inLookahead, stub)
	if g.err != nil {
		return
	}
	if len(r.args) == 0 {
		g.Error(p, "missing operand")
		return
	}

	a := &grammarNode{kind: lookaheadNode, args: r.args, pos: p}
	g.nb.append(a)
}

// Reject succeeds when the operations inside fail, consuming nothing.
// Matches inside never run actions.
func (g *Grammar) Reject(stub func()) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	r := g.buildStub(inReject, stub)
	if g.err != nil {
		return
	}
	if len(r.args) == 0 {
		g.Error(p, "missing operand")
		return
	}

	a := &grammarNode{kind: rejectNode, args: r.args, pos: p}
	g.nb.append(a)
}

// Must turns a failure of the operations inside into a global failure:
// the cursor is rewound to where the attempt began and the control's
// Raise hook is invoked, unwinding the whole parse. Use it after a point
// of no return, like the closing bracket of a collection.
func (g *Grammar) Must(stub func()) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	r := g.buildStub(inMust, stub)
	if g.err != nil {
		return
	}
	if len(r.args) == 0 {
		g.Error(p, "missing operand")
		return
	}

	a := &grammarNode{kind: mustNode, args: r.args, pos: p}
	g.nb.append(a)
}

// WithControl runs the operations inside under a different control. Rules
// called inside, directly or transitively, dispatch through ctl instead of
// the parser's control until the region is left.
func (g *Grammar) WithControl(ctl Control, stub func()) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	if ctl == nil {
		g.Error(p, "nil control")
		return
	}
	r := g.buildStub(inControl, stub)
	if g.err != nil {
		return
	}
	if len(r.args) == 0 {
		g.Error(p, "missing operand")
		return
	}

	a := &grammarNode{kind: controlNode, args: r.args, ctl: ctl, pos: p}
	g.nb.append(a)
}

// Disable turns actions off for the operations inside. Lifecycle hooks
// still fire.
func (g *Grammar) Disable(stub func()) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	r := g.buildStub(inDisable, stub)
	if g.err != nil {
		return
	}
	if len(r.args) == 0 {
		g.Error(p, "missing operand")
		return
	}

	a := &grammarNode{kind: disableNode, args: r.args, pos: p}
	g.nb.append(a)
}

// Enable turns actions back on inside a region where they are off.
func (g *Grammar) Enable(stub func()) {
	p := g.markPosition()
	if g.shouldExit(p) {
		return
	}
	r := g.buildStub(inEnable, stub)
	if g.err != nil {
		return
	}
	if len(r.args) == 0 {
		g.Error(p, "missing operand")
		return
	}

	a := &grammarNode{kind: enableNode, args: r.args, pos: p}
	g.nb.append(a)
}

func (g *Grammar) Check() error {
	if g.err != nil {
		return g.err
	}
	for name, pos := range g.callPos {
		if _, ok := g.nameIdx[name]; !ok {
			for _, p := range pos {
				g.Errorf(p, "missing rule %q", name)
			}
		}
	}

	for n, name := range g.names {
		if name != g.Start && g.callPos[name] == nil {
			p := g.rulePos[n]
			g.Errorf(p, "unused rule %q", name)
		}
	}

	if g.Start == "" {
		g.Error(g.pos, "starting rule undefined")
	} else if _, ok := g.nameIdx[g.Start]; !ok {
		g.Errorf(g.pos, "starting rule %q is missing", g.Start)
	}

	return g.err
}

func BuildGrammar(stub func(*Grammar)) *Grammar {
	g := &Grammar{}
	g.pos = g.markPosition()
	g.buildGrammar(stub)
	return g
}

// BuildParser builds the grammar and compiles it in one step. Errors are
// carried on the parser: check Err before use, parse calls return it too.
func BuildParser(stub func(*Grammar), options ...ParserOption) *Parser {
	g := &Grammar{}
	g.pos = g.markPosition()
	if err := g.buildGrammar(stub); err != nil {
		return &Parser{err: err}
	}
	p, err := g.Parser(options...)
	if err != nil {
		return &Parser{err: err}
	}
	return p
}

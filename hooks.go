package peg

import (
	"fmt"
	"sort"
)

// ApplyFunc is an action handler that needs the text a rule matched.
// A non-nil error aborts the parse as a global failure wrapping the error.
type ApplyFunc func(span Span, state ...any) error

// Apply0Func is an action handler for rules whose matched text is irrelevant.
type Apply0Func func(state ...any) error

// Span is a bounded view of the input consumed by one successful match.
type Span struct {
	in    *Input
	Begin int
	End   int
}

func (s Span) Input() *Input { return s.in }
func (s Span) Len() int      { return s.End - s.Begin }

// Text returns the matched slice of the source.
func (s Span) Text() string { return s.in.text[s.Begin:s.End] }

// Control is notified of every attempt to match a named rule, and carries
// the action invocation and global failure hooks. Which hooks a parser
// calls for a given rule is decided once, when the parser is built, never
// during matching. Implementations usually embed Normal and override the
// hooks they care about.
type Control interface {
	// Enabled reports whether lifecycle hooks fire for a rule at all.
	// It is consulted once per rule when the parser is built.
	Enabled(rule string) bool

	// Start fires before a rule's matcher runs. at is the cursor offset.
	Start(rule string, in *Input, at int, state ...any)

	// Success fires after a rule matched. at is the post-match offset.
	Success(rule string, in *Input, at int, state ...any)

	// Failure fires after a rule failed. The cursor has already been
	// restored, so at equals the offset Start observed.
	Failure(rule string, in *Input, at int, state ...any)

	// Raise reports an unrecoverable failure. It must not return: the
	// parser treats a Raise that returns as a contract violation and
	// panics. The conventional implementation panics with *ParseError.
	Raise(rule string, in *Input, at int, state ...any)

	// Apply forwards a successful match to an action handler that wants
	// the matched text, building the span from begin/end.
	Apply(rule string, fn ApplyFunc, in *Input, begin, end int, state ...any) error

	// Apply0 forwards a successful match to a zero-argument handler.
	Apply0(rule string, fn Apply0Func, state ...any) error
}

// Normal is the default control: lifecycle hooks are no-ops, actions are
// forwarded directly, and Raise panics with a *ParseError that the parse
// entry points recover and return.
type Normal struct{}

func (Normal) Enabled(rule string) bool                             { return true }
func (Normal) Start(rule string, in *Input, at int, state ...any)   {}
func (Normal) Success(rule string, in *Input, at int, state ...any) {}
func (Normal) Failure(rule string, in *Input, at int, state ...any) {}

func (Normal) Raise(rule string, in *Input, at int, state ...any) {
	panic(&ParseError{Rule: rule, Offset: at, Input: in})
}

func (Normal) Apply(rule string, fn ApplyFunc, in *Input, begin, end int, state ...any) error {
	return fn(Span{in: in, Begin: begin, End: end}, state...)
}

func (Normal) Apply0(rule string, fn Apply0Func, state ...any) error {
	return fn(state...)
}

// ParseError is the global failure raised by must rules, by Normal.Raise,
// and by action handlers returning an error. It unwinds past every pending
// hook call; the parse entry points recover exactly this type and return
// it. Any other panic value propagates uncaught.
type ParseError struct {
	Rule   string
	Offset int
	Input  *Input
	Err    error
}

func (e *ParseError) Error() string {
	name := e.Input.Name
	if name == "" {
		name = "<input>"
	}
	line, col := e.Input.Position(e.Offset)
	if e.Err != nil {
		return fmt.Sprintf("%v:%v:%v: %v (in %v)", name, line, col, e.Err, e.Rule)
	}
	return fmt.Sprintf("%v:%v:%v: expected %v", name, line, col, e.Rule)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Actions holds the per-rule semantic handlers bound to a parser. Rules
// without a handler simply match; Skip marks a rule as deliberately
// handler-free. The zero value is ready to use.
type Actions struct {
	handlers map[string]actionHandler
	errs     []error
}

type actionHandler struct {
	fn   ApplyFunc
	fn0  Apply0Func
	skip bool
}

func (a *Actions) set(rule string, h actionHandler) {
	if a.handlers == nil {
		a.handlers = make(map[string]actionHandler)
	}
	if _, ok := a.handlers[rule]; ok {
		a.errs = append(a.errs, fmt.Errorf("action for %q registered twice", rule))
		return
	}
	a.handlers[rule] = h
}

// Apply registers a handler that receives the matched span.
func (a *Actions) Apply(rule string, fn ApplyFunc) {
	if fn == nil {
		a.errs = append(a.errs, fmt.Errorf("nil action for %q", rule))
		return
	}
	a.set(rule, actionHandler{fn: fn})
}

// Apply0 registers a handler for a rule whose matched text is not needed.
// The parser dispatches it without taking a span.
func (a *Actions) Apply0(rule string, fn Apply0Func) {
	if fn == nil {
		a.errs = append(a.errs, fmt.Errorf("nil action for %q", rule))
		return
	}
	a.set(rule, actionHandler{fn0: fn})
}

// Skip marks a rule as intentionally having no action.
func (a *Actions) Skip(rule string) {
	a.set(rule, actionHandler{skip: true})
}

func (a *Actions) lookup(rule string) (actionHandler, bool) {
	if a == nil {
		return actionHandler{}, false
	}
	h, ok := a.handlers[rule]
	if !ok || h.skip {
		return actionHandler{}, false
	}
	return h, true
}

// check validates the registry against a grammar's rule set, so typos fail
// at parser construction rather than silently never firing.
func (a *Actions) check(g *Grammar) error {
	if a == nil {
		return nil
	}
	if len(a.errs) > 0 {
		return a.errs[0]
	}
	var missing []string
	for rule := range a.handlers {
		if _, ok := g.nameIdx[rule]; !ok {
			missing = append(missing, rule)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("actions bound to undefined rules: %v", missing)
	}
	return nil
}

// capability is what a rule/action/control triple supports. Probed once
// per rule at parser construction.
type capability struct {
	control bool // lifecycle hooks fire
	action  bool // an action runs on success
	apply0  bool // the action is the zero-argument form
}

// probe classifies one rule against an action set and control. applyMode
// is false inside lookahead, reject and disabled regions, where matches
// never run actions.
func probe(ctl Control, acts *Actions, rule string, applyMode bool) capability {
	c := capability{control: ctl.Enabled(rule)}
	if !c.control || !applyMode {
		return c
	}
	if h, ok := acts.lookup(rule); ok {
		c.action = true
		c.apply0 = h.fn0 != nil
	}
	return c
}

// dispatchMode encodes a capability triple as one value. Three bits give
// eight encodings; only four are coherent (an action needs control, apply0
// needs an action) and the selector rejects the rest at setup time.
type dispatchMode uint8

const (
	apply0Bit dispatchMode = 1 << iota
	actionBit
	controlBit
)

const (
	modeNothing       dispatchMode = 0
	modeControl       dispatchMode = controlBit
	modeControlApply  dispatchMode = controlBit | actionBit
	modeControlApply0 dispatchMode = controlBit | actionBit | apply0Bit
)

func (m dispatchMode) String() string {
	switch m {
	case modeNothing:
		return "nothing"
	case modeControl:
		return "control"
	case modeControlApply:
		return "control+apply"
	case modeControlApply0:
		return "control+apply0"
	}
	return fmt.Sprintf("invalid(%03b)", uint8(m))
}

// selectMode maps the probed capabilities to the dispatch mode used for
// every invocation of the rule.
func selectMode(c capability) (dispatchMode, error) {
	var m dispatchMode
	if c.control {
		m |= controlBit
	}
	if c.action {
		m |= actionBit
	}
	if c.apply0 {
		m |= apply0Bit
	}
	switch m {
	case modeNothing, modeControl, modeControlApply, modeControlApply0:
		return m, nil
	}
	return 0, fmt.Errorf("degenerate dispatch mode %03b (control=%v action=%v apply0=%v)",
		uint8(m), c.control, c.action, c.apply0)
}

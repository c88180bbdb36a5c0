// Package trace provides a parser control that logs every rule attempt
// through logrus. Attach it to a whole parser with peg.WithControl, or to
// one part of a grammar with Grammar.WithControl.
package trace

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tef/peg"
)

// Control logs rule starts, outcomes, action dispatches and raises. It
// embeds peg.Normal, so raises still unwind with *peg.ParseError and
// actions run unchanged after being logged.
//
// A Control tracks nesting depth for one parse at a time: use a fresh one
// per input when traces must line up.
type Control struct {
	peg.Normal

	log  *logrus.Logger
	omit map[string]bool

	depth  int
	begins []int
}

func New(log *logrus.Logger) *Control {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Control{log: log, omit: map[string]bool{}}
}

// Omit drops rules from the trace. Their hooks are compiled out of the
// parser, not filtered at runtime.
func (c *Control) Omit(rules ...string) *Control {
	for _, r := range rules {
		c.omit[r] = true
	}
	return c
}

func (c *Control) Enabled(rule string) bool {
	return !c.omit[rule]
}

func (c *Control) fields(rule string, in *peg.Input, at int) logrus.Fields {
	line, col := in.Position(at)
	return logrus.Fields{
		"rule":  rule,
		"pos":   fmt.Sprintf("%d:%d", line, col),
		"depth": c.depth,
	}
}

func (c *Control) push(at int) {
	c.depth += 1
	c.begins = append(c.begins, at)
}

func (c *Control) pop() int {
	if len(c.begins) == 0 {
		return 0
	}
	c.depth -= 1
	begin := c.begins[len(c.begins)-1]
	c.begins = c.begins[:len(c.begins)-1]
	return begin
}

func (c *Control) Start(rule string, in *peg.Input, at int, state ...any) {
	c.log.WithFields(c.fields(rule, in, at)).Debug("start")
	c.push(at)
}

func (c *Control) Success(rule string, in *peg.Input, at int, state ...any) {
	begin := c.pop()
	f := c.fields(rule, in, at)
	f["len"] = at - begin
	c.log.WithFields(f).Debug("success")
}

func (c *Control) Failure(rule string, in *peg.Input, at int, state ...any) {
	c.pop()
	c.log.WithFields(c.fields(rule, in, at)).Debug("failure")
}

func (c *Control) Raise(rule string, in *peg.Input, at int, state ...any) {
	c.log.WithFields(c.fields(rule, in, at)).Error("raise")
	c.Normal.Raise(rule, in, at, state...)
}

func (c *Control) Apply(rule string, fn peg.ApplyFunc, in *peg.Input, begin, end int, state ...any) error {
	f := c.fields(rule, in, begin)
	f["len"] = end - begin
	c.log.WithFields(f).Debug("apply")
	return c.Normal.Apply(rule, fn, in, begin, end, state...)
}

func (c *Control) Apply0(rule string, fn peg.Apply0Func, state ...any) error {
	c.log.WithFields(logrus.Fields{"rule": rule, "depth": c.depth}).Debug("apply0")
	return c.Normal.Apply0(rule, fn, state...)
}

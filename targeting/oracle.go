// Package targeting evaluates targeting expressions, written in a
// JEXL subset, against a client's targeting attributes.
//
// Expressions are translated to ECMAScript, compiled once, and run
// on Goja with a deadline.
package targeting

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Comcast/nimbus/core"
	jsvm "github.com/Comcast/nimbus/interpreters/goja"

	"github.com/dop251/goja"
)

// DefaultTimeout bounds an evaluation when the Oracle has no Timeout.
var DefaultTimeout = 500 * time.Millisecond

// Oracle implements core.Oracle.
type Oracle struct {
	// Timeout bounds each evaluation.
	Timeout time.Duration

	Logger *slog.Logger

	interpreter *jsvm.Interpreter
	transforms  []string

	sync.RWMutex
	programs map[string]*goja.Program
}

// NewOracle makes an Oracle whose event transforms query events,
// which can be nil.
func NewOracle(events EventQuerier) *Oracle {
	ts := Transforms(events)

	names := make([]string, 0, len(ts))
	fs := make(map[string]interface{}, len(ts))
	for name, f := range ts {
		names = append(names, name)
		fs[name] = f
	}
	sort.Strings(names)

	i := jsvm.NewInterpreter()
	i.LibraryProvider = jsvm.MakeMapLibraryProvider(map[string]string{
		PreludeLibrary: prelude,
	})
	i.Globals = map[string]interface{}{
		"__transforms": fs,
	}

	return &Oracle{
		interpreter: i,
		transforms:  names,
		programs:    make(map[string]*goja.Program),
	}
}

func (o *Oracle) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.Default()
	}
	return o.Logger
}

// source is the function body that evaluates the translated
// expression.
func source(js string) jsvm.Source {
	return jsvm.Source{
		Code:     "var __ctx = JSON.parse(_.context);\nreturn " + js + ";",
		Requires: []string{PreludeLibrary},
	}
}

// Validate reports whether expr would compile, without running it.
func (o *Oracle) Validate(expr string) error {
	js, err := Translate(expr, o.transforms)
	if err != nil {
		return err
	}
	return jsvm.Check(source(js).Code)
}

func (o *Oracle) compile(ctx context.Context, expr string) (*goja.Program, error) {
	o.RLock()
	p, have := o.programs[expr]
	o.RUnlock()
	if have {
		return p, nil
	}

	js, err := Translate(expr, o.transforms)
	if err != nil {
		return nil, err
	}
	if p, err = o.interpreter.Compile(ctx, source(js)); err != nil {
		return nil, err
	}

	o.Lock()
	o.programs[expr] = p
	o.Unlock()

	o.logger().Debug("compiled targeting expression", "expr", expr, "js", js)
	return p, nil
}

// Evaluate implements core.Oracle.  Results other than booleans are
// errors.
func (o *Oracle) Evaluate(ctx context.Context, expr string, attrs *core.TargetingAttributes) (bool, error) {
	x, err := o.EvaluateValue(ctx, expr, attrs, nil)
	if err != nil {
		return false, err
	}
	b, is := x.(bool)
	if !is {
		return false, &core.EvaluationError{Expr: expr, Err: core.ErrNotBoolean}
	}
	return b, nil
}

// EvaluateValue returns whatever expr computes.  Properties of extra
// are added to the context, replacing those of attrs.
func (o *Oracle) EvaluateValue(ctx context.Context, expr string, attrs *core.TargetingAttributes, extra map[string]interface{}) (interface{}, error) {
	var c map[string]interface{}
	if attrs != nil {
		var err error
		if c, err = attrs.Context(); err != nil {
			return nil, &core.EvaluationError{Expr: expr, Err: err}
		}
	} else {
		c = make(map[string]interface{}, len(extra))
	}
	for k, v := range extra {
		c[k] = v
	}
	return o.EvaluateContext(ctx, expr, c)
}

// EvaluateContext evaluates expr against an arbitrary context.
func (o *Oracle) EvaluateContext(ctx context.Context, expr string, c map[string]interface{}) (interface{}, error) {
	p, err := o.compile(ctx, expr)
	if err != nil {
		return nil, &core.EvaluationError{Expr: expr, Err: err}
	}

	js, err := json.Marshal(c)
	if err != nil {
		return nil, &core.EvaluationError{Expr: expr, Err: err}
	}

	timeout := o.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	x, err := o.interpreter.Exec(ctx, map[string]interface{}{"context": string(js)}, p)
	if err != nil {
		return nil, &core.EvaluationError{Expr: expr, Err: err}
	}
	if x, err = core.Canonicalize(x); err != nil {
		return nil, &core.EvaluationError{Expr: expr, Err: err}
	}
	return x, nil
}

// Helper evaluates expressions against a fixed set of attributes.
type Helper struct {
	Oracle     *Oracle
	Attributes *core.TargetingAttributes
	Extra      map[string]interface{}
}

// EvalJEXL evaluates a boolean expression.
func (h *Helper) EvalJEXL(ctx context.Context, expr string) (bool, error) {
	x, err := h.Oracle.EvaluateValue(ctx, expr, h.Attributes, h.Extra)
	if err != nil {
		return false, err
	}
	b, is := x.(bool)
	if !is {
		return false, &core.EvaluationError{Expr: expr, Err: core.ErrNotBoolean}
	}
	return b, nil
}

// EvalValue evaluates any expression.
func (h *Helper) EvalValue(ctx context.Context, expr string) (interface{}, error) {
	return h.Oracle.EvaluateValue(ctx, expr, h.Attributes, h.Extra)
}

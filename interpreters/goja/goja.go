/* Copyright 2018 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package goja runs small ECMAScript programs on Goja with a
// deadline.  Targeting expressions are translated to ECMAScript and
// executed here.
package goja

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"
	"github.com/dop251/goja/parser"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned by Exec if the execution is
	// interrupted.
	Interrupted = errors.New(InterruptedMessage)
)

// LibraryProvider resolves a library name into ECMAScript source.
type LibraryProvider func(ctx context.Context, i *Interpreter, libraryName string) (string, error)

// Interpreter compiles and executes ECMAScript using Goja, which is
// a Go implementation of ECMAScript 5.1+.
//
// See https://github.com/dop251/goja.
type Interpreter struct {
	// LibraryProvider resolves the names in a source's
	// "requires".
	LibraryProvider LibraryProvider

	// Globals are set on every runtime before execution.
	Globals map[string]interface{}
}

// NewInterpreter makes a new Interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// ProvideLibrary resolves the library name into a library.
func (i *Interpreter) ProvideLibrary(ctx context.Context, name string) (string, error) {
	if i.LibraryProvider == nil {
		return "", fmt.Errorf("no provider for library '%s'", name)
	}
	return i.LibraryProvider(ctx, i, name)
}

// MakeMapLibraryProvider serves libraries from a map.
func MakeMapLibraryProvider(srcs map[string]string) LibraryProvider {
	return func(ctx context.Context, i *Interpreter, name string) (string, error) {
		src, have := srcs[name]
		if !have {
			return "", fmt.Errorf("undefined library '%s'", name)
		}
		return src, nil
	}
}

func wrapSrc(src string) string {
	return fmt.Sprintf("(function() {\n%s\n}());\n", src)
}

// Source is code plus the names of the libraries it requires.
type Source struct {
	Code     string
	Requires []string
}

// AsSource accepts a string or a Source.
func AsSource(x interface{}) (Source, error) {
	switch vv := x.(type) {
	case string:
		return Source{Code: vv}, nil
	case Source:
		return vv, nil
	case *Source:
		return *vv, nil
	default:
		return Source{}, fmt.Errorf("bad Goja source (%T)", x)
	}
}

// Check parses the code without compiling or running it.
func Check(code string) error {
	_, err := parser.ParseFile(nil, "", wrapSrc(code), 0)
	return err
}

// Compile prepends the required libraries to the wrapped code and
// compiles the result.  The code runs as a function body, so it
// should "return" its value.
//
// This method can block if the interpreter's LibraryProvider blocks.
func (i *Interpreter) Compile(ctx context.Context, x interface{}) (*goja.Program, error) {
	src, err := AsSource(x)
	if err != nil {
		return nil, err
	}

	code := wrapSrc(src.Code)

	var libsSrc string
	for _, lib := range src.Requires {
		libSrc, err := i.ProvideLibrary(ctx, lib)
		if err != nil {
			return nil, err
		}
		libsSrc += libSrc + "\n"
	}

	code = libsSrc + code

	p, err := goja.Compile("", code, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, src.Code)
	}

	return p, nil
}

// Exec runs the program with env available at "_" and returns the
// exported result.
//
// Execution is interrupted when ctx is done, in which case the error
// is Interrupted.
func (i *Interpreter) Exec(ctx context.Context, env map[string]interface{}, p *goja.Program) (interface{}, error) {
	if p == nil {
		return nil, errors.New("nil program")
	}
	if ctx.Err() != nil {
		return nil, Interrupted
	}

	o := goja.New()
	for k, v := range i.Globals {
		if err := o.Set(k, v); err != nil {
			return nil, err
		}
	}
	if env == nil {
		env = map[string]interface{}{}
	}
	if err := o.Set("_", env); err != nil {
		return nil, err
	}

	// We want to make sure that the following goroutine is
	// terminated as soon as possible.
	ictx, cancel := context.WithCancel(ctx)
	go func() {
		<-ictx.Done()
		// If Exec calls cancel() after RunProgram returns,
		// the interrupt is harmless: the runtime is done.
		o.Interrupt(InterruptedMessage)
	}()

	v, err := o.RunProgram(p)
	cancel()

	if err != nil {
		var ie *goja.InterruptedError
		if errors.As(err, &ie) {
			return nil, Interrupted
		}
		return nil, unwrapException(err)
	}

	if v == nil {
		return nil, nil
	}
	return v.Export(), nil
}

// unwrapException returns the Go error behind an exception thrown by
// a Go function, or err itself.
func unwrapException(err error) error {
	var ex *goja.Exception
	if !errors.As(err, &ex) {
		return err
	}
	obj, is := ex.Value().(*goja.Object)
	if !is {
		return err
	}
	v := obj.Get("value")
	if v == nil {
		return err
	}
	if goErr, is := v.Export().(error); is {
		return goErr
	}
	return err
}

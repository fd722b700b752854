package goja

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExecSimple(t *testing.T) {
	code := `return {likes:"chips"};`

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	i := NewInterpreter()
	p, err := i.Compile(ctx, code)
	if err != nil {
		t.Fatal(err)
	}

	x, err := i.Exec(ctx, nil, p)
	if err != nil {
		t.Fatal(err)
	}
	m, is := x.(map[string]interface{})
	if !is {
		t.Fatalf("%#v is a %T, not a %T", x, x, m)
	}
	if s, _ := m["likes"].(string); s != "chips" {
		t.Fatalf("didn't want %#v", m["likes"])
	}
}

func TestExecEnv(t *testing.T) {
	code := `return _.app_name == "fenix" && _.days > 3;`
	env := map[string]interface{}{
		"app_name": "fenix",
		"days":     4,
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	i := NewInterpreter()
	p, err := i.Compile(ctx, code)
	if err != nil {
		t.Fatal(err)
	}

	x, err := i.Exec(ctx, env, p)
	if err != nil {
		t.Fatal(err)
	}
	if b, is := x.(bool); !is || !b {
		t.Fatalf("got %#v", x)
	}
}

func TestExecGlobals(t *testing.T) {
	i := NewInterpreter()
	i.Globals = map[string]interface{}{
		"twice": func(n int) int { return 2 * n },
	}

	ctx := context.Background()
	p, err := i.Compile(ctx, `return twice(21);`)
	if err != nil {
		t.Fatal(err)
	}
	x, err := i.Exec(ctx, nil, p)
	if err != nil {
		t.Fatal(err)
	}
	if n, is := x.(int64); !is || n != 42 {
		t.Fatalf("got %#v (%T)", x, x)
	}
}

func TestExecTimeout(t *testing.T) {
	code := `for (;;) { } return null;`

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	i := NewInterpreter()
	p, err := i.Compile(ctx, code)
	if err != nil {
		t.Fatal(err)
	}

	if _, err = i.Exec(ctx, nil, p); err == nil {
		t.Fatal("didn't timeout")
	}
	if err != Interrupted {
		t.Fatalf("surprised by \"%s\"", err)
	}
}

func TestExecError(t *testing.T) {
	code := `return likes + tacos;`

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	i := NewInterpreter()
	p, err := i.Compile(ctx, code)
	if err != nil {
		t.Fatal(err)
	}

	if _, err = i.Exec(ctx, nil, p); err == nil {
		t.Fatal("didn't protest")
	}
}

func TestCompileError(t *testing.T) {
	i := NewInterpreter()
	if _, err := i.Compile(context.Background(), `return (1 +;`); err == nil {
		t.Fatal("didn't protest")
	}
	if err := Check(`return (1 +;`); err == nil {
		t.Fatal("Check didn't protest")
	}
	if err := Check(`return 1 + 2;`); err != nil {
		t.Fatal(err)
	}
}

func TestRequireMap(t *testing.T) {
	code := Source{
		Code:     `return foo() + bar();`,
		Requires: []string{"foo", "bar"},
	}

	i := NewInterpreter()
	i.LibraryProvider = MakeMapLibraryProvider(map[string]string{
		"foo": `function foo() { return "chips"; }`,
		"bar": `function bar() { return " and queso"; }`,
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	p, err := i.Compile(ctx, code)
	if err != nil {
		t.Fatal(err)
	}

	x, err := i.Exec(ctx, nil, p)
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := x.(string); s != "chips and queso" {
		t.Fatalf("didn't want %#v", x)
	}
}

func TestRequireMissing(t *testing.T) {
	i := NewInterpreter()
	i.LibraryProvider = MakeMapLibraryProvider(map[string]string{})

	src := Source{Code: `return 1;`, Requires: []string{"nope"}}
	if _, err := i.Compile(context.Background(), src); err == nil {
		t.Fatal("didn't protest")
	}
}

func TestAsSource(t *testing.T) {
	src, err := AsSource(&Source{Code: "return 1;", Requires: []string{"foo"}})
	if err != nil {
		t.Fatal(err)
	}
	if src.Code != "return 1;" || len(src.Requires) != 1 || src.Requires[0] != "foo" {
		t.Fatalf("got %#v", src)
	}

	for _, x := range []interface{}{42, map[string]interface{}{"code": "return 1;"}} {
		if _, err = AsSource(x); err == nil {
			t.Fatalf("didn't protest about %T", x)
		}
	}
}

func TestNoLibraryProvider(t *testing.T) {
	src := Source{Code: `return 1;`, Requires: []string{"lib"}}
	if _, err := NewInterpreter().Compile(context.Background(), src); err == nil {
		t.Fatal("didn't protest")
	}
}

func benchmarkExec(b *testing.B, env map[string]interface{}) {
	ctx := context.Background()
	i := NewInterpreter()
	p, err := i.Compile(ctx, `return _.days_since_install >= 7 && _.channel == "release";`)
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()

	for n := 0; n < b.N; n++ {
		if _, err := i.Exec(ctx, env, p); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExec(b *testing.B) {
	benchmarkExec(b, map[string]interface{}{
		"days_since_install": 10,
		"channel":            "release",
	})
}

func TestExecGoError(t *testing.T) {
	bad := errors.New("bad tacos")
	i := NewInterpreter()
	i.Globals = map[string]interface{}{
		"eat": func() (string, error) { return "", bad },
	}

	ctx := context.Background()
	p, err := i.Compile(ctx, `return eat();`)
	if err != nil {
		t.Fatal(err)
	}
	if _, err = i.Exec(ctx, nil, p); !errors.Is(err, bad) {
		t.Fatalf("surprised by %v", err)
	}
}

func TestExecCancelled(t *testing.T) {
	i := NewInterpreter()
	ctx, cancel := context.WithCancel(context.Background())
	p, err := i.Compile(ctx, `return 1;`)
	if err != nil {
		t.Fatal(err)
	}
	cancel()
	if _, err = i.Exec(ctx, nil, p); err != Interrupted {
		t.Fatalf("surprised by %v", err)
	}
}

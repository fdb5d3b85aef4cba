// Package lua evaluates user-supplied Lua expressions that decide which moods a cycler keeps.
//
// A filter is a single expression evaluated once per mood with the globals
// id, name and zone bound to that mood, e.g.
//
//	not name:find("Off") and name ~= "Night"
package lua

import (
	"context"
	"fmt"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/dokzlo13/moodcycler/internal/host"
)

// DefaultTimeout bounds a single Apply call
const DefaultTimeout = time.Second

// Filter is a compiled mood filter expression. It is safe for concurrent use:
// every Apply call runs on its own Lua state.
type Filter struct {
	source  string
	proto   *lua.FunctionProto
	timeout time.Duration
}

// Compile parses a filter expression. An empty expression yields a nil filter
// which keeps every mood.
func Compile(expr string) (*Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, nil
	}

	chunk, err := parse.Parse(strings.NewReader("return ("+expr+")"), "filter")
	if err != nil {
		return nil, fmt.Errorf("invalid mood filter %q: %w", expr, err)
	}

	proto, err := lua.Compile(chunk, "filter")
	if err != nil {
		return nil, fmt.Errorf("invalid mood filter %q: %w", expr, err)
	}

	return &Filter{source: expr, proto: proto, timeout: DefaultTimeout}, nil
}

// String returns the filter source
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.source
}

// Apply returns the moods for which the expression is truthy, keeping their order.
func (f *Filter) Apply(ctx context.Context, moods []host.Mood) ([]host.Mood, error) {
	if f == nil {
		return moods, nil
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	L := newSandbox()
	defer L.Close()
	L.SetContext(ctx)

	fn := L.NewFunctionFromProto(f.proto)

	kept := make([]host.Mood, 0, len(moods))
	for _, m := range moods {
		L.SetGlobal("id", lua.LString(m.ID))
		L.SetGlobal("name", lua.LString(m.Name))
		L.SetGlobal("zone", lua.LString(m.Zone))

		L.Push(fn)
		if err := L.PCall(0, 1, nil); err != nil {
			return nil, fmt.Errorf("mood filter failed on %q: %w", m.Name, err)
		}
		ret := L.Get(-1)
		L.Pop(1)

		if lua.LVAsBool(ret) {
			kept = append(kept, m)
		}
	}

	return kept, nil
}

// newSandbox opens only the side-effect free standard libraries.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	// Base also registers loaders that reach the filesystem
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// Package script runs user-supplied Lua readiness policies.
//
// A policy script defines a global function ready(batch) that receives a table
// describing an open batch and returns true when the batch should be drained:
//
//	function ready(batch)
//	  return batch.idle_ms >= 3000 or batch.count >= 10
//	end
//
// The batch table has the fields session, count, first_ms, last_ms, now_ms,
// age_ms and idle_ms. Times are epoch milliseconds, durations milliseconds.
// A log module with debug, info and warn functions is preloaded.
package script

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/imagebatch/internal/batch"
)

// ReadyFunc is the name of the global function a policy script must define.
const ReadyFunc = "ready"

// Policy evaluates a Lua readiness function. Calls are serialised because
// an LState is not safe for concurrent use.
type Policy struct {
	mu    sync.Mutex
	L     *lua.LState
	ready *lua.LFunction
	name  string
}

// Load reads a policy script from disk.
func Load(path string) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy script: %w", err)
	}
	return LoadString(path, string(src))
}

// LoadString compiles a policy from source. name is used in logs and errors.
func LoadString(name, src string) (*Policy, error) {
	L := lua.NewState()
	L.PreloadModule("log", logLoader)

	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load policy %s: %w", name, err)
	}

	fn, ok := L.GetGlobal(ReadyFunc).(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("policy %s does not define a %s(batch) function", name, ReadyFunc)
	}

	log.Debug().Str("script", name).Msg("Loaded readiness policy")

	return &Policy{L: L, ready: fn, name: name}, nil
}

// Ready calls the script's ready function for an open batch.
func (p *Policy) Ready(s batch.Stats, now time.Time) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	L := p.L
	tbl := L.NewTable()
	L.SetField(tbl, "session", lua.LString(s.Session))
	L.SetField(tbl, "count", lua.LNumber(s.Count))
	L.SetField(tbl, "first_ms", lua.LNumber(s.FirstArrival.UnixMilli()))
	L.SetField(tbl, "last_ms", lua.LNumber(s.LastArrival.UnixMilli()))
	L.SetField(tbl, "now_ms", lua.LNumber(now.UnixMilli()))
	L.SetField(tbl, "age_ms", lua.LNumber(s.Age(now).Milliseconds()))
	L.SetField(tbl, "idle_ms", lua.LNumber(s.Idle(now).Milliseconds()))

	if err := L.CallByParam(lua.P{Fn: p.ready, NRet: 1, Protect: true}, tbl); err != nil {
		return false, fmt.Errorf("policy %s failed: %w", p.name, err)
	}

	result := L.Get(-1)
	L.Pop(1)

	return lua.LVAsBool(result), nil
}

// Close releases the Lua state.
func (p *Policy) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.L.Close()
}

// logLoader exposes zerolog to scripts as require("log")
func logLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(func(L *lua.LState) int {
		log.Debug().Str("source", "lua").Msg(L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "info", L.NewFunction(func(L *lua.LState) int {
		log.Info().Str("source", "lua").Msg(L.CheckString(1))
		return 0
	}))
	L.SetField(mod, "warn", L.NewFunction(func(L *lua.LState) int {
		log.Warn().Str("source", "lua").Msg(L.CheckString(1))
		return 0
	}))
	L.Push(mod)
	return 1
}

package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cormorant-games/skirmish/internal/game/dice"
)

// defaultRulesetID is the reserved key for shared scripts loaded via
// LoadDefault. CallHook falls back to this VM when no ruleset VM is found.
const defaultRulesetID = "__default__"

// Manager owns one sandboxed LState per ruleset and exposes hook dispatch.
//
// Manager is safe for concurrent CallHook after all LoadRuleset calls
// complete. Each ruleset's LState is single-threaded; the mutex serialises
// concurrent calls.
type Manager struct {
	mu      sync.Mutex
	states  map[string]*lua.LState
	cancels map[string]func()
	src     dice.Source
	logger  *zap.Logger
}

// NewManager creates a Manager.
//
// Precondition: src and logger must be non-nil.
// Postcondition: Returns a non-nil Manager with an empty ruleset map.
func NewManager(src dice.Source, logger *zap.Logger) *Manager {
	return &Manager{
		states:  make(map[string]*lua.LState),
		cancels: make(map[string]func()),
		src:     src,
		logger:  logger,
	}
}

// LoadRuleset creates a sandboxed VM for rulesetID, registers the engine.*
// modules, then executes every *.lua file in scriptDir in lexicographic
// order.
//
// Precondition: rulesetID must be non-empty; scriptDir must be a readable
// directory.
// Postcondition: Ruleset VM is registered; returns error on Lua load failure.
func (m *Manager) LoadRuleset(rulesetID, scriptDir string, instLimit int) error {
	return m.loadInto(rulesetID, scriptDir, instLimit)
}

// LoadDefault creates the fallback VM used when no ruleset VM exists.
//
// Precondition: scriptDir must be a readable directory.
// Postcondition: Default VM is registered; returns error on Lua load failure.
func (m *Manager) LoadDefault(scriptDir string, instLimit int) error {
	return m.loadInto(defaultRulesetID, scriptDir, instLimit)
}

func (m *Manager) loadInto(key, scriptDir string, instLimit int) error {
	L, cancel := NewSandboxedState(instLimit)
	m.registerModules(L)

	entries, err := os.ReadDir(scriptDir)
	if err != nil {
		cancel()
		L.Close()
		return fmt.Errorf("scripting: reading script dir %q for %q: %w", scriptDir, key, err)
	}

	var luaFiles []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".lua" {
			luaFiles = append(luaFiles, filepath.Join(scriptDir, e.Name()))
		}
	}
	sort.Strings(luaFiles)

	for _, path := range luaFiles {
		if err := L.DoFile(path); err != nil {
			cancel()
			L.Close()
			return fmt.Errorf("scripting: loading %q for %q: %w", path, key, err)
		}
	}

	m.mu.Lock()
	if old, ok := m.states[key]; ok {
		if oldCancel := m.cancels[key]; oldCancel != nil {
			oldCancel()
		}
		old.Close()
	}
	m.states[key] = L
	m.cancels[key] = cancel
	m.mu.Unlock()
	return nil
}

// HasHook reports whether the named Lua global function exists in the
// ruleset's VM or the default VM.
func (m *Manager) HasHook(rulesetID, hook string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	L, ok := m.states[rulesetID]
	if !ok {
		L = m.states[defaultRulesetID]
	}
	if L == nil {
		return false
	}
	return L.GetGlobal(hook) != lua.LNil
}

// CallHook calls the named Lua global function in rulesetID's VM. If the
// ruleset has no VM, the default VM is tried as a fallback. Returns
// (LNil, nil) if the hook is not defined or no VM exists. Lua runtime
// errors are logged at Warn level and never propagated.
//
// Precondition: args must be valid lua.LValue instances.
// Postcondition: Returns the first return value of the hook, or LNil.
func (m *Manager) CallHook(rulesetID, hook string, args ...lua.LValue) (lua.LValue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	L, ok := m.states[rulesetID]
	if !ok {
		L = m.states[defaultRulesetID]
	}
	if L == nil {
		return lua.LNil, nil
	}

	fn := L.GetGlobal(hook)
	if fn == lua.LNil {
		return lua.LNil, nil
	}

	if err := L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, args...); err != nil {
		m.logger.Warn("scripting: Lua runtime error",
			zap.String("ruleset", rulesetID),
			zap.String("hook", hook),
			zap.Error(err),
		)
		return lua.LNil, nil
	}

	ret := L.Get(-1)
	L.Pop(1)
	return ret, nil
}

// Close releases all VM resources.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, L := range m.states {
		if cancel := m.cancels[key]; cancel != nil {
			cancel()
		}
		L.Close()
	}
	m.states = make(map[string]*lua.LState)
	m.cancels = make(map[string]func())
}

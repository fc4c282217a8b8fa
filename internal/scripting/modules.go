package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/cormorant-games/skirmish/internal/game/dice"
)

// registerModules installs the engine.* table into L. Scripts use it for
// dice rolls and structured logging; nothing else of the host is exposed.
func (m *Manager) registerModules(L *lua.LState) {
	engine := L.NewTable()

	L.SetField(engine, "roll", L.NewFunction(func(ls *lua.LState) int {
		expr := ls.CheckString(1)
		total, err := dice.Roll(expr, m.src)
		if err != nil {
			ls.RaiseError("roll: %s", err.Error())
			return 0
		}
		ls.Push(lua.LNumber(total))
		return 1
	}))

	L.SetField(engine, "rand", L.NewFunction(func(ls *lua.LState) int {
		n := ls.CheckInt(1)
		if n <= 0 {
			ls.RaiseError("rand: n must be positive, got %d", n)
			return 0
		}
		ls.Push(lua.LNumber(m.src.Intn(n) + 1))
		return 1
	}))

	L.SetField(engine, "log_info", L.NewFunction(func(ls *lua.LState) int {
		m.logger.Info("lua", zap.String("message", ls.CheckString(1)))
		return 0
	}))

	L.SetField(engine, "log_debug", L.NewFunction(func(ls *lua.LState) int {
		m.logger.Debug("lua", zap.String("message", ls.CheckString(1)))
		return 0
	}))

	L.SetGlobal("engine", engine)
}

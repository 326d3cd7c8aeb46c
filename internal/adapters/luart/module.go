package luart

import (
	"context"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/felixgeelhaar/lokus/internal/domain/api"
	"github.com/felixgeelhaar/lokus/internal/domain/command"
	"github.com/felixgeelhaar/lokus/internal/domain/plugin"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

// install builds the lokus module, sets it as a global and returns it.
// Functions that reach the host raise "Plugin API not available" until the
// plugin is initialized. Data functions return value, nil or nil, message;
// registration functions raise on failure.
func (p *Plugin) install(L *lua.LState, entry *plugin.Entry) *lua.LTable {
	mod := L.NewTable()
	L.SetField(mod, "id", lua.LString(entry.ID))
	L.SetField(mod, "version", lua.LString(entry.Manifest.Version))

	L.SetField(mod, "log", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"debug": p.logAt(ports.LevelDebug),
		"info":  p.logAt(ports.LevelInfo),
		"warn":  p.logAt(ports.LevelWarn),
		"error": p.logAt(ports.LevelError),
	}))
	L.SetGlobal("print", L.NewFunction(p.logAt(ports.LevelInfo)))

	L.SetField(mod, "commands", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"register":   p.registerCommand,
		"unregister": p.unregisterCommand,
		"execute":    p.executeCommand,
	}))

	L.SetField(mod, "notify", L.NewFunction(p.notify))

	L.SetField(mod, "settings", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get": p.settingsGet,
		"set": p.settingsSet,
	}))
	L.SetField(mod, "storage", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"get":    p.storageGet,
		"set":    p.storageSet,
		"delete": p.storageDelete,
		"keys":   p.storageKeys,
	}))

	L.SetField(mod, "fs", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"read":   p.fsRead,
		"write":  p.fsWrite,
		"exists": p.fsExists,
		"list":   p.fsList,
		"mkdir":  p.fsMkdir,
	}))

	L.SetField(mod, "editor", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"content":           p.editorContent,
		"set_content":       p.editorSetContent,
		"insert":            p.editorInsert,
		"selection":         p.editorSelection,
		"replace_selection": p.editorReplaceSelection,
	}))

	L.SetField(mod, "events", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"on":   p.eventsOn,
		"emit": p.eventsEmit,
	}))

	L.SetField(mod, "ui", L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"panel":      p.uiPanel,
		"status":     p.uiStatus,
		"set_status": p.uiSetStatus,
	}))

	L.SetGlobal("lokus", mod)
	return mod
}

// result pushes v, or nil and the error message.
func result(L *lua.LState, v lua.LValue, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(v)
	return 1
}

func joinArgs(L *lua.LState, from int) string {
	parts := make([]string, 0, L.GetTop())
	for i := from; i <= L.GetTop(); i++ {
		parts = append(parts, L.ToStringMeta(L.Get(i)).String())
	}
	return strings.Join(parts, " ")
}

func varargs(L *lua.LState, from int) []any {
	var args []any
	for i := from; i <= L.GetTop(); i++ {
		args = append(args, toGo(L.Get(i)))
	}
	return args
}

func field(t *lua.LTable, name string) string {
	return lua.LVAsString(t.RawGetString(name))
}

func (p *Plugin) logAt(level ports.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		ctx, msg := callContext(L), joinArgs(L, 1)
		switch level {
		case ports.LevelDebug:
			p.logger.Debug(ctx, msg)
		case ports.LevelWarn:
			p.logger.Warn(ctx, msg)
		case ports.LevelError:
			p.logger.Error(ctx, msg)
		default:
			p.logger.Info(ctx, msg)
		}
		return 0
	}
}

func (p *Plugin) registerCommand(L *lua.LState) int {
	spec := L.CheckTable(1)
	handler, ok := spec.RawGetString("handler").(*lua.LFunction)
	if !ok {
		L.ArgError(1, "handler function is required")
		return 0
	}
	p.hostAPI(L)
	cmd := command.Command{
		ID:          field(spec, "id"),
		Title:       field(spec, "title"),
		Description: field(spec, "description"),
		Category:    field(spec, "category"),
		Icon:        field(spec, "icon"),
		Keybinding:  field(spec, "keybinding"),
		Handler: func(ctx context.Context, args ...any) (any, error) {
			return p.state.call(ctx, handler, args...)
		},
	}
	reg, err := p.RegisterCommand(cmd)
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(lua.LString(reg.ID))
	return 1
}

func (p *Plugin) unregisterCommand(L *lua.LState) int {
	id := L.CheckString(1)
	L.Push(lua.LBool(p.hostAPI(L).UnregisterCommand(id)))
	return 1
}

// executeCommand runs asynchronously; the script gets no result.
func (p *Plugin) executeCommand(L *lua.LState) int {
	id := L.CheckString(1)
	args := varargs(L, 2)
	a := p.hostAPI(L)
	p.dispatch(func() {
		if _, err := a.ExecuteCommand(context.Background(), id, args...); err != nil {
			p.logger.Warn(context.Background(), "lua command execution failed", ports.F("command", id), ports.Err(err))
		}
	})
	return 0
}

func (p *Plugin) notify(L *lua.LState) int {
	msg := L.CheckString(1)
	kind := api.NotificationType(L.OptString(2, string(api.NotifyInfo)))
	id, err := p.hostAPI(L).ShowNotification(api.Notification{Message: msg, Type: kind})
	return result(L, lua.LString(id), err)
}

func (p *Plugin) settingsGet(L *lua.LState) int {
	v, err := p.hostAPI(L).GetSetting(callContext(L), L.CheckString(1))
	return result(L, toLua(L, v), err)
}

func (p *Plugin) settingsSet(L *lua.LState) int {
	key := L.CheckString(1)
	err := p.hostAPI(L).SetSetting(callContext(L), key, toGo(L.Get(2)))
	return result(L, lua.LTrue, err)
}

func (p *Plugin) storageGet(L *lua.LState) int {
	v, err := p.hostAPI(L).StorageGet(callContext(L), L.CheckString(1))
	return result(L, toLua(L, v), err)
}

func (p *Plugin) storageSet(L *lua.LState) int {
	key := L.CheckString(1)
	err := p.hostAPI(L).StorageSet(callContext(L), key, toGo(L.Get(2)))
	return result(L, lua.LTrue, err)
}

func (p *Plugin) storageDelete(L *lua.LState) int {
	err := p.hostAPI(L).StorageDelete(callContext(L), L.CheckString(1))
	return result(L, lua.LTrue, err)
}

func (p *Plugin) storageKeys(L *lua.LState) int {
	keys, err := p.hostAPI(L).StorageKeys(callContext(L))
	return result(L, toLua(L, keys), err)
}

func (p *Plugin) fsRead(L *lua.LState) int {
	data, err := p.hostAPI(L).ReadFile(callContext(L), L.CheckString(1))
	return result(L, lua.LString(data), err)
}

func (p *Plugin) fsWrite(L *lua.LState) int {
	path := L.CheckString(1)
	content := L.CheckString(2)
	err := p.hostAPI(L).WriteFile(callContext(L), path, []byte(content))
	return result(L, lua.LTrue, err)
}

func (p *Plugin) fsExists(L *lua.LState) int {
	ok, err := p.hostAPI(L).FileExists(callContext(L), L.CheckString(1))
	return result(L, lua.LBool(ok), err)
}

func (p *Plugin) fsList(L *lua.LState) int {
	names, err := p.hostAPI(L).ListDirectory(callContext(L), L.CheckString(1))
	return result(L, toLua(L, names), err)
}

func (p *Plugin) fsMkdir(L *lua.LState) int {
	err := p.hostAPI(L).CreateDirectory(callContext(L), L.CheckString(1))
	return result(L, lua.LTrue, err)
}

func (p *Plugin) editorContent(L *lua.LState) int {
	content, err := p.hostAPI(L).GetEditorContent(callContext(L))
	return result(L, lua.LString(content), err)
}

func (p *Plugin) editorSetContent(L *lua.LState) int {
	err := p.hostAPI(L).SetEditorContent(callContext(L), L.CheckString(1))
	return result(L, lua.LTrue, err)
}

func (p *Plugin) editorInsert(L *lua.LState) int {
	err := p.hostAPI(L).InsertText(callContext(L), L.CheckString(1))
	return result(L, lua.LTrue, err)
}

func (p *Plugin) editorSelection(L *lua.LState) int {
	sel, err := p.hostAPI(L).GetSelection(callContext(L))
	if err != nil {
		return result(L, lua.LNil, err)
	}
	t := L.NewTable()
	t.RawSetString("from", lua.LNumber(sel.From))
	t.RawSetString("to", lua.LNumber(sel.To))
	t.RawSetString("text", lua.LString(sel.Text))
	return result(L, t, nil)
}

func (p *Plugin) editorReplaceSelection(L *lua.LState) int {
	err := p.hostAPI(L).ReplaceSelection(callContext(L), L.CheckString(1))
	return result(L, lua.LTrue, err)
}

// eventsOn subscribes fn to a plugin event. fn runs on its own goroutine
// with (data, source).
func (p *Plugin) eventsOn(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	p.hostAPI(L)
	reg, err := p.OnPluginEvent(name, func(data any, source string) {
		p.dispatch(func() { p.invoke("event listener "+name, fn, data, source) })
	})
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(lua.LString(reg.ID))
	return 1
}

func (p *Plugin) eventsEmit(L *lua.LState) int {
	name := L.CheckString(1)
	err := p.hostAPI(L).Emit(name, toGo(L.Get(2)))
	return result(L, lua.LTrue, err)
}

func (p *Plugin) uiPanel(L *lua.LState) int {
	spec := L.CheckTable(1)
	p.hostAPI(L)
	reg, err := p.RegisterPanel(api.Panel{
		ID:       field(spec, "id"),
		Title:    field(spec, "title"),
		Icon:     field(spec, "icon"),
		Location: field(spec, "location"),
	})
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(lua.LString(reg.ID))
	return 1
}

func (p *Plugin) uiStatus(L *lua.LState) int {
	spec := L.CheckTable(1)
	p.hostAPI(L)
	reg, err := p.RegisterStatusBarItem(api.StatusBarItem{
		ID:        field(spec, "id"),
		Text:      field(spec, "text"),
		Tooltip:   field(spec, "tooltip"),
		Command:   field(spec, "command"),
		Alignment: field(spec, "alignment"),
		Priority:  int(lua.LVAsNumber(spec.RawGetString("priority"))),
	})
	if err != nil {
		L.RaiseError("%s", err.Error())
		return 0
	}
	L.Push(lua.LString(reg.ID))
	return 1
}

func (p *Plugin) uiSetStatus(L *lua.LState) int {
	err := p.hostAPI(L).UpdateStatusBarItem(L.CheckString(1), L.CheckString(2))
	return result(L, lua.LTrue, err)
}

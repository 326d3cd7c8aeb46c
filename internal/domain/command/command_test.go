package command

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/lokus/internal/domain/event"
)

func okHandler(result any) Handler {
	return func(context.Context, ...any) (any, error) { return result, nil }
}

func collect(t *testing.T, bus *event.Bus, kind event.Kind) *[]event.Event {
	t.Helper()
	var got []event.Event
	_, err := bus.Subscribe(kind, func(e event.Event) { got = append(got, e) })
	require.NoError(t, err)
	return &got
}

func TestRegister_Defaults(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(Command{ID: "x.run", Title: "Run", Handler: okHandler(nil)}))

	cmd, ok := r.Get("x.run")
	require.True(t, ok)
	assert.Equal(t, DefaultCategory, cmd.Category)
	assert.True(t, cmd.ShowInPalette())
	assert.False(t, cmd.RequiresEditor)
	assert.False(t, cmd.RegisteredAt.IsZero())
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	assert.ErrorIs(t, r.Register(Command{Title: "t", Handler: okHandler(nil)}), ErrMissingID)
	assert.ErrorIs(t, r.Register(Command{ID: "a", Handler: okHandler(nil)}), ErrMissingTitle)
	assert.ErrorIs(t, r.Register(Command{ID: "a", Title: "t"}), ErrMissingHandler)
	assert.Equal(t, 0, r.Count())
}

func TestRegister_Duplicate(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(Command{ID: "a", Title: "A", Handler: okHandler(1)}))

	err := r.Register(Command{ID: "a", Title: "Other", Handler: okHandler(2)})
	require.Error(t, err)
	assert.True(t, IsExists(err))

	cmd, _ := r.Get("a")
	assert.Equal(t, "A", cmd.Title)
}

func TestRegister_EmitsEvent(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	got := collect(t, bus, event.KindCommandRegistered)
	r := NewRegistry(WithBus(bus))

	require.NoError(t, r.Register(Command{ID: "a", Title: "A", PluginID: "p", Handler: okHandler(nil)}))

	require.Len(t, *got, 1)
	assert.Equal(t, "p", (*got)[0].PluginID)
	assert.Equal(t, "a", (*got)[0].Payload.(ChangePayload).CommandID)
}

func TestExecute(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(Command{
		ID:    "sum",
		Title: "Sum",
		Handler: func(_ context.Context, args ...any) (any, error) {
			total := 0
			for _, a := range args {
				total += a.(int)
			}
			return total, nil
		},
	}))

	result, err := r.Execute(context.Background(), "sum", 1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, result)
}

func TestExecute_NotFound(t *testing.T) {
	t.Parallel()

	_, err := NewRegistry().Execute(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.Equal(t, "Command missing not found", err.Error())
}

func TestExecute_ErrorEmitsAndReturns(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	got := collect(t, bus, event.KindCommandError)
	r := NewRegistry(WithBus(bus))
	boom := errors.New("boom")
	require.NoError(t, r.Register(Command{
		ID: "fail", Title: "Fail", PluginID: "p",
		Handler: func(context.Context, ...any) (any, error) { return nil, boom },
	}))

	_, err := r.Execute(context.Background(), "fail")
	assert.ErrorIs(t, err, boom)

	require.Len(t, *got, 1)
	payload := (*got)[0].Payload.(ErrorPayload)
	assert.Equal(t, "fail", payload.CommandID)
	assert.ErrorIs(t, payload.Error, boom)
}

func TestExecute_PanicBecomesError(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	got := collect(t, bus, event.KindCommandError)
	r := NewRegistry(WithBus(bus))
	require.NoError(t, r.Register(Command{
		ID: "panic", Title: "Panic",
		Handler: func(context.Context, ...any) (any, error) { panic("bad plugin") },
	}))

	_, err := r.Execute(context.Background(), "panic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad plugin")
	assert.Len(t, *got, 1)
}

func TestExecute_RequiresEditor(t *testing.T) {
	t.Parallel()

	open := false
	r := NewRegistry(WithEditorCheck(func() bool { return open }))
	require.NoError(t, r.Register(Command{ID: "bold", Title: "Bold", RequiresEditor: true, Handler: okHandler("ok")}))

	_, err := r.Execute(context.Background(), "bold")
	assert.ErrorIs(t, err, ErrEditorRequired)

	open = true
	result, err := r.Execute(context.Background(), "bold")
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestUnregister(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	got := collect(t, bus, event.KindCommandUnregistered)
	r := NewRegistry(WithBus(bus))
	require.NoError(t, r.Register(Command{ID: "a", Title: "A", Handler: okHandler(nil)}))

	assert.True(t, r.Unregister("a"))
	assert.False(t, r.Unregister("a"))
	assert.False(t, r.Exists("a"))
	assert.Len(t, *got, 1)
}

func TestRegistry_TrimsIDs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	r := NewRegistry()
	require.NoError(t, r.Register(Command{ID: " x ", Title: "X", Handler: okHandler("done")}))

	assert.True(t, r.Exists("x"))
	assert.True(t, r.Exists(" x "))
	out, err := r.Execute(ctx, " x ")
	require.NoError(t, err)
	assert.Equal(t, "done", out)

	assert.True(t, r.Unregister(" x "))
	assert.False(t, r.Exists("x"))
}

func TestPaletteCommandsAndOrdering(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(Command{ID: "c", Title: "C", Handler: okHandler(nil)}))
	require.NoError(t, r.Register(Command{ID: "a", Title: "A", HideFromPalette: true, Handler: okHandler(nil)}))
	require.NoError(t, r.Register(Command{ID: "b", Title: "B", Handler: okHandler(nil)}))

	ids := func(cmds []Command) []string {
		out := make([]string, len(cmds))
		for i, c := range cmds {
			out[i] = c.ID
		}
		return out
	}

	assert.Equal(t, []string{"c", "a", "b"}, ids(r.List()))
	assert.Equal(t, []string{"c", "b"}, ids(r.PaletteCommands()))
}

func TestClearPlugin(t *testing.T) {
	t.Parallel()

	bus := event.NewBus()
	got := collect(t, bus, event.KindCommandsCleared)
	r := NewRegistry(WithBus(bus))
	require.NoError(t, r.Register(Command{ID: "p.one", Title: "One", PluginID: "p", Handler: okHandler(nil)}))
	require.NoError(t, r.Register(Command{ID: "p.two", Title: "Two", PluginID: "p", Handler: okHandler(nil)}))
	require.NoError(t, r.Register(Command{ID: "q.one", Title: "One", PluginID: "q", Handler: okHandler(nil)}))

	assert.Equal(t, 2, r.ClearPlugin("p"))
	assert.Equal(t, 1, r.Count())
	assert.Empty(t, r.ByPlugin("p"))

	require.Len(t, *got, 1)
	assert.Equal(t, []string{"p.one", "p.two"}, (*got)[0].Payload.(ClearedPayload).CommandIDs)
}

func TestCategoriesAndSearch(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	require.NoError(t, r.Register(Command{ID: "wc.count", Title: "Count Words", Category: "Editor", Handler: okHandler(nil)}))
	require.NoError(t, r.Register(Command{ID: "daily.open", Title: "Open Today", Description: "Opens the DAILY note", Handler: okHandler(nil)}))
	require.NoError(t, r.Register(Command{ID: "hidden.words", Title: "Words Internal", HideFromPalette: true, Handler: okHandler(nil)}))

	assert.Equal(t, []string{"Editor", "Plugin"}, r.Categories())
	assert.Len(t, r.ByCategory("Editor"), 1)

	found := r.Search("WORDS")
	require.Len(t, found, 1)
	assert.Equal(t, "wc.count", found[0].ID)

	found = r.Search("daily note")
	require.Len(t, found, 1)
	assert.Equal(t, "daily.open", found[0].ID)

	assert.Len(t, r.Search("  "), 2)
}

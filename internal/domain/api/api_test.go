package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/lokus/internal/adapters/hostbridge"
	"github.com/felixgeelhaar/lokus/internal/adapters/logging"
	"github.com/felixgeelhaar/lokus/internal/domain/capability"
	"github.com/felixgeelhaar/lokus/internal/domain/command"
	"github.com/felixgeelhaar/lokus/internal/domain/event"
	"github.com/felixgeelhaar/lokus/internal/domain/manifest"
	"github.com/felixgeelhaar/lokus/internal/ports"
)

type fixture struct {
	factory *Factory
	bridge  *hostbridge.Memory
	logger  *logging.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bridge := hostbridge.NewMemory()
	logger := logging.NewRecorder()
	return &fixture{
		factory: NewFactory(Deps{Bridge: bridge, States: bridge, Logger: logger}),
		bridge:  bridge,
		logger:  logger,
	}
}

func (f *fixture) api(t *testing.T, id string, perms ...string) *API {
	t.Helper()
	a, err := f.factory.Create(context.Background(), &manifest.Manifest{
		ID: id, Name: id, Version: "1.0.0", Main: "builtin:" + id, LokusVersion: "*",
		Permissions: perms,
	})
	require.NoError(t, err)
	return a
}

func noop(context.Context, ...any) (any, error) { return nil, nil }

func TestReadFile_RequiresPermission(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.bridge.AddFile("ok/file.txt", "data")
	a := f.api(t, "p")

	_, err := a.ReadFile(context.Background(), "/ok/file.txt")
	require.Error(t, err)
	assert.True(t, IsPermissionError(err))
	assert.EqualError(t, err, "Plugin does not have read_files permission")
}

func TestReadFile_RejectsTraversal(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.api(t, "p", "read_files")

	for _, p := range []string{"../../etc/passwd", "~/secret", "", "  "} {
		_, err := a.ReadFile(context.Background(), p)
		assert.True(t, IsInvalidPath(err), "path %q", p)
	}
}

func TestFileAccess_WithPermissions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.api(t, "p", "read_files", "write_files")

	require.NoError(t, a.WriteFile(ctx, "notes/a.md", []byte("hello")))
	data, err := a.ReadFile(ctx, "notes/a.md")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	ok, err := a.FileExists(ctx, "notes/a.md")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, a.CreateDirectory(ctx, "notes/sub"))
	names, err := a.ListDirectory(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.md", "sub"}, names)
}

func TestWriteFile_ReadOnlyPlugin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.api(t, "p", "read_files")

	err := a.WriteFile(context.Background(), "a.md", []byte("x"))
	assert.True(t, IsPermissionError(err))
}

func TestNoBridge(t *testing.T) {
	t.Parallel()
	factory := NewFactory(Deps{})
	a, err := factory.Create(context.Background(), &manifest.Manifest{ID: "p", Permissions: []string{"all"}})
	require.NoError(t, err)

	_, err = a.ReadFile(context.Background(), "a.md")
	assert.ErrorIs(t, err, ErrNoHostBridge)
	_, err = a.GetSetting(context.Background(), "x")
	assert.ErrorIs(t, err, ErrNoHostBridge)
}

func TestEditor_Gates(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	reader := f.api(t, "reader", "editor:read")
	writer := f.api(t, "writer", "editor:read", "editor:write")

	_, err := reader.GetEditorContent(ctx)
	assert.ErrorIs(t, err, ErrNoEditor)

	f.bridge.Open("note.md", "abc")
	content, err := reader.GetEditorContent(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc", content)

	assert.True(t, IsPermissionError(reader.InsertText(ctx, "d")))
	require.NoError(t, writer.InsertText(ctx, "d"))
	require.NoError(t, writer.SetEditorContent(ctx, "xyz"))

	f.bridge.Select(0, 1)
	sel, err := writer.GetSelection(ctx)
	require.NoError(t, err)
	assert.Equal(t, "x", sel.Text)
	require.NoError(t, writer.ReplaceSelection(ctx, "X"))

	content, _ = reader.GetEditorContent(ctx)
	assert.Equal(t, "Xyz", content)
}

func TestRegisterCommand(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.api(t, "p", "commands:register")

	reg, err := a.RegisterCommand(command.Command{ID: "p.hello", Title: "Hello", Handler: func(context.Context, ...any) (any, error) {
		return "hi", nil
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, a.Registrations(RegCommand))

	cmd, ok := f.factory.Commands().Get("p.hello")
	require.True(t, ok)
	assert.Equal(t, "p", cmd.PluginID)

	out, err := a.ExecuteCommand(ctx, "p.hello")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	require.NoError(t, reg.Dispose())
	assert.False(t, f.factory.Commands().Exists("p.hello"))
	assert.Equal(t, 0, a.Registrations(RegCommand))
}

func TestUnregisterCommand_OwnOnly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	owner := f.api(t, "owner", "commands:register")
	other := f.api(t, "other", "commands:register")

	_, err := owner.RegisterCommand(command.Command{ID: "owner.x", Title: "X", Handler: noop})
	require.NoError(t, err)

	assert.False(t, other.UnregisterCommand("owner.x"))
	assert.True(t, f.factory.Commands().Exists("owner.x"))
	assert.True(t, owner.UnregisterCommand("owner.x"))
	assert.False(t, f.factory.Commands().Exists("owner.x"))
}

func TestRegisterCommand_WithoutPermission(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.api(t, "p")

	_, err := a.RegisterCommand(command.Command{ID: "p.x", Title: "X", Handler: noop})
	assert.True(t, IsPermissionError(err))
}

func TestContributions_TrackedAndRemoved(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.api(t, "p", "all")
	contribs := f.factory.Contributions()

	_, err := a.RegisterPanel(Panel{Title: "Outline"})
	require.NoError(t, err)
	_, err = a.AddToolbarButton(ToolbarButton{ID: "bold", Title: "Bold", Command: "p.bold"})
	require.NoError(t, err)
	_, err = a.AddMenuItem(MenuItem{Label: "Do", Menu: "edit"})
	require.NoError(t, err)
	_, err = a.AddExtension(Extension{Name: "callout", Type: "node"})
	require.NoError(t, err)
	_, err = a.AddSlashCommand(SlashCommand{Title: "Callout"})
	require.NoError(t, err)
	_, err = a.RegisterStatusBarItem(StatusBarItem{ID: "words", Text: "0 words"})
	require.NoError(t, err)

	panels := contribs.List(ContributionPanel)
	require.Len(t, panels, 1)
	assert.Equal(t, "sidebar", panels[0].Value.(Panel).Location)
	assert.Len(t, contribs.ByPlugin("p"), 6)

	require.NoError(t, a.UpdateStatusBarItem("words", "3 words"))
	item, _ := contribs.Get(ContributionStatusBarItem, "words")
	assert.Equal(t, "3 words", item.Value.(StatusBarItem).Text)
	assert.Equal(t, "left", item.Value.(StatusBarItem).Alignment)

	require.NoError(t, a.Cleanup())
	assert.Empty(t, contribs.ByPlugin("p"))
}

func TestContributions_PermissionGates(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.api(t, "p", "ui:panels")

	_, err := a.RegisterPanel(Panel{Title: "ok"})
	require.NoError(t, err)
	_, err = a.AddToolbarButton(ToolbarButton{Title: "nope"})
	assert.True(t, IsPermissionError(err))
	_, err = a.RegisterStatusBarItem(StatusBarItem{Text: "nope"})
	assert.True(t, IsPermissionError(err))
	_, err = a.AddExtension(Extension{Name: "nope"})
	assert.True(t, IsPermissionError(err))
}

func TestUpdateStatusBarItem_OtherPlugin(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	owner := f.api(t, "owner", "ui:statusbar")
	other := f.api(t, "other", "ui:statusbar")

	_, err := owner.RegisterStatusBarItem(StatusBarItem{ID: "s", Text: "x"})
	require.NoError(t, err)
	assert.ErrorIs(t, other.UpdateStatusBarItem("s", "hacked"), ErrUnknownContrib)
}

func TestOutputChannel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.api(t, "p")

	ch, err := a.CreateOutputChannel("Build")
	require.NoError(t, err)
	ch.Append("one ")
	ch.AppendLine("two")
	ch.Append("three")
	assert.Equal(t, []string{"one two", "three"}, ch.Lines())
	assert.Equal(t, 1, a.Registrations(RegOutputChannel))

	require.NoError(t, ch.Dispose())
	assert.Equal(t, 0, a.Registrations(RegOutputChannel))

	_, err = a.CreateOutputChannel(" ")
	assert.ErrorIs(t, err, ErrMissingChannelID)
}

func TestPluginEvents(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	sender := f.api(t, "sender")
	receiver := f.api(t, "receiver")

	var got []any
	var source string
	_, err := receiver.On("saved", func(data any, src string) {
		got = append(got, data)
		source = src
	})
	require.NoError(t, err)

	require.NoError(t, sender.Emit("saved", "note.md"))
	require.NoError(t, sender.Emit("other", "ignored"))
	assert.Equal(t, []any{"note.md"}, got)
	assert.Equal(t, "sender", source)

	require.NoError(t, receiver.Cleanup())
	require.NoError(t, sender.Emit("saved", "again"))
	assert.Len(t, got, 1)
}

func TestPermissions_GrantAndRevoke(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.api(t, "p")

	var changes []PermissionChange
	_, err := f.factory.Bus().Subscribe(event.KindPermissionChanged, func(e event.Event) {
		changes = append(changes, e.Payload.(PermissionChange))
	})
	require.NoError(t, err)

	assert.False(t, a.HasPermission("read_files"))
	require.NoError(t, a.GrantPermission(ctx, "read_files"))
	assert.True(t, a.HasPermission("read_files"))
	assert.True(t, a.HasPermission("files:read"))

	persisted, err := f.bridge.GrantedPermissions(ctx, "p")
	require.NoError(t, err)
	assert.Equal(t, []string{"read_files"}, persisted)

	require.NoError(t, a.RevokePermission(ctx, "read_files"))
	assert.False(t, a.HasPermission("read_files"))
	assert.Equal(t, []PermissionChange{{"read_files", true}, {"read_files", false}}, changes)

	assert.Error(t, a.GrantPermission(ctx, "bad token"))
}

func TestGrantPermission_BlockedByPolicy(t *testing.T) {
	t.Parallel()
	policy, err := capability.ParsePolicy([]string{"network:*"})
	require.NoError(t, err)
	factory := NewFactory(Deps{Policy: policy})
	a, err := factory.Create(context.Background(), &manifest.Manifest{ID: "p", Permissions: []string{"network:fetch", "editor:read"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"editor:read"}, a.Permissions())
	assert.ErrorIs(t, a.GrantPermission(context.Background(), "network:fetch"), capability.ErrCapabilityBlocked)
}

func TestNotification(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.api(t, "p")

	var got Notification
	_, err := f.factory.Bus().Subscribe(event.KindNotification, func(e event.Event) {
		got = e.Payload.(Notification)
	})
	require.NoError(t, err)

	id, err := a.ShowNotification(Notification{Message: "Saved"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, got.ID)
	assert.Equal(t, NotifyInfo, got.Type)
	assert.Equal(t, "p", got.PluginID)
}

func TestShowDialog(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.api(t, "p")

	_, err := a.ShowDialog(context.Background(), Dialog{Title: "Sure?"})
	require.ErrorIs(t, err, ErrNoDialogHandler)

	_, err = f.factory.Bus().Subscribe(event.KindDialog, func(e event.Event) {
		req := e.Payload.(DialogRequest)
		go req.Resolve(DialogResult{Button: req.Buttons[0]})
	})
	require.NoError(t, err)

	res, err := a.ShowDialog(context.Background(), Dialog{Title: "Sure?", Buttons: []string{"Yes", "No"}})
	require.NoError(t, err)
	assert.Equal(t, "Yes", res.Button)
}

func TestShowDialog_ContextCancelled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.api(t, "p")
	_, err := f.factory.Bus().Subscribe(event.KindDialog, func(event.Event) {})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	res, err := a.ShowDialog(ctx, Dialog{Title: "never answered"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, res.Cancelled)
}

func TestCleanup_ReleasesEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.api(t, "p", "all")

	var calls atomic.Int32
	_, err := a.RegisterCommand(command.Command{ID: "p.a", Title: "A", Handler: noop})
	require.NoError(t, err)
	_, err = a.OnHost(event.KindPluginLoaded, func(event.Event) { calls.Add(1) })
	require.NoError(t, err)
	_, err = a.RegisterPanel(Panel{Title: "P"})
	require.NoError(t, err)

	require.NoError(t, a.Cleanup())
	assert.True(t, a.IsDisposed())
	assert.Equal(t, 0, f.factory.Commands().Count())
	assert.Equal(t, 0, f.factory.Bus().Count(event.KindPluginLoaded))

	_, err = a.RegisterCommand(command.Command{ID: "p.b", Title: "B", Handler: noop})
	assert.ErrorIs(t, err, ErrAPIDisposed)
	_, err = a.ReadFile(ctx, "a.md")
	assert.ErrorIs(t, err, ErrAPIDisposed)

	require.NoError(t, a.Cleanup())
}

func TestCleanup_ContinuesPastFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.api(t, "p", "all")

	boom := errors.New("boom")
	_, err := a.track(RegListener, "bad", func() error { return boom })
	require.NoError(t, err)
	_, err = a.RegisterPanel(Panel{Title: "P"})
	require.NoError(t, err)

	err = a.Cleanup()
	require.ErrorIs(t, err, boom)
	assert.Empty(t, f.factory.Contributions().ByPlugin("p"))
	assert.True(t, f.logger.Contains(ports.LevelWarn, "disposable failed"))
}

package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/lokus/internal/domain/event"
)

func TestSettings_DottedKeys(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.api(t, "p")

	v, err := a.GetSetting(ctx, "editor.fontSize")
	require.NoError(t, err)
	assert.Nil(t, v)

	var changes []SettingChange
	_, err = f.factory.Bus().Subscribe(event.KindSettingChanged, func(e event.Event) {
		changes = append(changes, e.Payload.(SettingChange))
	})
	require.NoError(t, err)

	require.NoError(t, a.SetSetting(ctx, "editor.fontSize", 14))
	require.NoError(t, a.SetSetting(ctx, "theme", "dark"))

	v, err = a.GetSetting(ctx, "editor.fontSize")
	require.NoError(t, err)
	assert.Equal(t, float64(14), v)

	all, err := a.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"editor": map[string]any{"fontSize": float64(14)}, "theme": "dark"}, all)

	raw, err := f.bridge.GetPluginSettings(ctx, "p")
	require.NoError(t, err)
	assert.JSONEq(t, `{"editor":{"fontSize":14},"theme":"dark"}`, string(raw))
	assert.Len(t, changes, 2)
	assert.Equal(t, "theme", changes[1].Key)
}

func TestSettings_IsolatedPerPlugin(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.api(t, "a")
	b := f.api(t, "b")

	require.NoError(t, a.SetSetting(ctx, "k", "from-a"))
	v, err := b.GetSetting(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestSettings_InvalidKey(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	a := f.api(t, "p")

	for _, key := range []string{"", "a..b", ".a", "a.", "a b", "a*"} {
		_, err := a.GetSetting(context.Background(), key)
		assert.ErrorIs(t, err, ErrInvalidKey, "key %q", key)
	}
}

func TestSettings_CorruptDocument(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.api(t, "p")
	require.NoError(t, f.bridge.SavePluginSettings(ctx, "p", []byte("{not json")))

	_, err := a.GetSetting(ctx, "x")
	assert.ErrorContains(t, err, "not valid JSON")
}

func TestStorage(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	a := f.api(t, "p")

	require.NoError(t, a.StorageSet(ctx, "count", 3))
	require.NoError(t, a.StorageSet(ctx, "last", map[string]any{"file": "a.md"}))

	v, err := a.StorageGet(ctx, "last.file")
	require.NoError(t, err)
	assert.Equal(t, "a.md", v)

	keys, err := a.StorageKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"count", "last"}, keys)

	require.NoError(t, a.StorageDelete(ctx, "count"))
	require.NoError(t, a.StorageDelete(ctx, "missing"))
	v, err = a.StorageGet(ctx, "count")
	require.NoError(t, err)
	assert.Nil(t, v)

	settings, err := f.bridge.GetPluginSettings(ctx, "p")
	require.NoError(t, err)
	assert.Nil(t, settings, "storage must not leak into settings")
}

package wordcount

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/lokus/internal/adapters/hostbridge"
	"github.com/felixgeelhaar/lokus/internal/adapters/native"
	"github.com/felixgeelhaar/lokus/internal/domain/api"
)

func TestCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
		want Stats
	}{
		{
			name: "empty",
			text: "",
			want: Stats{},
		},
		{
			name: "single line",
			text: "hello world",
			want: Stats{Words: 2, Characters: 11, NonSpace: 10, Lines: 1, Paragraphs: 1, ReadingMinutes: 1},
		},
		{
			name: "markdown paragraphs",
			text: "# Title\n\nFirst paragraph, don't split.\n\n- item one\n",
			want: Stats{Words: 7, Characters: 51, NonSpace: 40, Lines: 5, Paragraphs: 3, ReadingMinutes: 1},
		},
		{
			name: "combining marks count once",
			text: "cafe\u0301",
			want: Stats{Words: 1, Characters: 4, NonSpace: 4, Lines: 1, Paragraphs: 1, ReadingMinutes: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, Count(tt.text))
		})
	}
}

func TestLabel(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0 words", Label(Stats{}))
	assert.Equal(t, "1 word", Label(Stats{Words: 1}))
	assert.Equal(t, "12 words", Label(Stats{Words: 12}))
}

func TestBundle_RegistersInCatalog(t *testing.T) {
	t.Parallel()

	catalog := native.NewCatalog()
	require.NoError(t, catalog.AddBundle(Bundle()))

	factory, ok := catalog.Lookup(BuiltinName)
	require.True(t, ok)
	assert.IsType(t, &Plugin{}, factory())
}

func TestPlugin_CountsOpenDocument(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bridge := hostbridge.NewMemory()
	bridge.Open("notes.md", "one two three")
	factory := api.NewFactory(api.Deps{Bridge: bridge})
	a, err := factory.Create(ctx, Manifest())
	require.NoError(t, err)

	p := New()
	require.NoError(t, p.Initialize(ctx, a))
	require.NoError(t, p.Activate(ctx))

	contrib, ok := factory.Contributions().Get(api.ContributionStatusBarItem, StatusItemID)
	require.True(t, ok)
	assert.Equal(t, "0 words", contrib.Value.(api.StatusBarItem).Text)

	out, err := factory.Commands().Execute(ctx, CountCommand)
	require.NoError(t, err)
	assert.Equal(t, 3, out.(Stats).Words)

	contrib, ok = factory.Contributions().Get(api.ContributionStatusBarItem, StatusItemID)
	require.True(t, ok)
	assert.Equal(t, "3 words", contrib.Value.(api.StatusBarItem).Text)

	require.NoError(t, bridge.SetContent(ctx, "just one"))
	label, err := factory.Commands().Execute(ctx, UpdateCommand)
	require.NoError(t, err)
	assert.Equal(t, "2 words", label)

	require.NoError(t, p.Cleanup(ctx))
	assert.False(t, factory.Commands().Exists(CountCommand))
	_, ok = factory.Contributions().Get(api.ContributionStatusBarItem, StatusItemID)
	assert.False(t, ok)
}

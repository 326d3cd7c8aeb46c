package ports

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpandPath(t *testing.T) {
	t.Parallel()

	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	assert.Equal(t, filepath.Join(home, ".lokus", "plugins"), ExpandPath("~/.lokus/plugins"))
	assert.Equal(t, home, ExpandPath("~"))
	assert.Equal(t, "/abs/path", ExpandPath("/abs/path"))
	assert.Equal(t, "rel/~", ExpandPath("rel/~"))
}

func TestSelection_Empty(t *testing.T) {
	t.Parallel()

	assert.True(t, Selection{From: 3, To: 3}.Empty())
	assert.False(t, Selection{From: 1, To: 4, Text: "abc"}.Empty())
}

package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validManifest() *Manifest {
	return &Manifest{
		ID:           "word-count",
		Name:         "Word Count",
		Version:      "1.0.0",
		Main:         "main.lua",
		LokusVersion: ">=1.0.0",
		Description:  "Counts words",
		Author:       "Lokus",
		Dependencies: map[string]string{"core-utils": "^1.2.0"},
		Permissions:  []string{"editor:read", "commands:register"},
	}
}

func TestManifest_Builtin(t *testing.T) {
	t.Parallel()

	m := validManifest()
	assert.False(t, m.IsBuiltin())

	m.Main = "builtin:word-count"
	assert.True(t, m.IsBuiltin())
	assert.Equal(t, "word-count", m.BuiltinName())
}

func TestManifest_DependencyIDsSorted(t *testing.T) {
	t.Parallel()

	m := validManifest()
	m.Dependencies = map[string]string{"zeta": "*", "alpha": "*", "mid": "*"}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, m.DependencyIDs())
}

func TestManifest_CloneIsDeep(t *testing.T) {
	t.Parallel()

	m := validManifest()
	m.Contributes = map[string]any{"commands": []any{"x"}}
	c := m.Clone()

	c.Dependencies["other"] = "*"
	c.Permissions[0] = "all"
	c.Contributes["themes"] = true

	assert.NotContains(t, m.Dependencies, "other")
	assert.Equal(t, "editor:read", m.Permissions[0])
	assert.NotContains(t, m.Contributes, "themes")
	assert.Nil(t, (*Manifest)(nil).Clone())
}

func TestManifest_Equal(t *testing.T) {
	t.Parallel()

	a := validManifest()
	b := validManifest()
	assert.True(t, a.Equal(b))

	b.Dependencies["extra"] = "*"
	assert.False(t, a.Equal(b))

	c := validManifest()
	c.Version = "1.0.1"
	assert.False(t, a.Equal(c))

	assert.False(t, a.Equal(nil))
	assert.True(t, (*Manifest)(nil).Equal(nil))
}

func TestValidate_Valid(t *testing.T) {
	t.Parallel()

	m := validManifest()
	m.ID = "  word-count "
	m.Permissions = []string{"editor:read", " editor:read", "ui:panels"}

	n, err := Validate(m)
	require.NoError(t, err)
	assert.Equal(t, "word-count", n.ID)
	assert.Equal(t, []string{"editor:read", "ui:panels"}, n.Permissions)
	assert.NotNil(t, n.Engines)
	assert.NotNil(t, n.Contributes)
	assert.Equal(t, "  word-count ", m.ID, "input must not be modified")
}

func TestValidate_RequiredFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Manifest)
		want   string
	}{
		{"missing id", func(m *Manifest) { m.ID = "" }, "id is required"},
		{"missing name", func(m *Manifest) { m.Name = " " }, "name is required"},
		{"missing version", func(m *Manifest) { m.Version = "" }, "version is required"},
		{"missing main", func(m *Manifest) { m.Main = "" }, "main is required"},
		{"missing lokusVersion", func(m *Manifest) { m.LokusVersion = "" }, "lokusVersion is required"},
		{"bad version", func(m *Manifest) { m.Version = "1.0" }, "not valid semantic versioning"},
		{"bad id", func(m *Manifest) { m.ID = "../evil" }, "may only contain"},
		{"bad range", func(m *Manifest) { m.LokusVersion = ">=banana" }, "lokusVersion"},
		{"self dependency", func(m *Manifest) { m.Dependencies = map[string]string{"word-count": "*"} }, "cannot depend on itself"},
		{"bad dependency range", func(m *Manifest) { m.Dependencies = map[string]string{"x": "~~1"} }, `dependency "x"`},
		{"bad permission", func(m *Manifest) { m.Permissions = []string{"ui:"} }, `permission "ui:"`},
		{"empty builtin", func(m *Manifest) { m.Main = "builtin:" }, "names no builtin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := validManifest()
			tt.mutate(m)

			_, err := Validate(m)
			require.Error(t, err)
			assert.True(t, IsValidationError(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	_, err := Validate(&Manifest{})
	require.Error(t, err)

	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 5)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestValidate_Nil(t *testing.T) {
	t.Parallel()

	_, err := Validate(nil)
	assert.True(t, IsValidationError(err))
}

func TestValidate_EnginesFallback(t *testing.T) {
	t.Parallel()

	m := validManifest()
	m.LokusVersion = ""
	m.Engines = map[string]string{"lokus": "^1.0.0"}

	n, err := Validate(m)
	require.NoError(t, err)
	assert.Equal(t, "^1.0.0", n.LokusVersion)
}

func TestWarnings(t *testing.T) {
	t.Parallel()

	m := validManifest()
	assert.Empty(t, Warnings(m))

	m.Description = ""
	m.Author = ""
	m.Name = "Word/Count"
	m.Permissions = []string{"teleport:now", "all"}

	warnings := Warnings(m)
	require.Len(t, warnings, 4)
	assert.Contains(t, warnings[0], "description")
	assert.Contains(t, warnings[1], "author")
	assert.Contains(t, warnings[2], "name")
	assert.Contains(t, warnings[3], "teleport:now")
}

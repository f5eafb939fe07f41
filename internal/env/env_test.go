package env

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeOrderAndExpansion(t *testing.T) {
	e := New()
	e.SetAll([]string{"STEAM_ROOT=/srv/steam", "LD_LIBRARY_PATH=${STEAM_ROOT}/linux64", "=bad", "novalue"})
	out := e.Merge([]string{"STEAM_ROOT=/opt/steam", "EXTRA=1"})
	assert.Equal(t, []string{
		"EXTRA=1",
		"LD_LIBRARY_PATH=/opt/steam/linux64",
		"STEAM_ROOT=/opt/steam",
	}, out)
}

func TestMergeLeavesUnknownReferences(t *testing.T) {
	e := New()
	e.Set("A", "${MISSING}-x")
	assert.Equal(t, []string{"A=${MISSING}-x"}, e.Merge(nil))
	e.Unset("A")
	assert.Empty(t, e.Merge(nil))
}

func TestFromOSIsBase(t *testing.T) {
	t.Setenv("STEAMKEEPER_ENV_TEST", "os")
	e := New()
	e.FromOS()
	e.Set("DERIVED", "${STEAMKEEPER_ENV_TEST}-cfg")
	out := e.Merge(nil)
	assert.Contains(t, out, "STEAMKEEPER_ENV_TEST=os")
	assert.Contains(t, out, "DERIVED=os-cfg")

	e.Set("STEAMKEEPER_ENV_TEST", "cfg")
	assert.Contains(t, e.Merge(nil), "STEAMKEEPER_ENV_TEST=cfg")
}

func TestLoadFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), ".env")
	data := "# tool settings\nA=1\nexport B = two\nC=\"quoted value\"\n\nnot a pair\n"
	require.NoError(t, os.WriteFile(p, []byte(data), 0o600))

	e := New()
	require.NoError(t, e.LoadFile(p))
	assert.Equal(t, Var{"A": "1", "B": "two", "C": "quoted value"}, e.Var)

	assert.Error(t, e.LoadFile(filepath.Join(t.TempDir(), "missing.env")))
}

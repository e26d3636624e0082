package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSunSignCmd(t *testing.T) {
	out, err := run(t, "sunsign", "1990-08-01", "2000-12-25", "nope")
	require.NoError(t, err)
	assert.Equal(t, "1990-08-01\tLeo\n2000-12-25\tCapricorn\nnope\tUnknown\n", out)
}

func TestSunSignCmdRequiresDate(t *testing.T) {
	_, err := run(t, "sunsign")
	assert.Error(t, err)
}

func TestSeedCmd(t *testing.T) {
	db := filepath.Join(t.TempDir(), "seed.db")

	out, err := run(t, "seed", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded")

	out, err = run(t, "seed", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, db)
}

func TestPickCmd(t *testing.T) {
	out, err := run(t, "pick", "--category", "love", "--trials", "200")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Greater(t, len(lines), 1)
	assert.True(t, strings.HasPrefix(lines[0], "ID"))
}

func TestPickCmdRejectsUnknownCategory(t *testing.T) {
	_, err := run(t, "pick", "--category", "pets")
	assert.ErrorContains(t, err, "unknown category")
}

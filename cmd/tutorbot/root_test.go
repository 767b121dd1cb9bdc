package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abjtutorial/tutorbot/core/buildinfo"
)

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), buildinfo.String())
}

func TestMigrateRequiresPostgres(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := "telegram:\n  token: t\n  admin_ids: [1]\nchannels:\n  main_id: -1\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	root := newRootCmd()
	root.SetArgs([]string{"--config", path, "migrate", "up"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not postgres")
}

func TestSubcommandsRegistered(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "migrate", "version"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

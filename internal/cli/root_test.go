package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "tessera", cmd.Use)
	assert.Contains(t, cmd.Long, "event-sourced world tiles")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{
		"serve", "append", "tip", "segments", "object", "state",
		"verify", "snapshot", "reindex", "hash", "identity",
	}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	require.NotNil(t, cmd.PersistentFlags().Lookup("data-dir"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("backend"))
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	require.NotNil(t, serveCmd.Flags().Lookup("listen"))
	require.NotNil(t, serveCmd.Flags().Lookup("gossip-listen"))
	require.NotNil(t, serveCmd.Flags().Lookup("gossip-peer"))
}

func TestIdentitySubcommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"create", "merge"} {
		sub, _, err := cmd.Find([]string{"identity", name})
		require.NoError(t, err)
		assert.Equal(t, name, sub.Name())
	}
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "hash", "-"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestLoadConfig_Overrides(t *testing.T) {
	dir := t.TempDir()
	opts := &RootOptions{DataDir: dir, Backend: "file"}

	cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.Node.DataDir)
	assert.Equal(t, "file", cfg.Node.Backend)
	assert.NotEmpty(t, cfg.Node.PeerID)
}

func TestLoadConfig_UnknownBackend(t *testing.T) {
	opts := &RootOptions{Backend: "tape"}

	_, err := opts.loadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "node.backend")
}

package cmd

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandsRegistered(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"start", "stop", "restart", "status", "test", "logs"} {
		assert.True(t, names[want], "command %q not registered", want)
	}
}

func TestPersistentFlags(t *testing.T) {
	cfgFlag := rootCmd.PersistentFlags().Lookup("config")
	require.NotNil(t, cfgFlag)
	assert.Equal(t, defaultConfigPath, cfgFlag.DefValue)

	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-level"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("log-file"))
}

func TestCommandFlags(t *testing.T) {
	assert.NotNil(t, logsCmd.Flags().Lookup("follow"))
	assert.NotNil(t, startCmd.Flags().Lookup("bastion-wait"))
	assert.NotNil(t, restartCmd.Flags().Lookup("bastion-wait"))
}

func TestBareInvocationDefaultsToStatus(t *testing.T) {
	// The root command delegates to status rather than printing usage.
	require.NotNil(t, rootCmd.RunE)
}

func TestUnknownCommandErrors(t *testing.T) {
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs([]string{"bogus"})
	defer rootCmd.SetArgs(nil)

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

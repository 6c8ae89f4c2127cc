package main

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	expected := []string{"serve", "worker", "migrate", "ingest", "queue", "learn", "outreach", "jobs", "monitor"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "outreach", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	require.NotNil(t, serveCmd.Flags().Lookup("worker"))
	require.NotNil(t, serveCmd.Flags().Lookup("monitor"))
}

func TestGroupCommands_HaveSubcommands(t *testing.T) {
	tests := []struct {
		parent *cobra.Command
		want   []string
	}{
		{queueCmd, []string{"daily"}},
		{learnCmd, []string{"log"}},
		{outreachCmd, []string{"pending", "export"}},
		{jobsCmd, []string{"cleanup", "status"}},
	}
	for _, tt := range tests {
		t.Run(tt.parent.Name(), func(t *testing.T) {
			var names []string
			for _, c := range tt.parent.Commands() {
				names = append(names, c.Name())
			}
			assert.ElementsMatch(t, tt.want, names)
		})
	}
}

func TestQueueDaily_Flags(t *testing.T) {
	flag := queueDailyCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "0", flag.DefValue)
	require.NotNil(t, queueDailyCmd.Flags().Lookup("inline"))
}

func TestOutreachExport_Flags(t *testing.T) {
	require.NotNil(t, outreachExportCmd.Flags().Lookup("out"))
	flag := outreachPendingCmd.Flags().Lookup("limit")
	require.NotNil(t, flag)
	assert.Equal(t, "200", flag.DefValue)
}

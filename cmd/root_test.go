package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	cmds := rootCmd.Commands()

	names := make(map[string]bool)
	for _, c := range cmds {
		names[c.Name()] = true
	}

	expected := []string{"run", "batch", "lineage", "migrate", "catalogue", "serve"}
	for _, name := range expected {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "esg-extract", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRunCommand_Flags(t *testing.T) {
	for _, name := range []string{"pdf", "company-id", "company-name", "year"} {
		require.NotNil(t, runCmd.Flags().Lookup(name), "run command should have --%s flag", name)
	}
	assert.Equal(t, "0", runCmd.Flags().Lookup("year").DefValue)
}

func TestBatchCommand_Flags(t *testing.T) {
	for _, name := range []string{"dir", "manifest", "limit", "parallelism"} {
		require.NotNil(t, batchCmd.Flags().Lookup(name), "batch command should have --%s flag", name)
	}
	assert.Equal(t, "0", batchCmd.Flags().Lookup("limit").DefValue)
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("addr")
	require.NotNil(t, flag, "serve command should have --addr flag")
	assert.Equal(t, "", flag.DefValue)
}

func TestLineageCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range lineageCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"list", "show", "stats"} {
		assert.True(t, names[name], "expected lineage subcommand %q not found", name)
	}
}

func TestCatalogueCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range catalogueCmd.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["check"])
	assert.True(t, names["resolve"])
}

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}

	for _, name := range []string{"serve", "migrate", "sqlgen", "import"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "deals", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCommands_ValidationModes(t *testing.T) {
	tests := map[string]string{
		"serve":   serveCmd.Annotations[modeAnnotation],
		"migrate": migrateCmd.Annotations[modeAnnotation],
		"sqlgen":  sqlgenCmd.Annotations[modeAnnotation],
		"import":  importCmd.Annotations[modeAnnotation],
	}
	for want, got := range tests {
		assert.Equal(t, want, got)
	}
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)

	flag = serveCmd.Flags().Lookup("migrate")
	require.NotNil(t, flag)
	assert.Equal(t, "false", flag.DefValue)
}

func TestSQLGenCommand_Flags(t *testing.T) {
	defaults := map[string]string{
		"file":        "",
		"sql-out":     "deals.sql",
		"rejects-out": "rejects.ndjson",
		"with-schema": "false",
	}
	for name, def := range defaults {
		flag := sqlgenCmd.Flags().Lookup(name)
		require.NotNil(t, flag, "sqlgen should have --%s flag", name)
		assert.Equal(t, def, flag.DefValue)
	}
}

func TestImportCommand_Flags(t *testing.T) {
	flag := importCmd.Flags().Lookup("file")
	require.NotNil(t, flag)
	assert.Equal(t, "deals.sql", flag.DefValue)
}

func TestImportCommand_RequiresCredentials(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, env := range []string{"CF_ACCOUNT_ID", "CF_D1_DB_ID", "CF_D1_API_KEY", "DEALS_D1_ACCOUNT_ID", "DEALS_D1_DATABASE_ID", "DEALS_D1_API_KEY"} {
		t.Setenv(env, "")
	}

	rootCmd.SetArgs([]string{"import", "--file", "missing.sql"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "d1.account_id (CF_ACCOUNT_ID) is required")
}

package main

import (
	"flag"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func contextWithLogLevel(t *testing.T, level string) *cli.Context {
	t.Helper()
	set := flag.NewFlagSet("test", flag.ContinueOnError)
	set.String("log-level", level, "")
	require.NoError(t, set.Set("log-level", level))
	return cli.NewContext(cli.NewApp(), set, nil)
}

func TestSetupLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "DEBUG"} {
		assert.NoError(t, setupLogger(contextWithLogLevel(t, level)), level)
	}
	assert.Error(t, setupLogger(contextWithLogLevel(t, "verbose")))
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, "short text", snippet("short   text", 160))
	long := snippet("word word word word word", 9)
	assert.Equal(t, "word word...", long)
}

func TestSetupLoggerSetsDefault(t *testing.T) {
	require.NoError(t, setupLogger(contextWithLogLevel(t, "error")))
	assert.False(t, slog.Default().Enabled(nil, slog.LevelInfo))

	require.NoError(t, setupLogger(contextWithLogLevel(t, "debug")))
	assert.True(t, slog.Default().Enabled(nil, slog.LevelDebug))
}

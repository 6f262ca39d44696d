package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	zerolog.SetGlobalLevel(zerolog.Disabled)
	os.Exit(m.Run())
}

func run(args ...string) error {
	app := newApp()
	app.Before = nil
	return app.Run(append([]string{"sheiva"}, args...))
}

func TestPurgeRequiresConfirmation(t *testing.T) {
	err := run("purge", "--queue-url", "http://localhost:4566/000000000000/links")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--yes")
}

func TestPollRejectsUnknownHandler(t *testing.T) {
	err := run("poll", "--handler", "resize")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid handler")
}

func TestPollRequiresHandlerConfig(t *testing.T) {
	t.Setenv("MAIN_QUEUE", "")
	t.Setenv("BUCKET", "")

	err := run("poll", "--handler", "scrape")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration")
}

func TestCronRejectsUnknownTarget(t *testing.T) {
	err := run("cron", "--target", "resize", "--once")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron target")
}

func TestBacklogPushMissingFile(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "missing.json")

	err := run("backlog", "push", "--queue-url", "http://localhost:4566/000000000000/links", "--file", missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open backlog file")
}

func TestBacklogPushMalformedFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "backlog.json")
	require.NoError(t, os.WriteFile(file, []byte("{not json"), 0o600))

	err := run("backlog", "push", "--queue-url", "http://localhost:4566/000000000000/links", "--file", file)
	require.Error(t, err)
}

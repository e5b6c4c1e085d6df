package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf("logging:\n  level: error\nstorage:\n  driver: sqlite\n  path: %q\n", filepath.Join(dir, "cli.db"))
	p := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)
	root.SetArgs(append([]string{"--config", cfg}, args...))
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestTaskScanAndNotifications(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, "task", "add", "-u", "alice", "-t", "Pay rent", "--due=-3h")
	require.NoError(t, err)
	id := strings.TrimSpace(out)
	require.NotEmpty(t, id)

	out, err = run(t, cfg, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "overdue=1")
	assert.Contains(t, out, "emitted=1")

	out, err = run(t, cfg, "scan")
	require.NoError(t, err)
	assert.Contains(t, out, "emitted=0")
	assert.Contains(t, out, "already_existed=1")

	out, err = run(t, cfg, "notifications", "list", "-u", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "overdue")
	assert.Contains(t, out, "created")
	assert.Contains(t, out, "2 shown, 2 unread")

	out, err = run(t, cfg, "notifications", "read-all", "-u", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "marked 2 read")

	out, err = run(t, cfg, "notifications", "list", "-u", "alice", "--unread")
	require.NoError(t, err)
	assert.Contains(t, out, "0 shown, 0 unread")

	_, err = run(t, cfg, "task", "delete", id)
	require.NoError(t, err)
	out, err = run(t, cfg, "notifications", "list", "-u", "alice")
	require.NoError(t, err)
	assert.Contains(t, out, "0 shown")
}

func TestSweepAndMigrate(t *testing.T) {
	cfg := testConfig(t)

	_, err := run(t, cfg, "task", "add", "-u", "bob", "-t", "x")
	require.NoError(t, err)

	out, err := run(t, cfg, "sweep", "--horizon", "1ns")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 1 notifications")

	out, err = run(t, cfg, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "0 applied now")

	out, err = run(t, cfg, "migrate", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "00001_init.sql")
}

func TestTaskAddRequiresFlags(t *testing.T) {
	_, err := run(t, testConfig(t), "task", "add", "-t", "no owner")
	assert.Error(t, err)
}

func TestParseWhen(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseWhen("+36h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(36*time.Hour), got)

	got, err = parseWhen("2025-02-03T04:05:06Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC), got)

	_, err = parseWhen("2025-02-03 10:30", now)
	assert.NoError(t, err)

	_, err = parseWhen("tomorrow", now)
	assert.Error(t, err)
}

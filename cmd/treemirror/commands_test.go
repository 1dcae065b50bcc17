package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"treemirror/internal/client"
	"treemirror/internal/config"
	"treemirror/internal/logging"
	"treemirror/internal/metrics"
	"treemirror/internal/mirror"
	"treemirror/internal/snapshot"
	"treemirror/internal/workspace"
)

func disableColor(t *testing.T) {
	t.Helper()
	previous := color.NoColor
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = previous })
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func sampleTree(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "main.go"), "package main\n")
	writeFile(t, filepath.Join(dir, "notes.txt"), "notes\n")
	writeFile(t, filepath.Join(dir, ".git", "HEAD"), "ref: refs/heads/main\n")
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	disableColor(t)
	t.Setenv("TREEMIRROR_LOG_LEVEL", "")
	t.Setenv("TREEMIRROR_LOG_FORMAT", "")
	t.Setenv("TREEMIRROR_TOKEN", "")
	var out, errOut bytes.Buffer
	cmd := newRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTreeCommandPrintsMirror(t *testing.T) {
	dir := sampleTree(t)

	output, err := execute(t, "tree", dir)
	require.NoError(t, err)

	assert.Contains(t, output, "├── src/")
	assert.Contains(t, output, "│   └── main.go")
	assert.Contains(t, output, "└── notes.txt")
	assert.NotContains(t, output, ".git")
	assert.Contains(t, output, "1 directories, 2 files")
}

func TestTreeCommandAppliesFilterFlags(t *testing.T) {
	dir := sampleTree(t)

	output, err := execute(t, "tree", "--allow", "go", dir)
	require.NoError(t, err)

	assert.Contains(t, output, "main.go")
	assert.NotContains(t, output, "notes.txt")
}

func TestTreeCommandUsesConfiguredRootFilters(t *testing.T) {
	dir := sampleTree(t)
	configPath := filepath.Join(t.TempDir(), "treemirror.toml")
	writeFile(t, configPath, "[[roots]]\npath = \""+filepath.ToSlash(dir)+"\"\nignore = [\"src\"]\n")

	output, err := execute(t, "--config", configPath, "tree", dir)
	require.NoError(t, err)

	assert.Contains(t, output, "notes.txt")
	assert.NotContains(t, output, "src/")
}

func TestTreeCommandRejectsInvalidLogLevel(t *testing.T) {
	dir := sampleTree(t)

	_, err := execute(t, "--log-level", "loud", "tree", dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}

func TestTreeCommandFailsForMissingDirectory(t *testing.T) {
	_, err := execute(t, "tree", filepath.Join(t.TempDir(), "missing"))
	require.ErrorIs(t, err, mirror.ErrNotFound)
}

func TestCatCommandPrintsContent(t *testing.T) {
	dir := sampleTree(t)

	output, err := execute(t, "cat", filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "notes\n", output)
}

func TestCatCommandRejectsDirectory(t *testing.T) {
	dir := sampleTree(t)

	_, err := execute(t, "cat", dir)
	require.ErrorIs(t, err, mirror.ErrNotAFile)
}

func TestSnapshotCommandWritesReadableFile(t *testing.T) {
	dir := sampleTree(t)
	target := filepath.Join(t.TempDir(), "tree"+snapshotExtension)

	output, err := execute(t, "snapshot", "-o", target, dir)
	require.NoError(t, err)
	assert.Contains(t, output, "wrote 3 entries")

	file, err := os.Open(target)
	require.NoError(t, err)
	defer file.Close()
	header, entries, err := snapshot.Read(file)
	require.NoError(t, err)
	assert.Equal(t, dir, header.Root)

	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		paths = append(paths, entry.Path)
	}
	assert.Equal(t, []string{"src", "src/main.go", "notes.txt"}, paths)
}

func TestSchemaCommandPrintsJSON(t *testing.T) {
	output, err := execute(t, "schema")
	require.NoError(t, err)

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(output), &schema))
	properties, ok := schema["properties"].(map[string]any)
	require.True(t, ok, "expected properties in schema")
	assert.Contains(t, properties, "roots")
	assert.Contains(t, properties, "server")
}

func TestVersionFlag(t *testing.T) {
	output, err := execute(t, "--version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(output, "treemirror version "), output)
}

func TestStreamChangesPrintsUntilClosed(t *testing.T) {
	disableColor(t)
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	changes := make(chan mirror.Change, 3)
	changes <- mirror.Change{Kind: mirror.ChangeCreated, Path: "src", Dir: true, OccurredAt: at}
	changes <- mirror.Change{Kind: mirror.ChangeRenamed, Path: "b.go", OldPath: "a.go", OccurredAt: at}
	changes <- mirror.Change{Kind: mirror.ChangeDeleted, Path: "b.go", OccurredAt: at}
	close(changes)

	var out bytes.Buffer
	err := streamChanges(context.Background(), &out, changes, nil, false)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "03:04:05.000 created  src/", lines[0])
	assert.Equal(t, "03:04:05.000 renamed  a.go -> b.go", lines[1])
	assert.Equal(t, "03:04:05.000 deleted  b.go", lines[2])
}

func TestStreamChangesEncodesJSON(t *testing.T) {
	changes := make(chan mirror.Change, 1)
	changes <- mirror.Change{Kind: mirror.ChangeModified, Root: "/srv", Path: "main.go"}
	close(changes)

	var out bytes.Buffer
	require.NoError(t, streamChanges(context.Background(), &out, changes, nil, true))

	var decoded mirror.Change
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, mirror.ChangeModified, decoded.Kind)
	assert.Equal(t, "main.go", decoded.Path)
}

func TestStreamChangesReportsRemovedRoot(t *testing.T) {
	done := make(chan struct{})
	close(done)

	err := streamChanges(context.Background(), &bytes.Buffer{}, make(chan mirror.Change), done, false)
	require.ErrorIs(t, err, errRootRemoved)
}

func TestRunServerServesRootsUntilCancelled(t *testing.T) {
	dir := sampleTree(t)
	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Roots = []config.RootConfig{{Path: dir}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ready := make(chan net.Addr, 1)
	result := make(chan error, 1)
	go func() {
		result <- runServer(ctx, cfg, serverDeps{
			registry: metrics.NewRegistry(),
			ready:    func(addr net.Addr) { ready <- addr },
		})
	}()

	var addr net.Addr
	select {
	case addr = <-ready:
	case err := <-result:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server")
	}

	resp, err := http.Get("http://" + addr.String() + "/api/roots")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var roots []workspace.Info
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&roots))
	require.Len(t, roots, 1)
	assert.Equal(t, dir, roots[0].Path)
	assert.True(t, roots[0].Watching)

	cancel()
	select {
	case err := <-result:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestRunServerFailsOnBusyAddress(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	cfg := config.Default()
	cfg.Server.Listen = listener.Addr().String()
	err = runServer(context.Background(), cfg, serverDeps{registry: metrics.NewRegistry()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listen on")
}

func TestWatchShutdownSignalsCancelsOnce(t *testing.T) {
	logger := logging.New(logging.Options{Level: logging.LevelInfo, Buffer: logging.NewLogBuffer(16)})
	signals := make(chan os.Signal, 2)
	cancelled := make(chan struct{}, 2)
	stop := watchShutdownSignals(logger, func() { cancelled <- struct{}{} }, signals)
	defer stop()

	signals <- os.Interrupt
	signals <- os.Interrupt

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("expected cancel on first signal")
	}
	require.Eventually(t, func() bool {
		return len(logger.Buffer().Find("shutdown already in progress; ignoring signal")) == 1
	}, time.Second, 10*time.Millisecond)
	assert.Len(t, cancelled, 0)
}

func TestRootConfigForMatchesAbsolutePath(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Roots = []config.RootConfig{{Path: dir, Deny: []string{"log"}}}

	assert.Equal(t, []string{"log"}, rootConfigFor(cfg, dir).Deny)
	assert.Empty(t, rootConfigFor(cfg, filepath.Join(dir, "other")).Deny)
}

func startServer(t *testing.T, cfg config.Config) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan net.Addr, 1)
	result := make(chan error, 1)
	go func() {
		result <- runServer(ctx, cfg, serverDeps{
			registry: metrics.NewRegistry(),
			ready:    func(addr net.Addr) { ready <- addr },
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-result
	})
	select {
	case addr := <-ready:
		return addr.String()
	case err := <-result:
		t.Fatalf("server exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server")
	}
	return ""
}

func TestRemoteCommandsQueryServer(t *testing.T) {
	dir := sampleTree(t)
	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.Token = "secret"
	cfg.Roots = []config.RootConfig{{Path: dir, Name: "sample"}}
	addr := startServer(t, cfg)

	output, err := execute(t, "remote", "roots", "--server", addr, "--token", "secret")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(output), "\n")
	require.Len(t, lines, 2)
	fields := strings.Fields(lines[1])
	require.Len(t, fields, 4)
	assert.Equal(t, "sample", fields[1])
	assert.Equal(t, dir, fields[3])

	content, err := execute(t, "remote", "cat", fields[0], "src/main.go", "--server", addr, "--token", "secret")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", content)

	output, err = execute(t, "remote", "refresh", fields[0], "--server", "http://"+addr, "--token", "secret")
	require.NoError(t, err)
	assert.Contains(t, output, "refreshed sample")
}

func TestRemoteCommandReportsUnauthorized(t *testing.T) {
	dir := sampleTree(t)
	cfg := config.Default()
	cfg.Server.Listen = "127.0.0.1:0"
	cfg.Server.Token = "secret"
	cfg.Roots = []config.RootConfig{{Path: dir}}
	addr := startServer(t, cfg)

	_, err := execute(t, "remote", "roots", "--server", addr)
	require.Error(t, err)
	var httpErr *client.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
}

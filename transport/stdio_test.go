package transport

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCommandAbsolutePath(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/usr/local/bin/mcpserver", []byte("#!/bin/sh\n"), 0o755))

	resolved, err := resolveCommand(fs, "/usr/local/bin/mcpserver")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/mcpserver", resolved)
}

func TestResolveCommandAbsolutePathRejectsDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/usr/local/bin/mcpserver", 0o755))

	_, err := resolveCommand(fs, "/usr/local/bin/mcpserver")
	assert.Error(t, err)
}

func TestResolveCommandSearchesPath(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/opt/bin/mcpserver", []byte("#!/bin/sh\n"), 0o755))

	t.Setenv("PATH", "/usr/bin"+string(os.PathListSeparator)+"/opt/bin")

	resolved, err := resolveCommand(fs, "mcpserver")
	require.NoError(t, err)
	assert.Equal(t, "/opt/bin/mcpserver", resolved)
}

func TestResolveCommandNotFound(t *testing.T) {
	fs := afero.NewMemMapFs()
	t.Setenv("PATH", "/usr/bin")

	_, err := resolveCommand(fs, "does-not-exist")
	assert.Error(t, err)
}

type recordingOwner struct {
	mu       sync.Mutex
	ready    bool
	messages []map[string]any
	errs     []error
	closed   []string
}

func (r *recordingOwner) OnReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = true
}

func (r *recordingOwner) OnMessage(frame map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, frame)
}

func (r *recordingOwner) OnError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

func (r *recordingOwner) OnClosed(reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, reason)
}

func (r *recordingOwner) snapshotMessages() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]any, len(r.messages))
	copy(out, r.messages)
	return out
}

func (r *recordingOwner) snapshotClosed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.closed))
	copy(out, r.closed)
	return out
}

// TestStdioEchoesLine spawns the "cat" utility as the subprocess under test
// — whatever is written to its stdin comes back unmodified on its stdout —
// to exercise the transport's framing and readiness ordering end to end
// without depending on a real MCP server binary.
func TestStdioEchoesLine(t *testing.T) {
	if _, err := resolveCommand(afero.NewOsFs(), "cat"); err != nil {
		t.Skip("cat not available on PATH")
	}

	tr := NewStdio("cat", nil)
	owner := &recordingOwner{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, tr.Start(ctx, owner))
	require.Eventually(t, func() bool { return tr.IsConnected() }, time.Second, 5*time.Millisecond)

	require.NoError(t, tr.Send(ctx, map[string]any{"jsonrpc": "2.0", "id": float64(1), "method": "ping"}))

	require.Eventually(t, func() bool {
		return len(owner.snapshotMessages()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := owner.snapshotMessages()[0]
	assert.Equal(t, "ping", got["method"])

	require.NoError(t, tr.Close())
	require.Eventually(t, func() bool {
		return len(owner.snapshotClosed()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestStdioStartRejectsMissingWorkingDirectory(t *testing.T) {
	fs := afero.NewMemMapFs()
	tr := NewStdio("cat", nil, WithFilesystem(fs), WithDir("/does/not/exist"))

	err := tr.Start(context.Background(), &recordingOwner{})
	assert.Error(t, err)
}

func TestStdioStartRejectsUnresolvableCommand(t *testing.T) {
	fs := afero.NewMemMapFs()
	tr := NewStdio("no-such-binary", nil, WithFilesystem(fs))
	t.Setenv("PATH", "/usr/bin")

	err := tr.Start(context.Background(), &recordingOwner{})
	assert.Error(t, err)
}
